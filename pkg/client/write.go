package client

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/commatea/emodbus/pkg/decode"
	"github.com/commatea/emodbus/pkg/mib"
	"github.com/commatea/emodbus/pkg/pdu"
)

// writeMember is one encoded value bound to its result slot.
type writeMember struct {
	index  int
	entry  mib.Entry
	words  []uint16
	coil   bool
	single bool
}

// Write encodes values through each entry's rule inverse and writes
// them in as few exchanges as contiguity allows. Entries declared with
// a single-write function code are written singly; everything else is
// batched into multi-write requests. The result carries one field per
// name in MIB order (unknown names last), failures inline. slaveID 0
// broadcasts: the frames go out but no response is awaited.
func (c *Connection) Write(ctx context.Context, slaveID byte, values map[string]any) Result {
	fields, members := c.resolveWrites(slaveID, values)

	var singles []writeMember
	var batch []writeMember
	for _, m := range members {
		if m.single {
			singles = append(singles, m)
		} else {
			batch = append(batch, m)
		}
	}

	for _, m := range singles {
		c.writeSingle(ctx, slaveID, m, fields)
	}
	for _, r := range planWrites(batch) {
		c.writeBatch(ctx, slaveID, r, fields)
	}
	return fields
}

// resolveWrites orders the requested names by MIB definition order,
// checks writability and runs the rule inverse. Names that fail any
// of that keep an inline error and are excluded from the wire plan.
func (c *Connection) resolveWrites(slaveID byte, values map[string]any) (Result, []writeMember) {
	var fields Result
	var members []writeMember
	used := make(map[string]bool, len(values))

	add := func(e mib.Entry, v any) {
		idx := len(fields)
		fields = append(fields, Field{Name: e.Name, Value: v})

		coil, single, writable := writeTarget(e.FunctionCode)
		if !writable {
			fields[idx].Value = nil
			fields[idx].Err = fmt.Errorf("%w: %q is %s", ErrNotWritable, e.Name, e.FunctionCode)
			return
		}
		words, err := decode.Encode(v, effectiveRule(e), c.reg)
		if err != nil {
			fields[idx].Value = nil
			if errors.Is(err, decode.ErrNotReversible) {
				err = fmt.Errorf("%w: %v", ErrNotWritable, err)
			}
			fields[idx].Err = err
			return
		}
		if len(words) != e.Width() {
			fields[idx].Value = nil
			fields[idx].Err = fmt.Errorf("%w: %q encodes %d words, entry spans %d", decode.ErrInsufficientWords, e.Name, len(words), e.Width())
			return
		}
		members = append(members, writeMember{index: idx, entry: e, words: words, coil: coil, single: single})
	}

	for _, e := range c.entriesFor(slaveID) {
		if v, ok := values[e.Name]; ok {
			used[e.Name] = true
			add(e, v)
		}
	}

	// Names not covered by the slave's entry list: per-name lookup
	// (default MIB fallback), then genuinely unknown.
	var rest []string
	for name := range values {
		if !used[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		e, err := c.lookup(slaveID, name)
		if err != nil {
			fields = append(fields, Field{Name: name, Err: err})
			continue
		}
		add(e, values[name])
	}
	return fields, members
}

// writeTarget classifies an entry's function code for writing: which
// address space it lands in, whether it must use a single-write
// request, and whether it is writable at all.
func writeTarget(fc pdu.FunctionCode) (coil, single, writable bool) {
	switch fc {
	case pdu.ReadCoils, pdu.WriteMultipleCoils:
		return true, false, true
	case pdu.WriteSingleCoil:
		return true, true, true
	case pdu.ReadHoldingRegisters, pdu.WriteMultipleRegisters:
		return false, false, true
	case pdu.WriteSingleRegister:
		return false, true, true
	default:
		// Discrete inputs and input registers are read only.
		return false, false, false
	}
}

// writeRun is one multi-write exchange.
type writeRun struct {
	coil    bool
	start   uint16
	words   []uint16
	members []writeMember
}

// planWrites merges contiguous batchable entries into multi-write
// runs, bounded by the per-request limits.
func planWrites(members []writeMember) []writeRun {
	var coils, regs []writeMember
	for _, m := range members {
		if m.coil {
			coils = append(coils, m)
		} else {
			regs = append(regs, m)
		}
	}

	var runs []writeRun
	for _, group := range []struct {
		members []writeMember
		coil    bool
		limit   int
	}{
		{regs, false, pdu.MaxWriteRegisters},
		{coils, true, pdu.MaxWriteBits},
	} {
		g := group.members
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].entry.Address < g[j].entry.Address
		})
		var cur *writeRun
		for _, m := range g {
			addr := int(m.entry.Address)
			end := addr + len(m.words)
			if cur != nil &&
				addr == int(cur.start)+len(cur.words) &&
				end-int(cur.start) <= group.limit {
				cur.words = append(cur.words, m.words...)
				cur.members = append(cur.members, m)
				continue
			}
			runs = append(runs, writeRun{coil: group.coil, start: m.entry.Address, words: m.words, members: []writeMember{m}})
			cur = &runs[len(runs)-1]
		}
	}
	return runs
}

// writeSingle issues one single-write exchange for m.
func (c *Connection) writeSingle(ctx context.Context, slaveID byte, m writeMember, fields Result) {
	var req pdu.PDU
	if m.coil {
		req = pdu.NewWriteSingleCoil(m.entry.Address, m.words[0] != 0)
	} else {
		req = pdu.NewWriteSingleRegister(m.entry.Address, m.words[0])
	}
	if err := c.exchangeWrite(ctx, slaveID, req); err != nil {
		fields[m.index].Value = nil
		fields[m.index].Err = err
	}
}

// writeBatch issues one multi-write exchange covering every member.
func (c *Connection) writeBatch(ctx context.Context, slaveID byte, r writeRun, fields Result) {
	var req pdu.PDU
	var err error
	if r.coil {
		bits := make([]bool, len(r.words))
		for i, w := range r.words {
			bits[i] = w != 0
		}
		req, err = pdu.NewWriteMultipleCoils(r.start, bits)
	} else {
		req, err = pdu.NewWriteMultipleRegisters(r.start, r.words)
	}
	if err == nil {
		err = c.exchangeWrite(ctx, slaveID, req)
	}
	if err != nil {
		for _, m := range r.members {
			fields[m.index].Value = nil
			fields[m.index].Err = err
		}
	}
}

// exchangeWrite runs a write exchange and validates the echo. A
// broadcast write has no response to validate.
func (c *Connection) exchangeWrite(ctx context.Context, slaveID byte, req pdu.PDU) error {
	res, err := c.mgr.Execute(ctx, slaveID, req)
	if err != nil {
		return err
	}
	if slaveID == 0 {
		return nil
	}
	return pdu.VerifyWriteEcho(req, res)
}
