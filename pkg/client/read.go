package client

import (
	"context"
	"sort"

	"github.com/commatea/emodbus/pkg/decode"
	"github.com/commatea/emodbus/pkg/mib"
	"github.com/commatea/emodbus/pkg/pdu"
)

// resolved couples a MIB entry with its position in the result.
type resolved struct {
	index int
	entry mib.Entry
}

// run is one wire request covering a maximal contiguous span of one
// function code's address space.
type run struct {
	fc       pdu.FunctionCode
	start    uint16
	quantity uint16
	members  []resolved
}

// Read resolves the named entries of slaveID and reads them in as few
// exchanges as contiguity allows. No names selects every entry the
// MIB defines for the slave. The result carries exactly one field per
// requested name, in request order; failures stay inline and never
// abort the batch. Reads addressed to the broadcast slave fail each
// name with ErrBroadcastRead without touching the wire.
func (c *Connection) Read(ctx context.Context, slaveID byte, names ...string) Result {
	if slaveID == 0 {
		// Broadcast is write-only; waiting out the timeout for a
		// response that cannot come helps nobody.
		fields := make(Result, len(names))
		for i, name := range names {
			fields[i] = Field{Name: name, Err: ErrBroadcastRead}
		}
		return fields
	}

	fields, entries := c.resolve(slaveID, names)
	for _, r := range planReads(entries) {
		c.readRun(ctx, slaveID, r, fields)
	}
	return fields
}

// resolve turns the selector into result slots plus the entries that
// resolved. Unknown names keep their slot with an inline error.
func (c *Connection) resolve(slaveID byte, names []string) (Result, []resolved) {
	if len(names) == 0 {
		entries := c.entriesFor(slaveID)
		fields := make(Result, len(entries))
		rs := make([]resolved, len(entries))
		for i, e := range entries {
			fields[i] = Field{Name: e.Name}
			rs[i] = resolved{index: i, entry: e}
		}
		return fields, rs
	}

	fields := make(Result, len(names))
	rs := make([]resolved, 0, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name}
		e, err := c.lookup(slaveID, name)
		if err != nil {
			fields[i].Err = err
			continue
		}
		rs = append(rs, resolved{index: i, entry: e})
	}
	return fields, rs
}

// readCodeFor maps an entry's function code to the read code of the
// same address space, so entries declared with a write code can still
// be read back.
func readCodeFor(fc pdu.FunctionCode) pdu.FunctionCode {
	switch fc {
	case pdu.WriteSingleCoil, pdu.WriteMultipleCoils:
		return pdu.ReadCoils
	case pdu.WriteSingleRegister, pdu.WriteMultipleRegisters:
		return pdu.ReadHoldingRegisters
	default:
		return fc
	}
}

// planReads groups entries by function code and merges contiguous
// address spans into runs, bounded by the per-request protocol limit.
func planReads(entries []resolved) []run {
	groups := make(map[pdu.FunctionCode][]resolved)
	var order []pdu.FunctionCode
	for _, r := range entries {
		fc := readCodeFor(r.entry.FunctionCode)
		if _, ok := groups[fc]; !ok {
			order = append(order, fc)
		}
		groups[fc] = append(groups[fc], r)
	}

	var runs []run
	for _, fc := range order {
		g := groups[fc]
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].entry.Address < g[j].entry.Address
		})
		limit := pdu.MaxReadRegisters
		if fc.IsBitAccess() {
			limit = pdu.MaxReadBits
		}

		// Span arithmetic in int: an entry at address 65535 must
		// not wrap into an earlier span.
		var cur *run
		for _, m := range g {
			addr := int(m.entry.Address)
			end := addr + m.entry.Width()
			if cur != nil {
				curEnd := int(cur.start) + int(cur.quantity)
				// Within the current span: aliases of
				// already-covered registers.
				if addr >= int(cur.start) && end <= curEnd {
					cur.members = append(cur.members, m)
					continue
				}
				// Exactly contiguous and still under the
				// request limit: extend the span.
				if addr == curEnd && end-int(cur.start) <= limit {
					cur.quantity = uint16(end - int(cur.start))
					cur.members = append(cur.members, m)
					continue
				}
			}
			runs = append(runs, run{fc: fc, start: m.entry.Address, quantity: uint16(m.entry.Width()), members: []resolved{m}})
			cur = &runs[len(runs)-1]
		}
	}
	return runs
}

// readRun issues one exchange and distributes the words to the run's
// members. A failed exchange fails every member with the same error:
// a request that yielded no bytes leaves nothing to slice.
func (c *Connection) readRun(ctx context.Context, slaveID byte, r run, fields Result) {
	words, err := c.fetch(ctx, slaveID, r)
	if err != nil {
		for _, m := range r.members {
			fields[m.index].Err = err
		}
		return
	}
	for _, m := range r.members {
		off := int(m.entry.Address - r.start)
		span := words[off : off+m.entry.Width()]
		value, err := decode.Decode(span, effectiveRule(m.entry), c.reg)
		if err != nil {
			fields[m.index].Err = err
			continue
		}
		fields[m.index].Value = value
	}
}

// fetch runs the wire exchange for one run and normalizes bit
// responses to 0/1 words so the decode pipeline sees one shape.
func (c *Connection) fetch(ctx context.Context, slaveID byte, r run) ([]uint16, error) {
	req, err := pdu.NewReadRequest(r.fc, r.start, r.quantity)
	if err != nil {
		return nil, err
	}
	res, err := c.mgr.Execute(ctx, slaveID, req)
	if err != nil {
		return nil, err
	}
	if r.fc.IsBitAccess() {
		bits, err := pdu.ParseReadBits(res, r.quantity)
		if err != nil {
			return nil, err
		}
		words := make([]uint16, len(bits))
		for i, b := range bits {
			if b {
				words[i] = 1
			}
		}
		return words, nil
	}
	return pdu.ParseReadRegisters(res, r.quantity)
}

// effectiveRule substitutes the default rule for entries that carry
// none: bit-access entries read as booleans, registers as raw words.
func effectiveRule(e mib.Entry) *decode.Rule {
	if e.Rule == nil && e.FunctionCode.IsBitAccess() {
		return &decode.Rule{Kind: decode.KindBool}
	}
	return e.Rule
}
