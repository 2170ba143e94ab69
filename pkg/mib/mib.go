// Package mib implements the Memory Information Block: a per-slave
// mapping from logical register names to Modbus addresses, function
// codes and optional decode rules. Connections consult their own MIB
// first and fall back to a process-wide default, mirroring how device
// profiles are usually shared between links.
package mib

import (
	"errors"
	"fmt"
	"sync"

	"github.com/commatea/emodbus/pkg/decode"
	"github.com/commatea/emodbus/pkg/pdu"
	"github.com/go-playground/validator/v10"
)

// Errors.
var (
	ErrNotFound     = errors.New("logical name not found")
	ErrInvalidSlave = errors.New("slave id out of range")
	ErrInvalidEntry = errors.New("invalid mib entry")
)

// MaxSlaveID is the highest addressable slave; 0 is the write-only
// broadcast address.
const MaxSlaveID = 247

// Entry maps one logical name to its registers.
type Entry struct {
	// Name is the logical name, unique within one slave's MIB.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Address is the register offset within the function code's
	// address space.
	Address uint16 `yaml:"address" json:"address"`

	// FunctionCode selects the register table and access mode.
	FunctionCode pdu.FunctionCode `yaml:"function" json:"function"`

	// Rule describes value decoding. Nil means raw passthrough of
	// a single register.
	Rule *decode.Rule `yaml:"rule,omitempty" json:"rule,omitempty"`
}

// Width returns the number of registers or bits the entry spans.
func (e Entry) Width() int {
	return e.Rule.Width()
}

// Mib holds the entries of every known slave. Define calls may race
// with reads from other goroutines, so access is locked; read paths
// take snapshots so one read/write call sees a stable view.
type Mib struct {
	mu     sync.RWMutex
	slaves map[byte][]Entry
}

var validate = validator.New()

// New creates an empty MIB.
func New() *Mib {
	return &Mib{slaves: make(map[byte][]Entry)}
}

// Define merges entries into the MIB of slaveID. A name already
// present for that slave is replaced in place, keeping its position;
// new names append in the given order. Entries are validated before
// anything is applied.
func (m *Mib) Define(slaveID byte, entries []Entry) error {
	if slaveID > MaxSlaveID {
		return fmt.Errorf("%w: %d", ErrInvalidSlave, slaveID)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := validate.Struct(e); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		if !e.FunctionCode.Valid() {
			return fmt.Errorf("%w: %q has unsupported function 0x%02X", ErrInvalidEntry, e.Name, byte(e.FunctionCode))
		}
		if e.Rule != nil && e.Rule.Kind == decode.KindBool && e.Rule.Width() != 1 {
			return fmt.Errorf("%w: %q bool rule spans exactly one value", ErrInvalidEntry, e.Name)
		}
		if int(e.Address)+e.Width() > 0x10000 {
			return fmt.Errorf("%w: %q spans past the end of the address space", ErrInvalidEntry, e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidEntry, e.Name)
		}
		seen[e.Name] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.slaves[slaveID]
	for _, e := range entries {
		// Detach the rule so the caller mutating theirs after
		// Define cannot race with in-flight reads.
		e.Rule = e.Rule.Clone()
		replaced := false
		for i := range current {
			if current[i].Name == e.Name {
				current[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			current = append(current, e)
		}
	}
	m.slaves[slaveID] = current
	return nil
}

// Lookup resolves one logical name for slaveID.
func (m *Mib) Lookup(slaveID byte, name string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.slaves[slaveID] {
		if e.Name == name {
			e.Rule = e.Rule.Clone()
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q on slave %d", ErrNotFound, name, slaveID)
}

// Entries returns a copy of the ordered entries of slaveID, in
// definition order. Rules are copied too, so the result is fully
// independent of later Define calls.
func (m *Mib) Entries(slaveID byte) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.slaves[slaveID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].Rule = out[i].Rule.Clone()
	}
	return out
}

// defaultMib is the process-wide fallback consulted when a connection
// has no local entries for a slave.
var defaultMib = New()

// Default returns the process-wide default MIB.
func Default() *Mib {
	return defaultMib
}

// DefineDefault merges entries into the process-wide default MIB.
func DefineDefault(slaveID byte, entries []Entry) error {
	return defaultMib.Define(slaveID, entries)
}
