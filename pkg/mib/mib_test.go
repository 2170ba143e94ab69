package mib

import (
	"errors"
	"testing"

	"github.com/commatea/emodbus/pkg/decode"
	"github.com/commatea/emodbus/pkg/pdu"
)

func TestDefineAndLookup(t *testing.T) {
	m := New()
	entries := []Entry{
		{Name: "Temperature", Address: 1, FunctionCode: pdu.ReadInputRegisters, Rule: &decode.Rule{Kind: decode.KindScale, Factor: 1, Places: 1}},
		{Name: "Serial", Address: 10, FunctionCode: pdu.ReadHoldingRegisters, Rule: &decode.Rule{Kind: decode.KindString, Words: 4}},
		{Name: "Running", Address: 0, FunctionCode: pdu.ReadCoils, Rule: &decode.Rule{Kind: decode.KindBool}},
	}
	if err := m.Define(1, entries); err != nil {
		t.Fatalf("Define: %v", err)
	}

	e, err := m.Lookup(1, "Serial")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Address != 10 || e.Width() != 4 {
		t.Errorf("entry = %+v", e)
	}

	if _, err := m.Lookup(1, "Pressure"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := m.Lookup(2, "Temperature"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong slave: err = %v, want ErrNotFound", err)
	}
}

func TestDefineValidation(t *testing.T) {
	tests := []struct {
		name    string
		slaveID byte
		entries []Entry
	}{
		{
			name:    "Empty Name",
			slaveID: 1,
			entries: []Entry{{Address: 1, FunctionCode: pdu.ReadCoils}},
		},
		{
			name:    "Unsupported Function",
			slaveID: 1,
			entries: []Entry{{Name: "X", FunctionCode: 0x2B}},
		},
		{
			name:    "Duplicate Names",
			slaveID: 1,
			entries: []Entry{
				{Name: "X", Address: 0, FunctionCode: pdu.ReadCoils},
				{Name: "X", Address: 1, FunctionCode: pdu.ReadCoils},
			},
		},
		{
			name:    "Slave Out Of Range",
			slaveID: 248,
			entries: []Entry{{Name: "X", FunctionCode: pdu.ReadCoils}},
		},
		{
			name:    "Wide Bool Rule",
			slaveID: 1,
			entries: []Entry{{Name: "X", FunctionCode: pdu.ReadHoldingRegisters, Rule: &decode.Rule{Kind: decode.KindBool, Words: 2}}},
		},
		{
			name:    "Spans Past Address End",
			slaveID: 1,
			entries: []Entry{{Name: "X", Address: 65535, FunctionCode: pdu.ReadHoldingRegisters, Rule: &decode.Rule{Kind: decode.KindScale, Words: 2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New().Define(tt.slaveID, tt.entries); err == nil {
				t.Error("Define accepted invalid input")
			}
		})
	}
}

func TestDefineMerges(t *testing.T) {
	m := New()
	if err := m.Define(1, []Entry{
		{Name: "A", Address: 0, FunctionCode: pdu.ReadHoldingRegisters},
		{Name: "B", Address: 1, FunctionCode: pdu.ReadHoldingRegisters},
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	// Redefine A at a new address and add C.
	if err := m.Define(1, []Entry{
		{Name: "A", Address: 5, FunctionCode: pdu.ReadInputRegisters},
		{Name: "C", Address: 2, FunctionCode: pdu.ReadHoldingRegisters},
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}

	entries := m.Entries(1)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// A keeps its position but carries the new definition.
	if entries[0].Name != "A" || entries[0].Address != 5 {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[2].Name != "C" {
		t.Errorf("entries[2] = %+v", entries[2])
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	m := New()
	if err := m.Define(1, []Entry{{Name: "A", FunctionCode: pdu.ReadCoils}}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	got := m.Entries(1)
	got[0].Name = "mutated"
	if e, _ := m.Lookup(1, "A"); e.Name != "A" {
		t.Error("Entries leaked internal state")
	}
}

func TestRulesDetached(t *testing.T) {
	m := New()
	rule := &decode.Rule{Kind: decode.KindScale, Factor: 1, Places: 1}
	if err := m.Define(1, []Entry{{Name: "A", FunctionCode: pdu.ReadHoldingRegisters, Rule: rule}}); err != nil {
		t.Fatalf("Define: %v", err)
	}

	// The caller mutating the rule they passed in must not reach the
	// stored entry.
	rule.Places = 3
	e, err := m.Lookup(1, "A")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Rule.Places != 1 {
		t.Errorf("Places = %d, caller mutation leaked in", e.Rule.Places)
	}

	// And mutating a returned rule must not reach it either.
	e.Rule.Places = 5
	if got := m.Entries(1); got[0].Rule.Places != 1 {
		t.Errorf("Places = %d, lookup mutation leaked in", got[0].Rule.Places)
	}
}
