package pdu

import (
	"encoding/binary"
	"fmt"
)

// Coil wire values for write-single-coil.
const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// NewReadRequest builds a read request for fc covering quantity
// addresses starting at address. fc must be one of the four read
// function codes and quantity within the per-request limit.
func NewReadRequest(fc FunctionCode, address, quantity uint16) (PDU, error) {
	if !fc.IsRead() {
		return PDU{}, fmt.Errorf("%w: %s is not a read", ErrInvalidFunction, fc)
	}
	limit := uint16(MaxReadRegisters)
	if fc.IsBitAccess() {
		limit = MaxReadBits
	}
	if quantity == 0 || quantity > limit {
		return PDU{}, fmt.Errorf("%w: %d (max %d for %s)", ErrInvalidQuantity, quantity, limit, fc)
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return PDU{FunctionCode: fc, Data: data}, nil
}

// NewWriteSingleRegister builds a write of one holding register.
func NewWriteSingleRegister(address, value uint16) PDU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return PDU{FunctionCode: WriteSingleRegister, Data: data}
}

// NewWriteSingleCoil builds a write of one coil. The wire value is
// 0xFF00 for on and 0x0000 for off.
func NewWriteSingleCoil(address uint16, on bool) PDU {
	value := uint16(coilOff)
	if on {
		value = coilOn
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return PDU{FunctionCode: WriteSingleCoil, Data: data}
}

// NewWriteMultipleRegisters builds a write of a contiguous block of
// holding registers starting at address.
func NewWriteMultipleRegisters(address uint16, values []uint16) (PDU, error) {
	n := len(values)
	if n == 0 || n > MaxWriteRegisters {
		return PDU{}, fmt.Errorf("%w: %d registers (max %d)", ErrInvalidQuantity, n, MaxWriteRegisters)
	}
	data := make([]byte, 5+2*n)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(n))
	data[4] = byte(2 * n)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return PDU{FunctionCode: WriteMultipleRegisters, Data: data}, nil
}

// NewWriteMultipleCoils builds a write of a contiguous run of coils
// starting at address. Bits are packed LSB-first per the protocol.
func NewWriteMultipleCoils(address uint16, values []bool) (PDU, error) {
	n := len(values)
	if n == 0 || n > MaxWriteBits {
		return PDU{}, fmt.Errorf("%w: %d coils (max %d)", ErrInvalidQuantity, n, MaxWriteBits)
	}
	byteCount := (n + 7) / 8
	data := make([]byte, 5+byteCount)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(n))
	data[4] = byte(byteCount)
	for i, on := range values {
		if on {
			data[5+i/8] |= 1 << (i % 8)
		}
	}
	return PDU{FunctionCode: WriteMultipleCoils, Data: data}, nil
}

// ResponseLength returns the exact PDU byte length (function code
// included) a well-formed response to req will have, or 0 when the
// length cannot be derived from the request alone.
func ResponseLength(req PDU) int {
	switch req.FunctionCode {
	case ReadCoils, ReadDiscreteInputs:
		if len(req.Data) < 4 {
			return 0
		}
		qty := int(binary.BigEndian.Uint16(req.Data[2:4]))
		return 2 + (qty+7)/8
	case ReadHoldingRegisters, ReadInputRegisters:
		if len(req.Data) < 4 {
			return 0
		}
		qty := int(binary.BigEndian.Uint16(req.Data[2:4]))
		return 2 + 2*qty
	case WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		// Echo of address + value/quantity.
		return 5
	default:
		return 0
	}
}
