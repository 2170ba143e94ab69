// Package pdu implements the transport-independent Modbus Protocol Data
// Unit: function codes, request building and response parsing.
package pdu

import (
	"errors"
	"fmt"
)

// FunctionCode identifies a Modbus operation.
type FunctionCode byte

// Function codes supported by this package.
const (
	ReadCoils              FunctionCode = 0x01
	ReadDiscreteInputs     FunctionCode = 0x02
	ReadHoldingRegisters   FunctionCode = 0x03
	ReadInputRegisters     FunctionCode = 0x04
	WriteSingleCoil        FunctionCode = 0x05
	WriteSingleRegister    FunctionCode = 0x06
	WriteMultipleCoils     FunctionCode = 0x0F
	WriteMultipleRegisters FunctionCode = 0x10
)

// ExceptionFlag is set on the function code of an exception response.
const ExceptionFlag FunctionCode = 0x80

// Per-request quantity limits from the Modbus application protocol spec.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
	MaxReadBits       = 2000
	MaxWriteBits      = 1968
	MaxSize           = 253
)

func (f FunctionCode) String() string {
	switch f {
	case ReadCoils:
		return "read-coils"
	case ReadDiscreteInputs:
		return "read-discrete-inputs"
	case ReadHoldingRegisters:
		return "read-holding-registers"
	case ReadInputRegisters:
		return "read-input-registers"
	case WriteSingleCoil:
		return "write-single-coil"
	case WriteSingleRegister:
		return "write-single-register"
	case WriteMultipleCoils:
		return "write-multiple-coils"
	case WriteMultipleRegisters:
		return "write-multiple-registers"
	default:
		return fmt.Sprintf("function-0x%02X", byte(f))
	}
}

// IsRead reports whether f is one of the four read function codes.
func (f FunctionCode) IsRead() bool {
	switch f {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		return true
	}
	return false
}

// IsWrite reports whether f is one of the four write function codes.
func (f FunctionCode) IsWrite() bool {
	switch f {
	case WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		return true
	}
	return false
}

// IsBitAccess reports whether f addresses coils or discrete inputs
// rather than 16-bit registers.
func (f FunctionCode) IsBitAccess() bool {
	switch f {
	case ReadCoils, ReadDiscreteInputs, WriteSingleCoil, WriteMultipleCoils:
		return true
	}
	return false
}

// Valid reports whether f is a function code this package can build
// requests for.
func (f FunctionCode) Valid() bool {
	return f.IsRead() || f.IsWrite()
}

// PDU is a Modbus Protocol Data Unit: a function code followed by
// function-specific data. It carries no transport framing.
type PDU struct {
	FunctionCode FunctionCode
	Data         []byte
}

// Exception codes returned by slaves.
const (
	ExceptionIllegalFunction    = 0x01
	ExceptionIllegalDataAddress = 0x02
	ExceptionIllegalDataValue   = 0x03
	ExceptionSlaveDeviceFailure = 0x04
	ExceptionAcknowledge        = 0x05
	ExceptionSlaveDeviceBusy    = 0x06
	ExceptionGatewayPathUnavail = 0x0A
	ExceptionGatewayTargetFail  = 0x0B
)

// ExceptionError is a device-rejected exchange: the slave answered with
// the exception flag set and a one-byte exception code.
type ExceptionError struct {
	FunctionCode FunctionCode // original function code, flag stripped
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %s (0x%02X) for %s", exceptionName(e.Code), e.Code, e.FunctionCode)
}

func exceptionName(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "slave device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionSlaveDeviceBusy:
		return "slave device busy"
	case ExceptionGatewayPathUnavail:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFail:
		return "gateway target failed to respond"
	default:
		return "unknown"
	}
}

// Error definitions.
var (
	ErrInvalidFunction = errors.New("invalid function code")
	ErrInvalidQuantity = errors.New("quantity out of range")
	ErrShortResponse   = errors.New("response data too short")
	ErrByteCount       = errors.New("response byte count mismatch")
	ErrEchoMismatch    = errors.New("write response echo mismatch")
)
