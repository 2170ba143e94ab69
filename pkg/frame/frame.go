// Package frame implements the transport-specific Modbus Application
// Data Unit codecs: TCP (MBAP header), RTU (binary + CRC16) and ASCII
// (hex + LRC). A codec turns a slave address and a PDU into wire bytes
// and back, and knows how to cut one complete frame out of a receive
// stream.
package frame

import (
	"errors"

	"github.com/commatea/emodbus/pkg/pdu"
)

// Framing and validation errors.
var (
	ErrTruncated      = errors.New("frame truncated")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrProtocolID     = errors.New("protocol identifier mismatch")
	ErrLengthMismatch = errors.New("length field mismatch")
	ErrFraming        = errors.New("missing frame delimiters")
	ErrHexDecode      = errors.New("invalid hex character in frame")
)

// Header carries the addressing fields outside the PDU. TransactionID
// is meaningful only for the TCP codec; serial codecs ignore it.
type Header struct {
	SlaveID       byte
	TransactionID uint16
}

// Frame is a decoded ADU.
type Frame struct {
	Header Header
	PDU    pdu.PDU
}

// Codec encodes and decodes ADUs for one transport framing.
// Implementations are stateless and safe for concurrent use.
type Codec interface {
	// Name returns the codec name ("tcp", "rtu", "ascii").
	Name() string

	// Encode builds the wire bytes for one request.
	Encode(h Header, p pdu.PDU) ([]byte, error)

	// Decode parses one complete ADU. When the contained PDU is an
	// exception response, Decode returns the decoded frame together
	// with a *pdu.ExceptionError so the caller can still correlate
	// the header; it never hands an exception back as a plain value.
	Decode(data []byte) (Frame, error)

	// Parse extracts one complete ADU from the front of buffer.
	// It returns the packet and the remaining bytes, or a nil packet
	// when the buffer does not yet hold a full frame.
	Parse(buffer []byte) (packet []byte, remaining []byte, err error)
}

// decodePDU splits raw PDU bytes and reports an exception response as
// an error, shared by all three codecs.
func decodePDU(raw []byte) (pdu.PDU, error) {
	p := pdu.PDU{FunctionCode: pdu.FunctionCode(raw[0]), Data: raw[1:]}
	return p, pdu.CheckException(p)
}

// serialPDULength derives the full PDU length from the leading bytes
// of a serial response stream: function code plus either a byte-count
// field, a fixed echo, or an exception code. Returns 0 when more bytes
// are needed, -1 when the length cannot be derived.
func serialPDULength(raw []byte) int {
	if len(raw) < 1 {
		return 0
	}
	fc := pdu.FunctionCode(raw[0])
	if fc&pdu.ExceptionFlag != 0 {
		return 2
	}
	switch fc {
	case pdu.ReadCoils, pdu.ReadDiscreteInputs, pdu.ReadHoldingRegisters, pdu.ReadInputRegisters:
		if len(raw) < 2 {
			return 0
		}
		return 2 + int(raw[1])
	case pdu.WriteSingleCoil, pdu.WriteSingleRegister, pdu.WriteMultipleCoils, pdu.WriteMultipleRegisters:
		return 5
	default:
		return -1
	}
}
