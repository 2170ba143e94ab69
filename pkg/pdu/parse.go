package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CheckException inspects a response PDU and returns an
// *ExceptionError when the exception flag is set. A valid exception
// response carries exactly one data byte, the exception code.
func CheckException(p PDU) error {
	if p.FunctionCode&ExceptionFlag == 0 {
		return nil
	}
	var code byte
	if len(p.Data) > 0 {
		code = p.Data[0]
	}
	return &ExceptionError{
		FunctionCode: p.FunctionCode &^ ExceptionFlag,
		Code:         code,
	}
}

// ParseReadRegisters extracts quantity register words from a
// read-holding/read-input response. The response data is a byte count
// followed by big-endian 16-bit words.
func ParseReadRegisters(p PDU, quantity uint16) ([]uint16, error) {
	if err := CheckException(p); err != nil {
		return nil, err
	}
	if len(p.Data) < 1 {
		return nil, ErrShortResponse
	}
	count := int(p.Data[0])
	if count != 2*int(quantity) {
		return nil, fmt.Errorf("%w: declared %d, want %d", ErrByteCount, count, 2*quantity)
	}
	if len(p.Data) < 1+count {
		return nil, ErrShortResponse
	}
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(p.Data[1+2*i:])
	}
	return words, nil
}

// ParseReadBits extracts quantity coil/discrete-input states from a
// read response. Bits are packed LSB-first; surplus bits in the final
// byte are ignored.
func ParseReadBits(p PDU, quantity uint16) ([]bool, error) {
	if err := CheckException(p); err != nil {
		return nil, err
	}
	if len(p.Data) < 1 {
		return nil, ErrShortResponse
	}
	count := int(p.Data[0])
	want := (int(quantity) + 7) / 8
	if count != want {
		return nil, fmt.Errorf("%w: declared %d, want %d", ErrByteCount, count, want)
	}
	if len(p.Data) < 1+count {
		return nil, ErrShortResponse
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = p.Data[1+i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}

// VerifyWriteEcho checks a write response against its request. Single
// writes echo address and value; multiple writes echo address and
// quantity, which are the first four data bytes of the request either
// way.
func VerifyWriteEcho(req, res PDU) error {
	if err := CheckException(res); err != nil {
		return err
	}
	if res.FunctionCode != req.FunctionCode {
		return fmt.Errorf("%w: function %s, want %s", ErrEchoMismatch, res.FunctionCode, req.FunctionCode)
	}
	if len(res.Data) < 4 || len(req.Data) < 4 {
		return ErrShortResponse
	}
	if !bytes.Equal(res.Data[:4], req.Data[:4]) {
		return fmt.Errorf("%w: % X, want % X", ErrEchoMismatch, res.Data[:4], req.Data[:4])
	}
	return nil
}
