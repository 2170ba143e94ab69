package frame

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/commatea/emodbus/pkg/checksum"
	"github.com/commatea/emodbus/pkg/pdu"
)

// ASCII frame delimiters.
const (
	asciiStart = ':'
	asciiEnd   = "\r\n"
)

// ASCIICodec frames PDUs for text serial transmission: a ':' start
// marker, the address, PDU and LRC as uppercase hex pairs, then CRLF.
type ASCIICodec struct{}

// NewASCII creates a Modbus ASCII codec.
func NewASCII() *ASCIICodec {
	return &ASCIICodec{}
}

func (c *ASCIICodec) Name() string {
	return "ascii"
}

func (c *ASCIICodec) Encode(h Header, p pdu.PDU) ([]byte, error) {
	if len(p.Data)+1 > pdu.MaxSize {
		return nil, fmt.Errorf("%w: pdu %d bytes", ErrLengthMismatch, len(p.Data)+1)
	}
	raw := make([]byte, 0, len(p.Data)+2)
	raw = append(raw, h.SlaveID, byte(p.FunctionCode))
	raw = append(raw, p.Data...)
	raw = append(raw, checksum.LRC(raw))

	adu := make([]byte, 0, 1+2*len(raw)+2)
	adu = append(adu, asciiStart)
	adu = appendHexUpper(adu, raw)
	adu = append(adu, asciiEnd...)
	return adu, nil
}

func (c *ASCIICodec) Decode(data []byte) (Frame, error) {
	if len(data) < 1+2*3+2 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if data[0] != asciiStart || !bytes.HasSuffix(data, []byte(asciiEnd)) {
		return Frame{}, ErrFraming
	}
	body := data[1 : len(data)-2]
	if len(body)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: odd hex length %d", ErrHexDecode, len(body))
	}
	raw := make([]byte, len(body)/2)
	if _, err := hex.Decode(raw, body); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrHexDecode, err)
	}
	payload := raw[:len(raw)-1]
	want := raw[len(raw)-1]
	if got := checksum.LRC(payload); got != want {
		return Frame{}, fmt.Errorf("%w: computed %02X, frame %02X", ErrChecksum, got, want)
	}
	f := Frame{Header: Header{SlaveID: payload[0]}}
	var err error
	f.PDU, err = decodePDU(payload[1:])
	return f, err
}

// Parse cuts at the CRLF terminator. Noise before the ':' start marker
// is dropped, matching the protocol's resynchronization rule.
func (c *ASCIICodec) Parse(buffer []byte) ([]byte, []byte, error) {
	start := bytes.IndexByte(buffer, asciiStart)
	if start < 0 {
		// Nothing frame-like yet; discard stream noise.
		return nil, nil, nil
	}
	buffer = buffer[start:]
	end := bytes.Index(buffer, []byte(asciiEnd))
	if end < 0 {
		return nil, buffer, nil
	}
	total := end + 2
	return buffer[:total], buffer[total:], nil
}

// appendHexUpper appends the uppercase hex encoding of raw to dst.
// The protocol specifies uppercase characters on the wire.
func appendHexUpper(dst, raw []byte) []byte {
	const digits = "0123456789ABCDEF"
	for _, b := range raw {
		dst = append(dst, digits[b>>4], digits[b&0x0F])
	}
	return dst
}
