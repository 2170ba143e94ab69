package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/commatea/emodbus/pkg/pdu"
)

// MBAP header: transaction id (2) + protocol id (2) + length (2) +
// unit id (1).
const (
	mbapSize      = 7
	tcpProtocolID = 0x0000
)

// TCPCodec frames PDUs with the Modbus TCP MBAP header. TCP provides
// byte integrity, so there is no checksum.
type TCPCodec struct{}

// NewTCP creates a Modbus TCP codec.
func NewTCP() *TCPCodec {
	return &TCPCodec{}
}

func (c *TCPCodec) Name() string {
	return "tcp"
}

func (c *TCPCodec) Encode(h Header, p pdu.PDU) ([]byte, error) {
	if len(p.Data)+1 > pdu.MaxSize {
		return nil, fmt.Errorf("%w: pdu %d bytes", ErrLengthMismatch, len(p.Data)+1)
	}
	adu := make([]byte, mbapSize+1+len(p.Data))
	binary.BigEndian.PutUint16(adu[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(adu[2:4], tcpProtocolID)
	binary.BigEndian.PutUint16(adu[4:6], uint16(2+len(p.Data))) // unit id + pdu
	adu[6] = h.SlaveID
	adu[7] = byte(p.FunctionCode)
	copy(adu[8:], p.Data)
	return adu, nil
}

func (c *TCPCodec) Decode(data []byte) (Frame, error) {
	if len(data) < mbapSize+1 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if proto := binary.BigEndian.Uint16(data[2:4]); proto != tcpProtocolID {
		return Frame{}, fmt.Errorf("%w: 0x%04X", ErrProtocolID, proto)
	}
	length := int(binary.BigEndian.Uint16(data[4:6]))
	if length != len(data)-6 {
		return Frame{}, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, length, len(data)-6)
	}
	f := Frame{
		Header: Header{
			SlaveID:       data[6],
			TransactionID: binary.BigEndian.Uint16(data[0:2]),
		},
	}
	var err error
	f.PDU, err = decodePDU(data[mbapSize:])
	return f, err
}

// Parse is length based: the MBAP length field counts every byte after
// itself, so a full frame is 6 + length bytes.
func (c *TCPCodec) Parse(buffer []byte) ([]byte, []byte, error) {
	if len(buffer) < 6 {
		return nil, buffer, nil
	}
	total := 6 + int(binary.BigEndian.Uint16(buffer[4:6]))
	if len(buffer) < total {
		return nil, buffer, nil
	}
	return buffer[:total], buffer[total:], nil
}
