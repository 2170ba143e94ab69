package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/commatea/emodbus/pkg/checksum"
	"github.com/commatea/emodbus/pkg/pdu"
)

// Smallest possible RTU frame: address + function code + CRC.
const rtuMinSize = 4

// RTUCodec frames PDUs for binary serial transmission:
// [address][PDU][CRC16 little endian].
type RTUCodec struct{}

// NewRTU creates a Modbus RTU codec.
func NewRTU() *RTUCodec {
	return &RTUCodec{}
}

func (c *RTUCodec) Name() string {
	return "rtu"
}

func (c *RTUCodec) Encode(h Header, p pdu.PDU) ([]byte, error) {
	if len(p.Data)+1 > pdu.MaxSize {
		return nil, fmt.Errorf("%w: pdu %d bytes", ErrLengthMismatch, len(p.Data)+1)
	}
	adu := make([]byte, 0, len(p.Data)+4)
	adu = append(adu, h.SlaveID, byte(p.FunctionCode))
	adu = append(adu, p.Data...)
	crc := checksum.CRC16(adu)
	adu = binary.LittleEndian.AppendUint16(adu, crc)
	return adu, nil
}

func (c *RTUCodec) Decode(data []byte) (Frame, error) {
	if len(data) < rtuMinSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	payload := data[:len(data)-2]
	want := binary.LittleEndian.Uint16(data[len(data)-2:])
	if got := checksum.CRC16(payload); got != want {
		return Frame{}, fmt.Errorf("%w: computed %04X, frame %04X", ErrChecksum, got, want)
	}
	f := Frame{Header: Header{SlaveID: payload[0]}}
	var err error
	f.PDU, err = decodePDU(payload[1:])
	return f, err
}

// Parse derives the frame length from the response shape: RTU has no
// length field, but every response function code implies one (byte
// count for reads, fixed echo for writes, two bytes for exceptions).
func (c *RTUCodec) Parse(buffer []byte) ([]byte, []byte, error) {
	if len(buffer) < 2 {
		return nil, buffer, nil
	}
	n := serialPDULength(buffer[1:])
	switch n {
	case 0:
		return nil, buffer, nil
	case -1:
		return nil, buffer, fmt.Errorf("%w: function 0x%02X has no known response shape", ErrFraming, buffer[1])
	}
	total := 1 + n + 2
	if len(buffer) < total {
		return nil, buffer, nil
	}
	return buffer[:total], buffer[total:], nil
}
