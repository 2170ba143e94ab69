package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/commatea/emodbus/pkg/pdu"
)

func TestRoundTrip(t *testing.T) {
	codecs := []Codec{NewTCP(), NewRTU(), NewASCII()}
	requests := []struct {
		name string
		h    Header
		p    pdu.PDU
	}{
		{
			name: "Read Holding Registers",
			h:    Header{SlaveID: 0x11, TransactionID: 0x0001},
			p:    pdu.PDU{FunctionCode: pdu.ReadHoldingRegisters, Data: []byte{0x00, 0x6B, 0x00, 0x03}},
		},
		{
			name: "Write Single Register",
			h:    Header{SlaveID: 0x01, TransactionID: 0xFFFF},
			p:    pdu.PDU{FunctionCode: pdu.WriteSingleRegister, Data: []byte{0x00, 0x01, 0x00, 0x03}},
		},
		{
			name: "Empty Payload",
			h:    Header{SlaveID: 0xF7},
			p:    pdu.PDU{FunctionCode: pdu.ReadCoils, Data: []byte{}},
		},
	}

	for _, codec := range codecs {
		for _, tt := range requests {
			t.Run(codec.Name()+"/"+tt.name, func(t *testing.T) {
				adu, err := codec.Encode(tt.h, tt.p)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				f, err := codec.Decode(adu)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if f.Header.SlaveID != tt.h.SlaveID {
					t.Errorf("slave id = %d, want %d", f.Header.SlaveID, tt.h.SlaveID)
				}
				if codec.Name() == "tcp" && f.Header.TransactionID != tt.h.TransactionID {
					t.Errorf("transaction id = %d, want %d", f.Header.TransactionID, tt.h.TransactionID)
				}
				if f.PDU.FunctionCode != tt.p.FunctionCode {
					t.Errorf("function code = %s, want %s", f.PDU.FunctionCode, tt.p.FunctionCode)
				}
				if !bytes.Equal(f.PDU.Data, tt.p.Data) {
					t.Errorf("data = % X, want % X", f.PDU.Data, tt.p.Data)
				}
			})
		}
	}
}

func TestRTUDecodeChecksum(t *testing.T) {
	codec := NewRTU()
	adu, err := codec.Encode(Header{SlaveID: 1}, pdu.PDU{
		FunctionCode: pdu.ReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x0A},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// The documented reference frame for this request.
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}
	if !bytes.Equal(adu, want) {
		t.Fatalf("adu = % X, want % X", adu, want)
	}

	// Every corrupted checksum byte must be rejected.
	for _, i := range []int{len(adu) - 2, len(adu) - 1} {
		bad := append([]byte(nil), adu...)
		bad[i] ^= 0xFF
		if _, err := codec.Decode(bad); !errors.Is(err, ErrChecksum) {
			t.Errorf("corrupt byte %d: err = %v, want ErrChecksum", i, err)
		}
	}

	if _, err := codec.Decode([]byte{0x01, 0x03}); !errors.Is(err, ErrTruncated) {
		t.Errorf("short frame: err = %v, want ErrTruncated", err)
	}
}

func TestTCPDecodeErrors(t *testing.T) {
	codec := NewTCP()

	t.Run("Protocol ID Mismatch", func(t *testing.T) {
		adu := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x03}
		if _, err := codec.Decode(adu); !errors.Is(err, ErrProtocolID) {
			t.Errorf("err = %v, want ErrProtocolID", err)
		}
	})

	t.Run("Length Mismatch", func(t *testing.T) {
		adu := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03}
		if _, err := codec.Decode(adu); !errors.Is(err, ErrLengthMismatch) {
			t.Errorf("err = %v, want ErrLengthMismatch", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		if _, err := codec.Decode([]byte{0x00, 0x01}); !errors.Is(err, ErrTruncated) {
			t.Errorf("err = %v, want ErrTruncated", err)
		}
	})
}

func TestASCIIDecodeErrors(t *testing.T) {
	codec := NewASCII()

	t.Run("Reference Frame", func(t *testing.T) {
		f, err := codec.Decode([]byte(":1103006B00037E\r\n"))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if f.Header.SlaveID != 0x11 || f.PDU.FunctionCode != pdu.ReadHoldingRegisters {
			t.Errorf("decoded %+v", f)
		}
	})

	t.Run("Missing Start Marker", func(t *testing.T) {
		if _, err := codec.Decode([]byte("1103006B00037E\r\n")); !errors.Is(err, ErrFraming) {
			t.Errorf("err = %v, want ErrFraming", err)
		}
	})

	t.Run("Missing Terminator", func(t *testing.T) {
		if _, err := codec.Decode([]byte(":1103006B00037EXX")); !errors.Is(err, ErrFraming) {
			t.Errorf("err = %v, want ErrFraming", err)
		}
	})

	t.Run("Non Hex Characters", func(t *testing.T) {
		if _, err := codec.Decode([]byte(":11ZZ006B00037E\r\n")); !errors.Is(err, ErrHexDecode) {
			t.Errorf("err = %v, want ErrHexDecode", err)
		}
	})

	t.Run("Bad LRC", func(t *testing.T) {
		if _, err := codec.Decode([]byte(":1103006B000370\r\n")); !errors.Is(err, ErrChecksum) {
			t.Errorf("err = %v, want ErrChecksum", err)
		}
	})
}

func TestDecodeException(t *testing.T) {
	codec := NewRTU()
	// 01 83 02 + CRC: illegal data address for read holding registers.
	adu := []byte{0x01, 0x83, 0x02, 0xC0, 0xF1}
	f, err := codec.Decode(adu)
	var exc *pdu.ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("err = %v, want *pdu.ExceptionError", err)
	}
	if exc.Code != pdu.ExceptionIllegalDataAddress {
		t.Errorf("exception code = %02X, want %02X", exc.Code, pdu.ExceptionIllegalDataAddress)
	}
	// The header must still be available for correlation.
	if f.Header.SlaveID != 1 {
		t.Errorf("slave id = %d, want 1", f.Header.SlaveID)
	}
}

func TestParse(t *testing.T) {
	t.Run("TCP Incremental", func(t *testing.T) {
		codec := NewTCP()
		full := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0xEB}
		for cut := 0; cut < len(full); cut++ {
			packet, _, err := codec.Parse(full[:cut])
			if err != nil || packet != nil {
				t.Fatalf("cut %d: packet = % X, err = %v", cut, packet, err)
			}
		}
		packet, remaining, err := codec.Parse(append(full, 0xAA))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if !bytes.Equal(packet, full) {
			t.Errorf("packet = % X, want % X", packet, full)
		}
		if !bytes.Equal(remaining, []byte{0xAA}) {
			t.Errorf("remaining = % X", remaining)
		}
	})

	t.Run("RTU Read Response", func(t *testing.T) {
		codec := NewRTU()
		full := []byte{0x01, 0x03, 0x02, 0x00, 0xEB, 0xF8, 0x0B}
		packet, remaining, err := codec.Parse(full)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if !bytes.Equal(packet, full) {
			t.Errorf("packet = % X, want % X", packet, full)
		}
		if len(remaining) != 0 {
			t.Errorf("remaining = % X", remaining)
		}
	})

	t.Run("RTU Exception Length", func(t *testing.T) {
		codec := NewRTU()
		full := []byte{0x01, 0x83, 0x02, 0xC0, 0xF1}
		packet, _, err := codec.Parse(full)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(packet) != 5 {
			t.Errorf("packet length = %d, want 5", len(packet))
		}
	})

	t.Run("ASCII Leading Noise", func(t *testing.T) {
		codec := NewASCII()
		stream := []byte("\xFF\x00:1103006B00037E\r\nnext")
		packet, remaining, err := codec.Parse(stream)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if !bytes.Equal(packet, []byte(":1103006B00037E\r\n")) {
			t.Errorf("packet = %q", packet)
		}
		if !bytes.Equal(remaining, []byte("next")) {
			t.Errorf("remaining = %q", remaining)
		}
	})
}
