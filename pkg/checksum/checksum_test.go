package checksum

import "testing"

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			name: "Read 10 Holding Registers",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
			want: 0xCDC5, // C5 CD in little endian wire format
		},
		{
			name: "Read Single Holding Register",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01},
			want: 0x0A84,
		},
		{
			name: "Exception Response",
			data: []byte{0x01, 0x83, 0x02},
			want: 0xF1C0,
		},
		{
			name: "Empty Data",
			data: []byte{},
			want: 0xFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16() = %04X, want %04X", got, tt.want)
			}
		})
	}
}

func TestLRC(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint8
	}{
		{
			name: "Spec Example Read Holding Registers",
			data: []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03},
			want: 0x7E,
		},
		{
			name: "Read 10 Holding Registers",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
			want: 0xF2,
		},
		{
			name: "Empty Data",
			data: []byte{},
			want: 0x00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LRC(tt.data); got != tt.want {
				t.Errorf("LRC() = %02X, want %02X", got, tt.want)
			}
		})
	}
}
