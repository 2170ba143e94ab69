// Package checksum implements the two integrity checks used by Modbus
// serial framing: CRC16 for RTU mode and LRC for ASCII mode.
package checksum

// CRC16 computes the Modbus CRC over data. Polynomial 0xA001 (reflected
// 0x8005), initial value 0xFFFF. The result is transmitted low byte
// first on the wire.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// LRC computes the Longitudinal Redundancy Check over data: the two's
// complement of the byte sum modulo 256. Computed over the binary frame
// bytes, before hex encoding.
func LRC(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return -sum
}
