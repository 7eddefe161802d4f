package touch

import "github.com/sigurn/crc16"

// CRC-16/CCITT-FALSE: polynomial 0x1021, init 0xFFFF, MSB first.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum computes the configuration block CRC of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// ChecksumInit returns the initial value for a partial CRC.
func ChecksumInit() uint16 {
	return crc16.Init(crcTable)
}

// ChecksumUpdate continues a partial CRC over data.
func ChecksumUpdate(crc uint16, data []byte) uint16 {
	return crc16.Update(crc, data, crcTable)
}

// ChecksumComplete finalizes a partial CRC.
func ChecksumComplete(crc uint16) uint16 {
	return crc16.Complete(crc, crcTable)
}
