// serialcomm/utils.go
package serialcomm

import (
	"github.com/sigurn/crc16"
)

// Reply bytes exchanged with the device after a frame or ping.
const (
	ReplyAck    byte = 0x06
	ReplyNak    byte = 0x15 // device saw a bad checksum
	ReplyReject byte = 0x18 // followed by one code byte
	PingByte    byte = 0x05
)

// Codes sent by Receiver after ReplyReject.
const (
	RejectUnsupportedVersion byte = 0x01
	RejectMalformed          byte = 0x02
	RejectParameter          byte = 0x03
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

func calculateCRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

func sendFeedback(port Port, status byte, code ...byte) error {
	_, err := port.Write(append([]byte{status}, code...))
	return err
}
