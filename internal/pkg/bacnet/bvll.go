package bacnet

import (
	"encoding/binary"
	"fmt"
)

// BACnet Virtual Link Layer framing for BACnet/IP (Annex J).
type BVLCFunction byte

const (
	bvlcTypeBACnetIP byte = 0x81

	BVLCRegisterForeignDevice BVLCFunction = 0x05

	registerFrameLength = 6
)

// EncodeRegisterForeignDevice builds the raw Register-Foreign-Device frame:
// BVLC type, function 0x05, big-endian length and TTL.
func EncodeRegisterForeignDevice(ttl uint16) []byte {
	frame := make([]byte, registerFrameLength)
	frame[0] = bvlcTypeBACnetIP
	frame[1] = byte(BVLCRegisterForeignDevice)
	binary.BigEndian.PutUint16(frame[2:4], registerFrameLength)
	binary.BigEndian.PutUint16(frame[4:6], ttl)
	return frame
}

// DecodeRegisterForeignDevice parses a Register-Foreign-Device frame and
// returns the requested TTL.
func DecodeRegisterForeignDevice(frame []byte) (uint16, error) {
	if len(frame) != registerFrameLength {
		return 0, fmt.Errorf("register-foreign-device frame must be %d bytes, got %d", registerFrameLength, len(frame))
	}
	if frame[0] != bvlcTypeBACnetIP {
		return 0, fmt.Errorf("not a BACnet/IP frame: type 0x%02x", frame[0])
	}
	if BVLCFunction(frame[1]) != BVLCRegisterForeignDevice {
		return 0, fmt.Errorf("not a register-foreign-device frame: function 0x%02x", frame[1])
	}
	if got := binary.BigEndian.Uint16(frame[2:4]); got != registerFrameLength {
		return 0, fmt.Errorf("bad frame length %d", got)
	}
	return binary.BigEndian.Uint16(frame[4:6]), nil
}
