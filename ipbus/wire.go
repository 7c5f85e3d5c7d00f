package ipbus

import "encoding/binary"

// IPbus v2.0 fixes wire byte order to little-endian; there is no
// per-target negotiation, unlike the dual-order sniffing the teacher's
// original codec performed.

func wordsToBytes(words []Word) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func bytesToWords(dst []Word, data []byte) {
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
}

func firstWord(data []byte) (Word, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data), true
}

// statusRequestHeader is the fixed header word of a 64-byte status probe,
// matching original_source/IPbusHeaders.h's StatusPacket layout.
var statusRequestHeader = EncodePacketHeader(Status, 0)

const statusPacketBytes = 64

func newStatusProbe() []byte {
	buf := make([]byte, statusPacketBytes)
	binary.LittleEndian.PutUint32(buf[0:4], statusRequestHeader)
	return buf
}
