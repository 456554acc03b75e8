package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WriteFrame appends one framed packet to buf.
// Frame format: [type:2][compression:1 (always 0)][length:4][payload]
func WriteFrame(buf *bytes.Buffer, p Packet) {
	var header [FrameHeaderSize]byte
	binary.LittleEndian.PutUint16(header[0:2], uint16(p.Type))
	header[2] = 0
	binary.LittleEndian.PutUint32(header[3:7], uint32(len(p.Payload)))
	buf.Write(header[:])
	buf.Write(p.Payload)
}

// EncodePackets frames and concatenates packets in order.
func EncodePackets(packets ...Packet) []byte {
	size := 0
	for _, p := range packets {
		size += FrameHeaderSize + len(p.Payload)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for _, p := range packets {
		WriteFrame(&buf, p)
	}
	return buf.Bytes()
}

// ReadFrames splits a request body into packets. On a truncated or
// oversized frame it returns the packets decoded before the bad frame
// together with an error wrapping ErrFraming, so callers can still
// dispatch the well-formed prefix.
func ReadFrames(body []byte) ([]Packet, error) {
	var packets []Packet
	pos := 0
	for pos < len(body) {
		if len(body)-pos < FrameHeaderSize {
			return packets, fmt.Errorf("%w: %d trailing bytes shorter than frame header", ErrFraming, len(body)-pos)
		}
		t := PacketType(binary.LittleEndian.Uint16(body[pos : pos+2]))
		length := binary.LittleEndian.Uint32(body[pos+3 : pos+7])
		pos += FrameHeaderSize

		if length > MaxPayloadSize {
			return packets, fmt.Errorf("%w: %s payload too large: %d bytes (max %d)", ErrFraming, t, length, MaxPayloadSize)
		}
		if uint64(length) > uint64(len(body)-pos) {
			return packets, fmt.Errorf("%w: %s declares %d bytes, %d remaining", ErrFraming, t, length, len(body)-pos)
		}

		payload := make([]byte, length)
		copy(payload, body[pos:pos+int(length)])
		pos += int(length)

		packets = append(packets, Packet{Type: t, Payload: payload})
	}
	return packets, nil
}
