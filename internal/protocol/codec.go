package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrFraming is returned when a read would run past the end of the buffer
// or a length prefix is malformed.
var ErrFraming = errors.New("protocol: framing error")

// String marker bytes.
const (
	stringAbsent  byte = 0x00
	stringPresent byte = 0x0b
)

// Writer serializes primitives into a growable buffer.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(v byte) *Writer {
	w.buf.WriteByte(v)
	return w
}

// WriteBool writes a bool as one byte.
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

// WriteInt16 writes an int16.
func (w *Writer) WriteInt16(v int16) *Writer {
	return w.WriteUint16(uint16(v))
}

// WriteUint16 writes a uint16.
func (w *Writer) WriteUint16(v uint16) *Writer {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
	return w
}

// WriteInt32 writes an int32.
func (w *Writer) WriteInt32(v int32) *Writer {
	return w.WriteUint32(uint32(v))
}

// WriteUint32 writes a uint32.
func (w *Writer) WriteUint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

// WriteInt64 writes an int64.
func (w *Writer) WriteInt64(v int64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
	return w
}

// WriteFloat32 writes an IEEE-754 float32.
func (w *Writer) WriteFloat32(v float32) *Writer {
	return w.WriteUint32(math.Float32bits(v))
}

// WriteULEB128 writes an unsigned LEB128 varint.
func (w *Writer) WriteULEB128(v uint64) *Writer {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return w
		}
	}
}

// WriteString writes a marker-prefixed string.
// Format: [0x00] when empty, else [0x0b][uleb128 length][utf-8 bytes].
func (w *Writer) WriteString(s string) *Writer {
	if s == "" {
		return w.WriteByte(stringAbsent)
	}
	w.buf.WriteByte(stringPresent)
	w.WriteULEB128(uint64(len(s)))
	w.buf.WriteString(s)
	return w
}

// WriteInt32List writes an int16 count followed by that many int32 values.
func (w *Writer) WriteInt32List(values []int32) *Writer {
	w.WriteInt16(int16(len(values)))
	for _, v := range values {
		w.WriteInt32(v)
	}
	return w
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(data []byte) *Writer {
	w.buf.Write(data)
	return w
}

// Bytes returns the serialized bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Packet wraps the written bytes as a packet of type t. The payload is
// copied so the writer may be reused.
func (w *Writer) Packet(t PacketType) Packet {
	payload := make([]byte, w.buf.Len())
	copy(payload, w.buf.Bytes())
	return Packet{Type: t, Payload: payload}
}

// String returns a hex dump of the written bytes for debugging.
func (w *Writer) String() string {
	data := w.buf.Bytes()
	return fmt.Sprintf("Writer[%d bytes]: %x", len(data), data)
}

// Reader consumes primitives from a byte slice. It never reads past the
// end of its buffer; every short read returns an error wrapping ErrFraming.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: reading %s needs %d bytes, %d remaining", ErrFraming, what, n, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a one-byte bool.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// ReadInt16 reads an int16.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint16 reads a uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt32 reads an int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt64 reads an int64.
func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ReadFloat32 reads an IEEE-754 float32.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadULEB128 reads an unsigned LEB128 varint of at most 10 bytes.
func (r *Reader) ReadULEB128() (uint64, error) {
	var (
		result uint64
		shift  uint
	)
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("%w: uleb128 overflows 64 bits", ErrFraming)
}

// ReadString reads a marker-prefixed string. Any nonzero marker means the
// string is present.
func (r *Reader) ReadString() (string, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if marker == stringAbsent {
		return "", nil
	}
	n, err := r.ReadULEB128()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Remaining()) {
		return "", fmt.Errorf("%w: string length %d exceeds %d remaining", ErrFraming, n, r.Remaining())
	}
	b, _ := r.take(int(n), "string")
	return string(b), nil
}

// ReadInt32List reads an int16 count followed by that many int32 values.
func (r *Reader) ReadInt32List() ([]int32, error) {
	n, err := r.ReadInt16()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative list length %d", ErrFraming, n)
	}
	values := make([]int32, 0, n)
	for i := int16(0); i < n; i++ {
		v, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.take(n, "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
