package protocol

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter().
		WriteByte(0xAB).
		WriteBool(true).
		WriteInt16(-1234).
		WriteUint16(65000).
		WriteInt32(math.MinInt32).
		WriteUint32(math.MaxUint32).
		WriteInt64(math.MaxInt64).
		WriteFloat32(98.75).
		WriteInt32List([]int32{3, -7, 42})

	r := NewReader(w.Bytes())

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b)

	flag, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, flag)

	i16, err := r.ReadInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(-1234), i16)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(65000), u16)

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32), i32)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), u32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), i64)

	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(98.75), f32)

	list, err := r.ReadInt32List()
	require.NoError(t, err)
	assert.Equal(t, []int32{3, -7, 42}, list)

	assert.Zero(t, r.Remaining())
}

func TestIntegersAreLittleEndian(t *testing.T) {
	w := NewWriter().WriteUint16(0x0102).WriteInt32(0x03040506)
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}, w.Bytes())
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"a",
		"#osu",
		"héllo wörld ☆",
		strings.Repeat("x", 127),
		strings.Repeat("y", 128),
		strings.Repeat("z", 70000),
	}

	for _, s := range cases {
		w := NewWriter().WriteString(s)
		got, err := NewReader(w.Bytes()).ReadString()
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestEmptyStringIsSingleSentinelByte(t *testing.T) {
	assert.Equal(t, []byte{0x00}, NewWriter().WriteString("").Bytes())
}

func TestStringEncoding(t *testing.T) {
	// 128 needs two uleb128 bytes: 0x80 0x01
	w := NewWriter().WriteString(strings.Repeat("a", 128))
	require.Greater(t, w.Len(), 3)
	assert.Equal(t, []byte{0x0b, 0x80, 0x01}, w.Bytes()[:3])
}

func TestReadStringAcceptsAnyPresentMarker(t *testing.T) {
	got, err := NewReader([]byte{0x01, 0x02, 'h', 'i'}).ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestULEB128RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 16383, 16384, math.MaxUint32, math.MaxUint64} {
		w := NewWriter().WriteULEB128(v)
		got, err := NewReader(w.Bytes()).ReadULEB128()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestReadPastEndIsFramingError(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"byte", nil, func(r *Reader) error { _, err := r.ReadByte(); return err }},
		{"int16", []byte{1}, func(r *Reader) error { _, err := r.ReadInt16(); return err }},
		{"int32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadInt32(); return err }},
		{"int64", []byte{1, 2, 3, 4, 5, 6, 7}, func(r *Reader) error { _, err := r.ReadInt64(); return err }},
		{"float32", []byte{1}, func(r *Reader) error { _, err := r.ReadFloat32(); return err }},
		{"string marker only", []byte{0x0b}, func(r *Reader) error { _, err := r.ReadString(); return err }},
		{"string length too long", []byte{0x0b, 0x05, 'a', 'b'}, func(r *Reader) error { _, err := r.ReadString(); return err }},
		{"uleb128 unterminated", []byte{0x80, 0x80}, func(r *Reader) error { _, err := r.ReadULEB128(); return err }},
		{"list short", []byte{0x02, 0x00, 1, 0, 0, 0}, func(r *Reader) error { _, err := r.ReadInt32List(); return err }},
		{"bytes", []byte{1, 2}, func(r *Reader) error { _, err := r.ReadBytes(3); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFraming)
		})
	}
}

func TestWriterPacketCopiesPayload(t *testing.T) {
	w := NewWriter().WriteInt32(7)
	p := w.Packet(ServerLoginReply)
	w.Reset()
	w.WriteInt32(99)

	v, err := p.Reader().ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}
