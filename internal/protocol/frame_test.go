package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yume-project/yume/internal/osu"
)

func TestFrameHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Packet{Type: ServerLoginReply, Payload: []byte{0x2A, 0, 0, 0}})

	assert.Equal(t, []byte{
		0x05, 0x00, // type
		0x00,                   // compression marker
		0x04, 0x00, 0x00, 0x00, // length
		0x2A, 0x00, 0x00, 0x00, // payload
	}, buf.Bytes())
}

func TestReadFramesRoundTrip(t *testing.T) {
	in := []Packet{
		LoginReply(1000),
		Notification("welcome"),
		Pong(),
		ChannelJoinSuccess("#osu"),
	}

	out, err := ReadFrames(EncodePackets(in...))
	require.NoError(t, err)
	require.Len(t, out, len(in))

	for i := range in {
		assert.Equal(t, in[i].Type, out[i].Type)
		assert.Equal(t, len(in[i].Payload), len(out[i].Payload))
	}

	name, err := out[3].Reader().ReadString()
	require.NoError(t, err)
	assert.Equal(t, "#osu", name)
}

func TestReadFramesEmptyBody(t *testing.T) {
	packets, err := ReadFrames(nil)
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestReadFramesTruncatedPayloadKeepsPrefix(t *testing.T) {
	body := EncodePackets(Pong(), LoginReply(5))
	// Chop the last payload byte off the second frame.
	body = body[:len(body)-1]

	packets, err := ReadFrames(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)
	require.Len(t, packets, 1)
	assert.Equal(t, ServerPong, packets[0].Type)
}

func TestReadFramesDeclaredLengthBeyondBuffer(t *testing.T) {
	body := []byte{0x04, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x01}

	packets, err := ReadFrames(body)
	assert.ErrorIs(t, err, ErrFraming)
	assert.Empty(t, packets)
}

func TestReadFramesShortHeader(t *testing.T) {
	body := append(EncodePackets(Pong()), 0x01, 0x00, 0x00)

	packets, err := ReadFrames(body)
	assert.ErrorIs(t, err, ErrFraming)
	assert.Len(t, packets, 1)
}

func TestReadFramesOversizedPayload(t *testing.T) {
	body := []byte{0x04, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}

	_, err := ReadFrames(body)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestUserStatsClampsPerformance(t *testing.T) {
	p := UserStats(UserStatsData{UserID: 3, Performance: 40000, Mode: osu.ModeTaiko})

	r := p.Reader()
	id, _ := r.ReadInt32()
	assert.Equal(t, int32(3), id)

	// Skip to the trailing int16 performance field.
	payload := p.Payload
	perf := int16(payload[len(payload)-2]) | int16(payload[len(payload)-1])<<8
	assert.Equal(t, int16(0), perf)
}

func TestStatusUpdateRoundTrip(t *testing.T) {
	w := NewWriter().
		WriteByte(byte(osu.ActionPlaying)).
		WriteString("Artist - Title [Hard]").
		WriteString("0123456789abcdef0123456789abcdef").
		WriteUint32(uint32(osu.ModHidden | osu.ModRelax)).
		WriteByte(byte(osu.ModeOsu)).
		WriteInt32(315)

	s, err := ReadStatusUpdate(NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, osu.ActionPlaying, s.Action)
	assert.Equal(t, "Artist - Title [Hard]", s.ActionText)
	assert.Equal(t, osu.ModHidden|osu.ModRelax, s.Mods)
	assert.Equal(t, int32(315), s.BeatmapID)
}

func TestMatchRoundTrip(t *testing.T) {
	in := MatchData{
		ID:              12,
		Name:            "casual 4*",
		Password:        "hunter2",
		BeatmapName:     "Artist - Title [Insane]",
		BeatmapID:       99,
		BeatmapChecksum: "abc",
		HostID:          1000,
		Mode:            osu.ModeMania,
		FreeMods:        true,
		Seed:            1234,
	}
	for i := range in.Slots {
		in.Slots[i].Status = SlotOpen
	}
	in.Slots[0] = SlotData{Status: SlotNotReady, UserID: 1000, Mods: osu.ModHidden}
	in.Slots[3] = SlotData{Status: SlotReady, UserID: 1001, Team: 1}
	in.Slots[15].Status = SlotLocked

	p := MatchUpdate(in)
	assert.Equal(t, ServerUpdateMatch, p.Type)

	out, err := ReadMatch(p.Reader())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadMatchTruncated(t *testing.T) {
	p := MatchUpdate(MatchData{ID: 1, Name: "x"})
	_, err := ReadMatch(NewReader(p.Payload[:10]))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestMessageRoundTrip(t *testing.T) {
	in := Message{Sender: "peppy", Content: "hello", Target: "#osu", SenderID: 2}
	out, err := ReadMessage(SendMessage(in).Reader())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
