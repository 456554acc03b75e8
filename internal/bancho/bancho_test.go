package bancho

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/match"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

// flakyRanks serves ranks from the store until told to fail.
type flakyRanks struct {
	*db.Database
	fail atomic.Bool
}

func (f *flakyRanks) UserRank(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (int32, error) {
	if f.fail.Load() {
		return 0, errors.New("rank lookup unavailable")
	}
	return f.Database.UserRank(ctx, userID, variant, mode)
}

type harness struct {
	store     *db.Database
	ranks     *flakyRanks
	presences *presence.Registry
	channels  *channel.Manager
	matches   *match.Manager
	table     *Table
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := db.NewDatabase(filepath.Join(t.TempDir(), "yume.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hash, err := util.HashPassword(util.MD5Hex([]byte("secret")))
	require.NoError(t, err)
	for _, name := range []string{"alice", "bob"} {
		_, err := store.CreateUser(context.Background(), name, hash, "JP", osu.PrivilegeNormal|osu.PrivilegeVerified)
		require.NoError(t, err)
	}

	ranks := &flakyRanks{Database: store}
	h := &harness{
		store:     store,
		ranks:     ranks,
		presences: presence.NewRegistry(store, presence.Options{Ranks: ranks}),
		channels:  channel.NewManager(),
		matches:   match.NewManager(nil),
	}
	h.channels.Add("#osu", "general", true)
	h.channels.Add("#lobby", "multiplayer", true)
	h.presences.OnTerminate(func(p *presence.Presence) {
		h.channels.LeaveAll(p)
		h.matches.Leave(p)
		h.matches.PartLobby(p)
	})
	h.table = NewTable(Deps{
		Presences: h.presences,
		Channels:  h.channels,
		Matches:   h.matches,
		Friends:   store,
	})
	return h
}

func loginBody(name, password string) []byte {
	return []byte(fmt.Sprintf("%s\n%s\nb20240101|9|0|hashes|0\n", name, util.MD5Hex([]byte(password))))
}

func (h *harness) login(t *testing.T, name string) *presence.Presence {
	t.Helper()
	token, _ := h.table.Login(context.Background(), loginBody(name, "secret"))
	require.NotEqual(t, NoToken, token)
	p, ok := h.presences.Get(token)
	require.True(t, ok)
	return p
}

func frames(t *testing.T, body []byte) []protocol.Packet {
	t.Helper()
	packets, err := protocol.ReadFrames(body)
	require.NoError(t, err)
	return packets
}

func packetTypes(packets []protocol.Packet) []protocol.PacketType {
	out := make([]protocol.PacketType, len(packets))
	for i, p := range packets {
		out[i] = p.Type
	}
	return out
}

func TestLoginBootstrapOrder(t *testing.T) {
	h := newHarness(t)

	token, body := h.table.Login(context.Background(), loginBody("alice", "secret"))
	require.NotEqual(t, NoToken, token)

	assert.Equal(t, []protocol.PacketType{
		protocol.ServerProtocolVersion,
		protocol.ServerLoginReply,
		protocol.ServerUserPresence,
		protocol.ServerUserStats,
		protocol.ServerChannelAvailable,
		protocol.ServerChannelAvailable,
		protocol.ServerChannelListingComplete,
		protocol.ServerUserPermissions,
		protocol.ServerFriendsList,
	}, packetTypes(frames(t, body)))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newHarness(t)

	token, body := h.table.Login(context.Background(), loginBody("alice", "wrong"))
	assert.Equal(t, NoToken, token)

	packets := frames(t, body)
	require.Equal(t, []protocol.PacketType{protocol.ServerProtocolVersion, protocol.ServerLoginReply}, packetTypes(packets))
	code, err := packets[1].Reader().ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, protocol.LoginFailed, code)
	assert.Zero(t, h.presences.Count())
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	token, body := h.table.Login(context.Background(), []byte("just one line"))
	assert.Equal(t, NoToken, token)
	assert.Len(t, frames(t, body), 2)
}

func TestLoginIntroducesPeers(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")

	_, body := h.table.Login(context.Background(), loginBody("bob", "secret"))
	bobTypes := packetTypes(frames(t, body))
	assert.Equal(t, []protocol.PacketType{protocol.ServerUserPresence, protocol.ServerUserStats}, bobTypes[len(bobTypes)-2:])

	assert.Equal(t, []protocol.PacketType{protocol.ServerUserPresence, protocol.ServerUserStats}, packetTypes(alice.Drain()))
}

func TestDispatchRunsPacketsInOrder(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	alice.Drain()
	bob.Drain()

	_, err := h.channels.Join(bob, "#osu")
	require.NoError(t, err)
	bob.Drain()

	body := protocol.EncodePackets(
		protocol.NewWriter().Packet(protocol.ClientPing),
		protocol.NewWriter().WriteString("#osu").Packet(protocol.ClientChannelJoin),
		protocol.NewWriter().WriteString("").WriteString("hello").WriteString("#osu").WriteInt32(0).Packet(protocol.ClientSendPublicMessage),
	)
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))

	assert.Equal(t, []protocol.PacketType{protocol.ServerChannelJoinSuccess}, packetTypes(alice.Drain()))
	got := bob.Drain()
	require.Len(t, got, 1)
	msg, err := protocol.ReadMessage(got[0].Reader())
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hello", msg.Content)
}

func TestDispatchKeepsPrefixOfTruncatedBody(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	alice.Drain()

	body := protocol.EncodePackets(protocol.NewWriter().WriteString("#osu").Packet(protocol.ClientChannelJoin))
	truncated := protocol.EncodePackets(protocol.NewWriter().WriteString("#lobby").Packet(protocol.ClientChannelJoin))
	body = append(body, truncated[:len(truncated)-2]...)

	err := h.table.Dispatch(context.Background(), body, alice)
	assert.ErrorIs(t, err, protocol.ErrFraming)

	ch, _ := h.channels.Get("#osu")
	assert.True(t, ch.Has(alice.ID))
	lobby, _ := h.channels.Get("#lobby")
	assert.False(t, lobby.Has(alice.ID))
}

func TestDispatchSurvivesUnknownAndPanickingHandlers(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	alice.Drain()

	h.table.handlers[protocol.PacketType(900)] = func(context.Context, protocol.Packet, *presence.Presence) error {
		panic("boom")
	}
	h.table.handlers[protocol.PacketType(901)] = func(context.Context, protocol.Packet, *presence.Presence) error {
		return errors.New("failed")
	}

	body := protocol.EncodePackets(
		protocol.NewWriter().Packet(protocol.PacketType(999)),
		protocol.NewWriter().Packet(protocol.PacketType(900)),
		protocol.NewWriter().Packet(protocol.PacketType(901)),
		protocol.NewWriter().WriteString("#osu").Packet(protocol.ClientChannelJoin),
	)
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))
	assert.Equal(t, []protocol.PacketType{protocol.ServerChannelJoinSuccess}, packetTypes(alice.Drain()))
}

func TestJoinUnknownChannelIsRevoked(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	alice.Drain()

	body := protocol.EncodePackets(protocol.NewWriter().WriteString("#nowhere").Packet(protocol.ClientChannelJoin))
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))
	assert.Equal(t, []protocol.PacketType{protocol.ServerChannelRevoked}, packetTypes(alice.Drain()))
}

func TestJoinUnknownMatchFails(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	alice.Drain()

	body := protocol.EncodePackets(protocol.NewWriter().WriteInt32(42).WriteString("").Packet(protocol.ClientJoinMatch))
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))
	assert.Equal(t, []protocol.PacketType{protocol.ServerMatchJoinFail}, packetTypes(alice.Drain()))
	assert.Equal(t, presence.NoMatch, alice.MatchID())
}

func TestPrivateMessageRespectsBlocking(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	alice.Drain()
	bob.Drain()
	bob.BlockNonFriendPMs = true

	pm := protocol.EncodePackets(protocol.NewWriter().WriteString("").WriteString("hi").WriteString("bob").WriteInt32(0).Packet(protocol.ClientSendPrivateMessage))
	require.NoError(t, h.table.Dispatch(context.Background(), pm, alice))
	assert.Empty(t, bob.Drain())

	bob.AddFriend(alice.ID)
	require.NoError(t, h.table.Dispatch(context.Background(), pm, alice))
	assert.Equal(t, []protocol.PacketType{protocol.ServerSendMessage}, packetTypes(bob.Drain()))
}

func TestFriendAddPersists(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")

	body := protocol.EncodePackets(protocol.NewWriter().WriteInt32(bob.ID).Packet(protocol.ClientFriendAdd))
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))
	assert.True(t, alice.IsFriend(bob.ID))

	ids, err := h.store.Friends(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []int32{bob.ID}, ids)
}

func TestChangeActionBroadcastsStats(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	alice.Drain()
	bob.Drain()

	body := protocol.EncodePackets(protocol.NewWriter().
		WriteByte(byte(osu.ActionPlaying)).WriteString("Song").WriteString("abc").
		WriteUint32(uint32(osu.ModRelax)).WriteByte(byte(osu.ModeOsu)).WriteInt32(10).
		Packet(protocol.ClientChangeAction))
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))

	assert.Equal(t, osu.VariantRelax, alice.Stats().Variant)
	assert.Equal(t, []protocol.PacketType{protocol.ServerUserStats}, packetTypes(bob.Drain()))
	assert.Equal(t, []protocol.PacketType{protocol.ServerUserStats}, packetTypes(alice.Drain()))
}

func TestChangeActionKeepsStatusWhenStatsFail(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	alice.Drain()
	before := alice.Status()

	change := func(mode osu.PlayMode) []byte {
		return protocol.EncodePackets(protocol.NewWriter().
			WriteByte(byte(osu.ActionPlaying)).WriteString("Song").WriteString("abc").
			WriteUint32(0).WriteByte(byte(mode)).WriteInt32(10).
			Packet(protocol.ClientChangeAction))
	}

	h.ranks.fail.Store(true)
	require.NoError(t, h.table.Dispatch(context.Background(), change(osu.ModeTaiko), alice))
	assert.Equal(t, before, alice.Status())
	assert.Equal(t, osu.ModeOsu, alice.Stats().Mode)
	assert.Empty(t, alice.Drain())

	h.ranks.fail.Store(false)
	require.NoError(t, h.table.Dispatch(context.Background(), change(osu.ModeTaiko), alice))
	assert.Equal(t, osu.ModeTaiko, alice.Status().Mode)
	assert.Equal(t, osu.ModeTaiko, alice.Stats().Mode)
}

func TestLogoutTerminates(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	bob.Drain()

	body := protocol.EncodePackets(protocol.NewWriter().Packet(protocol.ClientLogout))
	require.NoError(t, h.table.Dispatch(context.Background(), body, alice))

	_, ok := h.presences.Get(alice.Token)
	assert.False(t, ok)
	assert.Equal(t, []protocol.PacketType{protocol.ServerUserQuit}, packetTypes(bob.Drain()))
}
