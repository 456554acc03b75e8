package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

type fakeStore struct {
	users   map[string]*db.User
	stats   map[osu.PlayMode]db.Stats
	statErr error
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	hash, err := util.HashPassword(util.MD5Hex([]byte("secret")))
	require.NoError(t, err)
	return &fakeStore{
		users: map[string]*db.User{
			"alice":  {ID: 10, Username: "Alice", PasswordHash: hash, Country: "JP", Privileges: osu.PrivilegeNormal},
			"banned": {ID: 11, Username: "banned", PasswordHash: hash, Privileges: osu.PrivilegeBanned},
			"bob":    {ID: 12, Username: "Bob", PasswordHash: hash, Country: "US", Privileges: osu.PrivilegeNormal},
		},
		stats: map[osu.PlayMode]db.Stats{
			osu.ModeOsu:   {RankedScore: 1000, Accuracy: 0.98, PlayCount: 3, Performance: 120},
			osu.ModeTaiko: {RankedScore: 50, Accuracy: 0.5, PlayCount: 1, Performance: 7},
		},
	}
}

func (s *fakeStore) GetUserByName(_ context.Context, name string) (*db.User, error) {
	if u, ok := s.users[db.SafeUsername(name)]; ok {
		return u, nil
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) GetStats(_ context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (db.Stats, error) {
	if s.statErr != nil {
		return db.Stats{}, s.statErr
	}
	st := s.stats[mode]
	st.UserID, st.Variant, st.Mode = userID, variant, mode
	return st, nil
}

func (s *fakeStore) Friends(context.Context, int32) ([]int32, error) {
	return []int32{12}, nil
}

func creds(name string) Credentials {
	return Credentials{Username: name, PasswordMD5: util.MD5Hex([]byte("secret")), ClientVersion: "b20240101", UTCOffset: 9}
}

func packetTypes(packets []protocol.Packet) []protocol.PacketType {
	out := make([]protocol.PacketType, len(packets))
	for i, p := range packets {
		out[i] = p.Type
	}
	return out
}

func TestLoginSeedsBootstrapQueue(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})

	p, err := r.Login(context.Background(), creds("alice"))
	require.NoError(t, err)

	assert.Equal(t, int32(10), p.ID)
	assert.NotEmpty(t, p.Token)
	assert.Equal(t, int64(1000), p.Stats().RankedScore)
	assert.True(t, p.IsFriend(12))

	packets := p.Drain()
	assert.Equal(t, []protocol.PacketType{
		protocol.ServerProtocolVersion,
		protocol.ServerLoginReply,
		protocol.ServerUserPresence,
		protocol.ServerUserStats,
	}, packetTypes(packets))

	id, err := packets[1].Reader().ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(10), id)

	got, ok := r.Get(p.Token)
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestLoginFailures(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})
	ctx := context.Background()

	_, err := r.Login(ctx, creds("nobody"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, protocol.LoginFailed, LoginCode(err))

	bad := creds("alice")
	bad.PasswordMD5 = util.MD5Hex([]byte("wrong"))
	_, err = r.Login(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Login(ctx, creds("banned"))
	assert.ErrorIs(t, err, ErrBanned)
	assert.Equal(t, protocol.LoginBanned, LoginCode(err))

	assert.Zero(t, r.Count())
}

func TestLoginStoreFailureCreatesNoPresence(t *testing.T) {
	store := newFakeStore(t)
	store.statErr = errors.New("disk on fire")
	r := NewRegistry(store, Options{})

	_, err := r.Login(context.Background(), creds("alice"))
	require.Error(t, err)
	assert.Equal(t, protocol.LoginServerError, LoginCode(err))
	_, ok := r.GetByID(10)
	assert.False(t, ok)
}

func TestDuplicateLoginReplace(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{DuplicateLogin: config.DuplicateLoginReplace})
	ctx := context.Background()

	var terminated []int32
	r.OnTerminate(func(p *Presence) { terminated = append(terminated, p.ID) })

	first, err := r.Login(ctx, creds("alice"))
	require.NoError(t, err)
	second, err := r.Login(ctx, creds("alice"))
	require.NoError(t, err)

	_, ok := r.Get(first.Token)
	assert.False(t, ok)
	current, ok := r.GetByID(10)
	require.True(t, ok)
	assert.Same(t, second, current)
	assert.Equal(t, []int32{10}, terminated)
}

func TestDuplicateLoginReject(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{DuplicateLogin: config.DuplicateLoginReject})
	ctx := context.Background()

	first, err := r.Login(ctx, creds("alice"))
	require.NoError(t, err)
	_, err = r.Login(ctx, creds("alice"))
	assert.ErrorIs(t, err, ErrAlreadyOnline)

	current, ok := r.GetByID(10)
	require.True(t, ok)
	assert.Same(t, first, current)
}

func TestBootstrapLeadsQueueUnderConcurrentBroadcast(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})
	ctx := context.Background()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				r.Broadcast([]protocol.Packet{protocol.Notification("tick")})
			}
		}
	}()

	for i := 0; i < 40; i++ {
		name := "alice"
		if i%2 == 1 {
			name = "bob"
		}
		p, err := r.Login(ctx, creds(name))
		require.NoError(t, err)
		got := packetTypes(p.Drain())
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, protocol.ServerProtocolVersion, got[0], "login %d", i)
		assert.Equal(t, protocol.ServerLoginReply, got[1], "login %d", i)
	}
	close(stop)
	<-done
}

func TestQueueIsFIFO(t *testing.T) {
	p := New(5, "q")
	p1 := protocol.Notification("one")
	p2 := protocol.Notification("two")
	p3 := protocol.Notification("three")

	p.Enqueue(p1, p2)
	p.Enqueue(p3)

	assert.Equal(t, []protocol.Packet{p1, p2, p3}, p.Drain())
	assert.Empty(t, p.Drain())
}

func TestTerminateBroadcastsQuit(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})
	ctx := context.Background()

	alice, err := r.Login(ctx, creds("alice"))
	require.NoError(t, err)
	bob, err := r.Login(ctx, creds("bob"))
	require.NoError(t, err)
	alice.Drain()
	bob.Drain()

	assert.True(t, r.Terminate(alice, events.LogoutRequested))
	assert.False(t, r.Terminate(alice, events.LogoutRequested))

	packets := bob.Drain()
	require.Len(t, packets, 1)
	assert.Equal(t, protocol.ServerUserQuit, packets[0].Type)
	id, err := packets[0].Reader().ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, alice.ID, id)
}

func TestUpdateStatsSwitchesMode(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})
	p, err := r.Login(context.Background(), creds("alice"))
	require.NoError(t, err)

	require.NoError(t, r.UpdateStats(context.Background(), p, osu.ModeTaiko))
	st := p.Stats()
	assert.Equal(t, osu.ModeTaiko, st.Mode)
	assert.Equal(t, int64(50), st.RankedScore)
	assert.Equal(t, int32(7), st.Performance)
}

func TestUpdateStatsFailureKeepsProjection(t *testing.T) {
	store := newFakeStore(t)
	r := NewRegistry(store, Options{})
	p, err := r.Login(context.Background(), creds("alice"))
	require.NoError(t, err)

	store.statErr = errors.New("gone")
	assert.Error(t, r.UpdateStats(context.Background(), p, osu.ModeTaiko))
	assert.Equal(t, osu.ModeOsu, p.Stats().Mode)
}

func TestReapIdleSkipsBot(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})
	bot := r.RegisterBot("Yume")
	p, err := r.Login(context.Background(), creds("alice"))
	require.NoError(t, err)

	reaped := r.ReapIdle(time.Now().Add(time.Hour), time.Minute)
	require.Len(t, reaped, 1)
	assert.Same(t, p, reaped[0])

	_, ok := r.GetByID(bot.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestPresenceDataHasNoLocation(t *testing.T) {
	r := NewRegistry(newFakeStore(t), Options{})
	body := "Alice\n" + util.MD5Hex([]byte("secret")) + "\nb20240101|9|1|hashes|0\n"
	c, err := ParseCredentials([]byte(body))
	require.NoError(t, err)
	p, err := r.Login(context.Background(), c)
	require.NoError(t, err)

	data := p.PresenceData()
	assert.Zero(t, data.Longitude)
	assert.Zero(t, data.Latitude)
	assert.Equal(t, int8(9), data.Timezone)
}

func TestParseCredentials(t *testing.T) {
	body := "Alice\n" + util.MD5Hex([]byte("secret")) + "\nb20240101|-5|1|hashes:|0\n"
	c, err := ParseCredentials([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Username)
	assert.Equal(t, int8(-5), c.UTCOffset)
	assert.Equal(t, "hashes:", c.ClientHashes)
	assert.False(t, c.BlockNonFriendPMs)

	_, err = ParseCredentials([]byte("Alice\nshort\n"))
	assert.ErrorIs(t, err, ErrMalformedLogin)
}
