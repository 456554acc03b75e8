package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yume-project/yume/internal/bancho"
	"github.com/yume-project/yume/internal/beatmap"
	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/connector"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/match"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/scoring"
	"github.com/yume-project/yume/internal/util"
)

type fakeMirror struct{}

func (fakeMirror) Lookup(_ context.Context, checksum string) (*connector.BeatmapInfo, error) {
	if checksum != "map1" {
		return nil, connector.ErrMirrorNotFound
	}
	return &connector.BeatmapInfo{
		Checksum: "map1", ID: 1, SetID: 1, Status: osu.StatusRanked,
		Artist: "Artist", Title: "Song", Difficulty: "Hard",
	}, nil
}

type fakeOracle struct{}

func (fakeOracle) Performance(context.Context, []byte, connector.PlayAttributes) (float64, error) {
	return 120, nil
}

type fakeFiles struct{}

func (fakeFiles) Get(context.Context, string, int32) ([]byte, error) {
	return []byte("osu file format v14"), nil
}

type testServer struct {
	store     *db.Database
	presences *presence.Registry
	server    *Server
}

func newTestServer(t *testing.T, loginsPerMinute int) *testServer {
	t.Helper()
	store, err := db.NewDatabase(filepath.Join(t.TempDir(), "yume.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hash, err := util.HashPassword(util.MD5Hex([]byte("secret")))
	require.NoError(t, err)
	_, err = store.CreateUser(context.Background(), "alice", hash, "JP", osu.PrivilegeNormal|osu.PrivilegeVerified)
	require.NoError(t, err)

	presences := presence.NewRegistry(store, presence.Options{Ranks: store})
	channels := channel.NewManager()
	channels.Add("#osu", "general", true)
	matches := match.NewManager(nil)
	maps := beatmap.NewRegistry(store, fakeMirror{}, store)
	pipeline := scoring.NewPipeline(scoring.Options{Store: store, Oracle: fakeOracle{}, Files: fakeFiles{}, Beatmaps: maps})

	cfg := config.DefaultConfig()
	cfg.Security.LoginPerMinute = loginsPerMinute
	srv := NewServer(cfg, Deps{
		Presences: presences,
		Table:     bancho.NewTable(bancho.Deps{Presences: presences, Channels: channels, Matches: matches, Friends: store}),
		Channels:  channels,
		Matches:   matches,
		Beatmaps:  maps,
		Pipeline:  pipeline,
		Scores:    store,
	})
	return &testServer{store: store, presences: presences, server: srv}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	body := fmt.Sprintf("alice\n%s\nb20240101|9|0|hashes|0\n", util.MD5Hex([]byte("secret")))
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	token := rec.Header().Get("cho-token")
	require.NotEqual(t, bancho.NoToken, token)
	return token
}

func decode(t *testing.T, body []byte) []protocol.Packet {
	t.Helper()
	packets, err := protocol.ReadFrames(body)
	require.NoError(t, err)
	return packets
}

func TestBanchoLogin(t *testing.T) {
	ts := newTestServer(t, 10)
	body := fmt.Sprintf("alice\n%s\nb20240101|9|0|hashes|0\n", util.MD5Hex([]byte("secret")))
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "19", rec.Header().Get("cho-protocol"))
	token := rec.Header().Get("cho-token")
	_, ok := ts.presences.Get(token)
	assert.True(t, ok)

	packets := decode(t, rec.Body.Bytes())
	require.GreaterOrEqual(t, len(packets), 2)
	assert.Equal(t, protocol.ServerProtocolVersion, packets[0].Type)
	assert.Equal(t, protocol.ServerLoginReply, packets[1].Type)
}

func TestBanchoPollDispatchesAndDrains(t *testing.T) {
	ts := newTestServer(t, 10)
	token := ts.login(t)

	body := protocol.EncodePackets(protocol.NewWriter().WriteString("#osu").Packet(protocol.ClientChannelJoin))
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("osu-token", token)
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	packets := decode(t, rec.Body.Bytes())
	require.Len(t, packets, 1)
	assert.Equal(t, protocol.ServerChannelJoinSuccess, packets[0].Type)

	// The queue was drained by the previous poll.
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(protocol.EncodePackets(protocol.NewWriter().Packet(protocol.ClientPing))))
	req.Header.Set("osu-token", token)
	assert.Empty(t, ts.do(req).Body.Bytes())
}

func TestBanchoUnknownTokenRestarts(t *testing.T) {
	ts := newTestServer(t, 10)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("osu-token", "stale")
	rec := ts.do(req)

	packets := decode(t, rec.Body.Bytes())
	require.Len(t, packets, 2)
	assert.Equal(t, protocol.ServerRestart, packets[1].Type)
}

func TestBanchoLoginRateLimited(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.login(t)

	body := fmt.Sprintf("alice\n%s\nb20240101|9|0|hashes|0\n", util.MD5Hex([]byte("secret")))
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, bancho.NoToken, rec.Header().Get("cho-token"))

	packets := decode(t, rec.Body.Bytes())
	code, err := packets[1].Reader().ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, protocol.LoginServerError, code)
}

func scoresURL(checksum, password string) string {
	q := url.Values{"c": {checksum}, "m": {"0"}, "mods": {"0"}, "us": {"alice"}, "ha": {util.MD5Hex([]byte(password))}}
	return "/web/osu-osz2-getscores.php?" + q.Encode()
}

func submitRequest(record, password string) *http.Request {
	form := url.Values{"score": {record}, "pass": {util.MD5Hex([]byte(password))}}
	req := httptest.NewRequest(http.MethodPost, "/web/osu-submit-modular.php", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestSubmitThenLeaderboard(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(submitRequest("map1:alice:x:100:0:0:0:0:0:500000:150:True:S:0:True:0:20240101:20240101", "secret"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ok|"), rec.Body.String())
	assert.True(t, strings.HasSuffix(rec.Body.String(), "|best"))

	rec = ts.do(httptest.NewRequest(http.MethodGet, scoresURL("map1", "secret"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(rec.Body.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.Equal(t, "2|false|1|1|1", lines[0])
	assert.Equal(t, "Artist - Song [Hard]", lines[2])
	assert.Contains(t, lines[4], "|alice|500000|150|")
	assert.Equal(t, lines[4], lines[5])
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(submitRequest("map1:alice:x:100:0:0:0:0:0:500000:150:True:S:0:True:0:20240101:20240101", "wrong"))
	assert.Equal(t, "error: pass", rec.Body.String())

	rec = ts.do(submitRequest("too:short", "secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(submitRequest("nomap:alice:x:100:0:0:0:0:0:500000:150:True:S:0:True:0:20240101:20240101", "secret"))
	assert.Equal(t, "error: beatmap", rec.Body.String())
}

func TestGetScoresEdgeCases(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(httptest.NewRequest(http.MethodGet, scoresURL("map1", "wrong"), nil))
	assert.Equal(t, "error: pass", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, scoresURL("unknown", "secret"), nil))
	assert.Equal(t, "-1|false", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, scoresURL("map1", "secret"), nil))
	lines := strings.Split(rec.Body.String(), "\n")
	assert.Equal(t, "2|false|1|1|0", lines[0])
	assert.Equal(t, "", lines[4])
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.login(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/public/online", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var online struct {
		Total int `json:"total"`
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &online))
	assert.Equal(t, 1, online.Total)
	assert.Equal(t, "alice", online.Users[0].Username)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/public/leaderboard/unknown", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/public/leaderboard/map1?variant=9", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/public/nothing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "endpoint not found")
}

func TestParseSubmission(t *testing.T) {
	sub, name, err := parseSubmission("abc:bob:x:90:5:1:10:2:3:123456:321:False:A:128:True:1:d:v")
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
	assert.Equal(t, "abc", sub.Score.Checksum)
	assert.Equal(t, int32(90), sub.Score.Count300)
	assert.Equal(t, int32(3), sub.Score.CountMiss)
	assert.Equal(t, int64(123456), sub.Score.Score)
	assert.Equal(t, osu.ModRelax, sub.Score.Mods)
	assert.Equal(t, osu.ModeTaiko, sub.Score.Mode)
	assert.False(t, sub.Score.Perfect)
	assert.True(t, sub.Passed)

	big, _, err := parseSubmission("abc:bob:x:90:5:1:10:2:3:5000000000:321:False:A:0:True:0")
	require.NoError(t, err)
	assert.Equal(t, int64(5000000000), big.Score.Score)

	for _, bad := range []string{
		"",
		"abc:bob:x:-1:5:1:10:2:3:123456:321:False:A:0:True:1",
		"abc:bob:x:90:5:1:10:2:3:123456:321:False:A:zz:True:1",
		"abc:bob:x:90:5:1:10:2:3:123456:321:False:A:0:True:7",
		"abc:bob:x:2147483648:5:1:10:2:3:123456:321:False:A:0:True:1",
		"abc:bob:x:90:5:1:10:2:3:123456:4294967296:False:A:0:True:1",
	} {
		_, _, err := parseSubmission(bad)
		assert.Error(t, err, bad)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewLoginLimiter(2)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"))

	assert.Equal(t, 0, rl.Prune(time.Hour))
	assert.Equal(t, 2, rl.Prune(-time.Second))

	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow("1.1.1.1"))
	}
}
