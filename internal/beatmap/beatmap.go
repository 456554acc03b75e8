// Package beatmap caches beatmap metadata and the per-variant, per-mode
// leaderboards served to clients.
package beatmap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/osu"
)

// MaxEntries is how many scores a leaderboard holds.
const MaxEntries = 50

// ScoreSource provides the best-per-user scores a leaderboard is built from.
type ScoreSource interface {
	LeaderboardScores(ctx context.Context, checksum string, mode osu.PlayMode, variant osu.Variant, limit int) ([]db.Score, error)
}

// snapshot is one published leaderboard. It is never modified after it is
// stored, so readers may hold on to it.
type snapshot struct {
	entries  []db.Score
	rendered string
}

var emptySnapshot = &snapshot{}

type board struct {
	refresh sync.Mutex
	current atomic.Pointer[snapshot]
}

func (b *board) load() *snapshot {
	if s := b.current.Load(); s != nil {
		return s
	}
	return emptySnapshot
}

// Beatmap is one difficulty and its leaderboards.
type Beatmap struct {
	Checksum string

	info   atomic.Pointer[db.BeatmapRow]
	boards [osu.VariantCount][osu.PlayModeCount]board
}

// New creates a beatmap with empty leaderboards.
func New(info db.BeatmapRow) *Beatmap {
	b := &Beatmap{Checksum: info.Checksum}
	b.info.Store(&info)
	return b
}

// Info returns the current metadata.
func (b *Beatmap) Info() db.BeatmapRow {
	return *b.info.Load()
}

// SetInfo replaces the metadata.
func (b *Beatmap) SetInfo(info db.BeatmapRow) {
	info.Checksum = b.Checksum
	b.info.Store(&info)
}

// Status is shorthand for Info().Status.
func (b *Beatmap) Status() osu.RankedStatus {
	return b.info.Load().Status
}

// Name is the "artist - title [difficulty]" display name.
func (b *Beatmap) Name() string {
	info := b.info.Load()
	return fmt.Sprintf("%s - %s [%s]", info.Artist, info.Title, info.Difficulty)
}

func (b *Beatmap) board(variant osu.Variant, mode osu.PlayMode) (*board, error) {
	if variant >= osu.VariantCount || !mode.Valid() {
		return nil, fmt.Errorf("no leaderboard for %s/%s", variant, mode)
	}
	return &b.boards[variant][mode], nil
}

// Refresh reloads one leaderboard from src and publishes the new ranking
// and its rendering together. Refreshes of the same leaderboard run one at
// a time; on error the previous leaderboard stays in place.
func (b *Beatmap) Refresh(ctx context.Context, src ScoreSource, variant osu.Variant, mode osu.PlayMode) error {
	bd, err := b.board(variant, mode)
	if err != nil {
		return err
	}

	bd.refresh.Lock()
	defer bd.refresh.Unlock()

	scores, err := src.LeaderboardScores(ctx, b.Checksum, mode, variant, MaxEntries)
	if err != nil {
		return fmt.Errorf("refresh %s %s/%s: %w", b.Checksum, variant, mode, err)
	}
	bd.current.Store(&snapshot{entries: scores, rendered: renderEntries(scores)})
	return nil
}

// Initialize loads every leaderboard of the beatmap.
func (b *Beatmap) Initialize(ctx context.Context, src ScoreSource) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for v := osu.Variant(0); v < osu.VariantCount; v++ {
		for m := osu.PlayMode(0); m < osu.PlayModeCount; m++ {
			v, m := v, m
			g.Go(func() error { return b.Refresh(ctx, src, v, m) })
		}
	}
	return g.Wait()
}

// Clear empties every leaderboard.
func (b *Beatmap) Clear() {
	for v := range b.boards {
		for m := range b.boards[v] {
			bd := &b.boards[v][m]
			bd.refresh.Lock()
			bd.current.Store(emptySnapshot)
			bd.refresh.Unlock()
		}
	}
}

// Entries returns the ranked scores of one leaderboard. The slice must not
// be modified.
func (b *Beatmap) Entries(variant osu.Variant, mode osu.PlayMode) []db.Score {
	bd, err := b.board(variant, mode)
	if err != nil {
		return nil
	}
	return bd.load().entries
}

// Rendered returns the pre-rendered entry lines of one leaderboard.
func (b *Beatmap) Rendered(variant osu.Variant, mode osu.PlayMode) string {
	bd, err := b.board(variant, mode)
	if err != nil {
		return ""
	}
	return bd.load().rendered
}

// Rank returns the 1-based position of userID on a leaderboard, or 0.
func (b *Beatmap) Rank(variant osu.Variant, mode osu.PlayMode, userID int32) int {
	for i, s := range b.Entries(variant, mode) {
		if s.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// Header renders the four header lines for a leaderboard response.
func (b *Beatmap) Header(variant osu.Variant, mode osu.PlayMode) string {
	info := b.info.Load()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|false|%d|%d|%d\n", int32(info.Status), info.ID, info.SetID, len(b.Entries(variant, mode)))
	fmt.Fprintf(&sb, "%d\n", info.OnlineOffset)
	sb.WriteString(b.Name())
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "%d", info.Rating)
	return sb.String()
}

// Response assembles the full leaderboard text for a requester. best is
// the requester's personal best, or nil. Maps without a leaderboard only
// get the status line.
func (b *Beatmap) Response(variant osu.Variant, mode osu.PlayMode, best *db.Score) string {
	info := b.info.Load()
	if !info.Status.HasLeaderboard() {
		return fmt.Sprintf("%d|false", int32(info.Status))
	}

	var sb strings.Builder
	sb.WriteString(b.Header(variant, mode))
	sb.WriteByte('\n')
	if best != nil {
		sb.WriteString(renderEntry(best, b.Rank(variant, mode, best.UserID)))
	}
	sb.WriteByte('\n')
	sb.WriteString(b.Rendered(variant, mode))
	return sb.String()
}

func renderEntries(scores []db.Score) string {
	var sb strings.Builder
	for i := range scores {
		sb.WriteString(renderEntry(&scores[i], i+1))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// renderEntry formats one score the way the client parses it.
func renderEntry(s *db.Score, rank int) string {
	fields := []string{
		strconv.FormatInt(s.ID, 10),
		s.Username,
		strconv.FormatInt(s.Score, 10),
		strconv.Itoa(int(s.MaxCombo)),
		strconv.Itoa(int(s.Count50)),
		strconv.Itoa(int(s.Count100)),
		strconv.Itoa(int(s.Count300)),
		strconv.Itoa(int(s.CountMiss)),
		strconv.Itoa(int(s.CountKatu)),
		strconv.Itoa(int(s.CountGeki)),
		flag(s.Perfect),
		strconv.FormatUint(uint64(s.Mods), 10),
		strconv.Itoa(int(s.UserID)),
		strconv.Itoa(rank),
		strconv.FormatInt(s.SubmittedAt.Unix(), 10),
		flag(s.ReplayChecksum != ""),
	}
	return strings.Join(fields, "|")
}
