package beatmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yume-project/yume/internal/connector"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

// ErrNotFound is returned for lookups that cannot name a beatmap.
var ErrNotFound = errors.New("beatmap not found")

// Store persists beatmap metadata.
type Store interface {
	GetBeatmap(ctx context.Context, checksum string) (*db.BeatmapRow, error)
	UpsertBeatmap(ctx context.Context, b *db.BeatmapRow) error
}

// Mirror resolves a checksum to metadata.
type Mirror interface {
	Lookup(ctx context.Context, checksum string) (*connector.BeatmapInfo, error)
}

// Registry holds every beatmap referenced since startup, keyed by checksum.
type Registry struct {
	maps   sync.Map // checksum -> *Beatmap
	group  singleflight.Group
	store  Store
	mirror Mirror
	scores ScoreSource
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, mirror Mirror, scores ScoreSource) *Registry {
	return &Registry{
		store:  store,
		mirror: mirror,
		scores: scores,
		logger: util.ComponentLogger("beatmap"),
	}
}

// Cached returns the beatmap for checksum without loading it.
func (r *Registry) Cached(checksum string) (*Beatmap, bool) {
	v, ok := r.maps.Load(checksum)
	if !ok {
		return nil, false
	}
	return v.(*Beatmap), true
}

// Count returns how many beatmaps are cached.
func (r *Registry) Count() int {
	n := 0
	r.maps.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Get returns the beatmap for checksum, loading its metadata from the store
// or the mirror and its leaderboards from the score source on first use.
// Concurrent first lookups of the same checksum share one load. A map the
// mirror cannot resolve is returned as not submitted.
func (r *Registry) Get(ctx context.Context, checksum string) (*Beatmap, error) {
	if checksum == "" {
		return nil, ErrNotFound
	}
	if b, ok := r.Cached(checksum); ok {
		return b, nil
	}

	v, err, _ := r.group.Do(checksum, func() (any, error) {
		if b, ok := r.Cached(checksum); ok {
			return b, nil
		}
		b, err := r.load(ctx, checksum)
		if err != nil {
			return nil, err
		}
		actual, _ := r.maps.LoadOrStore(checksum, b)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Beatmap), nil
}

func (r *Registry) load(ctx context.Context, checksum string) (*Beatmap, error) {
	row, err := r.store.GetBeatmap(ctx, checksum)
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		row, err = r.resolve(ctx, checksum)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	b := New(*row)
	if row.Status.HasLeaderboard() {
		if err := b.Initialize(ctx, r.scores); err != nil {
			return nil, fmt.Errorf("failed to load leaderboards for %s: %w", checksum, err)
		}
	}
	return b, nil
}

// resolve asks the mirror for checksum and persists what it learns.
func (r *Registry) resolve(ctx context.Context, checksum string) (*db.BeatmapRow, error) {
	info, err := r.mirror.Lookup(ctx, checksum)
	if err != nil {
		r.logger.Debug().Err(err).Str("checksum", checksum).Msg("mirror lookup failed, treating as not submitted")
		return notSubmitted(checksum), nil
	}

	row := rowFromInfo(info)
	if err := r.store.UpsertBeatmap(ctx, row); err != nil {
		return nil, err
	}
	r.logger.Info().Str("checksum", checksum).Int32("beatmap_id", row.ID).Str("status", row.Status.String()).Msg("beatmap resolved")
	return row, nil
}

// Revalidate refetches metadata from the mirror and reloads the
// leaderboards. Frozen maps keep their status.
func (r *Registry) Revalidate(ctx context.Context, checksum string) (*Beatmap, error) {
	b, err := r.Get(ctx, checksum)
	if err != nil {
		return nil, err
	}

	info, err := r.mirror.Lookup(ctx, checksum)
	if err != nil {
		if errors.Is(err, connector.ErrMirrorNotFound) {
			b.SetInfo(*notSubmitted(checksum))
			b.Clear()
			return b, nil
		}
		return nil, err
	}

	row := rowFromInfo(info)
	if err := r.store.UpsertBeatmap(ctx, row); err != nil {
		return nil, err
	}
	if stored, err := r.store.GetBeatmap(ctx, checksum); err == nil {
		row = stored
	}

	b.SetInfo(*row)
	b.Clear()
	if row.Status.HasLeaderboard() {
		if err := b.Initialize(ctx, r.scores); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Forget drops a beatmap from the cache.
func (r *Registry) Forget(checksum string) {
	r.maps.Delete(checksum)
}

func notSubmitted(checksum string) *db.BeatmapRow {
	return &db.BeatmapRow{Checksum: checksum, ID: -1, SetID: -1, Status: osu.StatusNotSubmitted}
}

func rowFromInfo(info *connector.BeatmapInfo) *db.BeatmapRow {
	return &db.BeatmapRow{
		Checksum:   info.Checksum,
		ID:         info.ID,
		SetID:      info.SetID,
		Status:     info.Status,
		Artist:     info.Artist,
		Title:      info.Title,
		Difficulty: info.Difficulty,
		Creator:    info.Creator,
		BPM:        info.BPM,
		CS:         info.CS,
		OD:         info.OD,
		AR:         info.AR,
		HP:         info.HP,
		Stars:      info.Stars,
	}
}
