package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/beatmap"
	"github.com/yume-project/yume/internal/connector"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

var (
	// ErrOracle marks a submission rejected because performance could not
	// be computed.
	ErrOracle = errors.New("performance unavailable")
	// ErrUnsubmittedBeatmap marks a submission on a map the mirror does
	// not know.
	ErrUnsubmittedBeatmap = errors.New("beatmap is not submitted")
)

// Store is the persistence the pipeline reads and writes.
type Store interface {
	beatmap.ScoreSource
	BestScore(ctx context.Context, userID int32, checksum string, mode osu.PlayMode, variant osu.Variant) (*db.Score, error)
	SubmitScore(ctx context.Context, s *db.Score, delta db.StatsDelta) error
	SaveReplay(ctx context.Context, data []byte) (string, error)
	UserBestScores(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant, limit int) ([]db.Score, error)
	SetAggregates(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode, accuracy float64, performance int32) error
	IncrementBeatmapPlays(ctx context.Context, checksum string, passed bool) error
}

// Oracle computes performance points for a play.
type Oracle interface {
	Performance(ctx context.Context, beatmap []byte, play connector.PlayAttributes) (float64, error)
}

// Files provides .osu files for the oracle.
type Files interface {
	Get(ctx context.Context, checksum string, beatmapID int32) ([]byte, error)
}

// Beatmaps resolves checksums to cached beatmaps.
type Beatmaps interface {
	Get(ctx context.Context, checksum string) (*beatmap.Beatmap, error)
}

// StatsHook runs after a user's aggregates were recomputed.
type StatsHook func(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant)

// Submission is a play as sent by the client. Score carries the hit counts,
// mods, mode and identity; the pipeline fills in the rest.
type Submission struct {
	Score  db.Score
	Passed bool
	Replay []byte
}

// Result is the outcome of an ingested play.
type Result struct {
	Score *db.Score
	Prior *db.Score
	// Stats yields the outcome of the aggregate recomputation.
	Stats <-chan error
}

// Options configures a Pipeline.
type Options struct {
	Store     Store
	Oracle    Oracle
	Files     Files
	Beatmaps  Beatmaps
	Worker    *Worker
	Bus       *events.Bus
	TopScores int
}

// Pipeline ingests submitted plays.
type Pipeline struct {
	store     Store
	oracle    Oracle
	files     Files
	beatmaps  Beatmaps
	worker    *Worker
	bus       *events.Bus
	topScores int
	hooks     []StatsHook
	bests     *keyLock
	logger    zerolog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(opts Options) *Pipeline {
	top := opts.TopScores
	if top <= 0 {
		top = DefaultTopScores
	}
	return &Pipeline{
		store:     opts.Store,
		oracle:    opts.Oracle,
		files:     opts.Files,
		beatmaps:  opts.Beatmaps,
		worker:    opts.Worker,
		bus:       opts.Bus,
		topScores: top,
		bests:     newKeyLock(),
		logger:    util.ComponentLogger("scoring"),
	}
}

// OnStatsUpdated registers a hook run after aggregates are recomputed.
// Hooks must be registered before the pipeline is used.
func (p *Pipeline) OnStatsUpdated(hook StatsHook) {
	p.hooks = append(p.hooks, hook)
}

// Ingest scores, classifies and persists one play, then refreshes the
// affected leaderboard and queues the submitter's aggregate update. Nothing
// in memory changes unless the score was stored. Plays by one user on one
// map, mode and variant are serialized.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (*Result, error) {
	s := sub.Score
	if !s.Mode.Valid() {
		return nil, fmt.Errorf("invalid play mode %d", s.Mode)
	}
	s.Variant = s.Mods.Variant()
	s.Accuracy = Accuracy(&s)
	s.Perfect = s.Perfect && s.CountMiss == 0
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now()
	}

	bm, err := p.beatmaps.Get(ctx, s.Checksum)
	if err != nil {
		return nil, err
	}
	info := bm.Info()
	if info.Status == osu.StatusNotSubmitted {
		return nil, fmt.Errorf("submit on %s: %w", s.Checksum, ErrUnsubmittedBeatmap)
	}

	if sub.Passed {
		pp, err := p.performance(ctx, &s, info.ID)
		if err != nil {
			return nil, err
		}
		s.Performance = pp
	}

	// Classification and the ranked delta depend on the stored best, so
	// plays on the same key are persisted one at a time.
	unlock := p.bests.lock(bestKey(s.UserID, s.Checksum, s.Mode, s.Variant))
	defer unlock()

	prior, err := p.store.BestScore(ctx, s.UserID, s.Checksum, s.Mode, s.Variant)
	if errors.Is(err, db.ErrNotFound) {
		prior = nil
	} else if err != nil {
		return nil, err
	}
	s.Completed = Classify(&s, sub.Passed, prior)

	if sub.Passed && len(sub.Replay) > 0 {
		checksum, err := p.store.SaveReplay(ctx, sub.Replay)
		if err != nil {
			return nil, err
		}
		s.ReplayChecksum = checksum
	}

	delta := db.StatsDelta{TotalScore: s.Score, PlayCount: 1}
	if s.Completed == osu.CompletedBest && info.Status.CountsTowardRanked() {
		delta.RankedScore = s.Score
		if prior != nil {
			delta.RankedScore -= prior.Score
		}
	}
	if err := p.store.SubmitScore(ctx, &s, delta); err != nil {
		return nil, err
	}

	if err := p.store.IncrementBeatmapPlays(ctx, s.Checksum, sub.Passed); err != nil {
		p.logger.Warn().Err(err).Str("checksum", s.Checksum).Msg("failed to count beatmap play")
	}

	if s.Completed == osu.CompletedBest && info.Status.HasLeaderboard() {
		p.refresh(ctx, bm, s.Variant, s.Mode)
	}

	p.logger.Info().
		Int64("score_id", s.ID).
		Int32("user_id", s.UserID).
		Str("checksum", s.Checksum).
		Str("mode", s.Mode.String()).
		Str("variant", s.Variant.String()).
		Float64("pp", s.Performance).
		Str("completed", s.Completed.String()).
		Msg("score submitted")

	if p.bus != nil {
		p.bus.Emit(ctx, events.Event{
			Type:   events.EventScoreSubmitted,
			Source: "scoring",
			Payload: events.ScorePayload{
				ScoreID:     s.ID,
				UserID:      s.UserID,
				Username:    s.Username,
				Checksum:    s.Checksum,
				Mode:        s.Mode,
				Variant:     s.Variant,
				Score:       s.Score,
				Accuracy:    s.Accuracy,
				Performance: s.Performance,
				Completed:   s.Completed,
			},
		})
	}

	return &Result{Score: &s, Prior: prior, Stats: p.QueueStats(ctx, s.UserID, s.Mode, s.Variant)}, nil
}

func (p *Pipeline) performance(ctx context.Context, s *db.Score, beatmapID int32) (float64, error) {
	file, err := p.files.Get(ctx, s.Checksum, beatmapID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	pp, err := p.oracle.Performance(ctx, file, connector.PlayAttributes{
		Mods:      s.Mods,
		Mode:      s.Mode,
		Count300:  s.Count300,
		Count100:  s.Count100,
		Count50:   s.Count50,
		CountGeki: s.CountGeki,
		CountKatu: s.CountKatu,
		CountMiss: s.CountMiss,
		MaxCombo:  s.MaxCombo,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	return pp, nil
}

func (p *Pipeline) refresh(ctx context.Context, bm *beatmap.Beatmap, variant osu.Variant, mode osu.PlayMode) {
	if err := bm.Refresh(ctx, p.store, variant, mode); err != nil {
		p.logger.Error().Err(err).Str("checksum", bm.Checksum).Msg("leaderboard refresh failed")
		return
	}
	if p.bus != nil {
		p.bus.Emit(ctx, events.Event{
			Type:   events.EventLeaderboardRefresh,
			Source: "scoring",
			Payload: events.LeaderboardPayload{
				Checksum: bm.Checksum,
				Mode:     mode,
				Variant:  variant,
				Entries:  len(bm.Entries(variant, mode)),
			},
		})
	}
}

// QueueStats schedules a recomputation of the user's aggregates on the
// worker. Without a worker it runs inline.
func (p *Pipeline) QueueStats(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant) <-chan error {
	job := func(ctx context.Context) error { return p.RecomputeStats(ctx, userID, mode, variant) }
	if p.worker == nil {
		done := make(chan error, 1)
		done <- job(ctx)
		close(done)
		return done
	}
	return p.worker.Submit(ctx, fmt.Sprintf("stats:%d:%s:%s", userID, mode, variant), job)
}

// RecomputeAccuracy returns the weighted accuracy over the user's top
// personal bests for a mode and variant.
func (p *Pipeline) RecomputeAccuracy(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant) (float64, error) {
	scores, err := p.store.UserBestScores(ctx, userID, mode, variant, p.topScores)
	if err != nil {
		return 0, err
	}
	accs := make([]float64, len(scores))
	for i, s := range scores {
		accs[i] = s.Accuracy
	}
	return WeightedAccuracy(accs), nil
}

// RecomputeStats rewrites the user's accuracy and performance aggregates
// from their personal bests and runs the stats hooks.
func (p *Pipeline) RecomputeStats(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant) error {
	scores, err := p.store.UserBestScores(ctx, userID, mode, variant, p.topScores)
	if err != nil {
		return err
	}
	accs := make([]float64, len(scores))
	pps := make([]float64, len(scores))
	for i, s := range scores {
		accs[i] = s.Accuracy
		pps[i] = s.Performance
	}
	acc := WeightedAccuracy(accs)
	perf := clampPerformance(WeightedPerformance(pps))

	if err := p.store.SetAggregates(ctx, userID, variant, mode, acc, perf); err != nil {
		return err
	}

	for _, hook := range p.hooks {
		hook(ctx, userID, mode, variant)
	}

	if p.bus != nil {
		p.bus.Emit(ctx, events.Event{
			Type:   events.EventStatsUpdated,
			Source: "scoring",
			Payload: events.StatsPayload{
				UserID:      userID,
				Mode:        mode,
				Variant:     variant,
				Accuracy:    acc,
				Performance: perf,
			},
		})
	}
	return nil
}
