// Package scheduler runs Yume's periodic background tasks: reaping idle
// sessions, rebuilding the global rank index and logging daily counters.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/presence"
)

// Reaper terminates idle sessions.
type Reaper interface {
	ReapIdle(now time.Time, window time.Duration) []*presence.Presence
}

// RankIndex is rebuilt from the store on a schedule.
type RankIndex interface {
	Enabled() bool
	Rebuild(ctx context.Context) error
}

// Counters reports the figures logged by the daily stats task.
type Counters interface {
	CountUsers(ctx context.Context) (int, error)
	CountReplays(ctx context.Context) (int, error)
}

// Options configures a Scheduler. Zero durations fall back to defaults.
type Options struct {
	ReapInterval    time.Duration
	IdleWindow      time.Duration
	RebuildInterval time.Duration
	StatsInterval   time.Duration
	Reaper          Reaper
	Ranks           RankIndex
	Counters        Counters
	OnlineCount     func() int
	CachedBeatmaps  func() int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts Options
}

// NewScheduler creates a new task scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}
	if opts.IdleWindow <= 0 {
		opts.IdleWindow = 120 * time.Second
	}
	if opts.RebuildInterval <= 0 {
		opts.RebuildInterval = time.Hour
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 24 * time.Hour
	}
	return &Scheduler{opts: opts}
}

// Start runs every scheduled task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Dur("reap_interval", s.opts.ReapInterval).
		Dur("idle_window", s.opts.IdleWindow).
		Msg("scheduler started")

	if s.opts.Reaper != nil {
		go s.every(ctx, s.opts.ReapInterval, func() { s.reap(time.Now()) })
	}
	if s.opts.Ranks != nil && s.opts.Ranks.Enabled() {
		go s.every(ctx, s.opts.RebuildInterval, func() { s.rebuildRanks(ctx) })
	}
	go s.every(ctx, s.opts.StatsInterval, func() { s.collectStats(ctx) })

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, task func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// reap terminates sessions idle longer than the window and returns how
// many were removed.
func (s *Scheduler) reap(now time.Time) int {
	reaped := s.opts.Reaper.ReapIdle(now, s.opts.IdleWindow)
	for _, p := range reaped {
		log.Info().
			Int32("user_id", p.ID).
			Str("username", p.Username).
			Dur("idle", now.Sub(p.LastActive())).
			Msg("reaped idle session")
	}
	return len(reaped)
}

func (s *Scheduler) rebuildRanks(ctx context.Context) {
	start := time.Now()
	if err := s.opts.Ranks.Rebuild(ctx); err != nil {
		log.Warn().Err(err).Msg("rank index rebuild failed")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("rank index rebuilt")
}

// collectStats logs the daily counters.
func (s *Scheduler) collectStats(ctx context.Context) {
	event := log.Info()
	if s.opts.Counters != nil {
		if n, err := s.opts.Counters.CountUsers(ctx); err == nil {
			event = event.Int("users", n)
		}
		if n, err := s.opts.Counters.CountReplays(ctx); err == nil {
			event = event.Int("replays", n)
		}
	}
	if s.opts.OnlineCount != nil {
		event = event.Int("online", s.opts.OnlineCount())
	}
	if s.opts.CachedBeatmaps != nil {
		event = event.Int("cached_beatmaps", s.opts.CachedBeatmaps())
	}
	event.Msg("daily stats collected")
}
