// Package ranking resolves global ranks. Ranks come from a Redis sorted set
// per variant and mode when Redis is configured, and from the store
// otherwise or when Redis is unreachable.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

// Store is the authoritative source of aggregates.
type Store interface {
	UserRank(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (int32, error)
	AllStats(ctx context.Context, variant osu.Variant, mode osu.PlayMode) ([]db.Stats, error)
}

// Index answers rank queries.
type Index struct {
	client *redis.Client
	store  Store
	prefix string
	logger zerolog.Logger
}

// NewIndex creates an index. When cfg is disabled every query goes to store.
func NewIndex(ctx context.Context, cfg config.RedisConfig, store Store) (*Index, error) {
	idx := &Index{store: store, prefix: "yume", logger: util.ComponentLogger("ranking")}
	if !cfg.Enabled {
		return idx, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	idx.client = client
	idx.logger.Info().Str("addr", cfg.Addr).Msg("rank index connected")
	return idx, nil
}

// Enabled reports whether ranks are served from Redis.
func (x *Index) Enabled() bool {
	return x.client != nil
}

func (x *Index) key(variant osu.Variant, mode osu.PlayMode) string {
	return fmt.Sprintf("%s:rank:%s:%s", x.prefix, variant, mode)
}

// UserRank returns the 1-based rank of userID by performance, or 0 when the
// user has no performance.
func (x *Index) UserRank(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (int32, error) {
	if x.client == nil {
		return x.store.UserRank(ctx, userID, variant, mode)
	}

	rank, err := x.client.ZRevRank(ctx, x.key(variant, mode), strconv.Itoa(int(userID))).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		x.logger.Warn().Err(err).Int32("user_id", userID).Msg("rank index unavailable, using store")
		return x.store.UserRank(ctx, userID, variant, mode)
	}
	return int32(rank) + 1, nil
}

// Update records a user's performance. Users without performance are
// removed from the index.
func (x *Index) Update(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode, performance int32) error {
	if x.client == nil {
		return nil
	}
	member := strconv.Itoa(int(userID))
	var err error
	if performance <= 0 {
		err = x.client.ZRem(ctx, x.key(variant, mode), member).Err()
	} else {
		err = x.client.ZAdd(ctx, x.key(variant, mode), redis.Z{Score: float64(performance), Member: member}).Err()
	}
	if err != nil {
		return fmt.Errorf("updating rank of %d: %w", userID, err)
	}
	return nil
}

// Remove drops a user from every ranking.
func (x *Index) Remove(ctx context.Context, userID int32) error {
	if x.client == nil {
		return nil
	}
	member := strconv.Itoa(int(userID))
	pipe := x.client.Pipeline()
	for v := osu.Variant(0); v < osu.VariantCount; v++ {
		for m := osu.PlayMode(0); m < osu.PlayModeCount; m++ {
			pipe.ZRem(ctx, x.key(v, m), member)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing %d from rankings: %w", userID, err)
	}
	return nil
}

// Rebuild replaces every sorted set with the store's aggregates.
func (x *Index) Rebuild(ctx context.Context) error {
	if x.client == nil {
		return nil
	}
	total := 0
	for v := osu.Variant(0); v < osu.VariantCount; v++ {
		for m := osu.PlayMode(0); m < osu.PlayModeCount; m++ {
			stats, err := x.store.AllStats(ctx, v, m)
			if err != nil {
				return err
			}
			key := x.key(v, m)
			pipe := x.client.TxPipeline()
			pipe.Del(ctx, key)
			for _, s := range stats {
				if s.Performance <= 0 {
					continue
				}
				pipe.ZAdd(ctx, key, redis.Z{Score: float64(s.Performance), Member: strconv.Itoa(int(s.UserID))})
				total++
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("rebuilding %s: %w", key, err)
			}
		}
	}
	x.logger.Info().Int("entries", total).Msg("rank index rebuilt")
	return nil
}

// Close releases the Redis connection.
func (x *Index) Close() error {
	if x.client == nil {
		return nil
	}
	return x.client.Close()
}
