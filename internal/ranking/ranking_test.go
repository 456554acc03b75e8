package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/osu"
)

type fakeStore struct {
	ranks map[int32]int32
}

func (f *fakeStore) UserRank(_ context.Context, userID int32, _ osu.Variant, _ osu.PlayMode) (int32, error) {
	return f.ranks[userID], nil
}

func (f *fakeStore) AllStats(context.Context, osu.Variant, osu.PlayMode) ([]db.Stats, error) {
	return nil, nil
}

func TestDisabledIndexUsesStore(t *testing.T) {
	store := &fakeStore{ranks: map[int32]int32{2: 7}}
	idx, err := NewIndex(context.Background(), config.RedisConfig{}, store)
	require.NoError(t, err)
	assert.False(t, idx.Enabled())

	rank, err := idx.UserRank(context.Background(), 2, osu.VariantVanilla, osu.ModeOsu)
	require.NoError(t, err)
	assert.Equal(t, int32(7), rank)

	assert.NoError(t, idx.Update(context.Background(), 2, osu.VariantVanilla, osu.ModeOsu, 100))
	assert.NoError(t, idx.Remove(context.Background(), 2))
	assert.NoError(t, idx.Rebuild(context.Background()))
	assert.NoError(t, idx.Close())
}

func TestUnreachableRedisFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewIndex(ctx, config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"}, &fakeStore{})
	assert.Error(t, err)
}

func TestKeysArePartitioned(t *testing.T) {
	idx := &Index{prefix: "yume"}
	assert.Equal(t, "yume:rank:relax:taiko", idx.key(osu.VariantRelax, osu.ModeTaiko))
	assert.NotEqual(t, idx.key(osu.VariantVanilla, osu.ModeOsu), idx.key(osu.VariantRelax, osu.ModeOsu))
}
