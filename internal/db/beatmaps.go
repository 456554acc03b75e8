package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yume-project/yume/internal/osu"
)

// BeatmapRow is the cached mirror metadata for one difficulty.
type BeatmapRow struct {
	Checksum     string           `json:"checksum"`
	ID           int32            `json:"id"`
	SetID        int32            `json:"set_id"`
	Status       osu.RankedStatus `json:"status"`
	Artist       string           `json:"artist"`
	Title        string           `json:"title"`
	Difficulty   string           `json:"difficulty"`
	Creator      string           `json:"creator"`
	BPM          float64          `json:"bpm"`
	CS           float64          `json:"cs"`
	OD           float64          `json:"od"`
	AR           float64          `json:"ar"`
	HP           float64          `json:"hp"`
	Stars        float64          `json:"stars"`
	Frozen       bool             `json:"frozen"`
	PlayCount    int32            `json:"play_count"`
	PassCount    int32            `json:"pass_count"`
	OnlineOffset int32            `json:"online_offset"`
	Rating       int32            `json:"rating"`
}

// ChannelRow is a persisted chat channel definition.
type ChannelRow struct {
	Name   string `json:"name"`
	Topic  string `json:"topic"`
	Public bool   `json:"public"`
}

// GetBeatmap returns the cached metadata for a checksum.
func (d *Database) GetBeatmap(ctx context.Context, checksum string) (*BeatmapRow, error) {
	var (
		b      BeatmapRow
		status int32
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT checksum, id, set_id, status, artist, title, difficulty, creator, bpm, cs, od, ar, hp,
			stars, frozen, play_count, pass_count, online_offset, rating
		 FROM beatmaps WHERE checksum = ?`, checksum).
		Scan(&b.Checksum, &b.ID, &b.SetID, &status, &b.Artist, &b.Title, &b.Difficulty, &b.Creator,
			&b.BPM, &b.CS, &b.OD, &b.AR, &b.HP, &b.Stars, &b.Frozen, &b.PlayCount, &b.PassCount,
			&b.OnlineOffset, &b.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read beatmap %s: %w", checksum, err)
	}
	b.Status = osu.RankedStatus(status)
	return &b, nil
}

// UpsertBeatmap stores mirror metadata. Frozen rows keep their status.
func (d *Database) UpsertBeatmap(ctx context.Context, b *BeatmapRow) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO beatmaps (checksum, id, set_id, status, artist, title, difficulty, creator,
			bpm, cs, od, ar, hp, stars, frozen, online_offset, rating)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(checksum) DO UPDATE SET
			id = excluded.id, set_id = excluded.set_id,
			status = CASE WHEN beatmaps.frozen = 1 THEN beatmaps.status ELSE excluded.status END,
			artist = excluded.artist, title = excluded.title, difficulty = excluded.difficulty,
			creator = excluded.creator, bpm = excluded.bpm, cs = excluded.cs, od = excluded.od,
			ar = excluded.ar, hp = excluded.hp, stars = excluded.stars`,
		b.Checksum, b.ID, b.SetID, int32(b.Status), b.Artist, b.Title, b.Difficulty, b.Creator,
		b.BPM, b.CS, b.OD, b.AR, b.HP, b.Stars, b.Frozen, b.OnlineOffset, b.Rating)
	if err != nil {
		return fmt.Errorf("failed to store beatmap %s: %w", b.Checksum, err)
	}
	return nil
}

// IncrementBeatmapPlays bumps the play counter, and the pass counter when
// the play was not a fail.
func (d *Database) IncrementBeatmapPlays(ctx context.Context, checksum string, passed bool) error {
	pass := 0
	if passed {
		pass = 1
	}
	_, err := d.db.ExecContext(ctx,
		`UPDATE beatmaps SET play_count = play_count + 1, pass_count = pass_count + ? WHERE checksum = ?`,
		pass, checksum)
	if err != nil {
		return fmt.Errorf("failed to count play on %s: %w", checksum, err)
	}
	return nil
}

// ListChannels returns every persisted channel.
func (d *Database) ListChannels(ctx context.Context) ([]ChannelRow, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, topic, public FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelRow
	for rows.Next() {
		var c ChannelRow
		if err := rows.Scan(&c.Name, &c.Topic, &c.Public); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertChannel creates or updates a channel definition.
func (d *Database) UpsertChannel(ctx context.Context, c ChannelRow) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO channels (name, topic, public) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET topic = excluded.topic, public = excluded.public`,
		c.Name, c.Topic, c.Public)
	if err != nil {
		return fmt.Errorf("failed to store channel %s: %w", c.Name, err)
	}
	return nil
}
