package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

// Score is a persisted play. Rows are never edited except for demoting a
// previous personal best when a new one lands.
type Score struct {
	ID             int64               `json:"id"`
	Checksum       string              `json:"checksum"`
	UserID         int32               `json:"user_id"`
	Username       string              `json:"username"`
	Score          int64               `json:"score"`
	MaxCombo       int32               `json:"max_combo"`
	Count300       int32               `json:"count_300"`
	Count100       int32               `json:"count_100"`
	Count50        int32               `json:"count_50"`
	CountGeki      int32               `json:"count_geki"`
	CountKatu      int32               `json:"count_katu"`
	CountMiss      int32               `json:"count_miss"`
	Perfect        bool                `json:"perfect"`
	Mods           osu.Mods            `json:"mods"`
	Mode           osu.PlayMode        `json:"mode"`
	Variant        osu.Variant         `json:"variant"`
	Accuracy       float64             `json:"accuracy"`
	Performance    float64             `json:"performance"`
	Completed      osu.CompletedStatus `json:"completed"`
	ReplayChecksum string              `json:"replay_checksum,omitempty"`
	SubmittedAt    time.Time           `json:"submitted_at"`
}

// StatsDelta is what one submission adds to the submitter's stats row.
type StatsDelta struct {
	RankedScore int64
	TotalScore  int64
	PlayCount   int32
}

const scoreColumns = `s.id, s.checksum, s.user_id, u.username, s.score, s.max_combo,
	s.count_300, s.count_100, s.count_50, s.count_geki, s.count_katu, s.count_miss,
	s.perfect, s.mods, s.mode, s.variant, s.accuracy, s.performance, s.completed,
	s.replay_checksum, s.submitted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*Score, error) {
	var (
		s         Score
		mods      uint32
		mode      byte
		variant   byte
		completed byte
		submitted int64
	)
	err := row.Scan(&s.ID, &s.Checksum, &s.UserID, &s.Username, &s.Score, &s.MaxCombo,
		&s.Count300, &s.Count100, &s.Count50, &s.CountGeki, &s.CountKatu, &s.CountMiss,
		&s.Perfect, &mods, &mode, &variant, &s.Accuracy, &s.Performance, &completed,
		&s.ReplayChecksum, &submitted)
	if err != nil {
		return nil, err
	}
	s.Mods = osu.Mods(mods)
	s.Mode = osu.PlayMode(mode)
	s.Variant = osu.Variant(variant)
	s.Completed = osu.CompletedStatus(completed)
	s.SubmittedAt = time.UnixMilli(submitted)
	return &s, nil
}

func collectScores(rows *sql.Rows) ([]Score, error) {
	defer rows.Close()
	var out []Score
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SubmitScore persists a score and applies delta to the submitter's stats
// row in one transaction. When the score is a new personal best the
// previous best for the same map, mode and variant is demoted to
// submitted. On success s.ID is set.
func (d *Database) SubmitScore(ctx context.Context, s *Score, delta StatsDelta) error {
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now()
	}
	return d.Transaction(ctx, func(tx *sql.Tx) error {
		if s.Completed == osu.CompletedBest {
			if _, err := tx.ExecContext(ctx,
				`UPDATE scores SET completed = ? WHERE checksum = ? AND user_id = ? AND mode = ? AND variant = ? AND completed = ?`,
				osu.CompletedSubmitted, s.Checksum, s.UserID, s.Mode, s.Variant, osu.CompletedBest); err != nil {
				return fmt.Errorf("failed to demote previous best: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO scores (checksum, user_id, score, max_combo, count_300, count_100, count_50,
				count_geki, count_katu, count_miss, perfect, mods, mode, variant, accuracy, performance,
				completed, replay_checksum, submitted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.Checksum, s.UserID, s.Score, s.MaxCombo, s.Count300, s.Count100, s.Count50,
			s.CountGeki, s.CountKatu, s.CountMiss, s.Perfect, uint32(s.Mods), s.Mode, s.Variant,
			s.Accuracy, s.Performance, s.Completed, s.ReplayChecksum, s.SubmittedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert score: %w", err)
		}
		if s.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read score id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stats (user_id, variant, mode, ranked_score, total_score, play_count) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, variant, mode) DO UPDATE SET
				ranked_score = ranked_score + excluded.ranked_score,
				total_score = total_score + excluded.total_score,
				play_count = play_count + excluded.play_count`,
			s.UserID, s.Variant, s.Mode, delta.RankedScore, delta.TotalScore, delta.PlayCount); err != nil {
			return fmt.Errorf("failed to update stats: %w", err)
		}
		return nil
	})
}

// BestScore returns the user's current personal best on a map.
func (d *Database) BestScore(ctx context.Context, userID int32, checksum string, mode osu.PlayMode, variant osu.Variant) (*Score, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM scores s JOIN users u ON u.id = s.user_id
		 WHERE s.user_id = ? AND s.checksum = ? AND s.mode = ? AND s.variant = ? AND s.completed = ?
		 ORDER BY s.id DESC LIMIT 1`,
		userID, checksum, mode, variant, osu.CompletedBest)
	s, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read best score: %w", err)
	}
	return s, nil
}

// LeaderboardScores returns the best-per-user scores for a map, mode and
// variant ordered by performance descending, earliest submission first on
// ties. Restricted accounts are excluded.
func (d *Database) LeaderboardScores(ctx context.Context, checksum string, mode osu.PlayMode, variant osu.Variant, limit int) ([]Score, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM scores s JOIN users u ON u.id = s.user_id
		 WHERE s.checksum = ? AND s.mode = ? AND s.variant = ? AND s.completed = ? AND (u.privileges & 1) = 1
		 ORDER BY s.performance DESC, s.submitted_at ASC, s.id ASC LIMIT ?`,
		checksum, mode, variant, osu.CompletedBest, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard for %s: %w", checksum, err)
	}
	return collectScores(rows)
}

// UserBestScores returns a user's personal bests for a mode and variant,
// highest performance first.
func (d *Database) UserBestScores(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant, limit int) ([]Score, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM scores s JOIN users u ON u.id = s.user_id
		 WHERE s.user_id = ? AND s.mode = ? AND s.variant = ? AND s.completed = ?
		 ORDER BY s.performance DESC, s.submitted_at ASC LIMIT ?`,
		userID, mode, variant, osu.CompletedBest, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load best scores for %d: %w", userID, err)
	}
	return collectScores(rows)
}

// SaveReplay stores a replay blob keyed by its md5 and returns the key.
// Storing the same bytes twice keeps one copy.
func (d *Database) SaveReplay(ctx context.Context, data []byte) (string, error) {
	checksum := util.MD5Hex(data)
	if _, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO replays (checksum, data) VALUES (?, ?)`, checksum, data); err != nil {
		return "", fmt.Errorf("failed to save replay %s: %w", checksum, err)
	}
	return checksum, nil
}

// GetReplay returns the replay blob for a checksum.
func (d *Database) GetReplay(ctx context.Context, checksum string) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM replays WHERE checksum = ?`, checksum).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read replay %s: %w", checksum, err)
	}
	return data, nil
}

// CountReplays returns the number of distinct stored replays.
func (d *Database) CountReplays(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replays`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count replays: %w", err)
	}
	return n, nil
}

// GetScore returns one score by id.
func (d *Database) GetScore(ctx context.Context, id int64) (*Score, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM scores s JOIN users u ON u.id = s.user_id WHERE s.id = ?`, id)
	s, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read score %d: %w", id, err)
	}
	return s, nil
}
