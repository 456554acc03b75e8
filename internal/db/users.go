package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yume-project/yume/internal/osu"
)

// User is a registered account.
type User struct {
	ID           int32          `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"`
	Country      string         `json:"country"`
	Privileges   osu.Privileges `json:"privileges"`
	JoinDate     time.Time      `json:"join_date"`
}

// Stats is the aggregate for one user in one variant and play mode.
type Stats struct {
	UserID      int32        `json:"user_id"`
	Variant     osu.Variant  `json:"variant"`
	Mode        osu.PlayMode `json:"mode"`
	RankedScore int64        `json:"ranked_score"`
	TotalScore  int64        `json:"total_score"`
	Accuracy    float64      `json:"accuracy"`
	PlayCount   int32        `json:"play_count"`
	Performance int32        `json:"performance"`
}

// SafeUsername normalizes a username for lookups.
func SafeUsername(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// CreateUser registers a new account.
func (d *Database) CreateUser(ctx context.Context, username, passwordHash, country string, privileges osu.Privileges) (*User, error) {
	if country == "" {
		country = "XX"
	}
	now := time.Now()
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO users (username, safe_username, password_hash, country, privileges, join_date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		username, SafeUsername(username), passwordHash, country, int32(privileges), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return &User{
		ID:           int32(id),
		Username:     username,
		PasswordHash: passwordHash,
		Country:      country,
		Privileges:   privileges,
		JoinDate:     time.Unix(now.Unix(), 0),
	}, nil
}

const userColumns = `id, username, password_hash, country, privileges, join_date`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u        User
		priv     int32
		joinDate int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Country, &priv, &joinDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Privileges = osu.Privileges(priv)
	u.JoinDate = time.Unix(joinDate, 0)
	return &u, nil
}

// GetUser returns the account with the given id.
func (d *Database) GetUser(ctx context.Context, id int32) (*User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByName returns the account whose normalized name matches.
func (d *Database) GetUserByName(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE safe_username = ?`, SafeUsername(username)))
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}

// SetPrivileges overwrites an account's privilege mask.
func (d *Database) SetPrivileges(ctx context.Context, id int32, privileges osu.Privileges) error {
	res, err := d.db.ExecContext(ctx, `UPDATE users SET privileges = ? WHERE id = ?`, int32(privileges), id)
	if err != nil {
		return fmt.Errorf("failed to update privileges for %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set privileges %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetStats returns the stats row for (user, variant, mode). A user with no
// plays yet gets a zero row.
func (d *Database) GetStats(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (Stats, error) {
	s := Stats{UserID: userID, Variant: variant, Mode: mode}
	err := d.db.QueryRowContext(ctx,
		`SELECT ranked_score, total_score, accuracy, play_count, performance
		 FROM stats WHERE user_id = ? AND variant = ? AND mode = ?`,
		userID, variant, mode).
		Scan(&s.RankedScore, &s.TotalScore, &s.Accuracy, &s.PlayCount, &s.Performance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("failed to read stats for %d/%s/%s: %w", userID, variant, mode, err)
	}
	return s, nil
}

// SetAggregates stores the recomputed accuracy and performance for a stats
// row, creating the row if needed.
func (d *Database) SetAggregates(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode, accuracy float64, performance int32) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO stats (user_id, variant, mode, accuracy, performance) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, variant, mode) DO UPDATE SET accuracy = excluded.accuracy, performance = excluded.performance`,
		userID, variant, mode, accuracy, performance)
	if err != nil {
		return fmt.Errorf("failed to store aggregates for %d/%s/%s: %w", userID, variant, mode, err)
	}
	return nil
}

// UserRank returns the 1-based global rank by performance, or 0 when the
// user has no performance yet.
func (d *Database) UserRank(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (int32, error) {
	stats, err := d.GetStats(ctx, userID, variant, mode)
	if err != nil {
		return 0, err
	}
	if stats.Performance <= 0 {
		return 0, nil
	}
	var above int32
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stats s JOIN users u ON u.id = s.user_id
		 WHERE s.variant = ? AND s.mode = ? AND s.performance > ? AND (u.privileges & 1) = 1`,
		variant, mode, stats.Performance).Scan(&above)
	if err != nil {
		return 0, fmt.Errorf("failed to compute rank for %d: %w", userID, err)
	}
	return above + 1, nil
}

// AllStats returns every stats row for a variant and mode. Used to seed
// the rank index.
func (d *Database) AllStats(ctx context.Context, variant osu.Variant, mode osu.PlayMode) ([]Stats, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT s.user_id, s.ranked_score, s.total_score, s.accuracy, s.play_count, s.performance
		 FROM stats s JOIN users u ON u.id = s.user_id
		 WHERE s.variant = ? AND s.mode = ? AND (u.privileges & 1) = 1`,
		variant, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats: %w", err)
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		s := Stats{Variant: variant, Mode: mode}
		if err := rows.Scan(&s.UserID, &s.RankedScore, &s.TotalScore, &s.Accuracy, &s.PlayCount, &s.Performance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Friends returns the ids the user has added as friends.
func (d *Database) Friends(ctx context.Context, userID int32) ([]int32, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT friend_id FROM friends WHERE user_id = ? ORDER BY friend_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends of %d: %w", userID, err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddFriend records a one-way friendship. Adding twice is a no-op.
func (d *Database) AddFriend(ctx context.Context, userID, friendID int32) error {
	_, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)`, userID, friendID)
	if err != nil {
		return fmt.Errorf("failed to add friend %d for %d: %w", friendID, userID, err)
	}
	return nil
}

// RemoveFriend deletes a friendship if present.
func (d *Database) RemoveFriend(ctx context.Context, userID, friendID int32) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM friends WHERE user_id = ? AND friend_id = ?`, userID, friendID)
	if err != nil {
		return fmt.Errorf("failed to remove friend %d for %d: %w", friendID, userID, err)
	}
	return nil
}

// CountUsers returns the number of registered accounts.
func (d *Database) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
