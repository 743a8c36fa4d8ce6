package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// TokenRepository persists push tokens.
type TokenRepository interface {
	// Upsert registers token for a user. A token registered before is
	// moved to the new user and platform.
	Upsert(ctx context.Context, t *PushToken) error
	Delete(ctx context.Context, userID, token string) error
	List(ctx context.Context) ([]PushToken, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Upsert inserts or re-homes a token.
func (r *SQLiteTokenRepository) Upsert(ctx context.Context, t *PushToken) error {
	if t.ID == "" {
		t.ID = "ptk-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO push_tokens (id, user_id, token, platform, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
		     user_id = excluded.user_id,
		     platform = excluded.platform,
		     updated_at = excluded.updated_at
		 RETURNING id`,
		t.ID, t.UserID, t.Token, string(t.Platform), database.FormatTime(now), database.FormatTime(now),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("saving push token: %w", err)
	}
	return nil
}

// Delete removes one of the user's tokens.
func (r *SQLiteTokenRepository) Delete(ctx context.Context, userID, token string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE user_id = ? AND token = ?`, userID, token)
	if err != nil {
		return fmt.Errorf("deleting push token: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// List returns every registered token.
func (r *SQLiteTokenRepository) List(ctx context.Context) ([]PushToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token, platform, created_at, updated_at FROM push_tokens ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing push tokens: %w", err)
	}
	defer rows.Close()

	tokens := []PushToken{}
	for rows.Next() {
		var (
			t                    PushToken
			platform             string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &platform, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning push token: %w", err)
		}
		t.Platform = Platform(platform)
		t.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
		t.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // format is controlled
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push tokens: %w", err)
	}
	return tokens, nil
}
