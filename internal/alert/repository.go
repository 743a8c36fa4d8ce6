package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Repository persists alerts.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, q Query) ([]Alert, int, error)
	MarkRead(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a SQLite-backed alert repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const alertColumns = "id, severity, type, title, message, is_read, created_at"

// Create inserts an alert, filling in ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = "alt-" + uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Severity), a.Type, a.Title, a.Message,
		database.BoolToInt(a.Read), database.FormatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating alert: %w", err)
	}
	return nil
}

// GetByID returns one alert.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	return scanAlert(r.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id))
}

// List returns a page of alerts newest first and the total match count.
func (r *SQLiteRepository) List(ctx context.Context, q Query) ([]Alert, int, error) {
	where := " WHERE 1 = 1"
	args := []any{}
	if q.Severity != "" {
		where += " AND severity = ?"
		args = append(args, string(q.Severity))
	}
	if q.UnreadOnly {
		where += " AND is_read = 0"
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+alertColumns+" FROM alerts"+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, total, nil
}

// MarkRead flags an alert as read. Marking twice is not an error.
func (r *SQLiteRepository) MarkRead(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE alerts SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking alert read: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (*Alert, error) {
	var (
		a         Alert
		severity  string
		isRead    int
		createdAt string
	)
	if err := s.Scan(&a.ID, &severity, &a.Type, &a.Title, &a.Message, &isRead, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("scanning alert: %w", err)
	}
	a.Severity = Severity(severity)
	a.Read = isRead != 0
	a.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	return &a, nil
}
