package door

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Repository is the credential store and access log.
type Repository interface {
	// EnsureDoor returns the singleton door, creating it with pinHash if absent.
	EnsureDoor(ctx context.Context, name, pinHash string) (*Door, error)
	GetDoor(ctx context.Context) (*Door, error)
	UpdatePIN(ctx context.Context, doorID, pinHash string) error
	SetOnline(ctx context.Context, doorID string, online bool, at time.Time) error
	SetEnrollment(ctx context.Context, doorID string, enrolling bool, userID string) error

	// Username resolves a user id. Returns ErrUserNotFound if unknown.
	Username(ctx context.Context, userID string) (string, error)

	// CardByHash returns the card with the digest, preferring an ACTIVE one.
	CardByHash(ctx context.Context, uidHash string) (*Card, error)
	CardByUser(ctx context.Context, userID string) (*Card, error)
	ActiveCards(ctx context.Context, doorID string) ([]Card, error)
	// ReplaceCard atomically frees REVOKED rows with the same digest, removes
	// the user's previous card and inserts card as ACTIVE.
	ReplaceCard(ctx context.Context, card *Card) error
	// RevokeCard marks the user's ACTIVE card REVOKED and returns it.
	RevokeCard(ctx context.Context, userID string) (*Card, error)

	// AppendLog is the only write path for the access log.
	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLogs(ctx context.Context, q LogQuery) ([]LogEntry, int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a SQLite-backed door repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const doorColumns = "id, name, pin_hash, online, last_seen, enrolling, enroll_user_id, created_at, updated_at"

// EnsureDoor returns the existing door or creates it.
func (r *SQLiteRepository) EnsureDoor(ctx context.Context, name, pinHash string) (*Door, error) {
	d, err := r.GetDoor(ctx)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrDoorNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	d = &Door{
		ID:        "door-" + uuid.NewString()[:8],
		Name:      name,
		PINHash:   pinHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO doors (id, name, pin_hash, online, enrolling, created_at, updated_at)
		 VALUES (?, ?, ?, 0, 0, ?, ?)`,
		d.ID, d.Name, d.PINHash, database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("creating door: %w", err)
	}
	return d, nil
}

// GetDoor returns the singleton door.
func (r *SQLiteRepository) GetDoor(ctx context.Context) (*Door, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+doorColumns+" FROM doors ORDER BY created_at ASC LIMIT 1")

	var (
		d                    Door
		lastSeen, enrollUser sql.NullString
		online, enrolling    int
		createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.Name, &d.PINHash, &online, &lastSeen,
		&enrolling, &enrollUser, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDoorNotFound
		}
		return nil, fmt.Errorf("scanning door: %w", err)
	}

	d.Online = online != 0
	d.Enrolling = enrolling != 0
	d.EnrollUserID = enrollUser.String
	if lastSeen.Valid {
		if t, err := database.ParseTime(lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}
	d.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // format is controlled
	return &d, nil
}

// UpdatePIN replaces the stored PIN digest.
func (r *SQLiteRepository) UpdatePIN(ctx context.Context, doorID, pinHash string) error {
	return r.updateDoor(ctx, "updating PIN",
		`UPDATE doors SET pin_hash = ?, updated_at = ? WHERE id = ?`,
		pinHash, database.FormatTime(time.Now()), doorID)
}

// SetOnline records a controller status report.
func (r *SQLiteRepository) SetOnline(ctx context.Context, doorID string, online bool, at time.Time) error {
	return r.updateDoor(ctx, "updating door status",
		`UPDATE doors SET online = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		database.BoolToInt(online), database.FormatTime(at), database.FormatTime(time.Now()), doorID)
}

// SetEnrollment mirrors the enrollment state onto the door row.
func (r *SQLiteRepository) SetEnrollment(ctx context.Context, doorID string, enrolling bool, userID string) error {
	if !enrolling {
		userID = ""
	}
	return r.updateDoor(ctx, "updating enrollment",
		`UPDATE doors SET enrolling = ?, enroll_user_id = ?, updated_at = ? WHERE id = ?`,
		database.BoolToInt(enrolling), database.NullString(userID), database.FormatTime(time.Now()), doorID)
}

func (r *SQLiteRepository) updateDoor(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrDoorNotFound
	}
	return nil
}

// Username resolves a user id to a username.
func (r *SQLiteRepository) Username(ctx context.Context, userID string) (string, error) {
	var username string
	err := r.db.QueryRowContext(ctx, "SELECT username FROM users WHERE id = ?", userID).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("looking up user: %w", err)
	}
	return username, nil
}

const cardSelect = `SELECT c.id, c.door_id, c.user_id, COALESCE(u.username, ''), c.uid, c.uid_hash,
	c.status, c.created_at, c.updated_at
	FROM rfid_cards c LEFT JOIN users u ON u.id = c.user_id`

// CardByHash returns the card with the digest. An ACTIVE card wins over
// REVOKED rows that share the digest.
func (r *SQLiteRepository) CardByHash(ctx context.Context, uidHash string) (*Card, error) {
	return scanCard(r.db.QueryRowContext(ctx,
		cardSelect+` WHERE c.uid_hash = ? ORDER BY (c.status = 'ACTIVE') DESC, c.created_at DESC LIMIT 1`,
		uidHash))
}

// CardByUser returns the user's card row, whatever its status.
func (r *SQLiteRepository) CardByUser(ctx context.Context, userID string) (*Card, error) {
	return scanCard(r.db.QueryRowContext(ctx, cardSelect+` WHERE c.user_id = ?`, userID))
}

// ActiveCards lists the door's ACTIVE cards ordered by username.
func (r *SQLiteRepository) ActiveCards(ctx context.Context, doorID string) ([]Card, error) {
	rows, err := r.db.QueryContext(ctx,
		cardSelect+` WHERE c.door_id = ? AND c.status = 'ACTIVE' ORDER BY u.username ASC`, doorID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	defer rows.Close()

	cards := []Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cards: %w", err)
	}
	return cards, nil
}

// ReplaceCard installs card as the user's only card.
func (r *SQLiteRepository) ReplaceCard(ctx context.Context, card *Card) error {
	if card.ID == "" {
		card.ID = "card-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	card.Status = CardActive
	card.CreatedAt, card.UpdatedAt = now, now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning card transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rfid_cards WHERE uid_hash = ? AND status = 'REVOKED'`, card.UIDHash); err != nil {
		return fmt.Errorf("freeing revoked cards: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rfid_cards WHERE user_id = ?`, card.UserID); err != nil {
		return fmt.Errorf("removing previous card: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rfid_cards (id, door_id, user_id, uid, uid_hash, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.DoorID, card.UserID, card.UID, card.UIDHash, string(card.Status),
		database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return &ConflictError{Kind: ConflictCardClaimed}
		}
		if database.IsForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("creating card: %w", err)
	}
	return tx.Commit()
}

// RevokeCard marks the user's ACTIVE card REVOKED.
func (r *SQLiteRepository) RevokeCard(ctx context.Context, userID string) (*Card, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE rfid_cards SET status = 'REVOKED', updated_at = ? WHERE user_id = ? AND status = 'ACTIVE'`,
		database.FormatTime(time.Now()), userID)
	if err != nil {
		return nil, fmt.Errorf("revoking card: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return nil, ErrCardNotFound
	}
	return r.CardByUser(ctx, userID)
}

func scanCard(s scanner) (*Card, error) {
	var (
		c                    Card
		status               string
		createdAt, updatedAt string
	)
	err := s.Scan(&c.ID, &c.DoorID, &c.UserID, &c.Username, &c.UID, &c.UIDHash,
		&status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("scanning card: %w", err)
	}
	c.Status = CardStatus(status)
	c.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	c.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // format is controlled
	return &c, nil
}

// AppendLog writes an access-log entry. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry.Event == "" || entry.Method == "" {
		return ErrMissingField
	}
	if entry.ID == "" {
		entry.ID = "log-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO door_access_logs (id, door_id, user_id, event, method, rfid_uid, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DoorID, database.NullString(entry.UserID), entry.Event, entry.Method,
		database.NullString(entry.RFIDUID), database.FormatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("appending access log: %w", err)
	}
	return nil
}

// ListLogs returns a page of entries newest first and the total match count.
func (r *SQLiteRepository) ListLogs(ctx context.Context, q LogQuery) ([]LogEntry, int, error) {
	where := ""
	args := []any{}
	if len(q.Events) > 0 {
		where = " WHERE l.event IN (?" + strings.Repeat(", ?", len(q.Events)-1) + ")"
		for _, e := range q.Events {
			args = append(args, e)
		}
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM door_access_logs l"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting access logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, l.door_id, l.user_id, COALESCE(u.username, ''), l.event, l.method, l.rfid_uid, l.created_at
		 FROM door_access_logs l LEFT JOIN users u ON u.id = l.user_id`+where+
			` ORDER BY l.created_at DESC, l.rowid DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing access logs: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var (
			e               LogEntry
			userID, rfidUID sql.NullString
			createdAt       string
		)
		if err := rows.Scan(&e.ID, &e.DoorID, &userID, &e.Username, &e.Event, &e.Method,
			&rfidUID, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scanning access log: %w", err)
		}
		e.UserID = userID.String
		e.RFIDUID = rfidUID.String
		e.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating access logs: %w", err)
	}
	return entries, total, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}
