package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// UserRepository stores login accounts.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository is the users table accessor.
type SQLiteUserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const selectUsers = `SELECT id, username, display_name, email, password_hash, role,
	is_active, created_by, created_at, updated_at FROM users`

// Create inserts user, assigning an ID when it has none. A taken username
// returns ErrUsernameExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	stamp := database.FormatTime(now)

	_, err := r.db.ExecContext(ctx, `INSERT INTO users
		(id, username, display_name, email, password_hash, role, is_active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, database.NullString(user.Email), user.PasswordHash,
		string(user.Role), database.BoolToInt(user.IsActive), database.NullString(user.CreatedBy), stamp, stamp,
	)
	switch {
	case database.IsUniqueViolation(err):
		return ErrUsernameExists
	case err != nil:
		return fmt.Errorf("inserting user %s: %w", user.Username, err)
	}
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.one(ctx, "id", id)
}

func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.one(ctx, "username", username)
}

// one fetches a single user where column equals value.
func (r *SQLiteUserRepository) one(ctx context.Context, column, value string) (*User, error) {
	var row userRow
	err := row.scan(r.db.QueryRowContext(ctx, selectUsers+" WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user by %s: %w", column, err)
	}
	u := row.user()
	return &u, nil
}

// List returns every account, oldest first. It never returns a nil slice.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUsers+" ORDER BY created_at, username")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var row userRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("reading user row: %w", err)
		}
		users = append(users, row.user())
	}
	return users, rows.Err()
}

func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.touch(ctx, id, "password_hash", passwordHash)
}

// SetActive enables or disables login for the account.
func (r *SQLiteUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.touch(ctx, id, "is_active", database.BoolToInt(active))
}

func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// touch sets one column and bumps updated_at. column is always a literal
// from this file.
func (r *SQLiteUserRepository) touch(ctx context.Context, id, column string, value any) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET "+column+" = ?, updated_at = ? WHERE id = ?",
		value, database.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports it
		return ErrUserNotFound
	}
	return nil
}

// userRow mirrors the users table before conversion to User.
type userRow struct {
	id, username, displayName, passwordHash, role string
	email, createdBy                              sql.NullString
	active                                        int
	createdAt, updatedAt                          string
}

func (row *userRow) scan(s interface{ Scan(...any) error }) error {
	return s.Scan(&row.id, &row.username, &row.displayName, &row.email, &row.passwordHash,
		&row.role, &row.active, &row.createdBy, &row.createdAt, &row.updatedAt)
}

func (row *userRow) user() User {
	u := User{
		ID:           row.id,
		Username:     row.username,
		DisplayName:  row.displayName,
		Email:        row.email.String,
		PasswordHash: row.passwordHash,
		Role:         Role(row.role),
		IsActive:     row.active != 0,
		CreatedBy:    row.createdBy.String,
	}
	u.CreatedAt, _ = database.ParseTime(row.createdAt) //nolint:errcheck // written by FormatTime
	u.UpdatedAt, _ = database.ParseTime(row.updatedAt) //nolint:errcheck // written by FormatTime
	return u
}
