package auth

import (
	"database/sql"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database/dbtest"
)

// testDB returns a migrated temp-file database.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbtest.Open(t).DB
}

// seedTestUser inserts an active user with password "password123".
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return user
}
