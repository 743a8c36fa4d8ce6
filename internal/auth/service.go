package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger is the logging surface the auth package needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Session is the result of a successful login.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// NewUser holds the fields an admin supplies when creating an account.
type NewUser struct {
	Username    string
	DisplayName string
	Email       string
	Password    string
	Role        Role
}

// Service handles login, token validation and account creation.
type Service struct {
	users      UserRepository
	secret     []byte
	ttlMinutes int
	logger     Logger
}

// NewService creates an auth service signing tokens with secret.
func NewService(users UserRepository, secret string, ttlMinutes int) *Service {
	return &Service{
		users:      users,
		secret:     []byte(secret),
		ttlMinutes: ttlMinutes,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger used for login auditing.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Login verifies credentials and issues an access token.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Warn("login failed", "username", username, "reason", "unknown_user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Warn("login failed", "username", username, "reason", "bad_password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	token, expiresAt, err := GenerateAccessToken(user, s.secret, s.ttlMinutes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)

	return &Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(token string) (*CustomClaims, error) {
	return ParseToken(token, s.secret)
}

// CreateUser validates and stores a new account.
func (s *Service) CreateUser(ctx context.Context, in NewUser, createdBy string) (*User, error) {
	if !IsValidUsername(in.Username) {
		return nil, ErrInvalidUsername
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if !IsValidUserRole(in.Role) {
		return nil, ErrInvalidRole
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	displayName := in.DisplayName
	if displayName == "" {
		displayName = in.Username
	}

	user := &User{
		Username:     in.Username,
		DisplayName:  displayName,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		CreatedBy:    createdBy,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "role", user.Role, "created_by", createdBy)
	return user, nil
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.users.List(ctx)
}

// GetUser returns one account by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.users.GetByID(ctx, id)
}
