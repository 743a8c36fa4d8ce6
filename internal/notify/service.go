package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging surface the notify package needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service registers push tokens and fans notifications out to them.
type Service struct {
	tokens TokenRepository
	sink   Sink
	logger Logger
}

// NewService creates a notifier delivering through sink.
func NewService(tokens TokenRepository, sink Sink) *Service {
	return &Service{tokens: tokens, sink: sink, logger: noopLogger{}}
}

// SetLogger sets the logger for delivery failures.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Register stores a device token for userID.
func (s *Service) Register(ctx context.Context, userID, token string, platform Platform) (*PushToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if !platform.IsValid() {
		return nil, ErrInvalidPlatform
	}
	t := &PushToken{UserID: userID, Token: token, Platform: platform}
	if err := s.tokens.Upsert(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("push token registered", "user_id", userID, "platform", platform)
	return t, nil
}

// Unregister removes one of userID's tokens.
func (s *Service) Unregister(ctx context.Context, userID, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	return s.tokens.Delete(ctx, userID, token)
}

// NotifyAll sends the notification to every registered token. Every token
// is attempted; failures are joined into the returned error.
func (s *Service) NotifyAll(ctx context.Context, title, body string, data map[string]string) error {
	tokens, err := s.tokens.List(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var errs []error
	for _, t := range tokens {
		n := Notification{
			Token:    t.Token,
			Platform: t.Platform,
			UserID:   t.UserID,
			Title:    title,
			Body:     body,
			Data:     data,
			SentAt:   now,
		}
		if err := s.sink.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("token %s: %w", t.ID, err))
		}
	}
	if len(errs) > 0 {
		s.logger.Warn("push notification failures", "failed", len(errs), "tokens", len(tokens))
	}
	return errors.Join(errs...)
}
