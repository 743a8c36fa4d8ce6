package alert

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// BroadcastChannel is the WebSocket channel new alerts are sent on.
const BroadcastChannel = "alert.new"

// Publisher sends a JSON payload to the broker.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v any) error
}

// Broadcaster pushes an event to WebSocket subscribers of channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Notifier delivers a push notification to every registered device.
type Notifier interface {
	NotifyAll(ctx context.Context, title, body string, data map[string]string) error
}

// Logger is the logging surface the alert package needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service raises, lists and acknowledges alerts.
type Service struct {
	repo     Repository
	pub      Publisher
	hub      Broadcaster
	notifier Notifier
	topics   mqtt.Topics
	logger   Logger
}

// NewService creates an alert service. pub, hub and notifier may be nil;
// the corresponding fan-out is skipped.
func NewService(repo Repository, pub Publisher, hub Broadcaster, notifier Notifier) *Service {
	return &Service{repo: repo, pub: pub, hub: hub, notifier: notifier, logger: noopLogger{}}
}

// SetLogger sets the logger for fan-out failures.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetBroadcaster attaches the WebSocket hub once the API server exists.
func (s *Service) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

// Raise persists an alert and fans it out.
func (s *Service) Raise(ctx context.Context, in NewAlert) (*Alert, error) {
	if in.Severity == "" {
		in.Severity = SeverityInfo
	}
	if !in.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}
	if strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, ErrMissingField
	}

	a := &Alert{
		Severity:  in.Severity,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("alert raised", "alert_id", a.ID, "severity", a.Severity, "type", a.Type)

	if s.pub != nil {
		if err := s.pub.PublishJSON(ctx, s.topics.AlertNew(), a); err != nil {
			s.logger.Warn("publishing alert", "alert_id", a.ID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Broadcast(BroadcastChannel, a)
	}
	if in.Notify && s.notifier != nil {
		data := map[string]string{"alertId": a.ID, "type": a.Type, "severity": string(a.Severity)}
		for k, v := range in.Data {
			data[k] = v
		}
		if err := s.notifier.NotifyAll(ctx, a.Title, a.Message, data); err != nil {
			s.logger.Warn("sending alert notification", "alert_id", a.ID, "error", err)
		}
	}
	return a, nil
}

// List returns a page of alerts.
func (s *Service) List(ctx context.Context, q Query) (*Page, error) {
	if q.Severity != "" && !q.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	alerts, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page{Alerts: alerts, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// MarkRead acknowledges an alert and returns it.
func (s *Service) MarkRead(ctx context.Context, id string) (*Alert, error) {
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}
