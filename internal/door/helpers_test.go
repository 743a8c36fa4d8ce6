package door

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database/dbtest"
)

// published is one message captured by recordingPublisher.
type published struct {
	topic string
	v     any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, v: v})
	return nil
}

func (p *recordingPublisher) onTopic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.v)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

var errBrokerDown = errors.New("broker down")

type recordingFeed struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (f *recordingFeed) Broadcast(channel string, payload any) {
	if channel != FeedChannel {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, payload.(LogEntry))
}

func (f *recordingFeed) sent() []LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogEntry(nil), f.entries...)
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbtest.Open(t).DB
}

// seedUser inserts a user row directly; door only reads id and username.
func seedUser(t *testing.T, db *sql.DB, id, username string) {
	t.Helper()
	now := database.FormatTime(time.Now())
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, display_name, password_hash, role, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, 'x', 'user', 1, ?, ?)`, id, username, username, now, now)
	if err != nil {
		t.Fatalf("seeding user %s: %v", username, err)
	}
}

// newTestService returns an initialised service with PIN 1234, users
// alice and bob, and a recording publisher.
func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *SQLiteRepository, *recordingPublisher) {
	t.Helper()
	db := testDB(t)
	seedUser(t, db, "usr-alice", "alice")
	seedUser(t, db, "usr-bob", "bob")

	if cfg.DefaultPIN == "" {
		cfg.DefaultPIN = "1234"
	}
	repo := NewRepository(db)
	pub := &recordingPublisher{}
	svc := NewService(repo, pub, cfg)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return svc, repo, pub
}

func allLogs(t *testing.T, svc *Service) []LogEntry {
	t.Helper()
	page, err := svc.Logs(context.Background(), LogQuery{Limit: MaxLogLimit})
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	return page.Entries
}
