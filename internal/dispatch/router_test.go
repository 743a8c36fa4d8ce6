package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/door"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database/dbtest"
)

type published struct {
	topic string
	v     any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
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

type fakeAlerts struct {
	mu     sync.Mutex
	raised []alert.NewAlert
}

func (f *fakeAlerts) Raise(_ context.Context, in alert.NewAlert) (*alert.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, in)
	return &alert.Alert{ID: "alt-test", Severity: in.Severity, Type: in.Type}, nil
}

func (f *fakeAlerts) ofType(typ string) []alert.NewAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alert.NewAlert
	for _, a := range f.raised {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

type fakeMetrics struct {
	mu       sync.Mutex
	attempts int
	alarms   int
	sensors  []string
	liveness map[string]bool
}

func (m *fakeMetrics) WriteAccessAttempt(string, bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *fakeMetrics) WriteAlarm(string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms++
}

func (m *fakeMetrics) WriteSensorReading(kind, _ string, _ bool, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors = append(m.sensors, kind)
}

func (m *fakeMetrics) WriteDeviceLiveness(deviceID string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveness == nil {
		m.liveness = make(map[string]bool)
	}
	m.liveness[deviceID] = online
}

type broadcast struct {
	channel string
	payload any
}

type recordingFeed struct {
	mu   sync.Mutex
	sent []broadcast
}

func (f *recordingFeed) Broadcast(channel string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, broadcast{channel: channel, payload: payload})
}

func (f *recordingFeed) on(channel string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, b := range f.sent {
		if b.channel == channel {
			out = append(out, b.payload)
		}
	}
	return out
}

type fixture struct {
	router  *Router
	door    *door.Service
	pub     *recordingPublisher
	alerts  *fakeAlerts
	metrics *fakeMetrics
	feed    *recordingFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t).DB

	now := database.FormatTime(time.Now())
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, display_name, password_hash, role, is_active, created_at, updated_at)
		 VALUES ('usr-alice', 'alice', 'Alice', 'x', 'user', 1, ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	pub := &recordingPublisher{}
	svc := door.NewService(door.NewRepository(db), pub, door.ServiceConfig{
		DefaultPIN:          "1234",
		AlarmThreshold:      3,
		ResetCounterOnAlarm: true,
	})
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	alerts := &fakeAlerts{}
	metrics := &fakeMetrics{}
	r := NewRouter(svc, alerts, pub, metrics, Config{
		OfflineThreshold: time.Minute,
		DedupeWindow:     time.Minute,
	})
	feed := &recordingFeed{}
	r.SetBroadcaster(feed)
	svc.SetBroadcaster(feed)
	return &fixture{router: r, door: svc, pub: pub, alerts: alerts, metrics: metrics, feed: feed}
}

func (f *fixture) send(t *testing.T, topic, payload string) {
	t.Helper()
	if err := f.router.HandleMessage(topic, []byte(payload)); err != nil {
		t.Fatalf("HandleMessage(%s) error = %v", topic, err)
	}
}

func (f *fixture) logs(t *testing.T) []door.LogEntry {
	t.Helper()
	page, err := f.door.Logs(context.Background(), door.LogQuery{Limit: door.MaxLogLimit})
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	return page.Entries
}

func TestRouter_PINVerify(t *testing.T) {
	f := newFixture(t)
	topic := f.router.topics.PINVerify()

	f.send(t, topic, `{"pin":"1234"}`)
	f.send(t, topic, `{"pin":"9999"}`)

	results := f.pub.onTopic(f.router.topics.PINResult())
	if len(results) != 2 {
		t.Fatalf("published %d PIN results, want 2", len(results))
	}
	if got := results[0].(PINResult); !got.Allow || got.Method != door.MethodPIN {
		t.Errorf("correct PIN result = %+v", got)
	}
	if got := results[1].(PINResult); got.Allow || got.Reason != door.ReasonWrongPIN {
		t.Errorf("wrong PIN result = %+v", got)
	}
	if f.metrics.attempts != 2 {
		t.Errorf("attempt metrics = %d, want 2", f.metrics.attempts)
	}
}

func TestRouter_PINInvalidFormat(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.router.topics.PINVerify(), `{"pin":"12a4"}`)

	results := f.pub.onTopic(f.router.topics.PINResult())
	if len(results) != 1 {
		t.Fatalf("published %d PIN results, want 1", len(results))
	}
	if got := results[0].(PINResult); got.Allow || got.Reason != ReasonInvalidFormat {
		t.Errorf("result = %+v, want invalid_format denial", got)
	}
	if n := len(f.logs(t)); n != 0 {
		t.Errorf("malformed PIN wrote %d log entries", n)
	}
	if f.door.FailedAttempts() != 0 {
		t.Errorf("malformed PIN counted as a failure")
	}
}

func TestRouter_AlarmRaisesCriticalAlert(t *testing.T) {
	f := newFixture(t)
	topic := f.router.topics.PINVerify()

	for range 3 {
		f.send(t, topic, `{"pin":"0000"}`)
	}

	// One row and one feed event per attempt; the alarm is an alert only.
	logs := f.logs(t)
	if len(logs) != 3 {
		t.Errorf("log entries = %d, want 3", len(logs))
	}
	for _, e := range logs {
		if e.Event != door.EventAccessDenied {
			t.Errorf("unexpected %s entry", e.Event)
		}
	}
	if n := len(f.feed.on(DoorEventChannel)); n != 3 {
		t.Errorf("door events = %d, want 3", n)
	}

	alarms := f.alerts.ofType(alert.TypeDoorAlarm)
	if len(alarms) != 1 {
		t.Fatalf("raised %d door alarms, want 1", len(alarms))
	}
	if alarms[0].Severity != alert.SeverityCritical || !alarms[0].Notify {
		t.Errorf("alarm = %+v, want CRITICAL with notify", alarms[0])
	}
	if f.metrics.alarms != 1 {
		t.Errorf("alarm metrics = %d, want 1", f.metrics.alarms)
	}
	if f.door.FailedAttempts() != 0 {
		t.Errorf("counter not reset after alarm: %d", f.door.FailedAttempts())
	}
}

func TestRouter_RFIDCheckAndEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	check := f.router.topics.RFIDCheck()

	f.send(t, check, `{"uid":"04A1B2C3"}`)
	results := f.pub.onTopic(f.router.topics.RFIDResult())
	if len(results) != 1 {
		t.Fatalf("published %d RFID results, want 1", len(results))
	}
	if got := results[0].(RFIDResult); got.Allow || got.Reason != door.ReasonUnknownCard || got.UID != "04A1B2C3" {
		t.Errorf("unknown card result = %+v", got)
	}

	if _, err := f.door.StartEnrollment(ctx, "usr-alice", false); err != nil {
		t.Fatalf("StartEnrollment() error = %v", err)
	}
	f.send(t, check, `{"uid":"04A1B2C3"}`)

	enrolled := f.pub.onTopic(f.router.topics.EnrollmentResult())
	if len(enrolled) != 1 {
		t.Fatalf("published %d enrollment results, want 1", len(enrolled))
	}
	if got := enrolled[0].(EnrollmentResult); !got.Success || got.Username != "alice" {
		t.Errorf("enrollment result = %+v", got)
	}
	if n := len(f.pub.onTopic(f.router.topics.RFIDResult())); n != 1 {
		t.Errorf("enrollment scan produced an RFID result")
	}

	f.send(t, check, `{"uid":"04A1B2C3"}`)
	results = f.pub.onTopic(f.router.topics.RFIDResult())
	if got := results[len(results)-1].(RFIDResult); !got.Allow || got.Username != "alice" {
		t.Errorf("enrolled card result = %+v", got)
	}
}

func TestRouter_RFIDAuthByHash(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.router.topics.RFIDAuth(), `{"uidHash":"`+door.Digest("CAFE")+`"}`)

	results := f.pub.onTopic(f.router.topics.RFIDResult())
	if len(results) != 1 {
		t.Fatalf("published %d RFID results, want 1", len(results))
	}
	if got := results[0].(RFIDResult); got.Allow || got.UID != door.Digest("CAFE") {
		t.Errorf("result = %+v", got)
	}
}

func TestRouter_DuplicateMessageDropped(t *testing.T) {
	f := newFixture(t)
	topic := f.router.topics.DoorAccess()
	payload := `{"messageId":"m-1","event":"access_granted","method":"physical_button"}`

	f.send(t, topic, payload)
	f.send(t, topic, payload)
	f.send(t, topic, `{"messageId":"m-2","event":"access_granted","method":"physical_button"}`)

	if n := len(f.logs(t)); n != 2 {
		t.Errorf("log entries = %d, want 2", n)
	}
}

func TestRouter_FailedMessageRedelivered(t *testing.T) {
	f := newFixture(t)
	topic := f.router.topics.RFIDCheck()
	bad := []byte(`{"messageId":"m-7","uid":""}`)

	for i := range 2 {
		if err := f.router.HandleMessage(topic, bad); !errors.Is(err, door.ErrMissingField) {
			t.Fatalf("delivery %d: HandleMessage() error = %v, want %v", i+1, err, door.ErrMissingField)
		}
	}
	if n := f.router.dedupe.Len(); n != 0 {
		t.Errorf("failed message still remembered: Len() = %d", n)
	}

	f.send(t, f.router.topics.DoorAccess(), `{"messageId":"m-8","event":"access_granted","method":"physical_button"}`)
	if n := f.router.dedupe.Len(); n != 1 {
		t.Errorf("handled message not remembered: Len() = %d", n)
	}
}

func TestRouter_DeviceAccessDenied(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.router.topics.DoorAccess(), `{"event":"access_denied","method":"invalid_pin"}`)

	denied := f.alerts.ofType(alert.TypeAccessDenied)
	if len(denied) != 1 || denied[0].Severity != alert.SeverityWarning {
		t.Fatalf("access_denied alerts = %+v", denied)
	}
	logs := f.logs(t)
	if len(logs) != 1 || logs[0].Event != door.EventAccessDenied || logs[0].Method != door.MethodInvalidPIN {
		t.Errorf("logs = %+v", logs)
	}
}

func TestRouter_DeviceAlarmAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, f.router.topics.DoorAlarm(), `{"reason":"tamper","failCount":2}`)
	if n := len(f.alerts.ofType(alert.TypeDoorAlarm)); n != 1 {
		t.Errorf("door alarms = %d, want 1", n)
	}

	f.send(t, f.router.topics.DoorStatus(), `{"online":true}`)
	view, err := f.door.Door(ctx)
	if err != nil {
		t.Fatalf("Door() error = %v", err)
	}
	if !view.Door.Online {
		t.Error("door not marked online")
	}
}

func TestRouter_Sensors(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.router.topics.Sensor(SensorFire), `{"deviceId":"smoke-1","detected":false,"value":3}`)
	f.send(t, f.router.topics.Sensor(SensorGas), `{"deviceId":"gas-1","detected":true,"ppm":850}`)
	f.send(t, f.router.topics.Sensor(SensorDoor), `{"deviceId":"contact-1","open":true}`)
	f.send(t, f.router.topics.Sensor("humidity"), `{}`)

	if n := len(f.alerts.ofType(alert.TypeFire)); n != 0 {
		t.Errorf("fire alerts = %d, want 0", n)
	}
	gas := f.alerts.ofType(alert.TypeGas)
	if len(gas) != 1 || gas[0].Severity != alert.SeverityCritical || !gas[0].Notify {
		t.Errorf("gas alerts = %+v", gas)
	}
	if len(f.metrics.sensors) != 2 {
		t.Errorf("sensor metrics = %v, want fire and gas", f.metrics.sensors)
	}

	logs := f.logs(t)
	if len(logs) != 1 || logs[0].Event != door.EventDoorOpened || logs[0].Method != "contact-1" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestRouter_HeartbeatSweep(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.router.now = func() time.Time { return t0 }

	f.send(t, f.router.topics.DeviceHeartbeat(), `{"deviceId":"door-ctrl"}`)
	if !f.metrics.liveness["door-ctrl"] {
		t.Error("new device not reported online")
	}

	if got := f.router.Sweep(context.Background()); len(got) != 0 {
		t.Fatalf("Sweep() = %v, want none", got)
	}

	f.router.now = func() time.Time { return t0.Add(5 * time.Minute) }
	got := f.router.Sweep(context.Background())
	if len(got) != 1 || got[0].DeviceID != "door-ctrl" {
		t.Fatalf("Sweep() = %+v", got)
	}
	if f.metrics.liveness["door-ctrl"] {
		t.Error("offline device still reported online")
	}
	offline := f.alerts.ofType(alert.TypeDeviceOffline)
	if len(offline) != 1 || offline[0].Severity != alert.SeverityWarning {
		t.Errorf("offline alerts = %+v", offline)
	}
}

func TestRouter_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"unknown topic", "door/unknown", `{}`, ErrUnknownTopic},
		{"nested sensor topic", "home/sensor/fire/extra", `{}`, ErrUnknownTopic},
		{"malformed json", f.router.topics.PINVerify(), `{"pin":`, ErrInvalidPayload},
		{"heartbeat without id", f.router.topics.DeviceHeartbeat(), `{}`, ErrInvalidPayload},
		{"empty scan", f.router.topics.RFIDCheck(), `{"uid":""}`, door.ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.router.HandleMessage(tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.want) {
				t.Errorf("HandleMessage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRouter_Run_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.router.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.router.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRouter_LiveFeed(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.router.topics.PINVerify(), `{"pin":"0000"}`)
	f.send(t, f.router.topics.DoorAccess(), `{"event":"door_opened","method":"physical_button"}`)
	f.send(t, f.router.topics.DoorStatus(), `{"online":true}`)
	// A malformed PIN is not logged, so nothing reaches the feed.
	f.send(t, f.router.topics.PINVerify(), `{"pin":"abcd"}`)

	events := f.feed.on(DoorEventChannel)
	if len(events) != 2 {
		t.Fatalf("door events = %d, want 2", len(events))
	}
	if n := len(f.logs(t)); n != len(events) {
		t.Errorf("log entries = %d, feed events = %d", n, len(events))
	}
	first, ok := events[0].(door.LogEntry)
	if !ok || first.Event != door.EventAccessDenied || first.ID == "" {
		t.Errorf("first event = %#v", events[0])
	}
	second, ok := events[1].(door.LogEntry)
	if !ok || second.Event != door.EventDoorOpened {
		t.Errorf("second event = %#v", events[1])
	}

	status := f.feed.on(DoorStatusChannel)
	if len(status) != 1 || status[0].(map[string]bool)["online"] != true {
		t.Errorf("status events = %#v", status)
	}
}
