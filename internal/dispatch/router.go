package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/door"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Sensor kinds under home/sensor/.
const (
	SensorFire = "fire"
	SensorGas  = "gas"
	SensorDoor = "door"
)

// Live feed channels for WebSocket subscribers.
const (
	// DoorEventChannel carries every access-log entry; door.Service
	// broadcasts it.
	DoorEventChannel = door.FeedChannel
	// DoorStatusChannel carries controller online/offline changes.
	DoorStatusChannel = "door.status"
)

// messageTimeout bounds the handling of one inbound message.
const messageTimeout = 10 * time.Second

// Sentinel errors.
var (
	ErrUnknownTopic   = errors.New("dispatch: unknown topic")
	ErrInvalidPayload = errors.New("dispatch: invalid payload")
)

// Publisher sends a JSON payload to the controller channel.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v any) error
}

// AlertRaiser persists and fans out an alert.
type AlertRaiser interface {
	Raise(ctx context.Context, in alert.NewAlert) (*alert.Alert, error)
}

// Broadcaster pushes a live event to WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, any) {}

// Logger is the logging surface the router needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds router timing.
type Config struct {
	OfflineThreshold time.Duration
	SweepInterval    time.Duration
	DedupeWindow     time.Duration
	DedupeCapacity   int
}

// Router dispatches device messages.
type Router struct {
	door     *door.Service
	alerts   AlertRaiser
	pub      Publisher
	metrics  Metrics
	feed     Broadcaster
	dedupe   *Deduper
	liveness *LivenessTracker
	interval time.Duration
	topics   mqtt.Topics
	logger   Logger
	now      func() time.Time
}

// NewRouter creates a router. metrics may be nil.
func NewRouter(doorSvc *door.Service, alerts AlertRaiser, pub Publisher, metrics Metrics, cfg Config) *Router {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Router{
		door:     doorSvc,
		alerts:   alerts,
		pub:      pub,
		metrics:  metrics,
		feed:     noopBroadcaster{},
		dedupe:   NewDeduper(cfg.DedupeWindow, cfg.DedupeCapacity),
		liveness: NewLivenessTracker(cfg.OfflineThreshold),
		interval: interval,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the router's logger.
func (r *Router) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetBroadcaster sets where live door events are sent.
func (r *Router) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = noopBroadcaster{}
	}
	r.feed = b
}

// Topics returns every topic the router handles.
func (r *Router) Topics() []string {
	return r.topics.Inbound()
}

// HandleMessage is the mqtt.MessageHandler for every inbound topic.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()
	return r.Dispatch(ctx, topic, payload)
}

// Dispatch routes one message. A message whose messageId was already seen
// on the same topic within the dedupe window is dropped. A message whose
// handling fails is forgotten so a redelivery is processed again.
func (r *Router) Dispatch(ctx context.Context, topic string, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w on %s: %w", ErrInvalidPayload, topic, err)
	}
	if env.MessageID == "" {
		return r.route(ctx, topic, payload)
	}

	key := topic + "|" + env.MessageID
	if r.dedupe.Seen(key, r.now()) {
		r.logger.Info("duplicate message dropped", "topic", topic, "message_id", env.MessageID)
		return nil
	}
	if err := r.route(ctx, topic, payload); err != nil {
		r.dedupe.Forget(key)
		return err
	}
	return nil
}

func (r *Router) route(ctx context.Context, topic string, payload []byte) error {
	switch topic {
	case r.topics.DoorAccess():
		return r.handleAccess(ctx, payload)
	case r.topics.DoorAlarm():
		return r.handleAlarm(ctx, payload)
	case r.topics.DoorStatus():
		return r.handleStatus(ctx, payload)
	case r.topics.RFIDCheck():
		return r.handleRFIDCheck(ctx, payload)
	case r.topics.RFIDAuth():
		return r.handleRFIDAuth(ctx, payload)
	case r.topics.PINVerify():
		return r.handlePINVerify(ctx, payload)
	case r.topics.DeviceHeartbeat():
		return r.handleHeartbeat(payload)
	}

	if kind, ok := strings.CutPrefix(topic, r.topics.Sensor("")); ok && kind != "" && !strings.Contains(kind, "/") {
		return r.handleSensor(ctx, kind, payload)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func decode(topic string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w on %s: %w", ErrInvalidPayload, topic, err)
	}
	return nil
}

// =============================================================================
// Door topics
// =============================================================================

func (r *Router) handleAccess(ctx context.Context, payload []byte) error {
	var msg accessReport
	if err := decode(r.topics.DoorAccess(), payload, &msg); err != nil {
		return err
	}
	entry, err := r.door.RecordDeviceAccess(ctx, msg.Event, msg.Method, msg.RFIDUID)
	if err != nil {
		return fmt.Errorf("recording device access: %w", err)
	}

	switch entry.Event {
	case door.EventAccessGranted:
		r.metrics.WriteAccessAttempt(entry.Method, true, 0)
	case door.EventAccessDenied:
		r.metrics.WriteAccessAttempt(entry.Method, false, 0)
		r.raise(ctx, alert.NewAlert{
			Severity: alert.SeverityWarning,
			Type:     alert.TypeAccessDenied,
			Title:    "Access denied",
			Message:  fmt.Sprintf("The door refused an entry attempt (%s).", entry.Method),
			Notify:   true,
		})
	}
	return nil
}

func (r *Router) handleAlarm(ctx context.Context, payload []byte) error {
	var msg alarmReport
	if err := decode(r.topics.DoorAlarm(), payload, &msg); err != nil {
		return err
	}
	if _, err := r.door.RecordDeviceAlarm(ctx, msg.LastRFID); err != nil {
		return fmt.Errorf("recording device alarm: %w", err)
	}
	r.metrics.WriteAlarm("controller", msg.FailCount)

	reason := msg.Reason
	if reason == "" {
		reason = "alarm"
	}
	r.raise(ctx, alert.NewAlert{
		Severity: alert.SeverityCritical,
		Type:     alert.TypeDoorAlarm,
		Title:    "Door alarm",
		Message:  fmt.Sprintf("The door controller raised an alarm: %s (%d failed attempts).", reason, msg.FailCount),
		Notify:   true,
		Data:     map[string]string{"reason": reason},
	})
	return nil
}

func (r *Router) handleStatus(ctx context.Context, payload []byte) error {
	var msg statusReport
	if err := decode(r.topics.DoorStatus(), payload, &msg); err != nil {
		return err
	}
	if err := r.door.SetOnline(ctx, msg.Online); err != nil {
		return fmt.Errorf("updating door status: %w", err)
	}
	r.metrics.WriteDeviceLiveness("door", msg.Online)
	r.feed.Broadcast(DoorStatusChannel, map[string]bool{"online": msg.Online})
	r.logger.Info("door controller status", "online", msg.Online)
	return nil
}

func (r *Router) handleRFIDCheck(ctx context.Context, payload []byte) error {
	var msg rfidCheck
	if err := decode(r.topics.RFIDCheck(), payload, &msg); err != nil {
		return err
	}
	out, err := r.door.HandleScan(ctx, msg.UID)
	if out != nil && out.Enrollment != nil {
		r.publishEnrollment(ctx, out.Enrollment, err)
		return err
	}
	if err != nil {
		return fmt.Errorf("handling scan: %w", err)
	}
	r.publish(ctx, r.topics.RFIDResult(), rfidResult(msg.UID, out.Attempt, r.now()))
	r.afterAttempt(ctx, out.Attempt)
	return nil
}

func (r *Router) handleRFIDAuth(ctx context.Context, payload []byte) error {
	var msg rfidAuth
	if err := decode(r.topics.RFIDAuth(), payload, &msg); err != nil {
		return err
	}
	attempt, err := r.door.AuthenticateRFID(ctx, msg.UIDHash, msg.UID)
	if err != nil {
		return fmt.Errorf("authenticating card: %w", err)
	}
	uid := msg.UID
	if uid == "" {
		uid = msg.UIDHash
	}
	r.publish(ctx, r.topics.RFIDResult(), rfidResult(uid, attempt, r.now()))
	r.afterAttempt(ctx, attempt)
	return nil
}

func (r *Router) handlePINVerify(ctx context.Context, payload []byte) error {
	var msg pinVerify
	if err := decode(r.topics.PINVerify(), payload, &msg); err != nil {
		return err
	}
	attempt, err := r.VerifyPIN(ctx, msg.PIN)
	if errors.Is(err, door.ErrInvalidPIN) {
		r.publish(ctx, r.topics.PINResult(), PINResult{
			Method:    door.MethodInvalidPIN,
			Reason:    ReasonInvalidFormat,
			Timestamp: r.now().UTC(),
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("verifying PIN: %w", err)
	}
	r.publish(ctx, r.topics.PINResult(), PINResult{
		Allow:     attempt.Result.Granted,
		Method:    attempt.Result.Method,
		Reason:    attempt.Result.Reason,
		Timestamp: r.now().UTC(),
	})
	return nil
}

// VerifyPIN authenticates a PIN through the full pipeline except the
// device reply. HTTP callers use it directly.
func (r *Router) VerifyPIN(ctx context.Context, pin string) (*door.Attempt, error) {
	attempt, err := r.door.VerifyPIN(ctx, pin)
	if err != nil {
		return nil, err
	}
	r.afterAttempt(ctx, attempt)
	return attempt, nil
}

// afterAttempt records telemetry and raises the alarm alert.
func (r *Router) afterAttempt(ctx context.Context, a *door.Attempt) {
	r.metrics.WriteAccessAttempt(a.Result.Method, a.Result.Granted, a.Failures)
	if !a.Alarm {
		return
	}
	r.metrics.WriteAlarm("failed_attempts", a.Failures)
	r.raise(ctx, alert.NewAlert{
		Severity: alert.SeverityCritical,
		Type:     alert.TypeDoorAlarm,
		Title:    "Door alarm",
		Message:  fmt.Sprintf("%d consecutive failed entry attempts (last: %s).", a.Failures, a.Result.Method),
		Notify:   true,
		Data:     map[string]string{"failCount": fmt.Sprint(a.Failures)},
	})
}

func rfidResult(uid string, a *door.Attempt, now time.Time) RFIDResult {
	return RFIDResult{
		UID:       uid,
		Allow:     a.Result.Granted,
		Username:  a.Result.Username,
		Reason:    a.Result.Reason,
		Timestamp: now.UTC(),
	}
}

func (r *Router) publishEnrollment(ctx context.Context, out *door.EnrollmentOutcome, err error) {
	res := EnrollmentResult{Username: out.Username, Timestamp: r.now().UTC()}
	switch {
	case out.Success:
		res.Success = true
		res.Message = fmt.Sprintf("Card enrolled for %s", out.Username)
	case out.Conflict != nil:
		res.Error = fmt.Sprintf("Card is already registered to %s", out.Conflict.HolderUsername)
	case err != nil:
		res.Error = "Enrollment failed"
		r.logger.Error("enrollment failed", "user_id", out.UserID, "error", err)
	}
	r.publish(ctx, r.topics.EnrollmentResult(), res)
}

// =============================================================================
// Home topics
// =============================================================================

func (r *Router) handleSensor(ctx context.Context, kind string, payload []byte) error {
	topic := r.topics.Sensor(kind)
	switch kind {
	case SensorFire:
		var msg fireReading
		if err := decode(topic, payload, &msg); err != nil {
			return err
		}
		r.metrics.WriteSensorReading(kind, msg.DeviceID, msg.Detected, msg.Value)
		if msg.Detected {
			r.raise(ctx, alert.NewAlert{
				Severity: alert.SeverityCritical,
				Type:     alert.TypeFire,
				Title:    "Fire detected",
				Message:  fmt.Sprintf("Sensor %s detected fire (reading %.1f).", msg.DeviceID, msg.Value),
				Notify:   true,
				Data:     map[string]string{"deviceId": msg.DeviceID},
			})
		}
	case SensorGas:
		var msg gasReading
		if err := decode(topic, payload, &msg); err != nil {
			return err
		}
		r.metrics.WriteSensorReading(kind, msg.DeviceID, msg.Detected, msg.PPM)
		if msg.Detected {
			r.raise(ctx, alert.NewAlert{
				Severity: alert.SeverityCritical,
				Type:     alert.TypeGas,
				Title:    "Gas leak detected",
				Message:  fmt.Sprintf("Sensor %s detected gas at %.0f ppm.", msg.DeviceID, msg.PPM),
				Notify:   true,
				Data:     map[string]string{"deviceId": msg.DeviceID},
			})
		}
	case SensorDoor:
		var msg doorReading
		if err := decode(topic, payload, &msg); err != nil {
			return err
		}
		if _, err := r.door.RecordDoorSensor(ctx, msg.DeviceID, msg.Open); err != nil {
			return fmt.Errorf("recording door sensor: %w", err)
		}
	default:
		r.logger.Warn("ignoring unknown sensor kind", "kind", kind)
	}
	return nil
}

func (r *Router) handleHeartbeat(payload []byte) error {
	var msg heartbeat
	if err := decode(r.topics.DeviceHeartbeat(), payload, &msg); err != nil {
		return err
	}
	if msg.DeviceID == "" {
		return fmt.Errorf("%w: heartbeat without deviceId", ErrInvalidPayload)
	}
	if r.liveness.Beat(msg.DeviceID, r.now()) {
		r.metrics.WriteDeviceLiveness(msg.DeviceID, true)
		r.logger.Info("device online", "device_id", msg.DeviceID)
	}
	return nil
}

// =============================================================================
// Liveness sweep
// =============================================================================

// Run sweeps the liveness tracker every sweep interval until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep reports every device whose heartbeat has lapsed and returns them.
func (r *Router) Sweep(ctx context.Context) []OfflineDevice {
	offline := r.liveness.Sweep(r.now())
	for _, d := range offline {
		r.metrics.WriteDeviceLiveness(d.DeviceID, false)
		r.logger.Warn("device offline", "device_id", d.DeviceID, "last_seen", d.LastSeen)
		r.raise(ctx, alert.NewAlert{
			Severity: alert.SeverityWarning,
			Type:     alert.TypeDeviceOffline,
			Title:    "Device offline",
			Message:  fmt.Sprintf("%s has not reported since %s.", d.DeviceID, d.LastSeen.UTC().Format(time.RFC3339)),
			Notify:   true,
			Data:     map[string]string{"deviceId": d.DeviceID},
		})
	}
	return offline
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Router) publish(ctx context.Context, topic string, v any) {
	if err := r.pub.PublishJSON(ctx, topic, v); err != nil {
		r.logger.Warn("publishing device reply", "topic", topic, "error", err)
	}
}

func (r *Router) raise(ctx context.Context, in alert.NewAlert) {
	if _, err := r.alerts.Raise(ctx, in); err != nil {
		r.logger.Error("raising alert", "type", in.Type, "error", err)
	}
}
