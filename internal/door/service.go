package door

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Publisher sends a JSON payload to the controller channel.
// mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v any) error
}

// Logger is the logging surface the door package needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FeedChannel is the live-feed channel every access-log entry is
// broadcast on.
const FeedChannel = "door.event"

// Broadcaster pushes live events to WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, any) {}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DefaultDoorName names the door row when none is configured.
const DefaultDoorName = "Front Door"

// ServiceConfig holds the door policy.
type ServiceConfig struct {
	DoorName string
	// DefaultPIN is installed when the door row is first created.
	DefaultPIN string
	// AlarmThreshold is the consecutive-failure count that raises an alarm.
	AlarmThreshold int
	// ResetCounterOnAlarm clears the counter once an alarm fires, so the
	// next alarm needs a fresh run of failures.
	ResetCounterOnAlarm bool
}

// Service owns all mutable door state.
type Service struct {
	mu         sync.Mutex
	repo       Repository
	auth       *Authenticator
	pub        Publisher
	topics     mqtt.Topics
	cfg        ServiceConfig
	counter    *FailedAttemptCounter
	enrollment Enrollment
	logger     Logger
	feed       Broadcaster
	now        func() time.Time
}

// NewService creates the door service.
func NewService(repo Repository, pub Publisher, cfg ServiceConfig) *Service {
	if cfg.DoorName == "" {
		cfg.DoorName = DefaultDoorName
	}
	return &Service{
		repo:    repo,
		auth:    NewAuthenticator(repo),
		pub:     pub,
		cfg:     cfg,
		counter: NewFailedAttemptCounter(cfg.AlarmThreshold),
		logger:  noopLogger{},
		feed:    noopBroadcaster{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for access decisions and publish failures.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetBroadcaster sets where new log entries are streamed. Set it before
// the service handles traffic.
func (s *Service) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = noopBroadcaster{}
	}
	s.feed = b
}

// Init creates the door row if needed and clears an enrollment left over
// from a previous run. Enrollment state does not survive a restart.
func (s *Service) Init(ctx context.Context) error {
	if err := ValidatePIN(s.cfg.DefaultPIN); err != nil {
		return fmt.Errorf("default PIN: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return err
	}
	if d.Enrolling {
		if err := s.repo.SetEnrollment(ctx, d.ID, false, ""); err != nil {
			return err
		}
		s.logger.Info("cleared stale enrollment", "user_id", d.EnrollUserID)
	}
	s.logger.Info("door ready", "door_id", d.ID, "alarm_threshold", s.counter.Threshold())
	return nil
}

// =============================================================================
// Authentication
// =============================================================================

// VerifyPIN authenticates a keypad PIN, logs it and feeds the counter.
// A malformed PIN returns ErrInvalidPIN without touching any state.
func (s *Service) VerifyPIN(ctx context.Context, pin string) (*Attempt, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.auth.CheckPIN(ctx, pin)
	if err != nil {
		return nil, err
	}
	return s.recordLocked(ctx, &box, d.ID, res, ""), nil
}

// AuthenticateRFID authenticates a card by digest, or by raw UID when no
// digest is given. It never consults enrollment state.
func (s *Service) AuthenticateRFID(ctx context.Context, uidHash, uid string) (*Attempt, error) {
	uidHash = strings.ToLower(strings.TrimSpace(uidHash))
	uid = strings.TrimSpace(uid)
	if uidHash == "" && uid == "" {
		return nil, ErrMissingField
	}
	if uidHash == "" {
		uidHash = Digest(uid)
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	res, card, err := s.auth.CheckCard(ctx, uidHash)
	if err != nil {
		return nil, err
	}
	if uid == "" && card != nil {
		uid = card.UID
	}
	return s.recordLocked(ctx, &box, d.ID, res, uid), nil
}

// HandleScan routes a raw card scan: to enrollment while ENROLLING,
// otherwise to RFID authentication.
func (s *Service) HandleScan(ctx context.Context, uid string) (*ScanOutcome, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingField
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}

	if userID, username, ok := s.enrollment.Target(); ok {
		out, err := s.enrollLocked(ctx, d.ID, userID, username, uid, &box)
		return &ScanOutcome{Enrollment: out}, err
	}

	res, _, err := s.auth.CheckCard(ctx, Digest(uid))
	if err != nil {
		return nil, err
	}
	return &ScanOutcome{Attempt: s.recordLocked(ctx, &box, d.ID, res, uid)}, nil
}

// recordLocked writes the attempt's single log entry and feeds the
// counter. Reaching the threshold sets Attempt.Alarm; the alarm itself is
// reported as an alert, not as a second log row.
func (s *Service) recordLocked(ctx context.Context, box *outbox, doorID string, res AuthResult, rfidUID string) *Attempt {
	event := EventAccessDenied
	if res.Granted {
		event = EventAccessGranted
	}
	entry := s.appendLocked(ctx, box, LogEntry{
		DoorID:   doorID,
		UserID:   res.UserID,
		Username: res.Username,
		Event:    event,
		Method:   res.Method,
		RFIDUID:  rfidUID,
	})

	attempt := &Attempt{
		Result:   res,
		Entry:    entry,
		Failures: s.counter.RecordAttempt(res.Granted),
	}
	s.logger.Info("access evaluated",
		"granted", res.Granted,
		"method", res.Method,
		"user_id", res.UserID,
		"consecutive_failures", attempt.Failures,
	)

	if !res.Granted && s.counter.ShouldTriggerAlarm() {
		attempt.Alarm = true
		s.logger.Warn("failed-attempt alarm", "consecutive_failures", attempt.Failures)
		if s.cfg.ResetCounterOnAlarm {
			s.counter.Reset()
		}
	}
	return attempt
}

// FailedAttempts returns the current consecutive-failure count.
func (s *Service) FailedAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter.Count()
}

// =============================================================================
// Enrollment
// =============================================================================

// StartEnrollment puts the door into enrollment mode for userID. If the
// user already holds an ACTIVE card and confirmReplace is false, it returns
// a ConflictError of kind ConflictCardExists and the state is unchanged.
// A second start replaces the current target.
func (s *Service) StartEnrollment(ctx context.Context, userID string, confirmReplace bool) (EnrollmentStatus, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return EnrollmentStatus{}, ErrMissingField
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return EnrollmentStatus{}, err
	}
	username, err := s.repo.Username(ctx, userID)
	if err != nil {
		return EnrollmentStatus{}, err
	}

	card, err := s.repo.CardByUser(ctx, userID)
	switch {
	case err == nil && card.Status == CardActive && !confirmReplace:
		return s.enrollment.Status(), &ConflictError{
			Kind:           ConflictCardExists,
			HolderUserID:   userID,
			HolderUsername: username,
		}
	case err != nil && !errors.Is(err, ErrCardNotFound):
		return EnrollmentStatus{}, err
	}

	s.enrollment.Start(userID, username)
	s.mirrorEnrollmentLocked(ctx, d.ID)
	box.add(s.topics.Enrollment(), EnrollmentMessage{
		Action:    ActionStart,
		UserID:    userID,
		Username:  username,
		Timestamp: s.now().UTC(),
	})
	s.logger.Info("enrollment started", "user_id", userID)
	return s.enrollment.Status(), nil
}

// CancelEnrollment returns to IDLE. Cancelling while IDLE is not an error;
// the controller is still told to leave enrollment mode.
func (s *Service) CancelEnrollment(ctx context.Context) (EnrollmentStatus, error) {
	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return EnrollmentStatus{}, err
	}
	if s.enrollment.Cancel() {
		s.logger.Info("enrollment cancelled")
	}
	s.mirrorEnrollmentLocked(ctx, d.ID)
	box.add(s.topics.Enrollment(), EnrollmentMessage{Action: ActionCancel, Timestamp: s.now().UTC()})
	return s.enrollment.Status(), nil
}

// EnrollmentStatus returns the current enrollment state.
func (s *Service) EnrollmentStatus() EnrollmentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollment.Status()
}

// enrollLocked binds uid to the enrollment target. The machine returns to
// IDLE whatever the outcome.
func (s *Service) enrollLocked(ctx context.Context, doorID, userID, username, uid string, box *outbox) (*EnrollmentOutcome, error) {
	s.enrollment.Cancel()
	s.mirrorEnrollmentLocked(ctx, doorID)

	hash := Digest(uid)
	out := &EnrollmentOutcome{UserID: userID, Username: username}
	failed := LogEntry{DoorID: doorID, UserID: userID, Event: EventEnrollmentFailed, Method: MethodEnrollment, RFIDUID: uid}

	holder, err := s.repo.CardByHash(ctx, hash)
	switch {
	case err == nil && holder.Status == CardActive && holder.UserID != userID:
		out.Conflict = &ConflictError{
			Kind:           ConflictCardClaimed,
			HolderUserID:   holder.UserID,
			HolderUsername: holder.Username,
		}
		out.Entry = s.appendLocked(ctx, box, failed)
		s.logger.Warn("enrollment conflict", "user_id", userID, "holder_user_id", holder.UserID, "uid_hash", shortDigest(hash))
		return out, nil
	case err != nil && !errors.Is(err, ErrCardNotFound):
		out.Entry = s.appendLocked(ctx, box, failed)
		return out, err
	}

	card := &Card{DoorID: doorID, UserID: userID, Username: username, UID: uid, UIDHash: hash}
	if err := s.repo.ReplaceCard(ctx, card); err != nil {
		out.Entry = s.appendLocked(ctx, box, failed)
		return out, err
	}

	out.Success = true
	out.Card = card
	out.Entry = s.appendLocked(ctx, box, LogEntry{
		DoorID:   doorID,
		UserID:   userID,
		Username: username,
		Event:    EventEnrollmentSuccess,
		Method:   MethodEnrollment,
		RFIDUID:  uid,
	})
	s.queueWhitelistLocked(ctx, doorID, box)
	s.logger.Info("card enrolled", "user_id", userID, "uid_hash", shortDigest(hash))
	return out, nil
}

func (s *Service) mirrorEnrollmentLocked(ctx context.Context, doorID string) {
	userID, _, enrolling := s.enrollment.Target()
	if err := s.repo.SetEnrollment(ctx, doorID, enrolling, userID); err != nil {
		s.logger.Error("persisting enrollment state", "error", err)
	}
}

// =============================================================================
// Card administration
// =============================================================================

// AddCard binds uid to userID without a scan. The conflict rules match
// enrollment: a UID ACTIVE for another user is always refused, and an
// existing card is only replaced when confirmReplace is set.
func (s *Service) AddCard(ctx context.Context, userID, uid string, confirmReplace bool) (*Card, error) {
	userID = strings.TrimSpace(userID)
	uid = strings.TrimSpace(uid)
	if userID == "" || uid == "" {
		return nil, ErrMissingField
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	username, err := s.repo.Username(ctx, userID)
	if err != nil {
		return nil, err
	}

	hash := Digest(uid)
	holder, err := s.repo.CardByHash(ctx, hash)
	switch {
	case err == nil && holder.Status == CardActive && holder.UserID != userID:
		return nil, &ConflictError{Kind: ConflictCardClaimed, HolderUserID: holder.UserID, HolderUsername: holder.Username}
	case err != nil && !errors.Is(err, ErrCardNotFound):
		return nil, err
	}

	existing, err := s.repo.CardByUser(ctx, userID)
	switch {
	case err == nil && existing.Status == CardActive && existing.UIDHash != hash && !confirmReplace:
		return nil, &ConflictError{Kind: ConflictCardExists, HolderUserID: userID, HolderUsername: username}
	case err != nil && !errors.Is(err, ErrCardNotFound):
		return nil, err
	}

	card := &Card{DoorID: d.ID, UserID: userID, Username: username, UID: uid, UIDHash: hash}
	if err := s.repo.ReplaceCard(ctx, card); err != nil {
		return nil, err
	}
	s.appendLocked(ctx, &box, LogEntry{
		DoorID:  d.ID,
		UserID:  userID,
		Event:   EventEnrollmentSuccess,
		Method:  MethodWebAdmin,
		RFIDUID: uid,
	})
	s.queueWhitelistLocked(ctx, d.ID, &box)
	s.logger.Info("card added", "user_id", userID, "uid_hash", shortDigest(hash))
	return card, nil
}

// RevokeCard revokes a user's ACTIVE card on an admin's behalf.
func (s *Service) RevokeCard(ctx context.Context, userID string) (*Card, error) {
	return s.revoke(ctx, userID, false)
}

// ReportLost revokes the caller's own ACTIVE card and logs card_reported_lost.
func (s *Service) ReportLost(ctx context.Context, userID string) (*Card, error) {
	return s.revoke(ctx, userID, true)
}

func (s *Service) revoke(ctx context.Context, userID string, reported bool) (*Card, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingField
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	card, err := s.repo.RevokeCard(ctx, userID)
	if err != nil {
		return nil, err
	}
	if reported {
		s.appendLocked(ctx, &box, LogEntry{
			DoorID:  d.ID,
			UserID:  userID,
			Event:   EventCardReportedLost,
			Method:  MethodUserReport,
			RFIDUID: card.UID,
		})
	}
	s.queueWhitelistLocked(ctx, d.ID, &box)
	s.logger.Info("card revoked", "user_id", userID, "reported_lost", reported)
	return card, nil
}

// =============================================================================
// PIN and commands
// =============================================================================

// ChangePIN replaces the door PIN. A malformed new PIN returns
// ErrInvalidPIN; a wrong current PIN returns ErrWrongPIN.
func (s *Service) ChangePIN(ctx context.Context, newPIN, currentPIN string) error {
	if err := ValidatePIN(newPIN); err != nil {
		return err
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return err
	}
	if !IsValidPIN(currentPIN) ||
		subtle.ConstantTimeCompare([]byte(Digest(currentPIN)), []byte(d.PINHash)) != 1 {
		return ErrWrongPIN
	}

	hash := Digest(newPIN)
	if err := s.repo.UpdatePIN(ctx, d.ID, hash); err != nil {
		return err
	}
	box.add(s.topics.ConfigPIN(), PINConfigMessage{Action: ActionUpdatePIN, PINHash: hash, Timestamp: s.now().UTC()})
	s.logger.Info("door PIN changed", "door_id", d.ID)
	return nil
}

// Unlock commands the controller to open the door and logs door_opened
// against the admin. Nothing is logged if the command cannot be sent.
func (s *Service) Unlock(ctx context.Context, adminUserID string) (*LogEntry, error) {
	if err := s.pub.PublishJSON(ctx, s.topics.Command(), CommandMessage{Action: ActionUnlock, Timestamp: s.now().UTC()}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	entry := s.appendLocked(ctx, &box, LogEntry{
		DoorID: d.ID,
		UserID: adminUserID,
		Event:  EventDoorOpened,
		Method: MethodWebAdmin,
	})
	s.logger.Info("remote unlock", "user_id", adminUserID)
	return &entry, nil
}

// ResetAlarm clears the failed-attempt counter and tells the controller
// to silence its alarm.
func (s *Service) ResetAlarm(ctx context.Context) error {
	s.mu.Lock()
	s.counter.Reset()
	s.mu.Unlock()

	if err := s.pub.PublishJSON(ctx, s.topics.Command(), CommandMessage{Action: ActionResetAlarm, Timestamp: s.now().UTC()}); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	s.logger.Info("alarm reset")
	return nil
}

// RepublishConfig pushes the PIN digest and full whitelist, e.g. after the
// broker connection is re-established.
func (s *Service) RepublishConfig(ctx context.Context) error {
	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return err
	}
	box.add(s.topics.ConfigPIN(), PINConfigMessage{Action: ActionUpdatePIN, PINHash: d.PINHash, Timestamp: s.now().UTC()})
	s.queueWhitelistLocked(ctx, d.ID, &box)
	return nil
}

// =============================================================================
// Device reports
// =============================================================================

// RecordDeviceAccess logs an access event reported by the controller.
// The card owner is resolved from rfidUID when it matches a card.
func (s *Service) RecordDeviceAccess(ctx context.Context, event, method, rfidUID string) (*LogEntry, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, ErrMissingField
	}
	if method = strings.TrimSpace(method); method == "" {
		method = MethodSystem
	}
	rfidUID = strings.TrimSpace(rfidUID)

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	entry := LogEntry{DoorID: d.ID, Event: event, Method: method, RFIDUID: rfidUID}
	if rfidUID != "" {
		if card, err := s.repo.CardByHash(ctx, Digest(rfidUID)); err == nil {
			entry.UserID, entry.Username = card.UserID, card.Username
		}
	}
	entry = s.appendLocked(ctx, &box, entry)
	return &entry, nil
}

// RecordDeviceAlarm logs an alarm raised by the controller itself.
func (s *Service) RecordDeviceAlarm(ctx context.Context, lastRFID string) (*LogEntry, error) {
	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	entry := s.appendLocked(ctx, &box, LogEntry{
		DoorID:  d.ID,
		Event:   EventAlarmTriggered,
		Method:  MethodSystem,
		RFIDUID: strings.TrimSpace(lastRFID),
	})
	return &entry, nil
}

// RecordDoorSensor logs a door contact change. The sensor's device id is
// stored as the method.
func (s *Service) RecordDoorSensor(ctx context.Context, deviceID string, open bool) (*LogEntry, error) {
	method := strings.TrimSpace(deviceID)
	if method == "" {
		method = MethodSystem
	}
	event := EventDoorClosed
	if open {
		event = EventDoorOpened
	}

	var box outbox
	defer s.flush(ctx, &box)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	entry := s.appendLocked(ctx, &box, LogEntry{DoorID: d.ID, Event: event, Method: method})
	return &entry, nil
}

// SetOnline records a controller status report.
func (s *Service) SetOnline(ctx context.Context, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return err
	}
	return s.repo.SetOnline(ctx, d.ID, online, s.now())
}

// =============================================================================
// Reads
// =============================================================================

// Door returns the door, its ACTIVE cards and the enrollment state.
func (s *Service) Door(ctx context.Context) (*DoorView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	cards, err := s.repo.ActiveCards(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	return &DoorView{Door: *d, Cards: cards, Enrollment: s.enrollment.Status()}, nil
}

// Whitelist returns the digests of every ACTIVE card.
func (s *Service) Whitelist(ctx context.Context) ([]WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.doorLocked(ctx)
	if err != nil {
		return nil, err
	}
	return s.whitelistLocked(ctx, d.ID)
}

// Logs returns a page of every log entry, newest first.
func (s *Service) Logs(ctx context.Context, q LogQuery) (*LogPage, error) {
	q = normaliseQuery(q)
	entries, total, err := s.repo.ListLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	return &LogPage{Entries: entries, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// History returns a page of access events only. An event filter outside
// HistoryEvents yields an empty page.
func (s *Service) History(ctx context.Context, q LogQuery) (*LogPage, error) {
	if len(q.Events) == 0 {
		q.Events = HistoryEvents
	} else {
		var allowed []string
		for _, e := range q.Events {
			if IsHistoryEvent(e) {
				allowed = append(allowed, e)
			}
		}
		if len(allowed) == 0 {
			q = normaliseQuery(q)
			return &LogPage{Entries: []LogEntry{}, Limit: q.Limit, Offset: q.Offset}, nil
		}
		q.Events = allowed
	}
	return s.Logs(ctx, q)
}

func normaliseQuery(q LogQuery) LogQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// =============================================================================
// Internals
// =============================================================================

// doorLocked returns the door, creating it with the default PIN on first use.
func (s *Service) doorLocked(ctx context.Context) (*Door, error) {
	return s.repo.EnsureDoor(ctx, s.cfg.DoorName, Digest(s.cfg.DefaultPIN))
}

// appendLocked writes entry, queues it for the live feed and returns it
// with ID and timestamp set. A storage failure is logged and does not
// abort the caller; an unstored entry is not broadcast.
func (s *Service) appendLocked(ctx context.Context, box *outbox, entry LogEntry) LogEntry {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.repo.AppendLog(ctx, &entry); err != nil {
		s.logger.Error("writing access log", "event", entry.Event, "error", err)
		return entry
	}
	box.events = append(box.events, entry)
	return entry
}

func (s *Service) whitelistLocked(ctx context.Context, doorID string) ([]WhitelistEntry, error) {
	cards, err := s.repo.ActiveCards(ctx, doorID)
	if err != nil {
		return nil, err
	}
	list := make([]WhitelistEntry, 0, len(cards))
	for _, c := range cards {
		list = append(list, WhitelistEntry{UIDHash: c.UIDHash, Username: c.Username})
	}
	return list, nil
}

func (s *Service) queueWhitelistLocked(ctx context.Context, doorID string, box *outbox) {
	list, err := s.whitelistLocked(ctx, doorID)
	if err != nil {
		s.logger.Error("building whitelist", "error", err)
		return
	}
	box.add(s.topics.ConfigRFID(), WhitelistMessage{Action: ActionUpdateRFID, Whitelist: list, Timestamp: s.now().UTC()})
}

// outbox collects controller publications and new log entries while the
// lock is held. flush sends them once it is released.
type outbox struct {
	msgs   []outbound
	events []LogEntry
}

type outbound struct {
	topic string
	v     any
}

func (b *outbox) add(topic string, v any) { b.msgs = append(b.msgs, outbound{topic: topic, v: v}) }

// flush publishes queued messages, then streams queued log entries.
// Publish failures are logged; stored state stands.
func (s *Service) flush(ctx context.Context, box *outbox) {
	for _, m := range box.msgs {
		if err := s.pub.PublishJSON(ctx, m.topic, m.v); err != nil {
			s.logger.Warn("door publish failed", "topic", m.topic, "error", err)
		}
	}
	for _, e := range box.events {
		s.feed.Broadcast(FeedChannel, e)
	}
}
