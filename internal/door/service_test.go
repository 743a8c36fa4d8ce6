package door

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

var topics = mqtt.Topics{}

func TestService_PINScenario(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	ok, err := svc.VerifyPIN(ctx, "1234")
	if err != nil {
		t.Fatalf("VerifyPIN(1234) error = %v", err)
	}
	if !ok.Result.Granted || ok.Result.Method != MethodPIN {
		t.Fatalf("VerifyPIN(1234) = %+v, want granted pin", ok.Result)
	}

	for i := 1; i <= 5; i++ {
		a, err := svc.VerifyPIN(ctx, "0000")
		if err != nil {
			t.Fatalf("VerifyPIN(0000) #%d error = %v", i, err)
		}
		if a.Result.Granted || a.Result.Method != MethodInvalidPIN {
			t.Fatalf("VerifyPIN(0000) = %+v, want denied invalid_pin", a.Result)
		}
		if a.Failures != i {
			t.Errorf("attempt %d: Failures = %d", i, a.Failures)
		}
		if a.Alarm != (i == 5) {
			t.Errorf("attempt %d: Alarm = %v", i, a.Alarm)
		}
	}
	if svc.FailedAttempts() != 5 {
		t.Errorf("FailedAttempts() = %d, want 5", svc.FailedAttempts())
	}

	again, _ := svc.VerifyPIN(ctx, "1234")
	if !again.Result.Granted || again.Alarm || again.Failures != 0 || svc.FailedAttempts() != 0 {
		t.Errorf("correct PIN after alarm = %+v, counter %d", again, svc.FailedAttempts())
	}

	alarms, _ := svc.Logs(ctx, LogQuery{Events: []string{EventAlarmTriggered}})
	if alarms.Total != 0 {
		t.Errorf("alarm_triggered entries = %d, want 0", alarms.Total)
	}
	if n := len(allLogs(t, svc)); n != 7 {
		t.Errorf("log entries = %d, want one per attempt (7)", n)
	}
}

func TestService_ResetCounterOnAlarm(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{ResetCounterOnAlarm: true, AlarmThreshold: 3})
	ctx := context.Background()

	var last *Attempt
	for i := 0; i < 3; i++ {
		last, _ = svc.VerifyPIN(ctx, "0000")
	}
	if !last.Alarm || last.Failures != 3 {
		t.Fatalf("third failure = %+v, want alarm at 3", last)
	}
	if svc.FailedAttempts() != 0 {
		t.Errorf("counter after alarm = %d, want reset to 0", svc.FailedAttempts())
	}
	next, _ := svc.VerifyPIN(ctx, "0000")
	if next.Alarm || next.Failures != 1 {
		t.Errorf("failure after reset = %+v, want 1 without alarm", next)
	}
}

func TestService_InvalidPINTouchesNothing(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	for _, pin := range []string{"", "123", "12345", "abcd"} {
		if _, err := svc.VerifyPIN(ctx, pin); !errors.Is(err, ErrInvalidPIN) {
			t.Errorf("VerifyPIN(%q) error = %v, want ErrInvalidPIN", pin, err)
		}
	}
	if svc.FailedAttempts() != 0 {
		t.Errorf("counter = %d, want 0", svc.FailedAttempts())
	}
	if n := len(allLogs(t, svc)); n != 0 {
		t.Errorf("log entries = %d, want 0", n)
	}
}

func TestService_PINIndependentOfRFID(t *testing.T) {
	ctx := context.Background()

	fresh, _, _ := newTestService(t, ServiceConfig{})
	before, _ := fresh.VerifyPIN(ctx, "1234")

	scanned, _, _ := newTestService(t, ServiceConfig{})
	if _, err := scanned.HandleScan(ctx, "DEADBEEF"); err != nil {
		t.Fatalf("HandleScan() error = %v", err)
	}
	after, _ := scanned.VerifyPIN(ctx, "1234")

	if before.Result != after.Result {
		t.Errorf("PIN result with prior scan = %+v, without = %+v", after.Result, before.Result)
	}
}

func TestService_EnrollmentScenario(t *testing.T) {
	svc, repo, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	status, err := svc.StartEnrollment(ctx, "usr-alice", false)
	if err != nil {
		t.Fatalf("StartEnrollment() error = %v", err)
	}
	if status.State != StateEnrolling || status.Username != "alice" {
		t.Fatalf("status = %+v", status)
	}
	if d, _ := repo.GetDoor(ctx); !d.Enrolling || d.EnrollUserID != "usr-alice" {
		t.Errorf("door row not mirrored: %+v", d)
	}
	starts := pub.onTopic(topics.Enrollment())
	if len(starts) != 1 || starts[0].(EnrollmentMessage).Action != ActionStart {
		t.Errorf("door/enrollment messages = %+v", starts)
	}

	out, err := svc.HandleScan(ctx, "ABCD1234")
	if err != nil {
		t.Fatalf("HandleScan() error = %v", err)
	}
	if out.Enrollment == nil || !out.Enrollment.Success || out.Attempt != nil {
		t.Fatalf("HandleScan() = %+v, want enrollment success", out)
	}
	card := out.Enrollment.Card
	if card.Status != CardActive || card.UIDHash != Digest("ABCD1234") || card.UserID != "usr-alice" {
		t.Errorf("card = %+v", card)
	}
	if out.Enrollment.Entry.Event != EventEnrollmentSuccess {
		t.Errorf("log event = %s", out.Enrollment.Entry.Event)
	}
	if svc.EnrollmentStatus().State != StateIdle {
		t.Error("state should be IDLE after scan")
	}
	if d, _ := repo.GetDoor(ctx); d.Enrolling {
		t.Error("door row should be cleared after scan")
	}

	wl := pub.onTopic(topics.ConfigRFID())
	if len(wl) != 1 {
		t.Fatalf("whitelist pushes = %d, want 1", len(wl))
	}
	if msg := wl[0].(WhitelistMessage); len(msg.Whitelist) != 1 || msg.Whitelist[0].Username != "alice" {
		t.Errorf("whitelist = %+v", msg)
	}

	out, _ = svc.HandleScan(ctx, "ABCD1234")
	if out.Attempt == nil || !out.Attempt.Result.Granted || out.Attempt.Result.Username != "alice" {
		t.Errorf("scan while IDLE = %+v, want alice granted", out)
	}
}

func TestService_EnrollmentConflict(t *testing.T) {
	svc, repo, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.AddCard(ctx, "usr-bob", "CAFE", false); err != nil {
		t.Fatalf("AddCard(bob) error = %v", err)
	}
	pub.reset()

	if _, err := svc.StartEnrollment(ctx, "usr-alice", false); err != nil {
		t.Fatalf("StartEnrollment() error = %v", err)
	}
	out, err := svc.HandleScan(ctx, "CAFE")
	if err != nil {
		t.Fatalf("HandleScan() error = %v", err)
	}
	e := out.Enrollment
	if e == nil || e.Success || e.Conflict == nil {
		t.Fatalf("HandleScan() = %+v, want conflict", out)
	}
	if e.Conflict.Kind != ConflictCardClaimed || e.Conflict.HolderUsername != "bob" {
		t.Errorf("conflict = %+v", e.Conflict)
	}
	if e.Entry.Event != EventEnrollmentFailed {
		t.Errorf("log event = %s", e.Entry.Event)
	}
	if svc.EnrollmentStatus().State != StateIdle {
		t.Error("state should be IDLE after conflict")
	}

	bobCard, err := repo.CardByUser(ctx, "usr-bob")
	if err != nil || bobCard.Status != CardActive || bobCard.UIDHash != Digest("CAFE") {
		t.Errorf("bob's card changed: %+v, %v", bobCard, err)
	}
	if _, err := repo.CardByUser(ctx, "usr-alice"); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("alice should have no card, err = %v", err)
	}
	if n := len(pub.onTopic(topics.ConfigRFID())); n != 0 {
		t.Errorf("whitelist pushed %d times on conflict", n)
	}
}

func TestService_StartEnrollmentRequiresConfirmation(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.AddCard(ctx, "usr-alice", "AAAA", false); err != nil {
		t.Fatalf("AddCard() error = %v", err)
	}

	_, err := svc.StartEnrollment(ctx, "usr-alice", false)
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Kind != ConflictCardExists || conflict.HolderUserID != "usr-alice" {
		t.Fatalf("StartEnrollment() error = %v, want ConflictCardExists", err)
	}
	if svc.EnrollmentStatus().State != StateIdle {
		t.Error("unconfirmed start should leave state IDLE")
	}

	if _, err := svc.StartEnrollment(ctx, "usr-alice", true); err != nil {
		t.Fatalf("confirmed StartEnrollment() error = %v", err)
	}
	if _, err := svc.StartEnrollment(ctx, "usr-ghost", true); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("StartEnrollment(unknown) error = %v, want ErrUserNotFound", err)
	}
	if _, err := svc.StartEnrollment(ctx, " ", true); !errors.Is(err, ErrMissingField) {
		t.Errorf("StartEnrollment(blank) error = %v, want ErrMissingField", err)
	}

	// Re-enrolling replaces the old card: one ACTIVE card per user and per digest.
	if _, err := svc.HandleScan(ctx, "BBBB"); err != nil {
		t.Fatalf("HandleScan() error = %v", err)
	}
	assertCardInvariants(t, svc)
	old, _ := svc.AuthenticateRFID(ctx, "", "AAAA")
	if old.Result.Granted || old.Result.Reason != ReasonUnknownCard {
		t.Errorf("old card after replacement = %+v", old.Result)
	}
}

func TestService_CancelEnrollment(t *testing.T) {
	svc, _, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	svc.StartEnrollment(ctx, "usr-alice", false) //nolint:errcheck // setup
	status, err := svc.CancelEnrollment(ctx)
	if err != nil || status.State != StateIdle {
		t.Fatalf("CancelEnrollment() = %+v, %v", status, err)
	}
	msgs := pub.onTopic(topics.Enrollment())
	if len(msgs) != 2 || msgs[1].(EnrollmentMessage).Action != ActionCancel {
		t.Errorf("door/enrollment messages = %+v", msgs)
	}

	// Scan after cancel is authentication, not enrollment.
	out, _ := svc.HandleScan(ctx, "AAAA")
	if out.Attempt == nil || out.Attempt.Result.Reason != ReasonUnknownCard {
		t.Errorf("scan after cancel = %+v", out)
	}
}

func TestService_RFIDAuthentication(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.AddCard(ctx, "usr-alice", "AAAA", false); err != nil {
		t.Fatalf("AddCard() error = %v", err)
	}

	byHash, err := svc.AuthenticateRFID(ctx, Digest("AAAA"), "")
	if err != nil {
		t.Fatalf("AuthenticateRFID() error = %v", err)
	}
	if !byHash.Result.Granted || byHash.Result.Method != MethodRFID || byHash.Result.UserID != "usr-alice" {
		t.Errorf("by hash = %+v", byHash.Result)
	}
	if byHash.Entry.RFIDUID != "AAAA" {
		t.Errorf("log rfid uid = %q, want AAAA", byHash.Entry.RFIDUID)
	}

	unknown, _ := svc.AuthenticateRFID(ctx, "", "FFFF")
	if unknown.Result.Granted || unknown.Result.Method != MethodInvalidRFID || unknown.Result.Reason != ReasonUnknownCard {
		t.Errorf("unknown = %+v", unknown.Result)
	}

	if _, err := svc.ReportLost(ctx, "usr-alice"); err != nil {
		t.Fatalf("ReportLost() error = %v", err)
	}
	revoked, _ := svc.AuthenticateRFID(ctx, "", "AAAA")
	if revoked.Result.Granted || revoked.Result.Method != MethodCardRevoked || revoked.Result.Reason != ReasonCardRevoked {
		t.Errorf("revoked = %+v", revoked.Result)
	}

	if _, err := svc.AuthenticateRFID(ctx, "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("AuthenticateRFID(empty) error = %v, want ErrMissingField", err)
	}
}

func TestService_EveryAttemptLoggedOnce(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	svc.AddCard(ctx, "usr-alice", "AAAA", false) //nolint:errcheck // setup
	base := len(allLogs(t, svc))

	pin := func(p string) func() (*Attempt, error) {
		return func() (*Attempt, error) { return svc.VerifyPIN(ctx, p) }
	}
	card := func(uid string) func() (*Attempt, error) {
		return func() (*Attempt, error) { return svc.AuthenticateRFID(ctx, "", uid) }
	}
	// Five consecutive failures cross the default threshold on the
	// unknown card; the sixth keeps the alarm condition.
	attempts := []func() (*Attempt, error){
		pin("1234"),
		pin("0000"),
		pin("9999"),
		card("ZZZZ"),
		pin("0000"),
		card("ZZZZ"),
		pin("0000"),
		card("AAAA"),
		func() (*Attempt, error) {
			out, err := svc.HandleScan(ctx, "AAAA")
			if err != nil {
				return nil, err
			}
			return out.Attempt, nil
		},
	}
	alarmAt := 5
	for i, fn := range attempts {
		a, err := fn()
		if err != nil {
			t.Fatalf("attempt %d error = %v", i, err)
		}
		if want := i == alarmAt || i == alarmAt+1; a.Alarm != want {
			t.Errorf("attempt %d: Alarm = %v, want %v", i, a.Alarm, want)
		}
		logs := allLogs(t, svc)
		if len(logs) != base+i+1 {
			t.Fatalf("attempt %d: %d log entries, want %d", i, len(logs), base+i+1)
		}
		newest := logs[0]
		if newest.ID != a.Entry.ID || newest.Event == "" || newest.Method == "" || newest.CreatedAt.IsZero() {
			t.Errorf("attempt %d: newest entry = %+v", i, newest)
		}
		if newest.Event == EventAlarmTriggered {
			t.Errorf("attempt %d: alarm logged as its own entry", i)
		}
	}
}

func TestService_FeedMatchesLog(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{AlarmThreshold: 3})
	feed := &recordingFeed{}
	svc.SetBroadcaster(feed)
	ctx := context.Background()

	for range 3 {
		svc.VerifyPIN(ctx, "0000") //nolint:errcheck // failures up to the alarm
	}
	if _, err := svc.Unlock(ctx, "usr-alice"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if _, err := svc.AddCard(ctx, "usr-alice", "AAAA", false); err != nil {
		t.Fatalf("AddCard() error = %v", err)
	}
	if _, err := svc.ReportLost(ctx, "usr-alice"); err != nil {
		t.Fatalf("ReportLost() error = %v", err)
	}
	if _, err := svc.StartEnrollment(ctx, "usr-bob", false); err != nil {
		t.Fatalf("StartEnrollment() error = %v", err)
	}
	if _, err := svc.HandleScan(ctx, "BBBB"); err != nil {
		t.Fatalf("HandleScan() error = %v", err)
	}
	if _, err := svc.RecordDeviceAlarm(ctx, ""); err != nil {
		t.Fatalf("RecordDeviceAlarm() error = %v", err)
	}
	if _, err := svc.RecordDoorSensor(ctx, "contact-1", false); err != nil {
		t.Fatalf("RecordDoorSensor() error = %v", err)
	}

	logs := allLogs(t, svc)
	sent := feed.sent()
	if len(sent) != len(logs) {
		t.Fatalf("feed events = %d, log entries = %d", len(sent), len(logs))
	}
	stored := make(map[string]string, len(logs))
	for _, e := range logs {
		stored[e.ID] = e.Event
	}
	for _, e := range sent {
		if stored[e.ID] != e.Event {
			t.Errorf("feed event %s (%s) not in the log", e.ID, e.Event)
		}
		delete(stored, e.ID)
	}
	if len(stored) != 0 {
		t.Errorf("log entries never broadcast: %v", stored)
	}
}

func TestService_FeedSkipsUnstoredEntries(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	feed := &recordingFeed{}
	svc.SetBroadcaster(feed)

	// An entry without a method is rejected by the repository.
	svc.mu.Lock()
	var box outbox
	svc.appendLocked(context.Background(), &box, LogEntry{DoorID: "door-x", Event: EventDoorOpened})
	svc.mu.Unlock()
	svc.flush(context.Background(), &box)

	if n := len(feed.sent()); n != 0 {
		t.Errorf("feed events = %d, want 0", n)
	}
}

func TestService_ChangePIN(t *testing.T) {
	svc, _, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if err := svc.ChangePIN(ctx, "12", "1234"); !errors.Is(err, ErrInvalidPIN) {
		t.Errorf("malformed new PIN error = %v, want ErrInvalidPIN", err)
	}
	if err := svc.ChangePIN(ctx, "5678", "0000"); !errors.Is(err, ErrWrongPIN) {
		t.Errorf("wrong current PIN error = %v, want ErrWrongPIN", err)
	}
	if err := svc.ChangePIN(ctx, "5678", "bad"); !errors.Is(err, ErrWrongPIN) {
		t.Errorf("malformed current PIN error = %v, want ErrWrongPIN", err)
	}
	if n := len(pub.onTopic(topics.ConfigPIN())); n != 0 {
		t.Fatalf("config/pin published %d times before a valid change", n)
	}

	if err := svc.ChangePIN(ctx, "5678", "1234"); err != nil {
		t.Fatalf("ChangePIN() error = %v", err)
	}
	msgs := pub.onTopic(topics.ConfigPIN())
	if len(msgs) != 1 || msgs[0].(PINConfigMessage).PINHash != Digest("5678") {
		t.Errorf("config/pin = %+v", msgs)
	}

	old, _ := svc.VerifyPIN(ctx, "1234")
	updated, _ := svc.VerifyPIN(ctx, "5678")
	if old.Result.Granted || !updated.Result.Granted {
		t.Errorf("old granted=%v new granted=%v", old.Result.Granted, updated.Result.Granted)
	}
}

func TestService_AddCardConflicts(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.AddCard(ctx, "usr-alice", "AAAA", false); err != nil {
		t.Fatalf("AddCard() error = %v", err)
	}

	var conflict *ConflictError
	_, err := svc.AddCard(ctx, "usr-bob", "AAAA", true)
	if !errors.As(err, &conflict) || conflict.Kind != ConflictCardClaimed || conflict.HolderUsername != "alice" {
		t.Errorf("AddCard(claimed) error = %v", err)
	}

	_, err = svc.AddCard(ctx, "usr-alice", "BBBB", false)
	if !errors.As(err, &conflict) || conflict.Kind != ConflictCardExists {
		t.Errorf("AddCard(unconfirmed replace) error = %v", err)
	}

	if _, err := svc.AddCard(ctx, "usr-alice", "BBBB", true); err != nil {
		t.Fatalf("AddCard(confirmed) error = %v", err)
	}
	if _, err := svc.AddCard(ctx, "usr-bob", "AAAA", false); err != nil {
		t.Fatalf("AddCard(freed uid) error = %v", err)
	}
	assertCardInvariants(t, svc)

	if _, err := svc.AddCard(ctx, "usr-alice", "", false); !errors.Is(err, ErrMissingField) {
		t.Errorf("AddCard(empty uid) error = %v", err)
	}
}

func TestService_RevokeAndReportLost(t *testing.T) {
	svc, _, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	svc.AddCard(ctx, "usr-alice", "AAAA", false) //nolint:errcheck // setup
	svc.AddCard(ctx, "usr-bob", "BBBB", false)   //nolint:errcheck // setup
	pub.reset()

	card, err := svc.ReportLost(ctx, "usr-alice")
	if err != nil {
		t.Fatalf("ReportLost() error = %v", err)
	}
	if card.Status != CardRevoked {
		t.Errorf("status = %s", card.Status)
	}
	if _, err := svc.ReportLost(ctx, "usr-alice"); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("second ReportLost() error = %v, want ErrCardNotFound", err)
	}

	if _, err := svc.RevokeCard(ctx, "usr-bob"); err != nil {
		t.Fatalf("RevokeCard() error = %v", err)
	}

	pushes := pub.onTopic(topics.ConfigRFID())
	if len(pushes) != 2 {
		t.Fatalf("whitelist pushes = %d, want 2", len(pushes))
	}
	if last := pushes[1].(WhitelistMessage); len(last.Whitelist) != 0 {
		t.Errorf("final whitelist = %+v, want empty", last.Whitelist)
	}

	lost, _ := svc.Logs(ctx, LogQuery{Events: []string{EventCardReportedLost}})
	if lost.Total != 1 || lost.Entries[0].Method != MethodUserReport || lost.Entries[0].UserID != "usr-alice" {
		t.Errorf("card_reported_lost entries = %+v", lost)
	}
}

func TestService_HistoryExcludesAdministrativeEvents(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	svc.StartEnrollment(ctx, "usr-alice", false) //nolint:errcheck // setup
	svc.HandleScan(ctx, "AAAA")                  //nolint:errcheck // enrollment_success
	svc.ReportLost(ctx, "usr-alice")             //nolint:errcheck // card_reported_lost
	svc.VerifyPIN(ctx, "1234")                   //nolint:errcheck // access_granted
	svc.RecordDoorSensor(ctx, "sensor-1", true)  //nolint:errcheck // door_opened

	history, err := svc.History(ctx, LogQuery{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if history.Total != 2 {
		t.Errorf("History() total = %d, want 2", history.Total)
	}
	for _, e := range history.Entries {
		if !IsHistoryEvent(e.Event) {
			t.Errorf("History() returned administrative event %s", e.Event)
		}
	}

	filtered, _ := svc.History(ctx, LogQuery{Events: []string{EventEnrollmentSuccess}})
	if filtered.Total != 0 || len(filtered.Entries) != 0 {
		t.Errorf("History(enrollment filter) = %+v, want empty", filtered)
	}

	all, _ := svc.Logs(ctx, LogQuery{})
	if all.Total != 4 || all.Limit != DefaultLogLimit {
		t.Errorf("Logs() total = %d limit = %d", all.Total, all.Limit)
	}
}

func TestService_UnlockAndResetAlarm(t *testing.T) {
	svc, _, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	entry, err := svc.Unlock(ctx, "usr-alice")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if entry.Event != EventDoorOpened || entry.Method != MethodWebAdmin || entry.UserID != "usr-alice" {
		t.Errorf("unlock entry = %+v", entry)
	}

	svc.VerifyPIN(ctx, "0000") //nolint:errcheck // one failure
	if err := svc.ResetAlarm(ctx); err != nil {
		t.Fatalf("ResetAlarm() error = %v", err)
	}
	if svc.FailedAttempts() != 0 {
		t.Error("ResetAlarm() should clear the counter")
	}

	cmds := pub.onTopic(topics.Command())
	if len(cmds) != 2 || cmds[0].(CommandMessage).Action != ActionUnlock || cmds[1].(CommandMessage).Action != ActionResetAlarm {
		t.Errorf("commands = %+v", cmds)
	}

	pub.err = errBrokerDown
	before := len(allLogs(t, svc))
	if _, err := svc.Unlock(ctx, "usr-alice"); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Unlock() with broker down error = %v, want ErrCommandFailed", err)
	}
	if len(allLogs(t, svc)) != before {
		t.Error("failed unlock should not be logged")
	}
}

func TestService_PublishFailureDoesNotAbort(t *testing.T) {
	svc, _, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	pub.err = errBrokerDown

	if _, err := svc.AddCard(ctx, "usr-alice", "AAAA", false); err != nil {
		t.Fatalf("AddCard() with broker down error = %v", err)
	}
	if err := svc.ChangePIN(ctx, "4321", "1234"); err != nil {
		t.Fatalf("ChangePIN() with broker down error = %v", err)
	}
	a, _ := svc.AuthenticateRFID(ctx, "", "AAAA")
	if !a.Result.Granted {
		t.Error("card stored despite publish failure should authenticate")
	}
}

func TestService_RepublishConfigAndInit(t *testing.T) {
	svc, repo, pub := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	svc.AddCard(ctx, "usr-alice", "AAAA", false) //nolint:errcheck // setup
	pub.reset()

	if err := svc.RepublishConfig(ctx); err != nil {
		t.Fatalf("RepublishConfig() error = %v", err)
	}
	pin := pub.onTopic(topics.ConfigPIN())
	wl := pub.onTopic(topics.ConfigRFID())
	if len(pin) != 1 || pin[0].(PINConfigMessage).PINHash != Digest("1234") {
		t.Errorf("config/pin = %+v", pin)
	}
	if len(wl) != 1 || len(wl[0].(WhitelistMessage).Whitelist) != 1 {
		t.Errorf("config/rfid = %+v", wl)
	}

	// A restart clears enrollment left on the door row.
	d, _ := repo.GetDoor(ctx)
	if err := repo.SetEnrollment(ctx, d.ID, true, "usr-bob"); err != nil {
		t.Fatalf("SetEnrollment() error = %v", err)
	}
	restarted := NewService(repo, pub, ServiceConfig{DefaultPIN: "1234"})
	if err := restarted.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if d, _ := repo.GetDoor(ctx); d.Enrolling || d.EnrollUserID != "" {
		t.Errorf("door after Init = %+v", d)
	}
	if restarted.EnrollmentStatus().State != StateIdle {
		t.Error("restarted service should be IDLE")
	}

	bad := NewService(repo, pub, ServiceConfig{DefaultPIN: "12"})
	if err := bad.Init(ctx); !errors.Is(err, ErrInvalidPIN) {
		t.Errorf("Init(bad default PIN) error = %v, want ErrInvalidPIN", err)
	}
}

func TestService_DeviceReports(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	svc.AddCard(ctx, "usr-bob", "BBBB", false) //nolint:errcheck // setup

	entry, err := svc.RecordDeviceAccess(ctx, EventAccessGranted, "keypad", "BBBB")
	if err != nil {
		t.Fatalf("RecordDeviceAccess() error = %v", err)
	}
	if entry.UserID != "usr-bob" || entry.Method != "keypad" {
		t.Errorf("device access entry = %+v", entry)
	}
	if _, err := svc.RecordDeviceAccess(ctx, "", "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("RecordDeviceAccess(no event) error = %v", err)
	}
	if e, _ := svc.RecordDeviceAccess(ctx, EventDoorOpened, "", ""); e.Method != MethodSystem {
		t.Errorf("default method = %q", e.Method)
	}

	alarm, _ := svc.RecordDeviceAlarm(ctx, "BBBB")
	if alarm.Event != EventAlarmTriggered || alarm.Method != MethodSystem {
		t.Errorf("device alarm entry = %+v", alarm)
	}

	closed, _ := svc.RecordDoorSensor(ctx, "contact-1", false)
	if closed.Event != EventDoorClosed || closed.Method != "contact-1" {
		t.Errorf("door sensor entry = %+v", closed)
	}

	if err := svc.SetOnline(ctx, true); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	if d, _ := repo.GetDoor(ctx); !d.Online || d.LastSeen == nil {
		t.Errorf("door after SetOnline = %+v", d)
	}

	view, err := svc.Door(ctx)
	if err != nil || len(view.Cards) != 1 || view.Cards[0].Username != "bob" || !view.Door.Online {
		t.Errorf("Door() = %+v, %v", view, err)
	}
}

// assertCardInvariants checks that no user and no digest has two ACTIVE cards.
func assertCardInvariants(t *testing.T, svc *Service) {
	t.Helper()
	view, err := svc.Door(context.Background())
	if err != nil {
		t.Fatalf("Door() error = %v", err)
	}
	users := map[string]bool{}
	hashes := map[string]bool{}
	for _, c := range view.Cards {
		if users[c.UserID] {
			t.Errorf("user %s has two ACTIVE cards", c.UserID)
		}
		if hashes[c.UIDHash] {
			t.Errorf("digest %s is ACTIVE twice", shortDigest(c.UIDHash))
		}
		users[c.UserID] = true
		hashes[c.UIDHash] = true
	}
}

func TestService_ConcurrentTraffic(t *testing.T) {
	tests := []struct {
		name    string
		pins    int
		scans   int
		enrolls int
		// shared scans reuse a small UID pool, so enrolled cards can be
		// scanned again and users can race for the same digest.
		shared bool
	}{
		{name: "pins only", pins: 40},
		{name: "pins and unknown cards", pins: 20, scans: 20},
		{name: "scans during enrollment", scans: 30, enrolls: 10},
		{name: "mixed with shared cards", pins: 15, scans: 30, enrolls: 12, shared: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService(t, ServiceConfig{})
			feed := &recordingFeed{}
			svc.SetBroadcaster(feed)
			ctx := context.Background()
			users := []string{"usr-alice", "usr-bob"}

			var denied, granted atomic.Int64
			count := func(a *Attempt) {
				if a.Result.Granted {
					granted.Add(1)
				} else {
					denied.Add(1)
				}
			}

			var wg sync.WaitGroup
			for range tt.pins {
				wg.Go(func() {
					a, err := svc.VerifyPIN(ctx, "0000")
					if err != nil {
						t.Errorf("VerifyPIN() error = %v", err)
						return
					}
					count(a)
				})
			}
			for i := range tt.scans {
				uid := fmt.Sprintf("UID-%03d", i)
				if tt.shared {
					uid = fmt.Sprintf("UID-%d", i%3)
				}
				wg.Go(func() {
					out, err := svc.HandleScan(ctx, uid)
					if err != nil {
						t.Errorf("HandleScan(%s) error = %v", uid, err)
						return
					}
					if out.Attempt != nil {
						count(out.Attempt)
					}
				})
			}
			for i := range tt.enrolls {
				userID := users[i%len(users)]
				wg.Go(func() {
					if _, err := svc.StartEnrollment(ctx, userID, true); err != nil {
						t.Errorf("StartEnrollment(%s) error = %v", userID, err)
					}
				})
			}
			wg.Wait()

			// Every PIN attempt and every scan writes exactly one row.
			logs := allLogs(t, svc)
			if want := tt.pins + tt.scans; len(logs) != want {
				t.Errorf("log entries = %d, want %d", len(logs), want)
			}
			if n := len(feed.sent()); n != len(logs) {
				t.Errorf("feed events = %d, log entries = %d", n, len(logs))
			}
			for _, e := range logs {
				if e.Event == EventAlarmTriggered {
					t.Errorf("alarm logged as its own entry")
				}
			}

			got := int64(svc.FailedAttempts())
			switch {
			case granted.Load() == 0 && got != denied.Load():
				t.Errorf("FailedAttempts() = %d, want %d", got, denied.Load())
			case got > denied.Load():
				t.Errorf("FailedAttempts() = %d exceeds %d denials", got, denied.Load())
			}

			view, err := svc.Door(ctx)
			if err != nil {
				t.Fatalf("Door() error = %v", err)
			}
			cards, err := repo.ActiveCards(ctx, view.Door.ID)
			if err != nil {
				t.Fatalf("ActiveCards() error = %v", err)
			}
			byUser := make(map[string]int)
			byHash := make(map[string]int)
			for _, c := range cards {
				byUser[c.UserID]++
				byHash[c.UIDHash]++
			}
			for id, n := range byUser {
				if n > 1 {
					t.Errorf("user %s holds %d active cards", id, n)
				}
			}
			for hash, n := range byHash {
				if n > 1 {
					t.Errorf("digest %s is active on %d cards", shortDigest(hash), n)
				}
			}
		})
	}
}
