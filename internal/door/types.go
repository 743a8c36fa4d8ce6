package door

import (
	"errors"
	"fmt"
	"time"
)

// Event tags written to the access log.
const (
	EventAccessGranted     = "access_granted"
	EventAccessDenied      = "access_denied"
	EventAlarmTriggered    = "alarm_triggered"
	EventDoorOpened        = "door_opened"
	EventDoorClosed        = "door_closed"
	EventEnrollmentSuccess = "enrollment_success"
	EventEnrollmentFailed  = "enrollment_failed"
	EventCardReportedLost  = "card_reported_lost"
)

// Method tags written to the access log. Devices may also report
// free-form actor strings, which are stored unchanged.
const (
	MethodPIN            = "pin"
	MethodRFID           = "rfid"
	MethodInvalidPIN     = "invalid_pin"
	MethodInvalidRFID    = "invalid_rfid"
	MethodCardRevoked    = "card_revoked"
	MethodWebAdmin       = "web_admin"
	MethodPhysicalButton = "physical_button"
	MethodSystem         = "system"
	MethodEnrollment     = "enrollment"
	MethodUserReport     = "user_report"
)

// Denial reasons carried in AuthResult.Reason.
const (
	ReasonWrongPIN    = "wrong_pin"
	ReasonUnknownCard = "unknown_card"
	ReasonCardRevoked = "card_revoked"
)

// HistoryEvents is the access-relevant subset shown in the history view.
// Card-management events are administrative and never appear there.
var HistoryEvents = []string{
	EventDoorOpened,
	EventDoorClosed,
	EventAccessGranted,
	EventAccessDenied,
	EventAlarmTriggered,
}

// IsHistoryEvent reports whether event belongs to the history view.
func IsHistoryEvent(event string) bool {
	for _, e := range HistoryEvents {
		if e == event {
			return true
		}
	}
	return false
}

// CardStatus is the lifecycle state of an RFID card.
type CardStatus string

const (
	CardActive  CardStatus = "ACTIVE"
	CardRevoked CardStatus = "REVOKED"
)

// Door is the singleton door row.
type Door struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	PINHash   string     `json:"-"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Enrolling bool       `json:"enrolling"`
	// EnrollUserID is set only while Enrolling.
	EnrollUserID string    `json:"enroll_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Card is an RFID card bound to one user.
type Card struct {
	ID        string     `json:"id"`
	DoorID    string     `json:"door_id"`
	UserID    string     `json:"user_id"`
	Username  string     `json:"username,omitempty"`
	UID       string     `json:"uid"`
	UIDHash   string     `json:"uid_hash"`
	Status    CardStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LogEntry is one immutable access-log row.
type LogEntry struct {
	ID        string    `json:"id"`
	DoorID    string    `json:"door_id"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Event     string    `json:"event"`
	Method    string    `json:"method"`
	RFIDUID   string    `json:"rfid_uid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogQuery selects a page of log entries, newest first.
type LogQuery struct {
	// Events restricts results to these tags. Empty means all.
	Events []string
	Limit  int
	Offset int
}

// LogPage is one page of log entries plus the unpaginated total.
type LogPage struct {
	Entries []LogEntry `json:"entries"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

// Pagination bounds for log reads.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// WhitelistEntry is one ACTIVE card as pushed to the controller.
type WhitelistEntry struct {
	UIDHash  string `json:"uidHash"`
	Username string `json:"username"`
}

// AuthResult is the outcome of one credential evaluation.
type AuthResult struct {
	Granted  bool   `json:"granted"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Method   string `json:"method"`
	Reason   string `json:"reason,omitempty"`
}

// Attempt is an evaluated credential after it has been logged and counted.
type Attempt struct {
	Result AuthResult
	Entry  LogEntry
	// Failures is the consecutive-failure count right after this attempt.
	Failures int
	// Alarm is true when this attempt took the counter to the threshold.
	Alarm bool
}

// Sentinel errors for door operations.
var (
	ErrInvalidPIN    = errors.New("door: PIN must be exactly 4 digits")
	ErrWrongPIN      = errors.New("door: current PIN is incorrect")
	ErrMissingField  = errors.New("door: missing required field")
	ErrDoorNotFound  = errors.New("door: door not found")
	ErrCardNotFound  = errors.New("door: no active card")
	ErrUserNotFound  = errors.New("door: user not found")
	ErrConflict      = errors.New("door: conflict")
	ErrCommandFailed = errors.New("door: command not delivered")
)

// ConflictKind distinguishes the two card conflicts.
type ConflictKind string

const (
	// ConflictCardExists means the target user already holds an ACTIVE card
	// and replacement was not confirmed.
	ConflictCardExists ConflictKind = "card_exists"

	// ConflictCardClaimed means the scanned UID is ACTIVE for another user.
	ConflictCardClaimed ConflictKind = "card_claimed"
)

// ConflictError carries enough detail for the caller to offer an override.
type ConflictError struct {
	Kind           ConflictKind
	HolderUserID   string
	HolderUsername string
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictCardExists:
		return fmt.Sprintf("door: user %s already has an active card", e.HolderUsername)
	case ConflictCardClaimed:
		return fmt.Sprintf("door: card is already registered to %s", e.HolderUsername)
	default:
		return "door: conflict"
	}
}

// Is makes errors.Is(err, ErrConflict) match any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// EnrollmentState is the enrollment machine's mode.
type EnrollmentState string

const (
	StateIdle      EnrollmentState = "IDLE"
	StateEnrolling EnrollmentState = "ENROLLING"
)

// EnrollmentStatus is a snapshot of the enrollment machine.
type EnrollmentStatus struct {
	State    EnrollmentState `json:"state"`
	UserID   string          `json:"userId,omitempty"`
	Username string          `json:"username,omitempty"`
}

// EnrollmentOutcome is the result of a scan consumed by enrollment.
type EnrollmentOutcome struct {
	Success  bool
	UserID   string
	Username string
	Card     *Card
	// Conflict is set when the UID is ACTIVE for another user.
	Conflict *ConflictError
	Entry    LogEntry
}

// ScanOutcome is the result of a door/rfid/check scan. Exactly one of
// Enrollment and Attempt is set.
type ScanOutcome struct {
	Enrollment *EnrollmentOutcome
	Attempt    *Attempt
}

// DoorView is the door with its ACTIVE cards.
type DoorView struct {
	Door       Door             `json:"door"`
	Cards      []Card           `json:"cards"`
	Enrollment EnrollmentStatus `json:"enrollment"`
}
