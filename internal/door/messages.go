package door

import "time"

// Outbound payloads published to the controller.

// Config and command actions.
const (
	ActionUpdateRFID = "update_rfid"
	ActionUpdatePIN  = "update_pin"
	ActionUnlock     = "unlock"
	ActionResetAlarm = "reset_alarm"
	ActionStart      = "start"
	ActionCancel     = "cancel"
)

// WhitelistMessage is published on door/config/rfid after any card change.
type WhitelistMessage struct {
	Action    string           `json:"action"`
	Whitelist []WhitelistEntry `json:"whitelist"`
	Timestamp time.Time        `json:"timestamp"`
}

// PINConfigMessage is published on door/config/pin.
type PINConfigMessage struct {
	Action    string    `json:"action"`
	PINHash   string    `json:"pinHash"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is published on door/command.
type CommandMessage struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// EnrollmentMessage is published on door/enrollment.
type EnrollmentMessage struct {
	Action    string    `json:"action"`
	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
