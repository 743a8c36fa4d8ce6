package dispatch

import "time"

// envelope carries the optional idempotency key shared by every inbound payload.
type envelope struct {
	MessageID string `json:"messageId,omitempty"`
}

// Inbound payloads.

type accessReport struct {
	Event   string `json:"event"`
	RFIDUID string `json:"rfidUid"`
	Method  string `json:"method"`
}

type alarmReport struct {
	Reason    string `json:"reason"`
	FailCount int    `json:"failCount"`
	LastRFID  string `json:"lastRfid"`
}

type statusReport struct {
	Online bool `json:"online"`
}

type rfidCheck struct {
	UID string `json:"uid"`
}

type rfidAuth struct {
	UIDHash string `json:"uidHash"`
	UID     string `json:"uid"`
}

type pinVerify struct {
	PIN string `json:"pin"`
}

type fireReading struct {
	DeviceID string  `json:"deviceId"`
	Detected bool    `json:"detected"`
	Value    float64 `json:"value"`
}

type gasReading struct {
	DeviceID string  `json:"deviceId"`
	Detected bool    `json:"detected"`
	PPM      float64 `json:"ppm"`
}

type doorReading struct {
	DeviceID string `json:"deviceId"`
	Open     bool   `json:"open"`
}

type heartbeat struct {
	DeviceID string `json:"deviceId"`
}

// Outbound payloads.

// RFIDResult answers door/rfid/check and door/rfid/auth.
type RFIDResult struct {
	UID       string    `json:"uid"`
	Allow     bool      `json:"allow"`
	Username  string    `json:"username,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PINResult answers door/pin/verify.
type PINResult struct {
	Allow     bool      `json:"allow"`
	Method    string    `json:"method"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EnrollmentResult reports a scan consumed by enrollment.
type EnrollmentResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReasonInvalidFormat answers a PIN that is not four digits.
const ReasonInvalidFormat = "invalid_format"
