package alert

import (
	"errors"
	"time"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Alert types raised by the service.
const (
	TypeDoorAlarm     = "door_alarm"
	TypeAccessDenied  = "access_denied"
	TypeCardLost      = "card_lost"
	TypeFire          = "fire"
	TypeGas           = "gas"
	TypeDeviceOffline = "device_offline"
)

// Alert is a persisted alert.
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewAlert is the input to Service.Raise.
type NewAlert struct {
	Severity Severity
	Type     string
	Title    string
	Message  string
	// Notify also sends a push notification to every registered device.
	Notify bool
	// Data is attached to the push notification only.
	Data map[string]string
}

// Query selects a page of alerts, newest first.
type Query struct {
	Severity   Severity
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Page is one page of alerts plus the unpaginated total.
type Page struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Pagination bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// Sentinel errors.
var (
	ErrAlertNotFound   = errors.New("alert: not found")
	ErrInvalidSeverity = errors.New("alert: invalid severity")
	ErrMissingField    = errors.New("alert: type and title are required")
)
