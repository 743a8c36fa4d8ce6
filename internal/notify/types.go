package notify

import (
	"errors"
	"time"
)

// Platform is the kind of device a token belongs to.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// IsValid reports whether p is a supported platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return true
	}
	return false
}

// PushToken is a device registration.
type PushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	Platform  Platform  `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is one message for one device, as handed to the gateway.
type Notification struct {
	Token    string            `json:"token"`
	Platform Platform          `json:"platform"`
	UserID   string            `json:"userId"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	SentAt   time.Time         `json:"sentAt"`
}

// Sentinel errors.
var (
	ErrInvalidPlatform = errors.New("notify: invalid platform")
	ErrMissingToken    = errors.New("notify: token is required")
	ErrTokenNotFound   = errors.New("notify: token not found")
	ErrDisabled        = errors.New("notify: redis sink disabled")
)
