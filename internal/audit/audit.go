// Package audit records administrative actions taken through the API:
// who changed the PIN, unlocked the door, or added and revoked cards.
//
// The door's own access log lives in package door. This trail answers a
// different question: which admin did what, and when.
package audit

import (
	"context"
	"time"
)

// Actions recorded in the trail.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionCommand = "command"
	ActionLogin   = "login"
)

// Entity types recorded in the trail.
const (
	EntityUser       = "user"
	EntityDoor       = "door"
	EntityCard       = "card"
	EntityEnrollment = "enrollment"
	EntitySession    = "session"
)

// SourceAPI marks entries written by the HTTP API.
const SourceAPI = "api"

// Pagination bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Entry is a single audit trail row.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Username   string         `json:"username,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int
	Offset     int
}

// Page is one page of entries plus the unpaginated total.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository persists audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*Page, error)
}
