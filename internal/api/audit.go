package api

import (
	"context"
	"net/http"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// auditQueueSize bounds pending audit writes. A full queue drops entries.
const auditQueueSize = 256

// auditTrail writes admin actions in the background so a slow disk never
// delays the response. A nil *auditTrail records nothing.
type auditTrail struct {
	repo   audit.Repository
	queue  chan audit.Entry
	logger *logging.Logger
}

func newAuditTrail(repo audit.Repository, logger *logging.Logger) *auditTrail {
	if repo == nil {
		return nil
	}
	return &auditTrail{repo: repo, queue: make(chan audit.Entry, auditQueueSize), logger: logger}
}

func (t *auditTrail) record(e audit.Entry) {
	if t == nil {
		return
	}
	e.Source = audit.SourceAPI
	select {
	case t.queue <- e:
	default:
		t.logger.Warn("audit queue full, entry dropped", "action", e.Action, "entity_type", e.EntityType)
	}
}

// run persists queued entries until ctx ends, then drains what is left.
func (t *auditTrail) run(ctx context.Context) {
	for {
		select {
		case e := <-t.queue:
			t.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-t.queue:
					t.write(e)
				default:
					return
				}
			}
		}
	}
}

func (t *auditTrail) write(e audit.Entry) {
	if err := t.repo.Create(context.Background(), &e); err != nil {
		t.logger.Error("writing audit entry", "action", e.Action, "entity_id", e.EntityID, "error", err)
	}
}

// recordAction attributes an action to the authenticated caller of r.
func (s *Server) recordAction(r *http.Request, action, entityType, entityID string, details map[string]any) {
	e := audit.Entry{Action: action, EntityType: entityType, EntityID: entityID, Details: details}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.UserID = claims.Subject
	}
	if id := requestID(r); id != "" {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["request_id"] = id
	}
	s.trail.record(e)
}

// handleListAuditLogs returns a page of admin actions, newest first.
//
// Query parameters:
//   - action: create, update, delete, command, login
//   - entity_type: user, door, card, enrollment, session
//   - entity_id, user_id: exact match
//   - limit, offset: pagination
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	var ok bool
	if filter.Limit, ok = parseNonNegative(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = parseNonNegative(w, q.Get("offset"), "offset"); !ok {
		return
	}

	page, err := s.trail.repo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
