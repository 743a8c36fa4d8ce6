package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/door"
)

// ─── Request/Response Types ────────────────────────────────────────

type changePINRequest struct {
	PIN        string `json:"pin" validate:"required"`
	CurrentPIN string `json:"currentPin" validate:"required"`
}

type verifyPINRequest struct {
	PIN string `json:"pin" validate:"required"`
}

type verifyPINResponse struct {
	Success        bool   `json:"success"`
	Method         string `json:"method"`
	Reason         string `json:"reason,omitempty"`
	FailedAttempts int    `json:"failedAttempts"`
	Alarm          bool   `json:"alarm"`
}

type startEnrollmentRequest struct {
	UserID         string `json:"userId" validate:"required"`
	ConfirmReplace bool   `json:"confirmReplace"`
}

type addCardRequest struct {
	UserID         string `json:"userId" validate:"required"`
	UID            string `json:"uid" validate:"required"`
	ConfirmReplace bool   `json:"confirmReplace"`
}

type cardHolder struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// conflictResponse is a 409 carrying what the client needs to offer an override.
type conflictResponse struct {
	Error
	Kind                door.ConflictKind `json:"kind"`
	RequireConfirmation bool              `json:"requireConfirmation,omitempty"`
	Holder              *cardHolder       `json:"holder,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleGetDoor returns the door, its active cards and the enrollment state.
func (s *Server) handleGetDoor(w http.ResponseWriter, r *http.Request) {
	view, err := s.door.Door(r.Context())
	if err != nil {
		s.writeDoorError(w, err, "get door")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleChangePIN replaces the door PIN after checking the current one.
func (s *Server) handleChangePIN(w http.ResponseWriter, r *http.Request) {
	var req changePINRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.door.ChangePIN(r.Context(), req.PIN, req.CurrentPIN); err != nil {
		s.writeDoorError(w, err, "change PIN")
		return
	}
	s.recordAction(r, audit.ActionUpdate, audit.EntityDoor, "",
		map[string]any{"field": "pin"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "pin_updated"})
}

// handleVerifyPIN evaluates a PIN exactly as if it had been typed on the keypad.
func (s *Server) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req verifyPINRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	attempt, err := s.pin.VerifyPIN(r.Context(), req.PIN)
	if err != nil {
		s.writeDoorError(w, err, "verify PIN")
		return
	}
	writeJSON(w, http.StatusOK, verifyPINResponse{
		Success:        attempt.Result.Granted,
		Method:         attempt.Result.Method,
		Reason:         attempt.Result.Reason,
		FailedAttempts: attempt.Failures,
		Alarm:          attempt.Alarm,
	})
}

// handleEnrollmentStatus returns the enrollment machine's state.
func (s *Server) handleEnrollmentStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.door.EnrollmentStatus())
}

// handleStartEnrollment puts the door into enrollment mode for a user.
func (s *Server) handleStartEnrollment(w http.ResponseWriter, r *http.Request) {
	var req startEnrollmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	status, err := s.door.StartEnrollment(r.Context(), req.UserID, req.ConfirmReplace)
	if err != nil {
		s.writeDoorError(w, err, "start enrollment")
		return
	}
	s.recordAction(r, audit.ActionCreate, audit.EntityEnrollment, req.UserID,
		map[string]any{"confirmReplace": req.ConfirmReplace})
	writeJSON(w, http.StatusOK, status)
}

// handleCancelEnrollment returns the door to IDLE.
func (s *Server) handleCancelEnrollment(w http.ResponseWriter, r *http.Request) {
	status, err := s.door.CancelEnrollment(r.Context())
	if err != nil {
		s.writeDoorError(w, err, "cancel enrollment")
		return
	}
	s.recordAction(r, audit.ActionDelete, audit.EntityEnrollment, "", nil)
	writeJSON(w, http.StatusOK, status)
}

// handleListDoorLogs returns every log entry, newest first.
func (s *Server) handleListDoorLogs(w http.ResponseWriter, r *http.Request) {
	q, ok := parseLogQuery(w, r)
	if !ok {
		return
	}
	page, err := s.door.Logs(r.Context(), q)
	if err != nil {
		s.writeDoorError(w, err, "list logs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleDoorHistory returns access events only.
func (s *Server) handleDoorHistory(w http.ResponseWriter, r *http.Request) {
	q, ok := parseLogQuery(w, r)
	if !ok {
		return
	}
	page, err := s.door.History(r.Context(), q)
	if err != nil {
		s.writeDoorError(w, err, "list history")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleUnlock commands the controller to open the door.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	entry, err := s.door.Unlock(r.Context(), claims.Subject)
	if err != nil {
		s.writeDoorError(w, err, "unlock")
		return
	}
	s.recordAction(r, audit.ActionCommand, audit.EntityDoor, entry.DoorID,
		map[string]any{"command": door.ActionUnlock})
	writeJSON(w, http.StatusOK, entry)
}

// handleResetAlarm clears the failed-attempt counter and silences the controller.
func (s *Server) handleResetAlarm(w http.ResponseWriter, r *http.Request) {
	if err := s.door.ResetAlarm(r.Context()); err != nil {
		s.writeDoorError(w, err, "reset alarm")
		return
	}
	s.recordAction(r, audit.ActionCommand, audit.EntityDoor, "",
		map[string]any{"command": door.ActionResetAlarm})
	writeJSON(w, http.StatusOK, map[string]string{"status": "alarm_reset"})
}

// handleAddCard binds a card UID to a user without a scan.
func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var req addCardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	card, err := s.door.AddCard(r.Context(), req.UserID, req.UID, req.ConfirmReplace)
	if err != nil {
		s.writeDoorError(w, err, "add card")
		return
	}
	s.recordAction(r, audit.ActionCreate, audit.EntityCard, card.ID,
		map[string]any{"userId": req.UserID})
	writeJSON(w, http.StatusCreated, card)
}

// handleRevokeCard revokes a user's active card.
func (s *Server) handleRevokeCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.door.RevokeCard(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.writeDoorError(w, err, "revoke card")
		return
	}
	s.recordAction(r, audit.ActionDelete, audit.EntityCard, card.ID,
		map[string]any{"userId": card.UserID})
	writeJSON(w, http.StatusOK, card)
}

// handleReportLost revokes the caller's own card and raises an alert.
func (s *Server) handleReportLost(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	card, err := s.door.ReportLost(r.Context(), claims.Subject)
	if err != nil {
		s.writeDoorError(w, err, "report lost card")
		return
	}
	s.recordAction(r, audit.ActionDelete, audit.EntityCard, card.ID,
		map[string]any{"reason": "reported_lost"})

	if _, err := s.alerts.Raise(r.Context(), alert.NewAlert{
		Severity: alert.SeverityWarning,
		Type:     alert.TypeCardLost,
		Title:    "Card reported lost",
		Message:  fmt.Sprintf("%s reported their card lost. It has been revoked.", claims.Username),
		Notify:   true,
		Data:     map[string]string{"userId": claims.Subject},
	}); err != nil {
		s.logger.Error("raising card-lost alert failed", "user_id", claims.Subject, "error", err)
	}

	writeJSON(w, http.StatusOK, card)
}

// ─── Helpers ───────────────────────────────────────────────────────

// writeDoorError maps door errors onto HTTP responses.
func (s *Server) writeDoorError(w http.ResponseWriter, err error, action string) {
	var conflict *door.ConflictError
	switch {
	case errors.As(err, &conflict):
		resp := conflictResponse{
			Error: Error{Status: http.StatusConflict, Code: ErrCodeConflict, Message: conflict.Error()},
			Kind:  conflict.Kind,
		}
		if conflict.Kind == door.ConflictCardExists {
			resp.RequireConfirmation = true
		} else {
			resp.Holder = &cardHolder{UserID: conflict.HolderUserID, Username: conflict.HolderUsername}
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, door.ErrInvalidPIN):
		writeValidationError(w, "pin must be exactly 4 digits")
	case errors.Is(err, door.ErrMissingField):
		writeBadRequest(w, "missing required field")
	case errors.Is(err, door.ErrWrongPIN):
		writeUnauthorized(w, "current PIN is incorrect")
	case errors.Is(err, door.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, door.ErrCardNotFound):
		writeNotFound(w, "no active card")
	case errors.Is(err, door.ErrCommandFailed):
		s.logger.Warn(action+" failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "door controller unreachable")
	default:
		s.logger.Error(action+" failed", "error", err)
		writeInternalError(w, "failed to "+action)
	}
}

// parseLogQuery reads ?event=a,b&limit=&offset=. Repeated event parameters
// are also accepted.
func parseLogQuery(w http.ResponseWriter, r *http.Request) (door.LogQuery, bool) {
	var q door.LogQuery
	values := r.URL.Query()

	for _, raw := range values["event"] {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				q.Events = append(q.Events, e)
			}
		}
	}

	var ok bool
	if q.Limit, ok = parseNonNegative(w, values.Get("limit"), "limit"); !ok {
		return q, false
	}
	if q.Offset, ok = parseNonNegative(w, values.Get("offset"), "offset"); !ok {
		return q, false
	}
	return q, true
}

// parseNonNegative parses an optional non-negative integer query parameter.
func parseNonNegative(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
