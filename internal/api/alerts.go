package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/notify"
)

type registerPushTokenRequest struct {
	Token    string          `json:"token" validate:"required"`
	Platform notify.Platform `json:"platform" validate:"required,oneof=android ios web"`
}

// handleListAlerts returns a page of alerts, newest first.
// Query: severity=INFO|WARNING|CRITICAL, unread=true, limit, offset.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := alert.Query{Severity: alert.Severity(strings.ToUpper(values.Get("severity")))}

	if raw := values.Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "unread must be true or false")
			return
		}
		q.UnreadOnly = unread
	}

	var ok bool
	if q.Limit, ok = parseNonNegative(w, values.Get("limit"), "limit"); !ok {
		return
	}
	if q.Offset, ok = parseNonNegative(w, values.Get("offset"), "offset"); !ok {
		return
	}

	page, err := s.alerts.List(r.Context(), q)
	if err != nil {
		if errors.Is(err, alert.ErrInvalidSeverity) {
			writeBadRequest(w, "severity must be INFO, WARNING or CRITICAL")
			return
		}
		s.logger.Error("list alerts failed", "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleMarkAlertRead acknowledges one alert.
func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			writeNotFound(w, "alert not found")
			return
		}
		s.logger.Error("mark alert read failed", "error", err)
		writeInternalError(w, "failed to update alert")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleRegisterPushToken stores the caller's device token.
func (s *Server) handleRegisterPushToken(w http.ResponseWriter, r *http.Request) {
	var req registerPushTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())

	t, err := s.push.Register(r.Context(), claims.Subject, req.Token, req.Platform)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidPlatform) || errors.Is(err, notify.ErrMissingToken) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("register push token failed", "error", err)
		writeInternalError(w, "failed to register push token")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleUnregisterPushToken removes one of the caller's device tokens.
func (s *Server) handleUnregisterPushToken(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	err := s.push.Unregister(r.Context(), claims.Subject, chi.URLParam(r, "token"))
	switch {
	case errors.Is(err, notify.ErrTokenNotFound):
		writeNotFound(w, "push token not found")
	case errors.Is(err, notify.ErrMissingToken):
		writeBadRequest(w, err.Error())
	case err != nil:
		s.logger.Error("unregister push token failed", "error", err)
		writeInternalError(w, "failed to remove push token")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
