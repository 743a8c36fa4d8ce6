package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-access/internal/auth"
)

// healthTimeout bounds each dependency check in GET /health.
const healthTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and login (no auth required)
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/doors", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDoorReadAll)).Get("/", s.handleGetDoor)
				r.With(s.requirePermission(auth.PermDoorReadAll)).Get("/logs", s.handleListDoorLogs)
				r.With(s.requirePermission(auth.PermDoorHistory)).Get("/history", s.handleDoorHistory)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermDoorOperate))
					r.Post("/pin/verify", s.handleVerifyPIN)
					r.Post("/unlock", s.handleUnlock)
					r.Post("/reset-alarm", s.handleResetAlarm)
				})

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermDoorConfigure))
					r.Patch("/pin", s.handleChangePIN)
					r.Get("/enrollment", s.handleEnrollmentStatus)
					r.Post("/enrollment/start", s.handleStartEnrollment)
					r.Post("/enrollment/cancel", s.handleCancelEnrollment)
					r.Post("/rfid", s.handleAddCard)
					r.Delete("/rfid/{userId}", s.handleRevokeCard)
				})

				r.With(s.requirePermission(auth.PermCardSelf)).Post("/rfid/report-lost", s.handleReportLost)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAlertRead))
				r.Get("/", s.handleListAlerts)
				r.Patch("/{id}/read", s.handleMarkAlertRead)
			})

			r.Route("/push-tokens", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermPushRegister))
				r.Post("/", s.handleRegisterPushToken)
				r.Delete("/{token}", s.handleUnregisterPushToken)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth reports the server and each registered dependency.
// Any failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	status, code := "ok", http.StatusOK

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
