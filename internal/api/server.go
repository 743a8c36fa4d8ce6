// Package api provides the HTTP REST API and WebSocket server for Gray Logic Access.
//
// It exposes door administration, access history, alerts, push-token
// registration and user management to the web admin and mobile apps.
//
// Lifecycle:
//
//	srv, err := api.New(deps)
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/door"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/notify"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// PINVerifier runs a PIN through the full attempt pipeline (log, counter,
// alarm alert, telemetry). dispatch.Router satisfies it.
type PINVerifier interface {
	VerifyPIN(ctx context.Context, pin string) (*door.Attempt, error)
}

// HealthChecker is a dependency reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps wires the server. Audit, Hub, PIN and Health are optional.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Auth    *auth.Service
	Door    *door.Service
	PIN     PINVerifier
	Alerts  *alert.Service
	Push    *notify.Service
	Audit   audit.Repository         // optional admin-action trail
	Hub     *Hub                     // shared hub, run by the caller
	Health  map[string]HealthChecker // name → checker, e.g. "database", "mqtt"
	Version string
}

// Server serves the REST API and the WebSocket feed.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	auth        *auth.Service
	door        *door.Service
	pin         PINVerifier
	alerts      *alert.Service
	push        *notify.Service
	health      map[string]HealthChecker
	version     string
	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool // true if hub was injected externally
	tickets     *ticketStore
	trail       *auditTrail
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// ErrMissingDependency is returned by New when a required service is nil.
var ErrMissingDependency = errors.New("api: missing dependency")

// New validates deps and builds a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	required := []struct {
		name    string
		present bool
	}{
		{"logger", deps.Logger != nil},
		{"auth service", deps.Auth != nil},
		{"door service", deps.Door != nil},
		{"alert service", deps.Alerts != nil},
		{"push service", deps.Push != nil},
	}
	for _, dep := range required {
		if !dep.present {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, dep.name)
		}
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		auth:    deps.Auth,
		door:    deps.Door,
		pin:     deps.PIN,
		alerts:  deps.Alerts,
		push:    deps.Push,
		health:  deps.Health,
		version: deps.Version,
		tickets: newTicketStore(),
		trail:   newAuditTrail(deps.Audit, deps.Logger),
		hub:     deps.Hub,
	}
	if s.pin == nil {
		s.pin = deps.Door
	}
	// An injected hub is owned, and run, by the caller.
	s.externalHub = s.hub != nil
	if !s.externalHub {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring broadcasters.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listen address and serves in the background. Binding
// happens before Start returns, so a port already in use is reported here.
//
// Parameters:
//   - ctx: Parent of the background workers (hub, ticket sweep, audit writer)
//
// Returns:
//   - error: The address could not be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var bg context.Context
	bg, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(bg)
	}
	go s.cleanTicketsLoop(bg)
	if s.trail != nil {
		go s.trail.run(bg)
	}

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.listener = ln

	tls := s.cfg.TLS
	s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var serveErr error
		if tls.Enabled {
			serveErr = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			serveErr = s.server.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", serveErr)
		}
	}()
	return nil
}

// Addr is the bound address, or "" before Start. With port 0 it reports
// the port the kernel picked.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the background workers and drains in-flight requests for up
// to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has bound the listener.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
