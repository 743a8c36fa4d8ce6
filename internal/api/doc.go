// Package api implements the HTTP REST API and WebSocket server for Gray Logic Access.
//
// This package provides:
//   - Door administration: PIN change, enrollment, cards, remote unlock
//   - Access history and the full access log
//   - Alerts, push-token registration and user management
//   - A WebSocket hub broadcasting new alerts in real time
//
// # Security
//
// Every route except health and login requires a JWT bearer token. Routes
// are gated by permission, not role, so the role matrix lives in one place
// (auth.rolePermissions). WebSocket connections use single-use tickets to
// prevent token leakage in URLs.
//
// # Graceful Degradation
//
// The server operates without MQTT. Reads, enrollment bookkeeping and
// alerts keep working; unlock and reset-alarm answer 503 because the
// command cannot reach the controller.
package api
