// Package alert stores household alerts and fans each new alert out to
// the broker (home/alert/new), connected WebSocket clients (alert.new) and,
// when asked, push notifications.
//
// Fan-out is best-effort: once an alert is persisted, Raise succeeds even if
// every delivery channel fails.
package alert
