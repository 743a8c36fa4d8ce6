// Package dispatch is the event router between the MQTT device channel and
// the door, alert and telemetry services.
//
// Router.HandleMessage is registered for every inbound topic. Each message
// is decoded, checked against the duplicate filter when it carries a
// messageId, and routed by topic:
//
//	door/access        controller-reported event  → access log (+ alert if denied)
//	door/alarm         controller alarm           → access log + CRITICAL alert
//	door/status        {online}                   → door online flag
//	door/rfid/check    raw scan                   → enrollment or authentication
//	door/rfid/auth     {uidHash|uid}              → authentication only
//	door/pin/verify    {pin}                      → PIN authentication
//	home/sensor/{kind} fire, gas, door            → telemetry, alerts, access log
//	home/device/heartbeat {deviceId}              → liveness tracker
//
// After every authentication the door service has already logged the
// attempt and fed the failed-attempt counter under its lock. The router
// then publishes exactly one result to the controller, records telemetry,
// and raises a CRITICAL alert with a push notification when the attempt
// tripped the alarm.
//
// Run drives the liveness sweep: a device that has not sent a heartbeat
// within the offline threshold produces one WARNING alert and is dropped
// from tracking until it beats again.
package dispatch
