// Package influxdb provides optional InfluxDB telemetry for Gray Logic Access.
//
// It wraps the official influxdb-client-go v2 library and records:
//   - Every authentication attempt (method, outcome, failure streak)
//   - Alarms raised by the service or reported by the controller
//   - Fire, gas and door sensor readings
//   - Device liveness transitions
//
// Telemetry is best-effort. A nil or disconnected Client drops writes, so
// callers never branch on whether InfluxDB is configured.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    client = nil
//	}
//	defer client.Close()
//
//	client.WriteAccessAttempt("rfid", true, 0)
package influxdb
