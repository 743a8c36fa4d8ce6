package dispatch

// Metrics receives telemetry points. influxdb.Client satisfies it and
// drops points while disconnected.
type Metrics interface {
	WriteAccessAttempt(method string, granted bool, consecutiveFailures int)
	WriteAlarm(source string, failCount int)
	WriteSensorReading(kind, deviceID string, detected bool, value float64)
	WriteDeviceLiveness(deviceID string, online bool)
}

type noopMetrics struct{}

func (noopMetrics) WriteAccessAttempt(string, bool, int)             {}
func (noopMetrics) WriteAlarm(string, int)                           {}
func (noopMetrics) WriteSensorReading(string, string, bool, float64) {}
func (noopMetrics) WriteDeviceLiveness(string, bool)                 {}
