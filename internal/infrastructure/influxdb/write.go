package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAccessAttempt  = "door_access"
	MeasurementAlarm          = "door_alarm"
	MeasurementSensor         = "sensor_reading"
	MeasurementDeviceLiveness = "device_liveness"
)

// WriteAccessAttempt records one authentication evaluation.
//
// Parameters:
//   - method: Method tag (pin, rfid, invalid_pin, ...)
//   - granted: Outcome of the evaluation
//   - consecutiveFailures: Failed-attempt counter after this attempt
func (c *Client) WriteAccessAttempt(method string, granted bool, consecutiveFailures int) {
	c.writePoint(MeasurementAccessAttempt,
		map[string]string{"method": method},
		map[string]interface{}{
			"granted":              granted,
			"consecutive_failures": consecutiveFailures,
		},
	)
}

// WriteAlarm records an alarm, raised by the service or reported by the controller.
func (c *Client) WriteAlarm(source string, failCount int) {
	c.writePoint(MeasurementAlarm,
		map[string]string{"source": source},
		map[string]interface{}{"fail_count": failCount},
	)
}

// WriteSensorReading records a fire, gas or door sensor report.
//
// Example:
//
//	client.WriteSensorReading("gas", "kitchen-gas-01", true, 412)
func (c *Client) WriteSensorReading(kind, deviceID string, detected bool, value float64) {
	c.writePoint(MeasurementSensor,
		map[string]string{"kind": kind, "device_id": deviceID},
		map[string]interface{}{"detected": detected, "value": value},
	)
}

// WriteDeviceLiveness records an online/offline transition for a device.
func (c *Client) WriteDeviceLiveness(deviceID string, online bool) {
	c.writePoint(MeasurementDeviceLiveness,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"online": online},
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
