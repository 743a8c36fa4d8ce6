package mqtt

import "fmt"

// Topic roots shared with the door controller firmware and the mobile app.
const (
	// TopicPrefixDoor is the base for every door controller topic.
	TopicPrefixDoor = "door"

	// TopicPrefixHome is the base for household sensors, alerts and service status.
	TopicPrefixHome = "home"
)

// Topics provides builders for the access-control MQTT topics.
// Using these helpers keeps topic strings consistent between subscribers
// and publishers.
//
//	topics := mqtt.Topics{}
//	topics.RFIDCheck()   // "door/rfid/check"
//	topics.RFIDResult()  // "door/rfid/result"
type Topics struct{}

// =============================================================================
// Inbound: door controller → service
// =============================================================================

// DoorAccess carries access events reported by the controller itself.
func (Topics) DoorAccess() string { return TopicPrefixDoor + "/access" }

// DoorAlarm carries the controller's own alarm reports.
func (Topics) DoorAlarm() string { return TopicPrefixDoor + "/alarm" }

// DoorStatus carries online/offline reports from the controller.
func (Topics) DoorStatus() string { return TopicPrefixDoor + "/status" }

// RFIDCheck carries raw card scans that may be enrollment input.
func (Topics) RFIDCheck() string { return TopicPrefixDoor + "/rfid/check" }

// RFIDAuth carries scans that must only be authenticated.
func (Topics) RFIDAuth() string { return TopicPrefixDoor + "/rfid/auth" }

// PINVerify carries keypad entries for server-side verification.
func (Topics) PINVerify() string { return TopicPrefixDoor + "/pin/verify" }

// =============================================================================
// Outbound: service → door controller
// =============================================================================

// EnrollmentResult reports the outcome of an enrollment scan.
func (Topics) EnrollmentResult() string { return TopicPrefixDoor + "/enrollment/result" }

// RFIDResult answers an RFID check or auth request.
func (Topics) RFIDResult() string { return TopicPrefixDoor + "/rfid/result" }

// PINResult answers a PIN verify request.
func (Topics) PINResult() string { return TopicPrefixDoor + "/pin/result" }

// ConfigRFID carries the full card whitelist.
func (Topics) ConfigRFID() string { return TopicPrefixDoor + "/config/rfid" }

// ConfigPIN carries the current PIN digest.
func (Topics) ConfigPIN() string { return TopicPrefixDoor + "/config/pin" }

// Command carries unlock and reset_alarm commands.
func (Topics) Command() string { return TopicPrefixDoor + "/command" }

// Enrollment tells the controller that enrollment mode started or stopped.
func (Topics) Enrollment() string { return TopicPrefixDoor + "/enrollment" }

// =============================================================================
// Home topics
// =============================================================================

// Sensor returns the topic for one sensor kind.
//
// Example: home/sensor/fire
func (Topics) Sensor(kind string) string {
	return fmt.Sprintf("%s/sensor/%s", TopicPrefixHome, kind)
}

// DeviceHeartbeat carries liveness pings from every device.
func (Topics) DeviceHeartbeat() string { return TopicPrefixHome + "/device/heartbeat" }

// AlertNew carries every alert raised by the service.
func (Topics) AlertNew() string { return TopicPrefixHome + "/alert/new" }

// ServiceStatus returns the retained online/offline topic for a client.
//
// Example: home/service/graylogic-access/status
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/service/%s/status", TopicPrefixHome, clientID)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllSensors matches every sensor kind.
//
// Pattern: home/sensor/+
func (t Topics) AllSensors() string { return t.Sensor("+") }

// Inbound lists every topic the access service consumes.
func (t Topics) Inbound() []string {
	return []string{
		t.DoorAccess(),
		t.DoorAlarm(),
		t.DoorStatus(),
		t.RFIDCheck(),
		t.RFIDAuth(),
		t.PINVerify(),
		t.AllSensors(),
		t.DeviceHeartbeat(),
	}
}
