package mqtt

import (
	"errors"
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Errors returned by Client. Broker-side failures wrap the matching
// sentinel, so callers test with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: connecting to broker")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscription change failed")
	ErrInvalidTopic     = errors.New("mqtt: invalid topic")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
)

// await blocks on token for at most operationTimeout and wraps any
// failure in kind.
func await(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: no broker ack within %v", kind, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

// checkTopic validates a topic name for publishing. Wildcards are only
// legal in subscription filters.
func checkTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// checkFilter validates a subscription filter: "+" must fill a whole level
// and "#" may only be the final level.
func checkFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: # must be the last level in %q", ErrInvalidTopic, filter)
		case level != "+" && level != "#" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: partial-level wildcard in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}
