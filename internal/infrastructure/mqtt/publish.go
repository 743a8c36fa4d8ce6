package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge
// it (or for operationTimeout at QoS 0).
//
// Parameters:
//   - topic: Concrete topic, no wildcards
//   - payload: At most maxPayloadSize bytes
//   - qos: 0, 1 or 2
//   - retained: Keep the message for future subscribers
//
// Returns:
//   - error: Validation error, ErrNotConnected or a wrapped ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishJSON encodes v and publishes it at the configured QoS. Door
// configuration topics are retained so a rebooted controller picks up the
// current whitelist and PIN digest straight away; everything else is not.
func (c *Client) PublishJSON(ctx context.Context, topic string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %T: %w", ErrPublishFailed, v, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), isRetainedTopic(topic))
}

func isRetainedTopic(topic string) bool {
	t := Topics{}
	return topic == t.ConfigRFID() || topic == t.ConfigPIN()
}
