package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe routes every message matching filter to handler. Filters may
// use the "+" and "#" wildcards, e.g. Topics{}.AllSensors().
//
// The route is remembered and re-established by the client after each
// reconnect. Messages are handled one at a time, in arrival order, on
// paho's router goroutine (see buildClientOptions), so a slow handler
// delays every subscription.
//
// Parameters:
//   - filter: Topic filter
//   - qos: Maximum QoS for delivered messages
//   - handler: Called once per message
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or a wrapped ErrSubscribeFailed
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routesMu.Lock()
	c.routes[filter] = route{qos: qos, handler: handler}
	c.routesMu.Unlock()

	if err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(filter)
		return err
	}
	return nil
}

// SubscribeAll subscribes handler to each filter with the configured QoS,
// stopping at the first failure.
func (c *Client) SubscribeAll(filters []string, handler MessageHandler) error {
	for _, filter := range filters {
		if err := c.Subscribe(filter, byte(c.cfg.QoS), handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", filter, err)
		}
	}
	return nil
}

// Subscriptions returns the active filters, sorted.
func (c *Client) Subscriptions() []string {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	out := make([]string, 0, len(c.routes))
	for filter := range c.routes {
		out = append(out, filter)
	}
	sort.Strings(out)
	return out
}

func (c *Client) forget(filter string) {
	c.routesMu.Lock()
	delete(c.routes, filter)
	c.routesMu.Unlock()
}

// resubscribe re-issues every remembered route after a reconnect. Failures
// are logged; paho retries on the next reconnect.
func (c *Client) resubscribe() {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	for filter, r := range c.routes {
		token := c.client.Subscribe(filter, r.qos, c.wrapHandler(r.handler))
		go func(filter string) {
			if err := await(token, ErrSubscribeFailed); err != nil {
				c.log().Warn("restoring MQTT subscription", "filter", filter, "error", err)
			}
		}(filter)
	}
}
