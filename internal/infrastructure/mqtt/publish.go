package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds outbound payloads. The largest message the node
// sends is a diagnostics report with every pin and actuator, well under it.
const maxPayloadSize = 64 << 10

// Publish sends payload on topic and waits for the broker to acknowledge
// it (for QoS 1 and 2), bounded by the publish timeout.
//
// Status topics are published retained so a coordinator that subscribes
// late sees the current actuator state; commands and events never are.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no ack after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
