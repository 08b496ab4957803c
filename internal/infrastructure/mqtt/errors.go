package mqtt

import "errors"

// Sentinel errors of the broker link. Failures from paho are wrapped in
// one of these, so callers match with errors.Is.
var (
	// ErrNotConnected means the link to the broker is down. The node keeps
	// running and retries through Reconnect.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a refused or cancelled connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed covers oversize payloads, a missing broker ack
	// within the publish timeout and paho errors.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects a QoS outside 0..2 before it reaches paho.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
