// Package mqtt provides MQTT client connectivity for the edge node.
//
// This package manages:
//   - Connection to the coordinator's broker
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - The Kaiser topic hierarchy (see Topics)
//
// # Reconnection
//
// The client does not reconnect automatically. The node's control loop
// calls Reconnect when the bus circuit breaker allows an attempt and reports
// the outcome back to the breaker. Subscriptions made while connected are
// tracked and restored after every successful Reconnect.
//
// # Presence
//
// On connect the client publishes a retained online message to the device's
// system/will topic. The broker replaces it with the registered will if the
// node vanishes; Close publishes a graceful offline message first.
//
// # Usage
//
//	topics := mqtt.Topics{Coordinator: "god", Device: "esp-a1"}
//	client := mqtt.New(cfg.MQTT, topics)
//	if err := client.Reconnect(ctx); err != nil {
//	    // report to the bus breaker
//	}
//	defer client.Close()
//
//	client.Publish(topics.ActuatorStatus(5), payload, 1, true)
package mqtt
