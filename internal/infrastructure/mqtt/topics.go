package mqtt

import "fmt"

// Topic roots of the Kaiser hierarchy.
//
// Every per-device topic hangs under kaiser/{coordinator}/esp/{device}/.
// The only topic outside a device's own subtree is the broadcast emergency
// channel shared by all nodes.
const (
	// TopicRoot is the first level of every Kaiser topic.
	TopicRoot = "kaiser"

	// TopicBroadcastEmergency stops every node at once.
	TopicBroadcastEmergency = "kaiser/broadcast/emergency"
)

// Topics builds the topics of one device.
//
//	topics := mqtt.Topics{Coordinator: "god", Device: "esp-a1"}
//	topics.ActuatorStatus(5)
//	// Returns: "kaiser/god/esp/esp-a1/actuator/5/status"
type Topics struct {
	Coordinator string
	Device      string
}

// Prefix returns the device prefix including the trailing slash.
//
// Example: kaiser/god/esp/esp-a1/
func (t Topics) Prefix() string {
	return fmt.Sprintf("%s/%s/esp/%s/", TopicRoot, t.Coordinator, t.Device)
}

// =============================================================================
// Sensor Topics
// =============================================================================

// SensorData returns the topic raw readings are published on.
//
// Example: kaiser/god/esp/esp-a1/sensor/34/data
func (t Topics) SensorData(gpio int) string {
	return fmt.Sprintf("%ssensor/%d/data", t.Prefix(), gpio)
}

// SensorCommand returns the topic on-demand measurement requests arrive on.
func (t Topics) SensorCommand(gpio int) string {
	return fmt.Sprintf("%ssensor/%d/command", t.Prefix(), gpio)
}

// =============================================================================
// Actuator Topics
// =============================================================================

// ActuatorCommand returns the command topic for one actuator.
//
// Example: kaiser/god/esp/esp-a1/actuator/5/command
func (t Topics) ActuatorCommand(gpio int) string {
	return fmt.Sprintf("%sactuator/%d/command", t.Prefix(), gpio)
}

// ActuatorStatus returns the status topic for one actuator.
func (t Topics) ActuatorStatus(gpio int) string {
	return fmt.Sprintf("%sactuator/%d/status", t.Prefix(), gpio)
}

// ActuatorResponse returns the command response topic for one actuator.
func (t Topics) ActuatorResponse(gpio int) string {
	return fmt.Sprintf("%sactuator/%d/response", t.Prefix(), gpio)
}

// ActuatorAlert returns the alert topic for one actuator.
func (t Topics) ActuatorAlert(gpio int) string {
	return fmt.Sprintf("%sactuator/%d/alert", t.Prefix(), gpio)
}

// ActuatorEmergency returns the device-scoped emergency command topic.
//
// Example: kaiser/god/esp/esp-a1/actuator/emergency
func (t Topics) ActuatorEmergency() string {
	return t.Prefix() + "actuator/emergency"
}

// =============================================================================
// System Topics
// =============================================================================

// Heartbeat returns the periodic heartbeat topic.
func (t Topics) Heartbeat() string { return t.Prefix() + "system/heartbeat" }

// HeartbeatAck returns the topic the coordinator answers heartbeats on.
func (t Topics) HeartbeatAck() string { return t.Prefix() + "system/heartbeat_ack" }

// SystemCommand returns the system command topic.
func (t Topics) SystemCommand() string { return t.Prefix() + "system/command" }

// SystemResponse returns the topic system command results are published on.
func (t Topics) SystemResponse() string { return t.Prefix() + "system/response" }

// SystemEmergency returns the outbound device emergency event topic.
func (t Topics) SystemEmergency() string { return t.Prefix() + "system/emergency" }

// Diagnostics returns the diagnostics report topic.
func (t Topics) Diagnostics() string { return t.Prefix() + "system/diagnostics" }

// Will returns the last-will topic registered with the broker.
func (t Topics) Will() string { return t.Prefix() + "system/will" }

// =============================================================================
// Configuration Topics
// =============================================================================

// Config returns the batch configuration topic.
func (t Topics) Config() string { return t.Prefix() + "config" }

// ConfigResponse returns the aggregated configuration result topic.
func (t Topics) ConfigResponse() string { return t.Prefix() + "config_response" }

// ZoneAssign returns the zone assignment topic.
func (t Topics) ZoneAssign() string { return t.Prefix() + "zone/assign" }

// ZoneAck returns the zone assignment acknowledgement topic.
func (t Topics) ZoneAck() string { return t.Prefix() + "zone/ack" }

// SubzoneAssign returns the subzone assignment topic.
func (t Topics) SubzoneAssign() string { return t.Prefix() + "subzone/assign" }

// SubzoneRemove returns the subzone removal topic.
func (t Topics) SubzoneRemove() string { return t.Prefix() + "subzone/remove" }

// SubzoneAck returns the subzone acknowledgement topic.
func (t Topics) SubzoneAck() string { return t.Prefix() + "subzone/ack" }

// =============================================================================
// Subscriptions
// =============================================================================

// Inbound returns every topic pattern the node subscribes to.
func (t Topics) Inbound() []string {
	p := t.Prefix()
	return []string{
		p + "actuator/emergency",
		TopicBroadcastEmergency,
		p + "sensor/+/command",
		p + "actuator/+/command",
		p + "system/command",
		p + "system/heartbeat_ack",
		p + "config",
		p + "zone/assign",
		p + "subzone/assign",
		p + "subzone/remove",
	}
}
