package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/mqtt"
)

// Topic parsing errors.
var (
	// ErrForeignTopic is returned for topics outside this device's subtree.
	ErrForeignTopic = errors.New("router: topic not addressed to this device")

	// ErrUnknownTopic is returned for device topics the node does not handle.
	ErrUnknownTopic = errors.New("router: unknown topic")
)

// MessageKind classifies an inbound message once, at parse time.
type MessageKind uint8

const (
	KindUnknown MessageKind = iota
	SensorCommand
	ActuatorCommand
	Emergency
	BroadcastEmergency
	SystemCommand
	Config
	ZoneAssign
	SubzoneAssign
	SubzoneRemove
	HeartbeatAck
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	SensorCommand:      "sensor_command",
	ActuatorCommand:    "actuator_command",
	Emergency:          "emergency",
	BroadcastEmergency: "broadcast_emergency",
	SystemCommand:      "system_command",
	Config:             "config",
	ZoneAssign:         "zone_assign",
	SubzoneAssign:      "subzone_assign",
	SubzoneRemove:      "subzone_remove",
	HeartbeatAck:       "heartbeat_ack",
}

func (k MessageKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsEmergency reports whether messages of this kind jump the queue.
func (k MessageKind) IsEmergency() bool {
	return k == Emergency || k == BroadcastEmergency
}

// Route is a parsed topic. GPIO is -1 for topics without a pin segment.
type Route struct {
	Kind MessageKind
	GPIO int
}

// ParseTopic classifies topic relative to the device prefix of t.
func ParseTopic(t mqtt.Topics, topic string) (Route, error) {
	if topic == mqtt.TopicBroadcastEmergency {
		return Route{Kind: BroadcastEmergency, GPIO: -1}, nil
	}
	rest, ok := strings.CutPrefix(topic, t.Prefix())
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrForeignTopic, topic)
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		if parts[0] == "config" {
			return Route{Kind: Config, GPIO: -1}, nil
		}
	case 2:
		var kind MessageKind
		switch rest {
		case "actuator/emergency":
			kind = Emergency
		case "system/command":
			kind = SystemCommand
		case "system/heartbeat_ack":
			kind = HeartbeatAck
		case "zone/assign":
			kind = ZoneAssign
		case "subzone/assign":
			kind = SubzoneAssign
		case "subzone/remove":
			kind = SubzoneRemove
		}
		if kind != KindUnknown {
			return Route{Kind: kind, GPIO: -1}, nil
		}
	case 3:
		if parts[2] != "command" {
			break
		}
		pin, err := strconv.Atoi(parts[1])
		if err != nil {
			break
		}
		switch parts[0] {
		case "sensor":
			return Route{Kind: SensorCommand, GPIO: pin}, nil
		case "actuator":
			return Route{Kind: ActuatorCommand, GPIO: pin}, nil
		}
	}
	return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
}
