package node

import (
	"encoding/json"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/breaker"
	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/lifecycle"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/sensor"
	"github.com/nerrad567/kaiser-edge/internal/watchdog"
)

// publishQoS is used for heartbeats and diagnostics.
const publishQoS byte = 1

// Heartbeat is published on system/heartbeat.
type Heartbeat struct {
	DeviceID       string                  `json:"esp_id"`
	State          lifecycle.State         `json:"state"`
	Reason         string                  `json:"reason,omitempty"`
	Approved       bool                    `json:"approved"`
	UptimeMs       uint32                  `json:"uptime_ms"`
	BootCount      uint16                  `json:"boot_count"`
	ZoneID         string                  `json:"zone_id,omitempty"`
	ActuatorCount  int                     `json:"actuator_count"`
	SensorCount    int                     `json:"sensor_count"`
	EmergencyState actuator.EmergencyState `json:"emergency_state"`
	ErrorCount     uint32                  `json:"error_count"`
	Breakers       []breaker.Snapshot      `json:"breakers"`
	Watchdog       watchdog.Status         `json:"watchdog"`
	Timestamp      uint32                  `json:"timestamp"`
}

// Status is the snapshot served by the portal. It is rebuilt by the loop
// after every tick.
type Status struct {
	DeviceID       string                  `json:"device_id"`
	Version        string                  `json:"version"`
	State          lifecycle.State         `json:"state"`
	Reason         string                  `json:"reason,omitempty"`
	Approved       bool                    `json:"approved"`
	Provisioned    bool                    `json:"provisioned"`
	UptimeMs       uint32                  `json:"uptime_ms"`
	BootCount      uint16                  `json:"boot_count"`
	LinkUp         bool                    `json:"link_up"`
	BusConnected   bool                    `json:"bus_connected"`
	ZoneID         string                  `json:"zone_id,omitempty"`
	EmergencyState actuator.EmergencyState `json:"emergency_state"`
	Actuators      []actuator.Status       `json:"actuators"`
	SensorCount    int                     `json:"sensor_count"`
	Breakers       []breaker.Snapshot      `json:"breakers"`
	Watchdog       watchdog.Status         `json:"watchdog"`
	PreviousReset  *watchdog.Diagnostics   `json:"previous_reset,omitempty"`
	ErrorCount     uint32                  `json:"error_count"`
	RecentFaults   []faults.Fault          `json:"recent_faults"`
	Timestamp      uint32                  `json:"timestamp"`
}

// DiagnosticsReport is published on system/diagnostics in reply to the
// diagnostics command.
type DiagnosticsReport struct {
	Status
	ActiveCritical []faults.Fault   `json:"active_critical"`
	Pins           []gpio.Pin       `json:"pins"`
	Subzones       []string         `json:"subzones"`
	Sensors        []sensor.Config  `json:"sensors"`
	Resume         *safety.Progress `json:"resume,omitempty"`
}

type previousRunReport struct {
	PreviousRun *watchdog.Diagnostics `json:"previous_watchdog_reset"`
	Timestamp   uint32                `json:"timestamp"`
}

// Status returns the snapshot taken at the end of the last tick. It is safe
// to call from any goroutine.
func (n *Node) Status() Status {
	if s := n.snapshot.Load(); s != nil {
		return *s
	}
	return Status{DeviceID: n.cfg.Topics.Device, Version: n.cfg.Version}
}

func (n *Node) buildStatus(now uint32) Status {
	s := Status{
		DeviceID:       n.cfg.Topics.Device,
		Version:        n.cfg.Version,
		State:          n.Lifecycle.State(),
		Reason:         n.Lifecycle.Reason(),
		Approved:       n.Lifecycle.Approved(),
		Provisioned:    n.provisioned,
		UptimeMs:       clock.Elapsed(now, n.startedAt),
		BootCount:      n.Lifecycle.BootDiagnostics().BootCount,
		LinkUp:         n.linkUp,
		BusConnected:   n.busUp,
		EmergencyState: n.Safety.DeviceState(),
		Actuators:      n.Actuators.Statuses(now),
		SensorCount:    n.Sensors.Len(),
		Breakers:       []breaker.Snapshot{n.Network.Snapshot(), n.Bus.Snapshot()},
		Watchdog:       n.Watchdog.Status(),
		PreviousReset:  n.previousRun,
		ErrorCount:     n.Faults.Count(),
		RecentFaults:   n.Faults.Recent(),
		Timestamp:      now,
	}
	if z := n.Router.Zone(); z != nil {
		s.ZoneID = z.ZoneID
	}
	return s
}

func (n *Node) publishSnapshot(now uint32) {
	s := n.buildStatus(now)
	n.snapshot.Store(&s)
}

// heartbeat publishes on the heartbeat interval while the state allows it
// and the bus is up.
func (n *Node) heartbeat(now uint32) {
	if !n.busUp || !n.Lifecycle.State().AllowsHeartbeat() {
		return
	}
	if !clock.Expired(now, n.heartbeatAt, n.cfg.HeartbeatIntervalMs) {
		return
	}
	n.sendHeartbeat(now)
}

func (n *Node) sendHeartbeat(now uint32) {
	n.heartbeatAt = now
	if !n.Lifecycle.State().AllowsHeartbeat() {
		return
	}
	hb := Heartbeat{
		DeviceID:       n.cfg.Topics.Device,
		State:          n.Lifecycle.State(),
		Reason:         n.Lifecycle.Reason(),
		Approved:       n.Lifecycle.Approved(),
		UptimeMs:       clock.Elapsed(now, n.startedAt),
		BootCount:      n.Lifecycle.BootDiagnostics().BootCount,
		ActuatorCount:  n.Actuators.Len(),
		SensorCount:    n.Sensors.Len(),
		EmergencyState: n.Safety.DeviceState(),
		ErrorCount:     n.Faults.Count(),
		Breakers:       []breaker.Snapshot{n.Network.Snapshot(), n.Bus.Snapshot()},
		Watchdog:       n.Watchdog.Status(),
		Timestamp:      now,
	}
	if z := n.Router.Zone(); z != nil {
		hb.ZoneID = z.ZoneID
	}
	n.publish(n.cfg.Topics.Heartbeat(), hb)
}

// periodicTelemetry samples sensors and writes actuator and health points
// on the telemetry interval. Sensor readings also go out on the bus once
// the node accepts configuration.
func (n *Node) periodicTelemetry(now uint32) {
	if !clock.Expired(now, n.telemetryAt, n.cfg.TelemetryIntervalMs) {
		return
	}
	n.telemetryAt = now

	if n.Lifecycle.State().AllowsConfiguration() && n.Sensors.Len() > 0 {
		for _, r := range n.Router.PublishReadings(now) {
			n.telemetry.WriteSensorReading(r.GPIO, r.SensorType, r.Raw)
		}
	}
	for _, st := range n.Actuators.Statuses(now) {
		n.telemetry.WriteActuatorStatus(st.GPIO, string(st.Type), st.State, st.PWM, st.RuntimeMs, st.Emergency.String())
	}
	wd := n.Watchdog.Status()
	n.telemetry.WriteHealth(map[string]interface{}{
		"state":          n.Lifecycle.State().String(),
		"uptime_ms":      clock.Elapsed(now, n.startedAt),
		"error_count":    n.Faults.Count(),
		"link_up":        n.linkUp,
		"bus_connected":  n.busUp,
		"emergency":      n.Safety.Latched(),
		"watchdog_feeds": wd.FeedCount,
	})
}

// publish encodes v and sends it through the bus publisher.
func (n *Node) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("encoding payload failed", "topic", topic, "error", err)
		return
	}
	if err := (busPublisher{n: n}).Publish(topic, payload, publishQoS, false); err != nil {
		n.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}
