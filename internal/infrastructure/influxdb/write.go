package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the node.
const (
	MeasurementActuator = "actuator"
	MeasurementSensor   = "sensor"
	MeasurementAlert    = "actuator_alert"
	MeasurementBreaker  = "breaker_transition"
	MeasurementSafety   = "safety_event"
	MeasurementWatchdog = "watchdog"
	MeasurementHealth   = "node_health"

	tagDevice = "device_id"
)

// WriteActuatorStatus records the state and accumulated runtime of one
// actuator. Runtime feeds wear tracking on the dashboard side.
func (c *Client) WriteActuatorStatus(gpio int, kind string, on bool, pwm uint8, runtimeMs uint64, emergency string) {
	c.write(actuatorPoint(gpio, kind, on, pwm, runtimeMs, emergency, time.Now()))
}

func actuatorPoint(gpio int, kind string, on bool, pwm uint8, runtimeMs uint64, emergency string, t time.Time) *write.Point {
	return write.NewPoint(
		MeasurementActuator,
		map[string]string{
			"gpio": strconv.Itoa(gpio),
			"type": kind,
		},
		map[string]interface{}{
			"state":      on,
			"pwm":        int64(pwm),
			"runtime_ms": int64(runtimeMs), // #nosec G115 -- runtime stays far below MaxInt64
			"emergency":  emergency,
		},
		t,
	)
}

// WriteSensorReading records one raw sensor sample.
func (c *Client) WriteSensorReading(gpio int, kind string, raw uint16) {
	c.write(write.NewPoint(
		MeasurementSensor,
		map[string]string{
			"gpio": strconv.Itoa(gpio),
			"type": kind,
		},
		map[string]interface{}{
			"raw": int64(raw),
		},
		time.Now(),
	))
}

// WriteAlert records an actuator alert such as a runtime protection trip.
func (c *Client) WriteAlert(gpio int, alertType, message string) {
	c.write(write.NewPoint(
		MeasurementAlert,
		map[string]string{
			"gpio":       strconv.Itoa(gpio),
			"alert_type": alertType,
		},
		map[string]interface{}{
			"message": message,
		},
		time.Now(),
	))
}

// WriteBreakerTransition records a circuit breaker state change.
func (c *Client) WriteBreakerTransition(service, from, to string, failures int) {
	c.write(breakerPoint(service, from, to, failures, time.Now()))
}

func breakerPoint(service, from, to string, failures int, t time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBreaker,
		map[string]string{
			"service": service,
			"to":      to,
		},
		map[string]interface{}{
			"from":     from,
			"failures": int64(failures),
		},
		t,
	)
}

// WriteSafetyEvent records an emergency stop, clear or resume.
func (c *Client) WriteSafetyEvent(kind, reason string, affected, failed int) {
	c.write(write.NewPoint(
		MeasurementSafety,
		map[string]string{
			"event": kind,
		},
		map[string]interface{}{
			"reason":   reason,
			"affected": int64(affected),
			"failed":   int64(failed),
		},
		time.Now(),
	))
}

// WriteWatchdogTimeout records a watchdog timeout captured at boot.
func (c *Client) WriteWatchdogTimeout(mode, reason, lastComponent string, feedCount uint64) {
	c.write(write.NewPoint(
		MeasurementWatchdog,
		map[string]string{
			"mode": mode,
		},
		map[string]interface{}{
			"reason":              reason,
			"last_feed_component": lastComponent,
			"feed_count":          int64(feedCount), // #nosec G115 -- feed count stays far below MaxInt64
		},
		time.Now(),
	))
}

// WriteHealth records the periodic node health sample.
func (c *Client) WriteHealth(fields map[string]interface{}) {
	c.write(write.NewPoint(MeasurementHealth, nil, fields, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.write(write.NewPoint(measurement, tags, fields, timestamp))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
