// Package router turns inbound bus messages into component operations.
//
// A topic is parsed once into a Route; Handle then switches exhaustively on
// the MessageKind. Every handler validates its payload, calls the owning
// component and publishes a response where the protocol defines one.
// Component errors are mapped to wire fault codes in one place.
//
// The Router is owned by the control loop and is not safe for concurrent
// use.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/kaiser-edge/internal/lifecycle"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/sensor"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// publishQoS is used for every outbound message.
const publishQoS byte = 1

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// System carries out the commands that affect the whole process.
type System interface {
	// Reboot schedules a restart once the current message is handled.
	Reboot(reason string)
	// FactoryReset clears persisted state and component configuration.
	FactoryReset(ctx context.Context) error
	// Diagnostics returns the report published on system/diagnostics.
	Diagnostics(now uint32) any
}

// Recorder receives every alert and emergency event the router publishes.
type Recorder interface {
	RecordAlert(ctx context.Context, a actuator.Alert)
	RecordEvent(ctx context.Context, e safety.Event)
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps are the components the router operates on. Recorder is optional.
type Deps struct {
	Topics    mqtt.Topics
	Publisher Publisher
	Store     storage.Store
	Ledger    *gpio.Ledger
	Actuators *actuator.Registry
	Sensors   *sensor.Registry
	Safety    *safety.Controller
	Lifecycle *lifecycle.Machine
	Faults    *faults.Tracker
	Clock     clock.Clock
	System    System
	Recorder  Recorder
}

// Router dispatches parsed messages to the components in Deps.
type Router struct {
	Deps
	zone  *ZoneAssignment
	token string
	// fallbackToken is the configured token, used until one is stored.
	fallbackToken string
	logger        Logger
	newID         func() string
}

// New creates a router. Call Restore before handling messages.
func New(deps Deps) *Router {
	return &Router{Deps: deps, logger: noopLogger{}, newID: uuid.NewString}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Parse classifies a topic for this device.
func (r *Router) Parse(topic string) (Route, error) {
	return ParseTopic(r.Topics, topic)
}

// Zone returns the current zone assignment, or nil.
func (r *Router) Zone() *ZoneAssignment {
	if r.zone == nil {
		return nil
	}
	z := *r.zone
	return &z
}

// Handle processes one message.
func (r *Router) Handle(ctx context.Context, route Route, payload []byte) {
	now := r.Clock.Millis()
	r.logger.Debug("handling message", "kind", route.Kind.String(), "gpio", route.GPIO)

	switch route.Kind {
	case ActuatorCommand:
		r.handleActuatorCommand(route.GPIO, payload, now)
	case SensorCommand:
		r.handleSensorCommand(route.GPIO, payload, now)
	case Emergency, BroadcastEmergency:
		r.handleEmergency(ctx, route.Kind, payload, now)
	case SystemCommand:
		r.handleSystemCommand(ctx, payload, now)
	case Config:
		r.handleConfig(ctx, payload, now)
	case ZoneAssign:
		r.handleZoneAssign(ctx, payload, now)
	case SubzoneAssign:
		r.handleSubzoneAssign(ctx, payload, now)
	case SubzoneRemove:
		r.handleSubzoneRemove(ctx, payload, now)
	case HeartbeatAck:
		r.handleHeartbeatAck(ctx, payload, now)
	case KindUnknown:
		r.logger.Warn("dropping message of unknown kind")
	}
}

// =============================================================================
// Actuator and sensor commands
// =============================================================================

func (r *Router) handleActuatorCommand(pin int, payload []byte, now uint32) {
	var req CommandRequest
	resp := CommandResponse{GPIO: pin, Timestamp: now}
	if err := json.Unmarshal(payload, &req); err != nil {
		resp.CorrelationID = r.newID()
		r.respondCommand(resp, faults.PayloadParse, err)
		return
	}
	resp.Command = req.Command
	resp.CorrelationID = req.CorrelationID
	if resp.CorrelationID == "" {
		resp.CorrelationID = r.newID()
	}
	if req.Value != nil {
		resp.Value = *req.Value
	}

	cmd, err := actuator.ParseCommand(req.Command)
	if err != nil {
		r.respondCommand(resp, codeFor(err), err)
		return
	}
	// REARM is a maintenance command and stays available in every state.
	if state := r.Lifecycle.State(); cmd != actuator.CommandRearm && !state.AllowsActuation() {
		r.respondCommand(resp, faults.StateInvalid, fmt.Errorf("actuation not allowed in state %s", state))
		return
	}

	ack, err := r.Actuators.Execute(pin, cmd, resp.Value)
	if err != nil {
		r.respondCommand(resp, codeFor(err), err)
		return
	}
	resp.Success = true
	resp.State = ack.State
	resp.PWM = ack.PWM
	r.publish(r.Topics.ActuatorResponse(pin), resp, false)
	r.PublishStatus(pin, now)
}

func (r *Router) respondCommand(resp CommandResponse, code faults.Code, err error) {
	r.Faults.Record(code, faults.SeverityWarning, err.Error(), resp.Timestamp)
	r.logger.Warn("actuator command rejected", "gpio", resp.GPIO, "command", resp.Command, "error", err)
	resp.ErrorInfo = errorInfo(code, err.Error())
	r.publish(r.Topics.ActuatorResponse(resp.GPIO), resp, false)
}

func (r *Router) handleSensorCommand(pin int, payload []byte, now uint32) {
	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.Faults.Record(faults.PayloadParse, faults.SeverityWarning, err.Error(), now)
		r.logger.Warn("invalid sensor command", "gpio", pin, "error", err)
		return
	}
	if req.Command != "measure" {
		r.Faults.Record(faults.CommandInvalid, faults.SeverityWarning, req.Command, now)
		r.logger.Warn("unknown sensor command", "gpio", pin, "command", req.Command)
		return
	}
	reading, err := r.Sensors.Measure(pin, now)
	if err != nil {
		r.Faults.Record(codeFor(err), faults.SeverityWarning, err.Error(), now)
		r.logger.Warn("sensor measure failed", "gpio", pin, "error", err)
		return
	}
	r.publish(r.Topics.SensorData(pin), reading, false)
}

// =============================================================================
// Heartbeat
// =============================================================================

func (r *Router) handleHeartbeatAck(ctx context.Context, payload []byte, now uint32) {
	var ack HeartbeatAckPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		r.Faults.Record(faults.PayloadParse, faults.SeverityWarning, err.Error(), now)
		return
	}
	if err := r.Lifecycle.HeartbeatAck(ctx, lifecycle.ApprovalStatus(ack.Status), now); err != nil {
		r.Faults.Record(codeFor(err), faults.SeverityWarning, err.Error(), now)
		r.logger.Warn("heartbeat ack not applied", "status", ack.Status, "error", err)
	}
}

// =============================================================================
// Publishing
// =============================================================================

// PublishStatus publishes the retained status of one actuator.
func (r *Router) PublishStatus(pin int, now uint32) {
	if st, ok := r.Actuators.Status(pin, now); ok {
		r.publish(r.Topics.ActuatorStatus(pin), st, true)
	}
}

// PublishStatuses publishes the status of every actuator.
func (r *Router) PublishStatuses(now uint32) {
	for _, st := range r.Actuators.Statuses(now) {
		r.publish(r.Topics.ActuatorStatus(st.GPIO), st, true)
	}
}

// PublishReadings measures every active sensor and publishes the raw
// readings. Failed reads are recorded as faults and skipped.
func (r *Router) PublishReadings(now uint32) []sensor.Reading {
	var out []sensor.Reading
	for _, pin := range r.Sensors.GPIOs() {
		if cfg, ok := r.Sensors.Get(pin); !ok || !cfg.Active {
			continue
		}
		reading, err := r.Sensors.Measure(pin, now)
		if err != nil {
			r.Faults.Record(codeFor(err), faults.SeverityWarning, err.Error(), now)
			r.logger.Warn("sensor measure failed", "gpio", pin, "error", err)
			continue
		}
		r.publish(r.Topics.SensorData(pin), reading, false)
		out = append(out, reading)
	}
	return out
}

// PublishAlerts publishes actuator alerts and hands them to the recorder.
func (r *Router) PublishAlerts(ctx context.Context, alerts []actuator.Alert) {
	for _, a := range alerts {
		r.publish(r.Topics.ActuatorAlert(a.GPIO), a, false)
		if r.Recorder != nil {
			r.Recorder.RecordAlert(ctx, a)
		}
	}
}

// PublishOutcome publishes everything a safety operation produced. A
// device event is followed by a status refresh of every actuator.
func (r *Router) PublishOutcome(ctx context.Context, out safety.Outcome, now uint32) {
	r.PublishAlerts(ctx, out.Alerts)
	if out.Event == nil {
		return
	}
	r.publish(r.Topics.SystemEmergency(), EmergencyEventPayload{
		Event:       *out.Event,
		DeviceState: r.Safety.DeviceState().String(),
	}, false)
	if r.Recorder != nil {
		r.Recorder.RecordEvent(ctx, *out.Event)
	}
	r.PublishStatuses(now)
}

func (r *Router) publish(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("encoding payload failed", "topic", topic, "error", err)
		return
	}
	if err := r.Publisher.Publish(topic, payload, publishQoS, retained); err != nil {
		r.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}
