// Package actuator manages configured actuators and their runtime state.
//
// The Registry owns the actuator configuration, drives outputs through the
// hal.PinController, enforces runtime protection and carries the
// per-actuator emergency state that the safety controller advances. Pin
// ownership is claimed from the gpio.Ledger on configure and released on
// removal. A Registry is owned by the control loop and is not safe for
// concurrent use.
package actuator

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
)

// MaxActuators bounds how many actuators one node drives.
const MaxActuators = 16

// Logger defines the logging interface used by the Registry.
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

// runtimeState is the mutable state of one actuator.
type runtimeState struct {
	on                bool
	pwm               uint8
	lastCommandMs     uint32
	activationStartMs uint32
	accumulatedMs     uint64
	emergency         EmergencyState
	protectionTripped bool
	preEmergencyOn    bool
	preEmergencyPWM   uint8
}

type entry struct {
	cfg Config
	rt  runtimeState
	drv driver
}

// Registry holds the configured actuators.
type Registry struct {
	ledger    *gpio.Ledger
	hw        hal.PinController
	clk       clock.Clock
	actuators map[int]*entry
	logger    Logger
	newID     func() string
}

// NewRegistry creates an empty registry.
func NewRegistry(ledger *gpio.Ledger, hw hal.PinController, clk clock.Clock) *Registry {
	return &Registry{
		ledger:    ledger,
		hw:        hw,
		clk:       clk,
		actuators: make(map[int]*entry),
		logger:    noopLogger{},
		newID:     uuid.NewString,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Configure adds, updates or (when cfg.Active is false) removes an actuator.
//
// A reconfigure of an existing pin keeps its runtime counters and emergency
// state. A new actuator starts OFF, or in its default state when one is set.
func (r *Registry) Configure(cfg Config) error {
	if !hal.ValidPin(cfg.GPIO) {
		return fmt.Errorf("%w: %d", ErrInvalidGPIO, cfg.GPIO)
	}
	t, err := ParseType(string(cfg.Type))
	if err != nil {
		return err
	}
	cfg.Type = t
	if cfg.Protection.MaxRuntimeMs == 0 {
		cfg.Protection.MaxRuntimeMs = DefaultMaxRuntimeMs
	}

	if !cfg.Active {
		r.Remove(cfg.GPIO)
		return nil
	}

	existing, exists := r.actuators[cfg.GPIO]
	if !exists && len(r.actuators) >= MaxActuators {
		return fmt.Errorf("%w: %d configured", ErrCapacity, MaxActuators)
	}

	if exists {
		r.releasePins(existing.cfg)
	}
	if err := r.reservePins(cfg); err != nil {
		if exists {
			// Restore the previous claims; they were valid a moment ago.
			_ = r.reservePins(existing.cfg) //nolint:errcheck // previous claims cannot conflict
		}
		return err
	}

	if exists {
		existing.cfg = cfg
		existing.drv = newDriver(cfg, r.hw)
		r.logger.Info("actuator reconfigured", "gpio", cfg.GPIO, "type", string(cfg.Type), "name", cfg.Name)
		return nil
	}

	e := &entry{cfg: cfg, drv: newDriver(cfg, r.hw)}
	now := r.clk.Millis()
	if err := e.drv.apply(false, 0); err != nil {
		r.releasePins(cfg)
		return fmt.Errorf("%w: initialising gpio %d: %w", ErrWriteFailed, cfg.GPIO, err)
	}
	r.actuators[cfg.GPIO] = e

	if cfg.DefaultState {
		duty := r.onDuty(e, 0)
		if err := r.drive(e, true, duty, now); err != nil {
			r.logger.Warn("applying default state failed", "gpio", cfg.GPIO, "error", err)
		}
	}

	r.logger.Info("actuator configured", "gpio", cfg.GPIO, "type", string(cfg.Type), "name", cfg.Name)
	return nil
}

func (r *Registry) reservePins(cfg Config) error {
	if err := r.ledger.Reserve(cfg.GPIO, gpio.OwnerActuator, cfg.ComponentID()); err != nil {
		return fmt.Errorf("reserving gpio %d: %w", cfg.GPIO, err)
	}
	if cfg.Type == TypeValve && cfg.AuxGPIO != nil {
		if err := r.ledger.Reserve(*cfg.AuxGPIO, gpio.OwnerActuator, cfg.ComponentID()); err != nil {
			r.ledger.Release(cfg.GPIO)
			return fmt.Errorf("reserving aux gpio %d: %w", *cfg.AuxGPIO, err)
		}
	}
	return nil
}

func (r *Registry) releasePins(cfg Config) {
	r.ledger.Release(cfg.GPIO)
	if cfg.Type == TypeValve && cfg.AuxGPIO != nil {
		r.ledger.Release(*cfg.AuxGPIO)
	}
}

// Remove drives the actuator OFF and releases its pins. Unknown pins are
// ignored.
func (r *Registry) Remove(pin int) {
	e, ok := r.actuators[pin]
	if !ok {
		return
	}
	if err := r.drive(e, false, 0, r.clk.Millis()); err != nil {
		r.logger.Warn("driving removed actuator off failed", "gpio", pin, "error", err)
	}
	r.releasePins(e.cfg)
	delete(r.actuators, pin)
	r.logger.Info("actuator removed", "gpio", pin)
}

// Reset removes every actuator.
func (r *Registry) Reset() {
	for _, pin := range r.GPIOs() {
		r.Remove(pin)
	}
}

// Execute runs a control command. value is used by PWM (a 0..1 fraction,
// clamped) and, for binary actuators, a PWM value of 0.5 or more means ON.
func (r *Registry) Execute(pin int, cmd Command, value float64) (Ack, error) {
	e, ok := r.actuators[pin]
	if !ok {
		return Ack{}, fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	now := r.clk.Millis()

	if cmd == CommandRearm {
		if e.rt.protectionTripped {
			e.rt.protectionTripped = false
			r.logger.Info("runtime protection re-armed", "gpio", pin)
		}
		e.rt.lastCommandMs = now
		return r.ack(e, cmd, value, now), nil
	}

	if e.rt.emergency != EmergencyNormal {
		return Ack{}, fmt.Errorf("%w: gpio %d is %s", ErrEmergencyActive, pin, e.rt.emergency)
	}

	var (
		on   bool
		duty uint8
	)
	switch cmd {
	case CommandOn:
		on, duty = true, r.onDuty(e, value)
	case CommandOff, CommandStop:
		on, duty = false, 0
	case CommandToggle:
		on = !e.rt.on
		if on {
			duty = r.onDuty(e, 0)
		}
	case CommandPWM:
		if e.cfg.Type.IsPWM() {
			duty = DutyFromFraction(value)
			on = duty > 0
		} else {
			on = clampFraction(value) >= 0.5
		}
	default:
		return Ack{}, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}

	if on && e.rt.protectionTripped {
		return Ack{}, fmt.Errorf("%w: gpio %d", ErrProtectionTripped, pin)
	}

	if err := r.drive(e, on, duty, now); err != nil {
		return Ack{}, err
	}
	e.rt.lastCommandMs = now
	r.logger.Debug("actuator command executed", "gpio", pin, "command", string(cmd), "state", on, "pwm", duty)
	return r.ack(e, cmd, value, now), nil
}

func (r *Registry) ack(e *entry, cmd Command, value float64, now uint32) Ack {
	return Ack{
		GPIO:      e.cfg.GPIO,
		Command:   cmd,
		Value:     value,
		State:     e.rt.on,
		PWM:       e.rt.pwm,
		Timestamp: now,
	}
}

// onDuty picks the duty used when switching on: the requested fraction if
// positive, else the configured default, else full scale.
func (r *Registry) onDuty(e *entry, value float64) uint8 {
	if !e.cfg.Type.IsPWM() {
		return hal.MaxDuty
	}
	if value > 0 {
		return DutyFromFraction(value)
	}
	if e.cfg.DefaultPWM > 0 {
		return e.cfg.DefaultPWM
	}
	return hal.MaxDuty
}

// drive writes the output and updates runtime bookkeeping. Activation time
// is taken on the off to on edge only; the on to off edge adds the elapsed
// on-time to the accumulated runtime.
func (r *Registry) drive(e *entry, on bool, duty uint8, now uint32) error {
	if !on {
		duty = 0
	}
	if err := e.drv.apply(on, duty); err != nil {
		return fmt.Errorf("%w: gpio %d: %w", ErrWriteFailed, e.cfg.GPIO, err)
	}
	switch {
	case on && !e.rt.on:
		e.rt.activationStartMs = now
	case !on && e.rt.on:
		e.rt.accumulatedMs += uint64(clock.Elapsed(now, e.rt.activationStartMs))
	}
	e.rt.on = on
	e.rt.pwm = duty
	return nil
}

// Tick enforces runtime protection. Every actuator that has been on longer
// than its limit is forced OFF and latched until REARM; one alert is
// returned per trip.
func (r *Registry) Tick(now uint32) []Alert {
	var alerts []Alert
	for _, pin := range r.GPIOs() {
		e := r.actuators[pin]
		p := e.cfg.Protection
		if !p.TimeoutEnabled || !e.rt.on {
			continue
		}
		if clock.Elapsed(now, e.rt.activationStartMs) <= p.MaxRuntimeMs {
			continue
		}
		if err := r.drive(e, false, 0, now); err != nil {
			r.logger.Error("runtime protection stop failed", "gpio", pin, "error", err)
			continue
		}
		e.rt.protectionTripped = true
		r.logger.Warn("runtime protection tripped", "gpio", pin, "max_runtime_ms", p.MaxRuntimeMs)
		alerts = append(alerts, r.NewAlert(pin, AlertRuntimeProtection,
			fmt.Sprintf("%s on gpio %d exceeded max runtime of %d ms", e.cfg.Type, pin, p.MaxRuntimeMs), now))
	}
	return alerts
}

// NewAlert builds an alert with a fresh id.
func (r *Registry) NewAlert(pin int, kind, msg string, now uint32) Alert {
	return Alert{ID: r.newID(), GPIO: pin, Type: kind, Message: msg, Timestamp: now}
}

// EnterEmergency forces the actuator OFF and moves it to EmergencyActive,
// remembering the output it had in the Normal state. It reports whether the
// actuator was newly stopped; an actuator already Active is re-driven OFF
// but reports false.
func (r *Registry) EnterEmergency(pin int, now uint32) (bool, error) {
	e, ok := r.actuators[pin]
	if !ok {
		return false, fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	if e.rt.emergency == EmergencyNormal {
		e.rt.preEmergencyOn = e.rt.on
		e.rt.preEmergencyPWM = e.rt.pwm
	}
	err := r.drive(e, false, 0, now)
	if e.rt.emergency == EmergencyActive {
		return false, err
	}
	e.rt.emergency = EmergencyActive
	return true, err
}

// SetEmergencyState advances the emergency stage of one actuator.
func (r *Registry) SetEmergencyState(pin int, next EmergencyState) error {
	e, ok := r.actuators[pin]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	if e.rt.emergency == next {
		return nil
	}
	if !e.rt.emergency.CanTransition(next) {
		return fmt.Errorf("%w: gpio %d %s to %s", ErrIllegalTransition, pin, e.rt.emergency, next)
	}
	e.rt.emergency = next
	return nil
}

// EmergencyState returns the emergency stage of one actuator.
func (r *Registry) EmergencyState(pin int) (EmergencyState, bool) {
	e, ok := r.actuators[pin]
	if !ok {
		return EmergencyNormal, false
	}
	return e.rt.emergency, true
}

// Restore drives the actuator back to the output it had before the
// emergency. It does not change the emergency stage. It returns the target
// output so the caller can confirm it by read-back.
func (r *Registry) Restore(pin int, now uint32) (bool, error) {
	e, ok := r.actuators[pin]
	if !ok {
		return false, fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	target := e.rt.preEmergencyOn && !e.rt.protectionTripped
	duty := e.rt.preEmergencyPWM
	if target && duty == 0 {
		duty = r.onDuty(e, 0)
	}
	if err := r.drive(e, target, duty, now); err != nil {
		return target, err
	}
	return target, nil
}

// ForceOff drives the actuator OFF without touching its emergency stage.
func (r *Registry) ForceOff(pin int, now uint32) error {
	e, ok := r.actuators[pin]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	return r.drive(e, false, 0, now)
}

// ReadBack returns the hardware level of the actuator's output pin.
func (r *Registry) ReadBack(pin int) (bool, error) {
	e, ok := r.actuators[pin]
	if !ok {
		return false, fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	return e.drv.readBack()
}

// IsCritical reports whether the actuator is resumed in the critical group.
// A latched protection trip demotes it.
func (r *Registry) IsCritical(pin int) bool {
	e, ok := r.actuators[pin]
	return ok && e.cfg.Critical && !e.rt.protectionTripped
}

// Get returns the configuration of one actuator.
func (r *Registry) Get(pin int) (Config, bool) {
	e, ok := r.actuators[pin]
	if !ok {
		return Config{}, false
	}
	return e.cfg, true
}

// GPIOs returns the configured pins in ascending order.
func (r *Registry) GPIOs() []int {
	pins := make([]int, 0, len(r.actuators))
	for pin := range r.actuators {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	return pins
}

// Configs returns every configuration, ordered by pin.
func (r *Registry) Configs() []Config {
	out := make([]Config, 0, len(r.actuators))
	for _, pin := range r.GPIOs() {
		out = append(out, r.actuators[pin].cfg)
	}
	return out
}

// Len returns the number of configured actuators.
func (r *Registry) Len() int { return len(r.actuators) }

// Status returns the published state of one actuator at now.
func (r *Registry) Status(pin int, now uint32) (Status, bool) {
	e, ok := r.actuators[pin]
	if !ok {
		return Status{}, false
	}
	total := e.rt.accumulatedMs
	if e.rt.on {
		total += uint64(clock.Elapsed(now, e.rt.activationStartMs))
	}
	return Status{
		GPIO:              pin,
		Type:              e.cfg.Type,
		Name:              e.cfg.Name,
		State:             e.rt.on,
		PWM:               e.rt.pwm,
		Emergency:         e.rt.emergency,
		RuntimeMs:         total,
		ProtectionTripped: e.rt.protectionTripped,
		Timestamp:         now,
	}, true
}

// Statuses returns the status of every actuator, ordered by pin.
func (r *Registry) Statuses(now uint32) []Status {
	out := make([]Status, 0, len(r.actuators))
	for _, pin := range r.GPIOs() {
		s, _ := r.Status(pin, now)
		out = append(out, s)
	}
	return out
}

// DutyFromFraction maps a 0..1 fraction onto the 8-bit duty range. Values
// outside the range are clamped; NaN maps to 0.
func DutyFromFraction(v float64) uint8 {
	return uint8(math.Round(clampFraction(v) * hal.MaxDuty))
}

func clampFraction(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
