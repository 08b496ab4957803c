// Package safety implements the emergency-stop controller.
//
// An emergency stop forces every actuator OFF and holds it in the Active
// stage. Clearing requires hardware read-back that every output really is
// OFF. Resuming then reactivates actuators one at a time, critical ones
// first, confirming each by read-back before moving on. The resume sequence
// is advanced by Tick so the control loop never blocks; a new stop
// preempts it at once.
//
// The Controller is owned by the control loop and is not safe for
// concurrent use.
package safety

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
)

// Errors returned by the controller.
var (
	// ErrVerificationFailed is returned by ClearEmergencyStop when at least
	// one output does not read back OFF.
	ErrVerificationFailed = errors.New("safety: verification failed")

	// ErrNotActive is returned when clearing without an active emergency.
	ErrNotActive = errors.New("safety: no active emergency")

	// ErrNotClearing is returned when resuming before a successful clear.
	ErrNotClearing = errors.New("safety: emergency not cleared")

	// ErrResumeInProgress is returned when resuming while a sequence runs.
	ErrResumeInProgress = errors.New("safety: resume already in progress")
)

// Event kinds published on system/emergency.
const (
	EventStop            = "emergency_stop"
	EventCleared         = "emergency_cleared"
	EventResumeStarted   = "resume_started"
	EventResumeCompleted = "resume_completed"
)

// Config tunes the resume sequence.
type Config struct {
	InterActuatorDelayMs  uint32 `yaml:"inter_actuator_delay_ms"`
	VerificationTimeoutMs uint32 `yaml:"verification_timeout_ms"`
	MaxRetryAttempts      int    `yaml:"max_retry_attempts"`
}

// DefaultConfig returns the standard resume timings.
func DefaultConfig() Config {
	return Config{InterActuatorDelayMs: 2000, VerificationTimeoutMs: 5000, MaxRetryAttempts: 3}
}

// Actuators is the view of the actuator registry the controller needs.
type Actuators interface {
	GPIOs() []int
	EnterEmergency(pin int, now uint32) (bool, error)
	SetEmergencyState(pin int, next actuator.EmergencyState) error
	EmergencyState(pin int) (actuator.EmergencyState, bool)
	Restore(pin int, now uint32) (bool, error)
	ForceOff(pin int, now uint32) error
	ReadBack(pin int) (bool, error)
	IsCritical(pin int) bool
	NewAlert(pin int, kind, msg string, now uint32) actuator.Alert
}

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Event is a device-wide emergency event.
type Event struct {
	ID        string `json:"event_id"`
	Kind      string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	GPIOs     []int  `json:"gpios,omitempty"`
	Failed    []int  `json:"failed,omitempty"`
	Timestamp uint32 `json:"timestamp"`
}

// Outcome collects what an operation wants published.
type Outcome struct {
	Alerts []actuator.Alert
	Event  *Event
}

// Controller coordinates emergency stop, clear and resume.
type Controller struct {
	acts    Actuators
	cfg     Config
	latched bool
	seq     *sequence
	logger  Logger
	newID   func() string
}

// New creates a controller over acts.
func New(acts Actuators, cfg Config) *Controller {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 1
	}
	return &Controller{acts: acts, cfg: cfg, logger: noopLogger{}, newID: uuid.NewString}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// EmergencyStopAll stops every actuator and alerts for each one, on every
// call. The device event is produced only when the latch or an actuator
// changed, so a repeated stop changes no state and only re-emits the
// alerts. A running resume sequence is abandoned.
func (c *Controller) EmergencyStopAll(reason string, now uint32) Outcome {
	c.abortResume("emergency stop")

	var (
		out     Outcome
		stopped []int
	)
	for _, pin := range c.acts.GPIOs() {
		newly, err := c.acts.EnterEmergency(pin, now)
		if err != nil {
			c.logger.Error("emergency stop write failed", "gpio", pin, "error", err)
		}
		if newly {
			stopped = append(stopped, pin)
		}
		out.Alerts = append(out.Alerts, c.acts.NewAlert(pin, actuator.AlertEmergencyStop, reason, now))
	}

	if len(stopped) > 0 || !c.latched {
		out.Event = &Event{ID: c.newID(), Kind: EventStop, Reason: reason, GPIOs: stopped, Timestamp: now}
		c.logger.Warn("emergency stop", "reason", reason, "stopped", len(stopped))
	} else {
		c.logger.Info("emergency stop repeated", "reason", reason, "actuators", len(out.Alerts))
	}
	c.latched = true
	return out
}

// EmergencyStop stops a single actuator.
func (c *Controller) EmergencyStop(pin int, reason string, now uint32) (Outcome, error) {
	if _, ok := c.acts.EmergencyState(pin); !ok {
		return Outcome{}, fmt.Errorf("%w: gpio %d", actuator.ErrNotFound, pin)
	}
	if c.seq != nil {
		c.abortResume("single emergency stop")
	}

	var out Outcome
	newly, err := c.acts.EnterEmergency(pin, now)
	if err != nil {
		c.logger.Error("emergency stop write failed", "gpio", pin, "error", err)
	}
	if newly {
		out.Alerts = append(out.Alerts, c.acts.NewAlert(pin, actuator.AlertEmergencyStop, reason, now))
		out.Event = &Event{ID: c.newID(), Kind: EventStop, Reason: reason, GPIOs: []int{pin}, Timestamp: now}
		c.logger.Warn("emergency stop", "gpio", pin, "reason", reason)
	}
	return out, nil
}

// Adopt puts a newly configured actuator into the emergency stage when a
// device-wide stop is latched.
func (c *Controller) Adopt(pin int, now uint32) {
	if !c.latched {
		return
	}
	if _, err := c.acts.EnterEmergency(pin, now); err != nil {
		c.logger.Error("emergency stop write failed", "gpio", pin, "error", err)
	}
}

// ClearEmergencyStop moves every Active actuator to Clearing after
// confirming by read-back that each output is OFF. On any mismatch or read
// error nothing changes and ErrVerificationFailed is returned.
func (c *Controller) ClearEmergencyStop(now uint32) (Outcome, error) {
	active := c.pinsIn(actuator.EmergencyActive)
	if len(active) == 0 {
		if c.latched {
			c.latched = false
			return Outcome{Event: &Event{ID: c.newID(), Kind: EventCleared, Timestamp: now}}, nil
		}
		return Outcome{}, ErrNotActive
	}

	var failed []int
	for _, pin := range active {
		on, err := c.acts.ReadBack(pin)
		if err != nil || on {
			failed = append(failed, pin)
		}
	}
	if len(failed) > 0 {
		c.logger.Warn("emergency clear verification failed", "gpios", failed)
		return Outcome{}, fmt.Errorf("%w: outputs not off: %v", ErrVerificationFailed, failed)
	}

	for _, pin := range active {
		if err := c.acts.SetEmergencyState(pin, actuator.EmergencyClearing); err != nil {
			return Outcome{}, err
		}
	}
	c.latched = false
	c.logger.Info("emergency cleared", "gpios", active)
	return Outcome{Event: &Event{ID: c.newID(), Kind: EventCleared, GPIOs: active, Timestamp: now}}, nil
}

// ResumeOperation starts the resume sequence for every Clearing actuator.
// The sequence itself runs in Tick.
func (c *Controller) ResumeOperation(now uint32) (Outcome, error) {
	if c.seq != nil {
		return Outcome{}, ErrResumeInProgress
	}
	clearing := c.pinsIn(actuator.EmergencyClearing)
	if len(clearing) == 0 {
		return Outcome{}, ErrNotClearing
	}

	var critical, normal []int
	for _, pin := range clearing {
		if err := c.acts.SetEmergencyState(pin, actuator.EmergencyResuming); err != nil {
			return Outcome{}, err
		}
		if c.acts.IsCritical(pin) {
			critical = append(critical, pin)
		} else {
			normal = append(normal, pin)
		}
	}
	order := append(critical, normal...)
	c.seq = &sequence{order: order, phase: phaseRestore, stepStart: now}
	c.logger.Info("resume started", "order", order)
	return Outcome{Event: &Event{ID: c.newID(), Kind: EventResumeStarted, GPIOs: order, Timestamp: now}}, nil
}

// Tick advances the resume sequence.
func (c *Controller) Tick(now uint32) Outcome {
	if c.seq == nil {
		return Outcome{}
	}
	return c.step(now)
}

// DeviceState returns the worst emergency stage over all actuators.
func (c *Controller) DeviceState() actuator.EmergencyState {
	worst := actuator.EmergencyNormal
	for _, pin := range c.acts.GPIOs() {
		s, _ := c.acts.EmergencyState(pin)
		if rank(s) > rank(worst) {
			worst = s
		}
	}
	if c.latched && worst == actuator.EmergencyNormal {
		return actuator.EmergencyActive
	}
	return worst
}

// Latched reports whether a device-wide stop is in force.
func (c *Controller) Latched() bool { return c.latched }

// Resuming reports whether a resume sequence is running.
func (c *Controller) Resuming() bool { return c.seq != nil }

// Progress describes the running resume sequence.
type Progress struct {
	Order   []int `json:"order"`
	Current int   `json:"current"`
	Failed  []int `json:"failed,omitempty"`
}

// ResumeProgress returns the state of the running sequence.
func (c *Controller) ResumeProgress() (Progress, bool) {
	if c.seq == nil {
		return Progress{}, false
	}
	return Progress{Order: c.seq.order, Current: c.seq.idx, Failed: c.seq.failed}, true
}

func (c *Controller) pinsIn(s actuator.EmergencyState) []int {
	var out []int
	for _, pin := range c.acts.GPIOs() {
		if st, _ := c.acts.EmergencyState(pin); st == s {
			out = append(out, pin)
		}
	}
	return out
}

func (c *Controller) abortResume(why string) {
	if c.seq == nil {
		return
	}
	c.logger.Warn("resume sequence aborted", "reason", why, "completed", c.seq.idx, "total", len(c.seq.order))
	c.seq = nil
}

func rank(s actuator.EmergencyState) int {
	switch s {
	case actuator.EmergencyActive:
		return 3
	case actuator.EmergencyClearing:
		return 2
	case actuator.EmergencyResuming:
		return 1
	default:
		return 0
	}
}
