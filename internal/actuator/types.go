package actuator

import (
	"fmt"
	"strings"
)

// Type is the kind of actuator hardware.
type Type string

const (
	TypePump  Type = "pump"
	TypeValve Type = "valve"
	TypePWM   Type = "pwm"
	TypeRelay Type = "relay"
)

// ValidTypes lists every supported actuator type.
var ValidTypes = []Type{TypePump, TypeValve, TypePWM, TypeRelay}

// ParseType validates a type string (case-insensitive).
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidTypes {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// IsPWM reports whether the actuator is driven by duty cycle rather than a
// binary level.
func (t Type) IsPWM() bool { return t == TypePWM }

// Command is a control command accepted by Execute.
type Command string

const (
	CommandOn     Command = "ON"
	CommandOff    Command = "OFF"
	CommandPWM    Command = "PWM"
	CommandToggle Command = "TOGGLE"
	CommandStop   Command = "STOP"
	// CommandRearm clears a latched runtime-protection trip.
	CommandRearm Command = "REARM"
)

// ParseCommand validates a command string (case-insensitive).
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CommandOn, CommandOff, CommandPWM, CommandToggle, CommandStop, CommandRearm:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}

// EmergencyState is the per-actuator emergency stage.
type EmergencyState uint8

const (
	EmergencyNormal EmergencyState = iota
	EmergencyActive
	EmergencyClearing
	EmergencyResuming
)

func (s EmergencyState) String() string {
	switch s {
	case EmergencyNormal:
		return "normal"
	case EmergencyActive:
		return "active"
	case EmergencyClearing:
		return "clearing"
	case EmergencyResuming:
		return "resuming"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s EmergencyState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CanTransition reports whether moving from s to next is legal. The forward
// chain is Normal, Active, Clearing, Resuming, Normal; a new emergency stop
// may preempt any stage.
func (s EmergencyState) CanTransition(next EmergencyState) bool {
	if next == EmergencyActive {
		return true
	}
	switch s {
	case EmergencyActive:
		return next == EmergencyClearing
	case EmergencyClearing:
		return next == EmergencyResuming
	case EmergencyResuming:
		return next == EmergencyNormal
	}
	return false
}

// DefaultMaxRuntimeMs is the default runtime protection limit (one hour).
const DefaultMaxRuntimeMs uint32 = 3_600_000

// RuntimeProtection bounds how long an actuator may stay on continuously.
type RuntimeProtection struct {
	MaxRuntimeMs   uint32 `json:"max_runtime_ms"`
	TimeoutEnabled bool   `json:"timeout_enabled"`
}

// Config is the persisted configuration of one actuator.
type Config struct {
	GPIO         int               `json:"gpio"`
	Type         Type              `json:"actuator_type"`
	Name         string            `json:"actuator_name"`
	SubzoneID    string            `json:"subzone_id,omitempty"`
	Active       bool              `json:"active"`
	Critical     bool              `json:"critical"`
	Protection   RuntimeProtection `json:"runtime_protection"`
	PWMChannel   int               `json:"pwm_channel"`
	DefaultPWM   uint8             `json:"default_pwm"`
	DefaultState bool              `json:"default_state"`

	// AuxGPIO is the direction pin of a valve, reserved alongside GPIO.
	AuxGPIO *int `json:"aux_gpio,omitempty"`
}

// ComponentID is the identity recorded in the pin ledger.
func (c Config) ComponentID() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s-%d", c.Type, c.GPIO)
}

// Status is the published state of one actuator.
type Status struct {
	GPIO              int            `json:"gpio"`
	Type              Type           `json:"type"`
	Name              string         `json:"name,omitempty"`
	State             bool           `json:"state"`
	PWM               uint8          `json:"pwm"`
	Emergency         EmergencyState `json:"emergency"`
	RuntimeMs         uint64         `json:"runtime_ms"`
	ProtectionTripped bool           `json:"protection_tripped,omitempty"`
	Timestamp         uint32         `json:"timestamp"`
}

// Ack is the result of a successfully executed command.
type Ack struct {
	GPIO      int     `json:"gpio"`
	Command   Command `json:"command"`
	Value     float64 `json:"value"`
	State     bool    `json:"state"`
	PWM       uint8   `json:"pwm"`
	Timestamp uint32  `json:"timestamp"`
}

// Alert types.
const (
	AlertRuntimeProtection = "runtime_protection"
	AlertEmergencyStop     = "emergency_stop"
	AlertResumeFailed      = "resume_failed"
)

// Alert is published on actuator/{gpio}/alert.
type Alert struct {
	ID        string `json:"alert_id"`
	GPIO      int    `json:"gpio"`
	Type      string `json:"alert_type"`
	Message   string `json:"message"`
	Timestamp uint32 `json:"timestamp"`
}
