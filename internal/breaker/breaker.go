// Package breaker implements per-dependency circuit breakers.
//
// A breaker counts consecutive failures of one external dependency (the
// network link, the message bus). Once the threshold is reached it opens and
// refuses attempts until the cooldown has elapsed, then lets a single probe
// through (half-open). The probe's outcome closes or reopens it.
//
// Breakers are owned by the control loop and are not safe for concurrent use.
// Times are clock milliseconds; all comparisons are wrap-safe.
package breaker

import "github.com/nerrad567/kaiser-edge/internal/clock"

// State is the breaker position.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config holds the thresholds of one breaker.
type Config struct {
	// Name identifies the protected dependency in logs and telemetry.
	Name string `yaml:"-"`

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// CooldownMs is how long the breaker stays open before allowing a probe.
	CooldownMs uint32 `yaml:"cooldown_ms"`

	// HalfOpenTimeoutMs reopens the breaker when a probe never reports back.
	HalfOpenTimeoutMs uint32 `yaml:"half_open_timeout_ms"`
}

// NetworkConfig returns the defaults for the network link breaker.
func NetworkConfig() Config {
	return Config{Name: "network", FailureThreshold: 10, CooldownMs: 60_000, HalfOpenTimeoutMs: 10_000}
}

// BusConfig returns the defaults for the message bus breaker.
func BusConfig() Config {
	return Config{Name: "bus", FailureThreshold: 5, CooldownMs: 30_000, HalfOpenTimeoutMs: 10_000}
}

// Transition describes a state change, delivered to the OnTransition hook.
type Transition struct {
	Name     string
	From     State
	To       State
	Failures int
	At       uint32
}

// Snapshot is a point-in-time copy of a breaker, used in heartbeats and
// watchdog diagnostics.
type Snapshot struct {
	Name                string `json:"service"`
	State               State  `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	OpenedAt            uint32 `json:"opened_at_ms"`
	CooldownMs          uint32 `json:"cooldown_ms"`
}

// Breaker guards one dependency.
type Breaker struct {
	cfg          Config
	state        State
	failures     int
	openedAt     uint32
	halfOpenAt   uint32
	probeGranted bool
	onTransition func(Transition)
}

// New creates a closed breaker. A non-positive threshold is treated as 1.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Breaker{cfg: cfg}
}

// OnTransition registers a hook called on every state change.
func (b *Breaker) OnTransition(fn func(Transition)) {
	b.onTransition = fn
}

// Name returns the protected dependency name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state without side effects.
func (b *Breaker) State() State { return b.state }

// IsOpen reports whether the breaker is Open.
func (b *Breaker) IsOpen() bool { return b.state == Open }

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int { return b.failures }

// AllowAttempt reports whether the caller may try the dependency now.
//
// Closed always allows. Open allows nothing until the cooldown has elapsed,
// at which point the breaker moves to HalfOpen and grants exactly one probe.
// A HalfOpen probe that reports neither success nor failure within the
// half-open timeout reopens the breaker.
func (b *Breaker) AllowAttempt(now uint32) bool {
	switch b.state {
	case Closed:
		return true
	case Open:
		if !clock.Expired(now, b.openedAt, b.cfg.CooldownMs) {
			return false
		}
		b.halfOpenAt = now
		b.probeGranted = true
		b.transition(HalfOpen, now)
		return true
	case HalfOpen:
		if b.cfg.HalfOpenTimeoutMs > 0 && clock.Expired(now, b.halfOpenAt, b.cfg.HalfOpenTimeoutMs) {
			b.open(now)
			return false
		}
		if !b.probeGranted {
			b.probeGranted = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess(now uint32) {
	b.failures = 0
	b.probeGranted = false
	if b.state != Closed {
		b.transition(Closed, now)
	}
}

// RecordFailure counts a failure. A failure while HalfOpen reopens
// immediately; while Closed the breaker opens once the threshold is reached.
func (b *Breaker) RecordFailure(now uint32) {
	b.failures++
	switch b.state {
	case HalfOpen:
		b.open(now)
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
		}
	case Open:
		// Late failure report; keep the original cooldown.
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset(now uint32) {
	b.RecordSuccess(now)
}

// Snapshot returns the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	return Snapshot{
		Name:                b.cfg.Name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		CooldownMs:          b.cfg.CooldownMs,
	}
}

func (b *Breaker) open(now uint32) {
	b.openedAt = now
	b.probeGranted = false
	b.transition(Open, now)
}

func (b *Breaker) transition(to State, now uint32) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		b.onTransition(Transition{Name: b.cfg.Name, From: from, To: to, Failures: b.failures, At: now})
	}
}
