// Package watchdog supervises liveness of the control loop.
//
// The Supervisor decides whether the loop is healthy enough to feed the
// hardware watchdog. In Production mode feeding is withheld while the
// network breaker is open, a critical fault is active or the lifecycle is
// in Error, so a wedged node resets itself. When no feed succeeds within
// the timeout, Check captures a diagnostics snapshot and persists it; after
// the reset the snapshot is loaded again and reported once.
//
// The Supervisor is owned by the control loop and is not safe for
// concurrent use.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/breaker"
	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/hal"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// Mode selects the supervision policy.
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeProvisioning
	ModeProduction
	ModeSafeMode
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeProvisioning:
		return "provisioning"
	case ModeProduction:
		return "production"
	case ModeSafeMode:
		return "safe_mode"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "":
		return ModeDisabled, nil
	case "provisioning":
		return ModeProvisioning, nil
	case "production":
		return ModeProduction, nil
	case "safe_mode", "safemode":
		return ModeSafeMode, nil
	}
	return ModeDisabled, fmt.Errorf("watchdog: unknown mode %q", s)
}

// Config holds the timings of one mode.
type Config struct {
	Mode           Mode
	TimeoutMs      uint32
	FeedIntervalMs uint32
	PanicEnabled   bool

	// GateOnBusBreaker also withholds feeding while the bus breaker is open.
	GateOnBusBreaker bool
}

// ConfigFor returns the default timings for mode.
func ConfigFor(mode Mode) Config {
	switch mode {
	case ModeProduction:
		return Config{Mode: mode, TimeoutMs: 60_000, FeedIntervalMs: 10_000, PanicEnabled: true}
	case ModeProvisioning:
		return Config{Mode: mode, TimeoutMs: 300_000, FeedIntervalMs: 60_000}
	case ModeSafeMode:
		return Config{Mode: mode, TimeoutMs: 120_000, FeedIntervalMs: 30_000}
	default:
		return Config{Mode: ModeDisabled}
	}
}

// ErrInit is returned when the hardware primitive cannot be armed.
var ErrInit = errors.New("watchdog: init failed")

// Primitive is the hardware watchdog.
type Primitive interface {
	// Init arms the watchdog. With reset false the primitive must not reset
	// the device.
	Init(timeout time.Duration, reset bool) error
	Feed() error
	LastResetWasTimeout() bool
	Close() error
}

// NoopPrimitive never resets the device.
type NoopPrimitive struct {
	// TimeoutReset is returned by LastResetWasTimeout.
	TimeoutReset bool
	Feeds        int
}

func (n *NoopPrimitive) Init(time.Duration, bool) error { return nil }
func (n *NoopPrimitive) Feed() error                    { n.Feeds++; return nil }
func (n *NoopPrimitive) LastResetWasTimeout() bool      { return n.TimeoutReset }
func (n *NoopPrimitive) Close() error                   { return nil }

// BreakerView is the part of a breaker the supervisor reads.
type BreakerView interface {
	IsOpen() bool
	Snapshot() breaker.Snapshot
}

// FaultView is the part of the fault tracker the supervisor reads.
type FaultView interface {
	HasCritical() bool
	Count() uint32
}

// Deps wires the supervisor to the rest of the node.
type Deps struct {
	Network   BreakerView
	Bus       BreakerView
	Faults    FaultView
	InError   func() bool
	Store     storage.Store
	Indicator hal.Indicator

	// FreeMemory reports free memory in bytes for the snapshot. Defaults to
	// the Go heap's idle, unreleased bytes.
	FreeMemory func() uint64
}

// Logger defines the logging interface used by the Supervisor.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Diagnostics is the snapshot captured at a timeout.
type Diagnostics struct {
	Reason            string             `json:"reason"`
	Mode              Mode               `json:"mode"`
	LastFeedComponent string             `json:"last_feed_component"`
	LastFeedTime      uint32             `json:"last_feed_time_ms"`
	FeedCount         uint64             `json:"feed_count"`
	WithheldReason    string             `json:"withheld_reason,omitempty"`
	Breakers          []breaker.Snapshot `json:"breakers"`
	FreeMemory        uint64             `json:"free_memory"`
	ErrorCount        uint32             `json:"error_count"`
	CapturedAtMs      uint32             `json:"captured_at_ms"`
	CapturedAt        time.Time          `json:"captured_at"`
}

// Status is the live supervisor state, used in status endpoints.
type Status struct {
	Mode              Mode   `json:"mode"`
	LastFeedComponent string `json:"last_feed_component"`
	LastFeedTime      uint32 `json:"last_feed_time_ms"`
	FeedCount         uint64 `json:"feed_count"`
	WithheldReason    string `json:"withheld_reason,omitempty"`
	TimedOut          bool   `json:"timed_out"`
}

// hardwareMarginMs delays the hardware reset past the software timeout so
// the diagnostics snapshot is on disk before the board resets.
const hardwareMarginMs = 5_000

// Supervisor feeds and checks the watchdog.
type Supervisor struct {
	cfg      Config
	modes    map[Mode]Config
	hw       Primitive
	deps     Deps
	logger   Logger
	lastComp string
	lastFeed uint32
	count    uint64
	withheld string
	timedOut bool
}

// New creates a supervisor. Call Start before the first Feed.
func New(cfg Config, hw Primitive, deps Deps) *Supervisor {
	if hw == nil {
		hw = &NoopPrimitive{}
	}
	if deps.FreeMemory == nil {
		deps.FreeMemory = heapFree
	}
	return &Supervisor{
		cfg:    cfg,
		modes:  map[Mode]Config{cfg.Mode: cfg},
		hw:     hw,
		deps:   deps,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start arms the hardware primitive and starts the timeout window at now.
func (s *Supervisor) Start(now uint32) error {
	s.lastFeed = now
	s.timedOut = false
	if s.cfg.Mode == ModeDisabled {
		return nil
	}
	timeout := time.Duration(s.cfg.TimeoutMs+hardwareMarginMs) * time.Millisecond
	if err := s.hw.Init(timeout, s.cfg.PanicEnabled); err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	s.logger.Info("watchdog armed", "mode", s.cfg.Mode.String(), "timeout_ms", s.cfg.TimeoutMs, "panic", s.cfg.PanicEnabled)
	return nil
}

// SetMode switches policy, keeping the feed counters. A mode that was
// active before gets its settings back, so the timings passed to New
// survive a detour through another mode; other modes use ConfigFor. The
// gate setting is preserved across modes.
func (s *Supervisor) SetMode(mode Mode, now uint32) error {
	if mode == s.cfg.Mode {
		return nil
	}
	s.modes[s.cfg.Mode] = s.cfg
	gate := s.cfg.GateOnBusBreaker
	next, ok := s.modes[mode]
	if !ok {
		next = ConfigFor(mode)
	}
	s.cfg = next
	s.cfg.GateOnBusBreaker = gate
	return s.Start(now)
}

// Config returns the active configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Due reports whether the feed interval has elapsed since the last feed.
func (s *Supervisor) Due(now uint32) bool {
	return s.cfg.Mode != ModeDisabled && clock.Expired(now, s.lastFeed, s.cfg.FeedIntervalMs)
}

// Feed feeds the watchdog on behalf of component unless the health gates
// withhold it. It reports whether the feed happened.
func (s *Supervisor) Feed(component string, now uint32) bool {
	if s.cfg.Mode == ModeDisabled {
		return false
	}
	if reason := s.gate(); reason != "" {
		if reason != s.withheld {
			s.logger.Warn("watchdog feed withheld", "reason", reason, "component", component)
		}
		s.withheld = reason
		return false
	}
	if err := s.hw.Feed(); err != nil {
		s.logger.Error("watchdog feed failed", "error", err)
		return false
	}
	s.withheld = ""
	s.lastComp = component
	s.lastFeed = now
	s.count++
	s.timedOut = false
	return true
}

// gate returns the reason feeding must be withheld, or "".
func (s *Supervisor) gate() string {
	if s.cfg.Mode != ModeProduction {
		return ""
	}
	switch {
	case s.deps.Network != nil && s.deps.Network.IsOpen():
		return "network_breaker_open"
	case s.cfg.GateOnBusBreaker && s.deps.Bus != nil && s.deps.Bus.IsOpen():
		return "bus_breaker_open"
	case s.deps.Faults != nil && s.deps.Faults.HasCritical():
		return "critical_fault"
	case s.deps.InError != nil && s.deps.InError():
		return "lifecycle_error"
	}
	return ""
}

// Check detects a missed feed deadline. It fires OnTimeout once per
// timeout and reports whether it did.
func (s *Supervisor) Check(ctx context.Context, now uint32) bool {
	if s.cfg.Mode == ModeDisabled || s.timedOut {
		return false
	}
	if !clock.Expired(now, s.lastFeed, s.cfg.TimeoutMs) {
		return false
	}
	s.OnTimeout(ctx, now)
	return true
}

// OnTimeout captures and persists the diagnostics snapshot. In Production
// the hardware reset follows on its own; in the other modes the timeout is
// only reported locally.
func (s *Supervisor) OnTimeout(ctx context.Context, now uint32) Diagnostics {
	s.timedOut = true
	d := s.snapshot(now)

	if s.deps.Store != nil {
		if err := storage.PutJSON(ctx, s.deps.Store, storage.NSWatchdog, storage.KeyDiagnostics, d); err != nil {
			s.logger.Error("persisting watchdog diagnostics failed", "error", err)
		}
	}

	switch s.cfg.Mode {
	case ModeProduction:
		s.logger.Error("watchdog timeout, awaiting hardware reset",
			"last_feed_component", d.LastFeedComponent, "withheld_reason", d.WithheldReason, "panic", s.cfg.PanicEnabled)
	default:
		s.logger.Warn("watchdog timeout", "mode", s.cfg.Mode.String(), "last_feed_component", d.LastFeedComponent)
		if s.deps.Indicator != nil {
			s.deps.Indicator.Show(hal.PatternWatchdogTimeout)
		}
	}
	return d
}

func (s *Supervisor) snapshot(now uint32) Diagnostics {
	d := Diagnostics{
		Reason:            "feed_timeout",
		Mode:              s.cfg.Mode,
		LastFeedComponent: s.lastComp,
		LastFeedTime:      s.lastFeed,
		FeedCount:         s.count,
		WithheldReason:    s.withheld,
		FreeMemory:        s.deps.FreeMemory(),
		CapturedAtMs:      now,
		CapturedAt:        time.Now().UTC(),
	}
	for _, b := range []BreakerView{s.deps.Network, s.deps.Bus} {
		if b != nil {
			d.Breakers = append(d.Breakers, b.Snapshot())
		}
	}
	if s.deps.Faults != nil {
		d.ErrorCount = s.deps.Faults.Count()
	}
	return d
}

// LoadPreviousDiagnostics returns the snapshot of the previous run when the
// hardware reports that the last reset was a watchdog timeout.
func (s *Supervisor) LoadPreviousDiagnostics(ctx context.Context) (Diagnostics, bool) {
	if !s.hw.LastResetWasTimeout() || s.deps.Store == nil {
		return Diagnostics{}, false
	}
	var d Diagnostics
	if err := storage.GetJSON(ctx, s.deps.Store, storage.NSWatchdog, storage.KeyDiagnostics, &d); err != nil {
		s.logger.Warn("watchdog reset detected but no diagnostics stored", "error", err)
		return Diagnostics{Reason: "hardware_reset"}, true
	}
	return d, true
}

// Status returns the live supervisor state.
func (s *Supervisor) Status() Status {
	return Status{
		Mode:              s.cfg.Mode,
		LastFeedComponent: s.lastComp,
		LastFeedTime:      s.lastFeed,
		FeedCount:         s.count,
		WithheldReason:    s.withheld,
		TimedOut:          s.timedOut,
	}
}

// Close releases the hardware primitive.
func (s *Supervisor) Close() error {
	return s.hw.Close()
}

func heapFree() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapIdle - m.HeapReleased
}
