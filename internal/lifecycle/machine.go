// Package lifecycle implements the device lifecycle state machine.
//
// The Machine is the only writer of the device state. Every transition is
// persisted to system/state and logged. Deadlines (link connect,
// provisioning) are checked in Tick, so nothing blocks. Boot-loop detection
// runs once at Boot using the persisted boot counter.
//
// The Machine is owned by the control loop and is not safe for concurrent
// use.
package lifecycle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// ErrIllegalTransition is returned for an edge that is not in the table.
var ErrIllegalTransition = errors.New("lifecycle: illegal transition")

// Config holds the lifecycle timings.
type Config struct {
	// BootLoopWindowMs is the maximum gap between boots counted as a loop.
	BootLoopWindowMs uint32 `yaml:"boot_loop_window_ms"`

	// BootLoopThreshold is the boot count above which SafeMode is entered.
	BootLoopThreshold uint16 `yaml:"boot_loop_threshold"`

	// BootCounterResetMs is the uptime after which the counter is cleared.
	BootCounterResetMs uint32 `yaml:"boot_counter_reset_ms"`

	LinkConnectTimeoutMs  uint32 `yaml:"link_connect_timeout_ms"`
	ProvisioningTimeoutMs uint32 `yaml:"provisioning_timeout_ms"`

	// RequireApproval sends an unapproved device to PendingApproval after
	// connecting to the bus.
	RequireApproval bool `yaml:"require_approval"`
}

// DefaultConfig returns the standard lifecycle timings.
func DefaultConfig() Config {
	return Config{
		BootLoopWindowMs:      60_000,
		BootLoopThreshold:     5,
		BootCounterResetMs:    60_000,
		LinkConnectTimeoutMs:  30_000,
		ProvisioningTimeoutMs: 600_000,
		RequireApproval:       true,
	}
}

// Logger defines the logging interface used by the Machine.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BootDiagnostics is the persisted boot counter.
type BootDiagnostics struct {
	BootCount    uint16 `json:"boot_count"`
	LastBootTime uint32 `json:"last_boot_time"`
}

// Transition describes one state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     uint32
}

// Progress is what the node knows about its configuration, used by Advance.
type Progress struct {
	ZoneAssigned         bool
	ComponentsConfigured bool
}

// ApprovalStatus is the status field of a heartbeat acknowledgement.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalPending  ApprovalStatus = "pending"
)

type persistedState struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Machine is the lifecycle state machine.
type Machine struct {
	cfg    Config
	store  storage.Store
	logger Logger

	state     State
	reason    string
	enteredAt uint32

	bootAt        uint32
	boot          BootDiagnostics
	counterReset  bool
	approved      bool
	sessionConfig bool

	onTransition func(Transition)
}

// New creates a machine in Boot. store must not be nil.
func New(cfg Config, store storage.Store) *Machine {
	return &Machine{cfg: cfg, store: store, logger: noopLogger{}}
}

// SetLogger sets the logger for the machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// OnTransition registers a hook called after every transition.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.onTransition = fn
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Reason returns the reason of the current side state, if any.
func (m *Machine) Reason() string { return m.reason }

// Approved reports whether the coordinator has approved this device.
func (m *Machine) Approved() bool { return m.approved }

// BootDiagnostics returns the boot counter as updated at Boot.
func (m *Machine) BootDiagnostics() BootDiagnostics { return m.boot }

// Boot runs boot-loop detection and restores persisted side states.
// provisioned tells whether network credentials exist; without them the
// machine goes straight to WifiSetup.
//
// now is the loop clock, which restarts with the process. wallMs is a wall
// clock reading; it is persisted as the boot time so that the next boot can
// compare against it. A boot counts towards the loop when it happens less
// than BootLoopWindowMs of wall time after the previous one. A reading
// behind the stored one (wrap or clock reset) counts as a long gap.
func (m *Machine) Boot(ctx context.Context, now, wallMs uint32, provisioned bool) error {
	m.state, m.reason, m.enteredAt = Boot, "", now
	m.bootAt = now
	m.counterReset = false
	m.sessionConfig = false

	var errs []error

	last, hasLast, err := m.loadUint32(ctx, storage.KeyLastBootMs)
	if err != nil {
		errs = append(errs, err)
	}
	count, _, err := m.loadUint32(ctx, storage.KeyBootCount)
	if err != nil {
		errs = append(errs, err)
	}

	elapsed, ok := clock.ElapsedNoWrap(wallMs, last)
	if hasLast && ok && elapsed < m.cfg.BootLoopWindowMs {
		count++
	} else {
		count = 1
	}
	if count > 0xFFFF {
		count = 0xFFFF
	}
	m.boot = BootDiagnostics{BootCount: uint16(count), LastBootTime: wallMs}

	if err := m.putUint32(ctx, storage.KeyBootCount, count); err != nil {
		errs = append(errs, err)
	}
	if err := m.putUint32(ctx, storage.KeyLastBootMs, wallMs); err != nil {
		errs = append(errs, err)
	}

	var approved bool
	if err := storage.GetJSON(ctx, m.store, storage.NSSystem, storage.KeyApproved, &approved); err == nil {
		m.approved = approved
	}

	m.logger.Info("boot", "boot_count", count, "provisioned", provisioned)

	if m.boot.BootCount > m.cfg.BootLoopThreshold {
		m.logger.Error("boot loop detected", "boot_count", count, "window_ms", m.cfg.BootLoopWindowMs)
		errs = append(errs, m.EnterSafeMode(ctx, ReasonBootLoop, now))
		return errors.Join(errs...)
	}

	var prev persistedState
	if err := storage.GetJSON(ctx, m.store, storage.NSSystem, storage.KeyState, &prev); err == nil {
		switch prev.State {
		case SafeMode, Error:
			m.logger.Warn("restoring persisted side state", "state", prev.State.String(), "reason", prev.Reason)
			errs = append(errs, m.force(ctx, prev.State, prev.Reason, now))
			return errors.Join(errs...)
		}
	}

	if !provisioned {
		errs = append(errs, m.Transition(ctx, WifiSetup, "", now))
	} else {
		errs = append(errs, m.persist(ctx))
	}
	return errors.Join(errs...)
}

// Transition moves along an ordinary edge.
func (m *Machine) Transition(ctx context.Context, to State, reason string, now uint32) error {
	if m.state == to {
		return nil
	}
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, m.state, to)
	}
	return m.force(ctx, to, reason, now)
}

// force changes state without consulting the edge table.
func (m *Machine) force(ctx context.Context, to State, reason string, now uint32) error {
	from := m.state
	m.state, m.reason, m.enteredAt = to, reason, now

	if reason != "" {
		m.logger.Warn("lifecycle transition", "from", from.String(), "to", to.String(), "reason", reason)
	} else {
		m.logger.Info("lifecycle transition", "from", from.String(), "to", to.String())
	}
	if m.onTransition != nil {
		m.onTransition(Transition{From: from, To: to, Reason: reason, At: now})
	}
	return m.persist(ctx)
}

func (m *Machine) persist(ctx context.Context) error {
	if err := storage.PutJSON(ctx, m.store, storage.NSSystem, storage.KeyState,
		persistedState{State: m.state, Reason: m.reason}); err != nil {
		return fmt.Errorf("persisting lifecycle state: %w", err)
	}
	return nil
}

// LinkUp records that the network link came up.
func (m *Machine) LinkUp(ctx context.Context, now uint32) error {
	if m.state != Boot {
		return nil
	}
	return m.Transition(ctx, WifiConnected, "", now)
}

// BusConnecting records that a broker connection attempt started.
func (m *Machine) BusConnecting(ctx context.Context, now uint32) error {
	if m.state != WifiConnected {
		return nil
	}
	return m.Transition(ctx, BusConnecting, "", now)
}

// BusConnected records an established broker session. Unapproved devices
// continue to PendingApproval when approval is required.
func (m *Machine) BusConnected(ctx context.Context, now uint32) error {
	if m.state != BusConnecting {
		return nil
	}
	if err := m.Transition(ctx, BusConnected, "", now); err != nil {
		return err
	}
	if m.cfg.RequireApproval && !m.approved {
		return m.Transition(ctx, PendingApproval, "", now)
	}
	return nil
}

// Advance takes at most one step along the configuration path
// (AwaitingConfig, ZoneConfigured, SensorsConfigured, Operational) towards
// the state p implies. Losing configuration steps back.
func (m *Machine) Advance(ctx context.Context, p Progress, now uint32) error {
	switch m.state {
	case BusConnected, AwaitingConfig, ZoneConfigured, SensorsConfigured, Operational:
	default:
		return nil
	}

	target := AwaitingConfig
	switch {
	case p.ZoneAssigned && p.ComponentsConfigured:
		target = Operational
	case p.ZoneAssigned:
		target = ZoneConfigured
	}

	var next State
	switch {
	case target == m.state:
		return nil
	case m.state == BusConnected:
		next = AwaitingConfig
		if p.ZoneAssigned {
			next = ZoneConfigured
		}
	case target == Operational && m.state == ZoneConfigured:
		next = SensorsConfigured
	case target == Operational && m.state == AwaitingConfig:
		next = ZoneConfigured
	default:
		next = target
	}
	return m.Transition(ctx, next, "", now)
}

// HeartbeatAck applies the approval status from the coordinator.
func (m *Machine) HeartbeatAck(ctx context.Context, status ApprovalStatus, now uint32) error {
	switch status {
	case ApprovalApproved:
		if !m.approved {
			m.approved = true
			if err := storage.PutJSON(ctx, m.store, storage.NSSystem, storage.KeyApproved, true); err != nil {
				m.logger.Error("persisting approval failed", "error", err)
			}
			m.logger.Info("device approved")
		}
		if m.state == PendingApproval {
			return m.Transition(ctx, BusConnected, "", now)
		}
	case ApprovalRejected:
		if m.approved {
			_ = m.store.Delete(ctx, storage.NSSystem, storage.KeyApproved) //nolint:errcheck // state below is authoritative
		}
		m.approved = false
		return m.EnterError(ctx, ReasonApprovalRejected, now)
	case ApprovalPending:
	default:
		return fmt.Errorf("lifecycle: unknown approval status %q", status)
	}
	return nil
}

// ConfigReceived records that a valid configuration arrived in this session.
// In WifiSetup or SafeModeProvisioning the next Tick returns to Boot.
func (m *Machine) ConfigReceived() {
	m.sessionConfig = true
}

// Tick checks deadlines and the boot counter reset.
func (m *Machine) Tick(ctx context.Context, now uint32) error {
	var errs []error

	if !m.counterReset && clock.Expired(now, m.bootAt, m.cfg.BootCounterResetMs) {
		m.counterReset = true
		if err := m.putUint32(ctx, storage.KeyBootCount, 0); err != nil {
			errs = append(errs, err)
		}
		m.logger.Info("boot counter reset", "uptime_ms", clock.Elapsed(now, m.bootAt))
	}

	switch m.state {
	case Boot:
		if clock.Expired(now, m.enteredAt, m.cfg.LinkConnectTimeoutMs) {
			errs = append(errs, m.force(ctx, SafeModeProvisioning, ReasonLinkTimeout, now))
		}
	case WifiSetup, SafeModeProvisioning:
		if m.sessionConfig {
			m.sessionConfig = false
			errs = append(errs, m.force(ctx, Boot, "", now))
		} else if m.state == WifiSetup && clock.Expired(now, m.enteredAt, m.cfg.ProvisioningTimeoutMs) {
			errs = append(errs, m.force(ctx, SafeModeProvisioning, ReasonProvisioningTimeout, now))
		}
	}
	return errors.Join(errs...)
}

// LinkFailed moves a device still waiting for its link to
// SafeModeProvisioning before the deadline, e.g. on bad credentials.
func (m *Machine) LinkFailed(ctx context.Context, now uint32) error {
	if m.state != Boot {
		return nil
	}
	return m.force(ctx, SafeModeProvisioning, ReasonLinkTimeout, now)
}

// EnterSafeMode forces SafeMode.
func (m *Machine) EnterSafeMode(ctx context.Context, reason string, now uint32) error {
	if m.state == SafeMode && m.reason == reason {
		return nil
	}
	return m.force(ctx, SafeMode, reason, now)
}

// EnterError forces Error.
func (m *Machine) EnterError(ctx context.Context, reason string, now uint32) error {
	if m.state == Error && m.reason == reason {
		return nil
	}
	return m.force(ctx, Error, reason, now)
}

// ExitSafeMode is the manual reset out of SafeMode or Error. It clears the
// boot counter and restarts at Boot.
func (m *Machine) ExitSafeMode(ctx context.Context, now uint32) error {
	if m.state != SafeMode && m.state != Error {
		return fmt.Errorf("%w: not in safe mode (%s)", ErrIllegalTransition, m.state)
	}
	if err := m.putUint32(ctx, storage.KeyBootCount, 0); err != nil {
		m.logger.Error("clearing boot counter failed", "error", err)
	}
	m.boot.BootCount = 0
	m.counterReset = true
	return m.force(ctx, Boot, ReasonManual, now)
}

// Reset returns to Boot and forgets approval, used by factory reset.
func (m *Machine) Reset(ctx context.Context, now uint32) error {
	m.approved = false
	m.sessionConfig = false
	return m.force(ctx, Boot, ReasonManual, now)
}

// TimeInState returns how long the machine has been in its current state.
func (m *Machine) TimeInState(now uint32) uint32 {
	return clock.Elapsed(now, m.enteredAt)
}

func (m *Machine) loadUint32(ctx context.Context, key string) (uint32, bool, error) {
	b, err := m.store.Get(ctx, storage.NSSystem, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading %s: %w", key, err)
	}
	if len(b) != 4 {
		return 0, false, nil
	}
	return binary.LittleEndian.Uint32(b), true, nil
}

func (m *Machine) putUint32(ctx context.Context, key string, v uint32) error {
	b := binary.LittleEndian.AppendUint32(nil, v)
	if err := m.store.Put(ctx, storage.NSSystem, key, b); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}
