// Package gpio implements the pin ownership ledger.
//
// Every physical pin has at most one owner (a sensor or an actuator) and,
// independently, at most one subzone. Reserve and Release are the only
// operations that change ownership; AssignSubzone and RemoveSubzone are the
// only ones that change subzone membership. A Ledger is owned by the control
// loop and is not safe for concurrent use.
package gpio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nerrad567/kaiser-edge/internal/hal"
)

// Owner identifies the kind of component holding a pin.
type Owner uint8

const (
	OwnerNone Owner = iota
	OwnerSensor
	OwnerActuator
)

func (o Owner) String() string {
	switch o {
	case OwnerSensor:
		return "sensor"
	case OwnerActuator:
		return "actuator"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Owner) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Pin is the ledger entry for one GPIO.
type Pin struct {
	Index          int    `json:"gpio"`
	Owner          Owner  `json:"owner"`
	Component      string `json:"component,omitempty"`
	Subzone        string `json:"subzone_id,omitempty"`
	SafeModeLocked bool   `json:"safe_mode_locked"`
}

// Config describes board-specific pin restrictions.
type Config struct {
	// Reserved pins reject every reservation.
	Reserved []int

	// InputOnly pins cannot be owned by actuators.
	InputOnly []int
}

// DefaultConfig returns the restrictions of the reference board: 6-11 are
// wired to the SPI flash and 34-39 have no output driver.
func DefaultConfig() Config {
	return Config{
		Reserved:  []int{6, 7, 8, 9, 10, 11},
		InputOnly: []int{34, 35, 36, 37, 38, 39},
	}
}

// Logger defines the logging interface used by the Ledger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Ledger tracks pin ownership and subzone membership.
type Ledger struct {
	pins      [hal.MaxPin + 1]Pin
	reserved  map[int]bool
	inputOnly map[int]bool
	subzones  map[string][]int
	hw        hal.PinController
	logger    Logger
}

// New creates a ledger. hw is used for safe-mode locking and may be nil when
// that feature is not needed.
func New(cfg Config, hw hal.PinController) *Ledger {
	l := &Ledger{
		reserved:  make(map[int]bool, len(cfg.Reserved)),
		inputOnly: make(map[int]bool, len(cfg.InputOnly)),
		subzones:  make(map[string][]int),
		hw:        hw,
		logger:    noopLogger{},
	}
	for i := range l.pins {
		l.pins[i].Index = i
	}
	for _, p := range cfg.Reserved {
		l.reserved[p] = true
	}
	for _, p := range cfg.InputOnly {
		l.inputOnly[p] = true
	}
	return l
}

// SetLogger sets the logger for the ledger.
func (l *Ledger) SetLogger(logger Logger) {
	l.logger = logger
}

func (l *Ledger) checkPin(pin int) error {
	if !hal.ValidPin(pin) {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	if l.reserved[pin] {
		return fmt.Errorf("%w: %d", ErrReservedPin, pin)
	}
	return nil
}

// Reserve claims pin for component. Reserving a pin already held by the same
// (owner, component) is a no-op; any other holder yields *ConflictError.
func (l *Ledger) Reserve(pin int, owner Owner, component string) error {
	if owner == OwnerNone {
		return ErrInvalidOwner
	}
	if err := l.checkPin(pin); err != nil {
		return err
	}
	if owner == OwnerActuator && l.inputOnly[pin] {
		return fmt.Errorf("%w: %d", ErrInputOnly, pin)
	}

	p := &l.pins[pin]
	if p.Owner != OwnerNone {
		if p.Owner == owner && p.Component == component {
			return nil
		}
		return &ConflictError{Pin: pin, CurrentOwner: p.Owner, CurrentComponent: p.Component}
	}

	p.Owner = owner
	p.Component = component
	l.logger.Debug("gpio reserved", "gpio", pin, "owner", owner.String(), "component", component)
	return nil
}

// Release frees pin's owner. Releasing a free or invalid pin is a no-op.
func (l *Ledger) Release(pin int) {
	if !hal.ValidPin(pin) {
		return
	}
	p := &l.pins[pin]
	if p.Owner == OwnerNone {
		return
	}
	l.logger.Debug("gpio released", "gpio", pin, "owner", p.Owner.String(), "component", p.Component)
	p.Owner = OwnerNone
	p.Component = ""
}

// Lookup returns the ledger entry for pin.
func (l *Ledger) Lookup(pin int) (Pin, bool) {
	if !hal.ValidPin(pin) {
		return Pin{}, false
	}
	return l.pins[pin], true
}

// IsAvailable reports whether pin can be reserved by owner.
func (l *Ledger) IsAvailable(pin int, owner Owner) bool {
	if l.checkPin(pin) != nil {
		return false
	}
	if owner == OwnerActuator && l.inputOnly[pin] {
		return false
	}
	return l.pins[pin].Owner == OwnerNone
}

// AssignSubzone places every pin in gpios into subzone. Pins are processed in
// order; on the first failure every slot taken by this call is released
// again and a *SubzoneError is returned, leaving the ledger exactly as it was.
//
// Re-assigning an existing subzone replaces its pin set: pins no longer
// listed are released only after the new set is fully reserved.
func (l *Ledger) AssignSubzone(subzone string, gpios []int) error {
	if subzone == "" {
		return ErrInvalidSubzone
	}

	var taken []int
	rollback := func() {
		for _, pin := range taken {
			l.pins[pin].Subzone = ""
		}
	}

	seen := make(map[int]bool, len(gpios))
	pinSet := make([]int, 0, len(gpios))
	for _, pin := range gpios {
		if seen[pin] {
			continue
		}
		seen[pin] = true

		if err := l.checkPin(pin); err != nil {
			rollback()
			return &SubzoneError{Subzone: subzone, Pin: pin, Cause: err}
		}
		p := &l.pins[pin]
		switch p.Subzone {
		case subzone:
		case "":
			p.Subzone = subzone
			taken = append(taken, pin)
		default:
			rollback()
			return &SubzoneError{Subzone: subzone, Pin: pin, Cause: &ConflictError{
				Pin: pin, CurrentOwner: p.Owner, CurrentComponent: "subzone:" + p.Subzone,
			}}
		}
		pinSet = append(pinSet, pin)
	}

	for _, pin := range l.subzones[subzone] {
		if !seen[pin] {
			l.pins[pin].Subzone = ""
			l.pins[pin].SafeModeLocked = false
		}
	}
	sort.Ints(pinSet)
	l.subzones[subzone] = pinSet
	l.logger.Debug("subzone assigned", "subzone_id", subzone, "gpios", pinSet)
	return nil
}

// RemoveSubzone releases every slot and safe-mode lock of subzone.
func (l *Ledger) RemoveSubzone(subzone string) error {
	pins, ok := l.subzones[subzone]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSubzoneNotFound, subzone)
	}
	for _, pin := range pins {
		l.pins[pin].Subzone = ""
		l.pins[pin].SafeModeLocked = false
	}
	delete(l.subzones, subzone)
	return nil
}

// EnableSafeModeForSubzone puts every pin of subzone that is not driven by an
// actuator into its hardware safe state and marks it locked. Pins that fail
// are reported through an error wrapping ErrSafeModeDegraded; the subzone
// assignment itself is left in place.
func (l *Ledger) EnableSafeModeForSubzone(subzone string) error {
	pins, ok := l.subzones[subzone]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSubzoneNotFound, subzone)
	}
	if l.hw == nil {
		return fmt.Errorf("%w: no pin controller", ErrSafeModeDegraded)
	}

	var errs []error
	for _, pin := range pins {
		if l.pins[pin].Owner == OwnerActuator {
			continue
		}
		if err := l.hw.SetSafeMode(pin); err != nil {
			l.logger.Warn("safe mode lock failed", "gpio", pin, "subzone_id", subzone, "error", err)
			errs = append(errs, fmt.Errorf("pin %d: %w", pin, err))
			continue
		}
		l.pins[pin].SafeModeLocked = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSafeModeDegraded, errors.Join(errs...))
	}
	return nil
}

// SubzonePins returns the pins of subzone.
func (l *Ledger) SubzonePins(subzone string) ([]int, bool) {
	pins, ok := l.subzones[subzone]
	if !ok {
		return nil, false
	}
	out := make([]int, len(pins))
	copy(out, pins)
	return out, true
}

// Subzones returns the assigned subzone ids in ascending order.
func (l *Ledger) Subzones() []string {
	ids := make([]string, 0, len(l.subzones))
	for id := range l.subzones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns every pin that is owned, in a subzone or locked.
func (l *Ledger) Snapshot() []Pin {
	var out []Pin
	for _, p := range l.pins {
		if p.Owner != OwnerNone || p.Subzone != "" || p.SafeModeLocked {
			out = append(out, p)
		}
	}
	return out
}

// Reset frees every pin and removes all subzones.
func (l *Ledger) Reset() {
	for i := range l.pins {
		l.pins[i] = Pin{Index: i}
	}
	l.subzones = make(map[string][]int)
}
