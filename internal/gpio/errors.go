package gpio

import (
	"errors"
	"fmt"
)

// Domain errors for pin ownership.
var (
	// ErrInvalidPin is returned for pin indices outside 0..hal.MaxPin.
	ErrInvalidPin = errors.New("gpio: pin out of range")

	// ErrReservedPin is returned when reserving a pin the board needs for
	// itself (flash interface).
	ErrReservedPin = errors.New("gpio: pin reserved by system")

	// ErrInputOnly is returned when an actuator tries to own an input-only pin.
	ErrInputOnly = errors.New("gpio: pin is input-only")

	// ErrInvalidOwner is returned when reserving with OwnerNone.
	ErrInvalidOwner = errors.New("gpio: invalid owner")

	// ErrInvalidSubzone is returned for an empty subzone id.
	ErrInvalidSubzone = errors.New("gpio: invalid subzone id")

	// ErrSubzoneNotFound is returned for operations on an unknown subzone.
	ErrSubzoneNotFound = errors.New("gpio: subzone not found")

	// ErrSafeModeDegraded is returned when one or more pins of a subzone
	// could not be put into safe mode.
	ErrSafeModeDegraded = errors.New("gpio: safe mode lock incomplete")
)

// ConflictError reports that a pin (or a pin's subzone slot) is already held
// by someone else. CurrentComponent identifies the holder so the coordinator
// can resolve the clash.
type ConflictError struct {
	Pin              int
	CurrentOwner     Owner
	CurrentComponent string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("gpio: pin %d already owned by %s %q", e.Pin, e.CurrentOwner, e.CurrentComponent)
}

// SubzoneError reports the pin that made a subzone assignment fail. No pin
// state was changed by the failed call.
type SubzoneError struct {
	Subzone string
	Pin     int
	Cause   error
}

func (e *SubzoneError) Error() string {
	return fmt.Sprintf("gpio: assigning subzone %q failed at pin %d: %v", e.Subzone, e.Pin, e.Cause)
}

func (e *SubzoneError) Unwrap() error { return e.Cause }
