package actuator

import "errors"

// Domain errors for actuator operations.
var (
	// ErrNotFound is returned when no actuator is configured on a pin.
	ErrNotFound = errors.New("actuator: not found")

	// ErrUnknownType is returned for an unsupported actuator type.
	ErrUnknownType = errors.New("actuator: unknown type")

	// ErrInvalidCommand is returned for an unsupported command.
	ErrInvalidCommand = errors.New("actuator: invalid command")

	// ErrInvalidGPIO is returned for a pin outside the addressable range.
	ErrInvalidGPIO = errors.New("actuator: gpio out of range")

	// ErrEmergencyActive is returned when commanding an actuator that is not
	// in the Normal emergency state.
	ErrEmergencyActive = errors.New("actuator: emergency stop active")

	// ErrProtectionTripped is returned for ON-direction commands while a
	// runtime-protection trip is latched.
	ErrProtectionTripped = errors.New("actuator: runtime protection tripped")

	// ErrIllegalTransition is returned for an emergency state change that
	// skips a stage.
	ErrIllegalTransition = errors.New("actuator: illegal emergency transition")

	// ErrWriteFailed is returned when the pin driver rejects a write.
	ErrWriteFailed = errors.New("actuator: write failed")

	// ErrCapacity is returned when MaxActuators are already configured.
	ErrCapacity = errors.New("actuator: registry full")
)
