package router

import (
	"encoding/json"
	"errors"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
	"github.com/nerrad567/kaiser-edge/internal/lifecycle"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/sensor"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// codeFor maps a component error to the fault code reported on the wire.
// An explicit code in the chain wins.
func codeFor(err error) faults.Code {
	if c := faults.CodeOf(err); c != 0 {
		return c
	}

	var (
		conflict  *gpio.ConflictError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &conflict):
		return faults.GPIOConflict
	case errors.Is(err, gpio.ErrReservedPin):
		return faults.GPIOReserved
	case errors.Is(err, gpio.ErrInputOnly):
		return faults.GPIOInvalidMode
	case errors.Is(err, gpio.ErrInvalidPin),
		errors.Is(err, hal.ErrInvalidPin),
		errors.Is(err, actuator.ErrInvalidGPIO),
		errors.Is(err, sensor.ErrInvalidGPIO):
		return faults.GPIOOutOfRange
	case errors.Is(err, gpio.ErrInvalidSubzone), errors.Is(err, gpio.ErrSubzoneNotFound):
		return faults.SubzoneInvalid
	case errors.Is(err, gpio.ErrSafeModeDegraded):
		return faults.SafeModeLock
	case errors.Is(err, actuator.ErrUnknownType):
		return faults.UnknownActuatorType
	case errors.Is(err, sensor.ErrUnknownType):
		return faults.UnknownSensorType
	case errors.Is(err, actuator.ErrInvalidCommand):
		return faults.CommandInvalid
	case errors.Is(err, actuator.ErrEmergencyActive):
		return faults.EmergencyActive
	case errors.Is(err, actuator.ErrProtectionTripped):
		return faults.ProtectionTripped
	case errors.Is(err, actuator.ErrWriteFailed), errors.Is(err, hal.ErrWriteFailed):
		return faults.ActuatorWrite
	case errors.Is(err, actuator.ErrNotFound), errors.Is(err, sensor.ErrNotFound):
		return faults.NotConfigured
	case errors.Is(err, actuator.ErrCapacity), errors.Is(err, sensor.ErrCapacity):
		return faults.OutOfMemory
	case errors.Is(err, sensor.ErrReadFailed), errors.Is(err, sensor.ErrNoADC):
		return faults.SensorRead
	case errors.Is(err, safety.ErrVerificationFailed), errors.Is(err, safety.ErrResumeInProgress):
		return faults.CommandRejected
	case errors.Is(err, safety.ErrNotActive),
		errors.Is(err, safety.ErrNotClearing),
		errors.Is(err, actuator.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrIllegalTransition):
		return faults.StateInvalid
	case errors.Is(err, storage.ErrNotFound):
		return faults.ConfigMissing
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return faults.PayloadParse
	default:
		return faults.CommandRejected
	}
}
