// Package hal is the hardware boundary of the edge node.
//
// Controllers never touch pins directly; they go through PinController so the
// same safety logic runs against real hardware and against the simulator
// used in development and tests.
package hal

import "errors"

// MaxPin is the highest addressable GPIO index.
const MaxPin = 39

// MaxDuty is the native duty range of the PWM driver (8-bit).
const MaxDuty = 255

var (
	// ErrInvalidPin is returned for pin indices outside 0..MaxPin.
	ErrInvalidPin = errors.New("hal: invalid pin")

	// ErrWriteFailed is returned when the driver rejects a write.
	ErrWriteFailed = errors.New("hal: write failed")

	// ErrReadFailed is returned when the driver cannot read a pin.
	ErrReadFailed = errors.New("hal: read failed")
)

// PinController drives and reads physical pins.
type PinController interface {
	// SetOutput drives a digital output pin.
	SetOutput(pin int, on bool) error

	// SetPWM sets the duty cycle (0..MaxDuty) of a PWM channel bound to pin.
	SetPWM(pin, channel int, duty uint8) error

	// Read returns the current logic level of a pin. For outputs this is the
	// read-back used to confirm that a write took effect.
	Read(pin int) (bool, error)

	// SetSafeMode returns a pin to its safe state (input, pull-up, no drive).
	SetSafeMode(pin int) error
}

// AnalogReader returns raw ADC readings. Value conversion happens upstream.
type AnalogReader interface {
	ReadRaw(pin int) (uint16, error)
}

// Pattern identifies a local indicator blink pattern.
//
// Indicators are the last-resort failure surface when no network is
// available, so every failure class gets a distinct pattern.
type Pattern string

const (
	PatternOff              Pattern = "off"
	PatternProvisioning     Pattern = "provisioning"      // slow blink
	PatternSafeMode         Pattern = "safe_mode"         // double blink
	PatternEmergency        Pattern = "emergency"         // solid
	PatternWatchdogTimeout  Pattern = "watchdog_timeout"  // triple blink
	PatternStorageFailure   Pattern = "storage_failure"   // 2 long 1 short
	PatternHardwareFailure  Pattern = "hardware_failure"  // 3 long
	PatternLinkFailure      Pattern = "link_failure"      // 1 long 2 short
	PatternConfigFailure    Pattern = "config_failure"    // 4 short
	PatternApprovalRejected Pattern = "approval_rejected" // fast blink
)

// Indicator shows a pattern on a local status LED.
type Indicator interface {
	Show(p Pattern)
}

// ValidPin reports whether pin is within the addressable range.
func ValidPin(pin int) bool {
	return pin >= 0 && pin <= MaxPin
}
