//go:build !linux

package watchdog

import (
	"errors"
	"time"
)

// Device is unavailable off Linux; Init always fails.
type Device struct{}

// OpenDevice returns a primitive that cannot be armed on this platform.
func OpenDevice(string) *Device { return &Device{} }

func (*Device) Init(time.Duration, bool) error {
	return errors.New("hardware watchdog requires linux")
}
func (*Device) Feed() error               { return nil }
func (*Device) LastResetWasTimeout() bool { return false }
func (*Device) Close() error              { return nil }
