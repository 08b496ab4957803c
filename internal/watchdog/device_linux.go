//go:build linux

package watchdog

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// wdiofCardReset is the WDIOF_CARDRESET boot status bit: the last reboot
// was caused by the watchdog.
const wdiofCardReset = 0x0020

// Device drives a Linux watchdog character device such as /dev/watchdog.
type Device struct {
	path        string
	fd          int
	bootTimeout bool
}

// OpenDevice prepares a device primitive. The device is only opened by
// Init, because opening it arms the timer.
func OpenDevice(path string) *Device {
	return &Device{path: path, fd: -1}
}

// Init implements Primitive. With reset false the device is left closed
// and supervision is software only.
func (d *Device) Init(timeout time.Duration, reset bool) error {
	if !reset {
		return d.Close()
	}
	if d.fd < 0 {
		fd, err := unix.Open(d.path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("opening %s: %w", d.path, err)
		}
		d.fd = fd
		if status, err := unix.IoctlGetInt(fd, unix.WDIOC_GETBOOTSTATUS); err == nil {
			d.bootTimeout = status&wdiofCardReset != 0
		}
	}

	secs := int((timeout + time.Second - 1) / time.Second)
	if err := unix.IoctlSetPointerInt(d.fd, unix.WDIOC_SETTIMEOUT, secs); err != nil {
		return fmt.Errorf("setting timeout on %s: %w", d.path, err)
	}
	return nil
}

// Feed implements Primitive.
func (d *Device) Feed() error {
	if d.fd < 0 {
		return nil
	}
	if err := unix.IoctlWatchdogKeepalive(d.fd); err != nil {
		return fmt.Errorf("keepalive on %s: %w", d.path, err)
	}
	return nil
}

// LastResetWasTimeout implements Primitive. The boot status is only known
// once the device has been opened.
func (d *Device) LastResetWasTimeout() bool {
	if d.fd < 0 {
		fd, err := unix.Open(d.path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return false
		}
		status, err := unix.IoctlGetInt(fd, unix.WDIOC_GETBOOTSTATUS)
		// Magic close so merely probing does not arm the timer.
		_, _ = unix.Write(fd, []byte("V")) //nolint:errcheck // best effort disarm
		_ = unix.Close(fd)                 //nolint:errcheck // probe fd
		return err == nil && status&wdiofCardReset != 0
	}
	return d.bootTimeout
}

// Close disarms (magic close) and releases the device.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	_, _ = unix.Write(d.fd, []byte("V")) //nolint:errcheck // nowayout kernels ignore it
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
