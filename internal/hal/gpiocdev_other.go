//go:build !linux

package hal

import (
	"errors"
	"fmt"
)

// Chip is unavailable off Linux; OpenChip always fails.
type Chip struct{}

// OpenChip reports that the GPIO character device needs Linux.
func OpenChip(name, _ string) (*Chip, error) {
	return nil, fmt.Errorf("hal: open chip %s: gpio character device requires linux: %w", name, errors.ErrUnsupported)
}

func (*Chip) SetOutput(int, bool) error    { return ErrWriteFailed }
func (*Chip) SetPWM(int, int, uint8) error { return ErrWriteFailed }
func (*Chip) Read(int) (bool, error)       { return false, ErrReadFailed }
func (*Chip) SetSafeMode(int) error        { return ErrWriteFailed }
func (*Chip) ReadRaw(int) (uint16, error)  { return 0, ErrReadFailed }
func (*Chip) Close() error                 { return nil }
