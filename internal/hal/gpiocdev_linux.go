//go:build linux

package hal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Chip drives pins through the Linux GPIO character device. Pin numbers
// are line offsets on the chip. A line is requested on first use and held
// until Close, so the kernel keeps the driven level between writes.
//
// The character device has no PWM or ADC: SetPWM accepts only fully off or
// fully on, and ReadRaw always fails.
type Chip struct {
	mu     sync.Mutex
	chip   *gpiocdev.Chip
	lines  map[int]*gpiocdev.Line
	output map[int]bool
}

// OpenChip opens the named chip, e.g. "gpiochip0", requesting lines under
// consumer.
func OpenChip(name, consumer string) (*Chip, error) {
	c, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("hal: open chip %s: %w", name, err)
	}
	return &Chip{
		chip:   c,
		lines:  make(map[int]*gpiocdev.Line),
		output: make(map[int]bool),
	}, nil
}

// SetOutput implements PinController.
func (c *Chip) SetOutput(pin int, on bool) error {
	if !ValidPin(pin) {
		return ErrInvalidPin
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v := level(on)
	if c.output[pin] {
		if err := c.lines[pin].SetValue(v); err != nil {
			return fmt.Errorf("%w: gpio %d: %w", ErrWriteFailed, pin, err)
		}
		return nil
	}
	if err := c.request(pin, true, gpiocdev.AsOutput(v)); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// SetPWM implements PinController. Only duty 0 and MaxDuty can be driven.
func (c *Chip) SetPWM(pin, _ int, duty uint8) error {
	switch duty {
	case 0:
		return c.SetOutput(pin, false)
	case MaxDuty:
		return c.SetOutput(pin, true)
	}
	return fmt.Errorf("%w: gpio %d: duty %d needs a PWM peripheral: %w",
		ErrWriteFailed, pin, duty, errors.ErrUnsupported)
}

// Read implements PinController. An output reads back its driven level.
func (c *Chip) Read(pin int) (bool, error) {
	if !ValidPin(pin) {
		return false, ErrInvalidPin
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lines[pin]
	if !ok {
		if err := c.request(pin, false, gpiocdev.AsInput); err != nil {
			return false, fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		l = c.lines[pin]
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("%w: gpio %d: %w", ErrReadFailed, pin, err)
	}
	return v != 0, nil
}

// SetSafeMode implements PinController: the line becomes an input with the
// pull-up enabled.
func (c *Chip) SetSafeMode(pin int) error {
	if !ValidPin(pin) {
		return ErrInvalidPin
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.request(pin, false, gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// ReadRaw implements AnalogReader. There is no ADC behind a GPIO chip.
func (c *Chip) ReadRaw(pin int) (uint16, error) {
	return 0, fmt.Errorf("%w: gpio %d: no ADC on a GPIO character device: %w",
		ErrReadFailed, pin, errors.ErrUnsupported)
}

// Close releases every requested line and the chip.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gpio %d: %w", pin, err))
		}
	}
	clear(c.lines)
	clear(c.output)
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}
	return errors.Join(errs...)
}

// request (re)requests pin with opts, releasing any line held for it.
// Callers hold mu.
func (c *Chip) request(pin int, output bool, opts ...gpiocdev.LineReqOption) error {
	if c.chip == nil {
		return fmt.Errorf("gpio %d: chip closed", pin)
	}
	if l, ok := c.lines[pin]; ok {
		_ = l.Close() //nolint:errcheck // re-requested below
		delete(c.lines, pin)
		delete(c.output, pin)
	}
	l, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("gpio %d: request line: %w", pin, err)
	}
	c.lines[pin] = l
	c.output[pin] = output
	return nil
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}
