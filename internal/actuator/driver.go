package actuator

import (
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/hal"
)

// driver translates a target output into pin writes for one actuator type.
type driver interface {
	apply(on bool, duty uint8) error
	readBack() (bool, error)
}

func newDriver(cfg Config, hw hal.PinController) driver {
	switch cfg.Type {
	case TypePWM:
		return &pwmDriver{hw: hw, pin: cfg.GPIO, channel: cfg.PWMChannel}
	case TypeValve:
		aux := -1
		if cfg.AuxGPIO != nil {
			aux = *cfg.AuxGPIO
		}
		return &valveDriver{hw: hw, pin: cfg.GPIO, aux: aux}
	default:
		return &binaryDriver{hw: hw, pin: cfg.GPIO}
	}
}

// binaryDriver drives pumps and relays.
type binaryDriver struct {
	hw  hal.PinController
	pin int
}

func (d *binaryDriver) apply(on bool, _ uint8) error {
	return d.hw.SetOutput(d.pin, on)
}

func (d *binaryDriver) readBack() (bool, error) {
	return d.hw.Read(d.pin)
}

// pwmDriver drives a duty-cycle output.
type pwmDriver struct {
	hw      hal.PinController
	pin     int
	channel int
}

func (d *pwmDriver) apply(on bool, duty uint8) error {
	if !on {
		duty = 0
	}
	return d.hw.SetPWM(d.pin, d.channel, duty)
}

func (d *pwmDriver) readBack() (bool, error) {
	return d.hw.Read(d.pin)
}

// valveDriver sets the direction pin before the enable pin when opening and
// drops the enable pin first when closing.
type valveDriver struct {
	hw  hal.PinController
	pin int
	aux int
}

func (d *valveDriver) apply(on bool, _ uint8) error {
	if d.aux < 0 {
		return d.hw.SetOutput(d.pin, on)
	}
	if on {
		if err := d.hw.SetOutput(d.aux, true); err != nil {
			return fmt.Errorf("direction pin %d: %w", d.aux, err)
		}
		return d.hw.SetOutput(d.pin, true)
	}
	if err := d.hw.SetOutput(d.pin, false); err != nil {
		return err
	}
	if err := d.hw.SetOutput(d.aux, false); err != nil {
		return fmt.Errorf("direction pin %d: %w", d.aux, err)
	}
	return nil
}

func (d *valveDriver) readBack() (bool, error) {
	return d.hw.Read(d.pin)
}
