// Package sensor keeps the node's sensor configuration and serves raw
// on-demand readings.
//
// Value conversion and calibration happen upstream; this registry only
// claims pins in the gpio.Ledger and reads raw levels or ADC counts. It is
// owned by the control loop and is not safe for concurrent use.
package sensor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
)

// MaxSensors bounds how many sensors one node serves.
const MaxSensors = 20

// Domain errors for sensor operations.
var (
	ErrNotFound    = errors.New("sensor: not found")
	ErrUnknownType = errors.New("sensor: unknown type")
	ErrInvalidGPIO = errors.New("sensor: gpio out of range")
	ErrReadFailed  = errors.New("sensor: read failed")
	ErrCapacity    = errors.New("sensor: registry full")
	ErrNoADC       = errors.New("sensor: no analog reader")
)

// readKind selects how a sensor type is sampled.
type readKind uint8

const (
	readAnalog readKind = iota
	readDigital
)

var knownTypes = map[string]readKind{
	"ph":           readAnalog,
	"ec":           readAnalog,
	"moisture":     readAnalog,
	"light":        readAnalog,
	"pressure":     readAnalog,
	"level":        readAnalog,
	"analog":       readAnalog,
	"temperature":  readAnalog,
	"humidity":     readAnalog,
	"co2":          readAnalog,
	"flow":         readDigital,
	"float_switch": readDigital,
	"digital":      readDigital,
}

// Config is the persisted configuration of one sensor.
type Config struct {
	GPIO      int    `json:"gpio"`
	Type      string `json:"sensor_type"`
	Name      string `json:"sensor_name"`
	SubzoneID string `json:"subzone_id,omitempty"`
	Active    bool   `json:"active"`
	RawMode   bool   `json:"raw_mode"`
}

// ComponentID is the identity recorded in the pin ledger.
func (c Config) ComponentID() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s-%d", c.Type, c.GPIO)
}

// Reading is a raw sample, published on sensor/{gpio}/data.
type Reading struct {
	GPIO       int    `json:"gpio"`
	SensorType string `json:"sensor_type"`
	Name       string `json:"sensor_name,omitempty"`
	Raw        uint16 `json:"raw"`
	RawMode    bool   `json:"raw_mode"`
	Timestamp  uint32 `json:"timestamp"`
}

// Registry holds the configured sensors.
type Registry struct {
	ledger  *gpio.Ledger
	pins    hal.PinController
	adc     hal.AnalogReader
	sensors map[int]Config
}

// NewRegistry creates an empty registry. adc may be nil on boards without
// analog inputs; analog sensors then fail to read.
func NewRegistry(ledger *gpio.Ledger, pins hal.PinController, adc hal.AnalogReader) *Registry {
	return &Registry{ledger: ledger, pins: pins, adc: adc, sensors: make(map[int]Config)}
}

// Configure adds, updates or (when cfg.Active is false) removes a sensor.
func (r *Registry) Configure(cfg Config) error {
	if !hal.ValidPin(cfg.GPIO) {
		return fmt.Errorf("%w: %d", ErrInvalidGPIO, cfg.GPIO)
	}
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if _, ok := knownTypes[cfg.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if !cfg.Active {
		r.Remove(cfg.GPIO)
		return nil
	}

	prev, exists := r.sensors[cfg.GPIO]
	if !exists && len(r.sensors) >= MaxSensors {
		return fmt.Errorf("%w: %d configured", ErrCapacity, MaxSensors)
	}
	if exists {
		r.ledger.Release(cfg.GPIO)
	}
	if err := r.ledger.Reserve(cfg.GPIO, gpio.OwnerSensor, cfg.ComponentID()); err != nil {
		if exists {
			_ = r.ledger.Reserve(prev.GPIO, gpio.OwnerSensor, prev.ComponentID()) //nolint:errcheck // previous claim cannot conflict
		}
		return fmt.Errorf("reserving gpio %d: %w", cfg.GPIO, err)
	}
	r.sensors[cfg.GPIO] = cfg
	return nil
}

// Remove releases the sensor's pin. Unknown pins are ignored.
func (r *Registry) Remove(pin int) {
	if _, ok := r.sensors[pin]; !ok {
		return
	}
	r.ledger.Release(pin)
	delete(r.sensors, pin)
}

// Reset removes every sensor.
func (r *Registry) Reset() {
	for _, pin := range r.GPIOs() {
		r.Remove(pin)
	}
}

// Measure takes one raw sample. Digital sensors report 0 or 1.
func (r *Registry) Measure(pin int, now uint32) (Reading, error) {
	cfg, ok := r.sensors[pin]
	if !ok {
		return Reading{}, fmt.Errorf("%w: gpio %d", ErrNotFound, pin)
	}
	reading := Reading{GPIO: pin, SensorType: cfg.Type, Name: cfg.Name, RawMode: cfg.RawMode, Timestamp: now}

	switch knownTypes[cfg.Type] {
	case readDigital:
		level, err := r.pins.Read(pin)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: gpio %d: %w", ErrReadFailed, pin, err)
		}
		if level {
			reading.Raw = 1
		}
	case readAnalog:
		if r.adc == nil {
			return Reading{}, fmt.Errorf("%w: gpio %d", ErrNoADC, pin)
		}
		raw, err := r.adc.ReadRaw(pin)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: gpio %d: %w", ErrReadFailed, pin, err)
		}
		reading.Raw = raw
	}
	return reading, nil
}

// Get returns the configuration of one sensor.
func (r *Registry) Get(pin int) (Config, bool) {
	cfg, ok := r.sensors[pin]
	return cfg, ok
}

// GPIOs returns the configured pins in ascending order.
func (r *Registry) GPIOs() []int {
	pins := make([]int, 0, len(r.sensors))
	for pin := range r.sensors {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	return pins
}

// Configs returns every configuration, ordered by pin.
func (r *Registry) Configs() []Config {
	out := make([]Config, 0, len(r.sensors))
	for _, pin := range r.GPIOs() {
		out = append(out, r.sensors[pin])
	}
	return out
}

// Len returns the number of configured sensors.
func (r *Registry) Len() int { return len(r.sensors) }
