package hal

import (
	"fmt"
	"sync"
)

// Write is one recorded output operation on the simulator.
type Write struct {
	Pin  int
	On   bool
	Duty uint8
	PWM  bool
}

// Sim is an in-memory PinController and AnalogReader.
//
// Reads return the last written level unless a pin has been stuck with
// Stick, which lets tests model hardware that ignores writes. Failures can be
// injected per pin.
type Sim struct {
	mu       sync.Mutex
	levels   map[int]bool
	duty     map[int]uint8
	analog   map[int]uint16
	stuck    map[int]bool
	failW    map[int]bool
	failSafe map[int]bool
	safe     map[int]bool
	writes   []Write
}

// NewSim returns an empty simulator with every pin low.
func NewSim() *Sim {
	return &Sim{
		levels:   make(map[int]bool),
		duty:     make(map[int]uint8),
		analog:   make(map[int]uint16),
		stuck:    make(map[int]bool),
		failW:    make(map[int]bool),
		failSafe: make(map[int]bool),
		safe:     make(map[int]bool),
	}
}

// SetOutput implements PinController.
func (s *Sim) SetOutput(pin int, on bool) error {
	if !ValidPin(pin) {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failW[pin] {
		return fmt.Errorf("%w: pin %d", ErrWriteFailed, pin)
	}
	s.levels[pin] = on
	s.safe[pin] = false
	s.writes = append(s.writes, Write{Pin: pin, On: on})
	return nil
}

// SetPWM implements PinController.
func (s *Sim) SetPWM(pin, _ int, duty uint8) error {
	if !ValidPin(pin) {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failW[pin] {
		return fmt.Errorf("%w: pin %d", ErrWriteFailed, pin)
	}
	s.duty[pin] = duty
	s.levels[pin] = duty > 0
	s.safe[pin] = false
	s.writes = append(s.writes, Write{Pin: pin, On: duty > 0, Duty: duty, PWM: true})
	return nil
}

// Read implements PinController.
func (s *Sim) Read(pin int) (bool, error) {
	if !ValidPin(pin) {
		return false, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.stuck[pin]; ok {
		return v, nil
	}
	return s.levels[pin], nil
}

// SetSafeMode implements PinController.
func (s *Sim) SetSafeMode(pin int) error {
	if !ValidPin(pin) {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSafe[pin] {
		return fmt.Errorf("%w: safe mode pin %d", ErrWriteFailed, pin)
	}
	s.levels[pin] = false
	s.duty[pin] = 0
	s.safe[pin] = true
	return nil
}

// ReadRaw implements AnalogReader.
func (s *Sim) ReadRaw(pin int) (uint16, error) {
	if !ValidPin(pin) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analog[pin], nil
}

// SetAnalog sets the raw value ReadRaw returns for pin.
func (s *Sim) SetAnalog(pin int, v uint16) {
	s.mu.Lock()
	s.analog[pin] = v
	s.mu.Unlock()
}

// Stick forces Read to return v regardless of writes.
func (s *Sim) Stick(pin int, v bool) {
	s.mu.Lock()
	s.stuck[pin] = v
	s.mu.Unlock()
}

// Unstick removes a Stick override.
func (s *Sim) Unstick(pin int) {
	s.mu.Lock()
	delete(s.stuck, pin)
	s.mu.Unlock()
}

// FailWrites makes every write to pin fail.
func (s *Sim) FailWrites(pin int, fail bool) {
	s.mu.Lock()
	s.failW[pin] = fail
	s.mu.Unlock()
}

// FailSafeMode makes SetSafeMode on pin fail.
func (s *Sim) FailSafeMode(pin int, fail bool) {
	s.mu.Lock()
	s.failSafe[pin] = fail
	s.mu.Unlock()
}

// Level returns the last written level of pin.
func (s *Sim) Level(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Duty returns the last written PWM duty of pin.
func (s *Sim) Duty(pin int) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty[pin]
}

// InSafeMode reports whether pin was last put in safe mode.
func (s *Sim) InSafeMode(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safe[pin]
}

// Writes returns a copy of the recorded output operations.
func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// ResetWrites clears the recorded output operations.
func (s *Sim) ResetWrites() {
	s.mu.Lock()
	s.writes = nil
	s.mu.Unlock()
}
