package hal

import "sync"

// Logger is the subset of logging used by the indicator.
type Logger interface {
	Info(msg string, args ...any)
}

// LogIndicator reports pattern changes through the logger and, when a pin
// is configured, drives a status LED on it (on for every pattern but Off).
type LogIndicator struct {
	mu      sync.Mutex
	logger  Logger
	pins    PinController
	pin     int
	current Pattern
}

// NewLogIndicator returns an indicator. pins may be nil or pin negative to
// disable the LED output.
func NewLogIndicator(logger Logger, pins PinController, pin int) *LogIndicator {
	return &LogIndicator{logger: logger, pins: pins, pin: pin, current: PatternOff}
}

// Show implements Indicator. Repeated patterns are not re-logged.
func (l *LogIndicator) Show(p Pattern) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p == l.current {
		return
	}
	l.current = p
	if l.logger != nil {
		l.logger.Info("indicator pattern", "pattern", string(p))
	}
	if l.pins != nil && l.pin >= 0 {
		_ = l.pins.SetOutput(l.pin, p != PatternOff) //nolint:errcheck // indicator is best-effort
	}
}

// Current returns the pattern last shown.
func (l *LogIndicator) Current() Pattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
