package faults

import (
	"errors"
	"fmt"
)

// Severity grades a recorded fault.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// recentCapacity bounds the in-memory fault history.
const recentCapacity = 20

// Error carries a Code together with context and an optional cause.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code.Name(), e.Detail, e.Err)
	case e.Detail != "":
		return e.Code.Name() + ": " + e.Detail
	case e.Err != nil:
		return e.Code.Name() + ": " + e.Err.Error()
	default:
		return e.Code.Name()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with the given code and detail.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap returns an *Error with the given code wrapping err.
func Wrap(code Code, detail string, err error) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

// CodeOf extracts a Code from an error chain, or 0 when none is present.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ FaultCode() Code }
	var x coder
	if errors.As(err, &x) {
		return x.FaultCode()
	}
	return 0
}

// Fault is one recorded occurrence.
type Fault struct {
	Code     Code     `json:"code"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
	At       uint32   `json:"at_ms"`
}

// Tracker records faults and tracks the set of active critical faults.
//
// Active critical faults block watchdog feeding and force the lifecycle
// into Error or SafeMode. Everything else is history only.
//
// Tracker is owned by the control loop and is not safe for concurrent use.
type Tracker struct {
	recent   []Fault
	next     int
	total    uint32
	critical map[Code]Fault
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		recent:   make([]Fault, 0, recentCapacity),
		critical: make(map[Code]Fault),
	}
}

// Record stores a fault in the history and returns it.
// Critical faults also become active until ClearCritical is called.
func (t *Tracker) Record(code Code, severity Severity, detail string, now uint32) Fault {
	f := Fault{
		Code:     code,
		Name:     code.Name(),
		Category: code.Category(),
		Severity: severity,
		Detail:   detail,
		At:       now,
	}

	if len(t.recent) < recentCapacity {
		t.recent = append(t.recent, f)
	} else {
		t.recent[t.next] = f
	}
	t.next = (t.next + 1) % recentCapacity
	t.total++

	if severity == SeverityCritical {
		t.critical[code] = f
	}
	return f
}

// RecordError records err under its embedded code, falling back to fallback.
func (t *Tracker) RecordError(err error, fallback Code, severity Severity, now uint32) Fault {
	code := CodeOf(err)
	if code == 0 {
		code = fallback
	}
	return t.Record(code, severity, err.Error(), now)
}

// ClearCritical deactivates a critical fault.
func (t *Tracker) ClearCritical(code Code) {
	delete(t.critical, code)
}

// HasCritical reports whether any critical fault is active.
func (t *Tracker) HasCritical() bool {
	return len(t.critical) > 0
}

// ActiveCritical returns the active critical faults.
func (t *Tracker) ActiveCritical() []Fault {
	out := make([]Fault, 0, len(t.critical))
	for _, f := range t.critical {
		out = append(out, f)
	}
	return out
}

// Count returns the total number of faults recorded since boot.
func (t *Tracker) Count() uint32 {
	return t.total
}

// Recent returns the retained history, oldest first.
func (t *Tracker) Recent() []Fault {
	out := make([]Fault, 0, len(t.recent))
	if len(t.recent) < recentCapacity {
		return append(out, t.recent...)
	}
	out = append(out, t.recent[t.next:]...)
	return append(out, t.recent[:t.next]...)
}

// Reset drops all history and active faults.
func (t *Tracker) Reset() {
	t.recent = t.recent[:0]
	t.next = 0
	t.total = 0
	t.critical = make(map[Code]Fault)
}
