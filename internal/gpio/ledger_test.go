package gpio

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nerrad567/kaiser-edge/internal/hal"
)

func newTestLedger() (*Ledger, *hal.Sim) {
	sim := hal.NewSim()
	return New(DefaultConfig(), sim), sim
}

// =============================================================================
// Ownership
// =============================================================================

func TestReserve_Exclusive(t *testing.T) {
	l, _ := newTestLedger()

	if err := l.Reserve(5, OwnerSensor, "temp-1"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	err := l.Reserve(5, OwnerActuator, "pump-1")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Reserve() error = %v, want *ConflictError", err)
	}
	if conflict.Pin != 5 || conflict.CurrentOwner != OwnerSensor || conflict.CurrentComponent != "temp-1" {
		t.Errorf("conflict = %+v", conflict)
	}

	p, _ := l.Lookup(5)
	if p.Owner != OwnerSensor || p.Component != "temp-1" {
		t.Errorf("owner changed by failed reserve: %+v", p)
	}

	// Same holder re-reserving is a no-op.
	if err := l.Reserve(5, OwnerSensor, "temp-1"); err != nil {
		t.Errorf("re-reserve by same holder error = %v", err)
	}
	// Same owner kind, different component still conflicts.
	if err := l.Reserve(5, OwnerSensor, "temp-2"); !errors.As(err, &conflict) {
		t.Errorf("Reserve() by other sensor error = %v, want conflict", err)
	}

	l.Release(5)
	l.Release(5)
	if err := l.Reserve(5, OwnerActuator, "pump-1"); err != nil {
		t.Errorf("Reserve() after release error = %v", err)
	}
}

func TestReserve_Restrictions(t *testing.T) {
	l, _ := newTestLedger()

	tests := []struct {
		name    string
		pin     int
		owner   Owner
		wantErr error
	}{
		{"out of range high", 40, OwnerSensor, ErrInvalidPin},
		{"out of range low", -1, OwnerSensor, ErrInvalidPin},
		{"flash pin", 6, OwnerSensor, ErrReservedPin},
		{"input only for actuator", 34, OwnerActuator, ErrInputOnly},
		{"no owner", 4, OwnerNone, ErrInvalidOwner},
		{"input only for sensor", 34, OwnerSensor, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Reserve(tt.pin, tt.owner, "c")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Reserve(%d) error = %v, want %v", tt.pin, err, tt.wantErr)
			}
		})
	}

	if l.IsAvailable(34, OwnerActuator) {
		t.Error("IsAvailable(34, actuator) = true")
	}
	if !l.IsAvailable(4, OwnerActuator) {
		t.Error("IsAvailable(4, actuator) = false")
	}
}

// =============================================================================
// Subzones
// =============================================================================

func TestAssignSubzone_Atomic(t *testing.T) {
	l, _ := newTestLedger()

	if err := l.AssignSubzone("bed-a", []int{5}); err != nil {
		t.Fatalf("AssignSubzone(bed-a) error = %v", err)
	}
	before := l.Snapshot()

	err := l.AssignSubzone("bed-b", []int{4, 5, 12})
	var szErr *SubzoneError
	if !errors.As(err, &szErr) {
		t.Fatalf("AssignSubzone() error = %v, want *SubzoneError", err)
	}
	if szErr.Pin != 5 {
		t.Errorf("failing pin = %d, want 5", szErr.Pin)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("cause = %v, want *ConflictError", szErr.Cause)
	}

	if after := l.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("ledger changed by failed assignment:\nbefore %+v\nafter  %+v", before, after)
	}
	if _, ok := l.SubzonePins("bed-b"); ok {
		t.Error("failed subzone was recorded")
	}
}

func TestAssignSubzone_ReservedPinRollsBack(t *testing.T) {
	l, _ := newTestLedger()

	err := l.AssignSubzone("bed-a", []int{4, 13, 7})
	if !errors.Is(err, ErrReservedPin) {
		t.Fatalf("AssignSubzone() error = %v, want ErrReservedPin", err)
	}
	if len(l.Snapshot()) != 0 {
		t.Errorf("Snapshot() = %+v, want empty", l.Snapshot())
	}
}

func TestAssignSubzone_IndependentOfOwner(t *testing.T) {
	l, _ := newTestLedger()

	if err := l.Reserve(4, OwnerActuator, "pump-1"); err != nil {
		t.Fatal(err)
	}
	if err := l.AssignSubzone("bed-a", []int{4, 5}); err != nil {
		t.Fatalf("AssignSubzone() error = %v", err)
	}
	p, _ := l.Lookup(4)
	if p.Owner != OwnerActuator || p.Subzone != "bed-a" {
		t.Errorf("pin 4 = %+v", p)
	}
}

func TestAssignSubzone_Replace(t *testing.T) {
	l, _ := newTestLedger()

	if err := l.AssignSubzone("bed-a", []int{4, 5}); err != nil {
		t.Fatal(err)
	}
	if err := l.AssignSubzone("bed-a", []int{5, 12, 5}); err != nil {
		t.Fatalf("reassign error = %v", err)
	}
	pins, _ := l.SubzonePins("bed-a")
	if !reflect.DeepEqual(pins, []int{5, 12}) {
		t.Errorf("SubzonePins() = %v, want [5 12]", pins)
	}
	if p, _ := l.Lookup(4); p.Subzone != "" {
		t.Errorf("pin 4 still in subzone %q", p.Subzone)
	}
}

func TestAssignSubzone_EmptyID(t *testing.T) {
	l, _ := newTestLedger()
	if err := l.AssignSubzone("", []int{4}); !errors.Is(err, ErrInvalidSubzone) {
		t.Errorf("error = %v, want ErrInvalidSubzone", err)
	}
}

func TestRemoveSubzone(t *testing.T) {
	l, _ := newTestLedger()

	if err := l.RemoveSubzone("nope"); !errors.Is(err, ErrSubzoneNotFound) {
		t.Errorf("RemoveSubzone(unknown) error = %v", err)
	}

	_ = l.AssignSubzone("bed-a", []int{4, 5})
	_ = l.EnableSafeModeForSubzone("bed-a")
	if err := l.RemoveSubzone("bed-a"); err != nil {
		t.Fatalf("RemoveSubzone() error = %v", err)
	}
	if len(l.Snapshot()) != 0 {
		t.Errorf("Snapshot() after remove = %+v", l.Snapshot())
	}
	if len(l.Subzones()) != 0 {
		t.Errorf("Subzones() = %v", l.Subzones())
	}
}

func TestEnableSafeModeForSubzone(t *testing.T) {
	l, sim := newTestLedger()

	_ = l.Reserve(4, OwnerActuator, "pump-1")
	_ = l.AssignSubzone("bed-a", []int{4, 5, 12})
	sim.FailSafeMode(12, true)

	err := l.EnableSafeModeForSubzone("bed-a")
	if !errors.Is(err, ErrSafeModeDegraded) {
		t.Fatalf("error = %v, want ErrSafeModeDegraded", err)
	}

	if !sim.InSafeMode(5) {
		t.Error("pin 5 not put in safe mode")
	}
	if sim.InSafeMode(4) {
		t.Error("actuator pin 4 put in safe mode")
	}
	p5, _ := l.Lookup(5)
	p12, _ := l.Lookup(12)
	if !p5.SafeModeLocked || p12.SafeModeLocked {
		t.Errorf("locks: pin5=%v pin12=%v", p5.SafeModeLocked, p12.SafeModeLocked)
	}
	// Assignment stands despite the degraded lock.
	if pins, ok := l.SubzonePins("bed-a"); !ok || len(pins) != 3 {
		t.Errorf("SubzonePins() = %v, %v", pins, ok)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLedger()
	_ = l.Reserve(4, OwnerActuator, "pump-1")
	_ = l.AssignSubzone("bed-a", []int{5})
	l.Reset()
	if len(l.Snapshot()) != 0 || len(l.Subzones()) != 0 {
		t.Error("Reset() left state behind")
	}
}
