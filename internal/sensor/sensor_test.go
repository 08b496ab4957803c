package sensor

import (
	"errors"
	"testing"

	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
)

func newTestRegistry() (*Registry, *gpio.Ledger, *hal.Sim) {
	sim := hal.NewSim()
	ledger := gpio.New(gpio.DefaultConfig(), sim)
	return NewRegistry(ledger, sim, sim), ledger, sim
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"analog", Config{GPIO: 34, Type: "pH", Name: "ph-1", Active: true}, nil},
		{"digital", Config{GPIO: 4, Type: "flow", Active: true}, nil},
		{"unknown type", Config{GPIO: 4, Type: "radar", Active: true}, ErrUnknownType},
		{"out of range", Config{GPIO: 52, Type: "ph", Active: true}, ErrInvalidGPIO},
		{"flash pin", Config{GPIO: 8, Type: "ph", Active: true}, gpio.ErrReservedPin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRegistry()
			err := r.Configure(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Configure() error = %v, want %v", err, tt.wantErr)
			}
			if (err == nil) != (r.Len() == 1) {
				t.Errorf("Len() = %d after error %v", r.Len(), err)
			}
		})
	}
}

func TestConfigure_ConflictWithActuator(t *testing.T) {
	r, ledger, _ := newTestRegistry()
	_ = ledger.Reserve(5, gpio.OwnerActuator, "pump-1")

	err := r.Configure(Config{GPIO: 5, Type: "ph", Name: "ph-1", Active: true})
	var conflict *gpio.ConflictError
	if !errors.As(err, &conflict) || conflict.CurrentComponent != "pump-1" {
		t.Errorf("Configure() error = %v, want conflict naming pump-1", err)
	}
}

func TestConfigure_RenameAndRemove(t *testing.T) {
	r, ledger, _ := newTestRegistry()
	_ = r.Configure(Config{GPIO: 32, Type: "ec", Name: "ec-old", Active: true})
	if err := r.Configure(Config{GPIO: 32, Type: "ec", Name: "ec-new", Active: true}); err != nil {
		t.Fatalf("reconfigure error = %v", err)
	}
	if p, _ := ledger.Lookup(32); p.Component != "ec-new" {
		t.Errorf("ledger component = %q", p.Component)
	}

	if err := r.Configure(Config{GPIO: 32, Type: "ec", Active: false}); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 || !ledger.IsAvailable(32, gpio.OwnerSensor) {
		t.Error("inactive config did not remove sensor")
	}
}

func TestMeasure(t *testing.T) {
	r, _, sim := newTestRegistry()
	_ = r.Configure(Config{GPIO: 34, Type: "moisture", Active: true, RawMode: true})
	_ = r.Configure(Config{GPIO: 4, Type: "float_switch", Active: true})

	sim.SetAnalog(34, 2048)
	sim.Stick(4, true)

	got, err := r.Measure(34, 500)
	if err != nil {
		t.Fatalf("Measure(34) error = %v", err)
	}
	if got.Raw != 2048 || got.SensorType != "moisture" || !got.RawMode || got.Timestamp != 500 {
		t.Errorf("Measure(34) = %+v", got)
	}

	got, err = r.Measure(4, 500)
	if err != nil || got.Raw != 1 {
		t.Errorf("Measure(4) = %+v, %v", got, err)
	}

	if _, err := r.Measure(12, 500); !errors.Is(err, ErrNotFound) {
		t.Errorf("Measure(unconfigured) error = %v", err)
	}
}

func TestMeasure_NoADC(t *testing.T) {
	sim := hal.NewSim()
	r := NewRegistry(gpio.New(gpio.DefaultConfig(), sim), sim, nil)
	_ = r.Configure(Config{GPIO: 34, Type: "ph", Active: true})
	if _, err := r.Measure(34, 0); !errors.Is(err, ErrNoADC) {
		t.Errorf("Measure() error = %v, want ErrNoADC", err)
	}
}
