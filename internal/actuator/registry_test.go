package actuator

import (
	"errors"
	"testing"

	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
)

type fixture struct {
	reg    *Registry
	ledger *gpio.Ledger
	sim    *hal.Sim
	clk    *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := hal.NewSim()
	ledger := gpio.New(gpio.DefaultConfig(), sim)
	clk := clock.NewManual(1000)
	return &fixture{reg: NewRegistry(ledger, sim, clk), ledger: ledger, sim: sim, clk: clk}
}

func (f *fixture) configure(t *testing.T, cfg Config) {
	t.Helper()
	cfg.Active = true
	if err := f.reg.Configure(cfg); err != nil {
		t.Fatalf("Configure(%+v) error = %v", cfg, err)
	}
}

// =============================================================================
// Configuration
// =============================================================================

func TestConfigure(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 5, Type: "PUMP", Name: "pump-1"})

	cfg, ok := f.reg.Get(5)
	if !ok || cfg.Type != TypePump {
		t.Fatalf("Get(5) = %+v, %v", cfg, ok)
	}
	if cfg.Protection.MaxRuntimeMs != DefaultMaxRuntimeMs {
		t.Errorf("MaxRuntimeMs = %d, want default", cfg.Protection.MaxRuntimeMs)
	}
	if p, _ := f.ledger.Lookup(5); p.Owner != gpio.OwnerActuator || p.Component != "pump-1" {
		t.Errorf("ledger entry = %+v", p)
	}
}

func TestConfigure_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"out of range", Config{GPIO: 40, Type: TypeRelay, Active: true}, ErrInvalidGPIO},
		{"unknown type", Config{GPIO: 4, Type: "heater", Active: true}, ErrUnknownType},
		{"flash pin", Config{GPIO: 7, Type: TypeRelay, Active: true}, gpio.ErrReservedPin},
		{"input only pin", Config{GPIO: 36, Type: TypeRelay, Active: true}, gpio.ErrInputOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.reg.Configure(tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("Configure() error = %v, want %v", err, tt.wantErr)
			}
			if f.reg.Len() != 0 {
				t.Error("rejected actuator was registered")
			}
		})
	}
}

func TestConfigure_ConflictNamesOwner(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.Reserve(5, gpio.OwnerSensor, "soil-1"); err != nil {
		t.Fatal(err)
	}
	err := f.reg.Configure(Config{GPIO: 5, Type: TypePump, Name: "pump-1", Active: true})
	var conflict *gpio.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Configure() error = %v, want conflict", err)
	}
	if conflict.CurrentOwner != gpio.OwnerSensor || conflict.CurrentComponent != "soil-1" {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestConfigure_ReconfigureKeepsRuntime(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 5, Type: TypePump, Name: "pump-1"})

	if _, err := f.reg.Execute(5, CommandOn, 0); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(500)
	if _, err := f.reg.Execute(5, CommandOff, 0); err != nil {
		t.Fatal(err)
	}

	f.configure(t, Config{GPIO: 5, Type: TypePump, Name: "pump-main", Critical: true})

	st, _ := f.reg.Status(5, f.clk.Millis())
	if st.RuntimeMs != 500 {
		t.Errorf("RuntimeMs after reconfigure = %d, want 500", st.RuntimeMs)
	}
	if p, _ := f.ledger.Lookup(5); p.Component != "pump-main" {
		t.Errorf("ledger component = %q, want pump-main", p.Component)
	}
}

func TestConfigure_InactiveRemoves(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 5, Type: TypeRelay})
	_, _ = f.reg.Execute(5, CommandOn, 0)

	if err := f.reg.Configure(Config{GPIO: 5, Type: TypeRelay, Active: false}); err != nil {
		t.Fatalf("Configure(inactive) error = %v", err)
	}
	if f.reg.Len() != 0 {
		t.Error("actuator not removed")
	}
	if f.sim.Level(5) {
		t.Error("removed actuator left on")
	}
	if !f.ledger.IsAvailable(5, gpio.OwnerActuator) {
		t.Error("pin not released")
	}
}

func TestConfigure_ValveReservesAux(t *testing.T) {
	f := newFixture(t)
	aux := 13
	f.configure(t, Config{GPIO: 12, Type: TypeValve, Name: "valve-1", AuxGPIO: &aux})

	if p, _ := f.ledger.Lookup(13); p.Owner != gpio.OwnerActuator {
		t.Errorf("aux pin not reserved: %+v", p)
	}
	if _, err := f.reg.Execute(12, CommandOn, 0); err != nil {
		t.Fatal(err)
	}
	if !f.sim.Level(12) || !f.sim.Level(13) {
		t.Error("valve open did not drive enable and direction pins")
	}

	f.reg.Remove(12)
	if !f.ledger.IsAvailable(13, gpio.OwnerActuator) {
		t.Error("aux pin not released on remove")
	}
}

func TestConfigure_DefaultState(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 18, Type: TypePWM, DefaultState: true, DefaultPWM: 100})
	if f.sim.Duty(18) != 100 {
		t.Errorf("Duty() = %d, want default 100", f.sim.Duty(18))
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestExecute_Commands(t *testing.T) {
	tests := []struct {
		name      string
		typ       Type
		cmd       Command
		value     float64
		wantState bool
		wantPWM   uint8
	}{
		{"relay on", TypeRelay, CommandOn, 0, true, 255},
		{"relay off", TypeRelay, CommandOff, 0, false, 0},
		{"relay toggle", TypeRelay, CommandToggle, 0, true, 255},
		{"relay pwm above half", TypeRelay, CommandPWM, 0.5, true, 255},
		{"relay pwm below half", TypeRelay, CommandPWM, 0.49, false, 0},
		{"pwm half", TypePWM, CommandPWM, 0.5, true, 128},
		{"pwm clamped high", TypePWM, CommandPWM, 1.7, true, 255},
		{"pwm clamped low", TypePWM, CommandPWM, -0.2, false, 0},
		{"pwm on uses value", TypePWM, CommandOn, 0.25, true, 64},
		{"stop", TypePump, CommandStop, 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.configure(t, Config{GPIO: 4, Type: tt.typ})

			ack, err := f.reg.Execute(4, tt.cmd, tt.value)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if ack.State != tt.wantState || ack.PWM != tt.wantPWM {
				t.Errorf("ack = {state %v pwm %d}, want {state %v pwm %d}",
					ack.State, ack.PWM, tt.wantState, tt.wantPWM)
			}
			if f.sim.Level(4) != tt.wantState {
				t.Errorf("pin level = %v, want %v", f.sim.Level(4), tt.wantState)
			}
		})
	}
}

func TestExecute_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Execute(4, CommandOn, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Execute() error = %v, want ErrNotFound", err)
	}
}

func TestExecute_WriteFailure(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 4, Type: TypeRelay})
	f.sim.FailWrites(4, true)
	if _, err := f.reg.Execute(4, CommandOn, 0); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Execute() error = %v, want ErrWriteFailed", err)
	}
	if st, _ := f.reg.Status(4, 0); st.State {
		t.Error("state recorded as on after failed write")
	}
}

func TestExecute_RejectedDuringEmergency(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 4, Type: TypeRelay})
	if _, err := f.reg.EnterEmergency(4, f.clk.Millis()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Execute(4, CommandOn, 0); !errors.Is(err, ErrEmergencyActive) {
		t.Errorf("Execute() error = %v, want ErrEmergencyActive", err)
	}
}

func TestParseCommand(t *testing.T) {
	if c, err := ParseCommand(" toggle "); err != nil || c != CommandToggle {
		t.Errorf("ParseCommand(toggle) = %v, %v", c, err)
	}
	if _, err := ParseCommand("explode"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("ParseCommand(explode) error = %v", err)
	}
}

// =============================================================================
// Runtime protection
// =============================================================================

func TestTick_RuntimeProtection(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 4, Type: TypePump, Protection: RuntimeProtection{
		MaxRuntimeMs: 1000, TimeoutEnabled: true,
	}})

	t0 := f.clk.Millis()
	if _, err := f.reg.Execute(4, CommandOn, 0); err != nil {
		t.Fatal(err)
	}

	// A repeated ON does not restart the activation timer.
	f.clk.Advance(600)
	if _, err := f.reg.Execute(4, CommandOn, 0); err != nil {
		t.Fatal(err)
	}

	if alerts := f.reg.Tick(t0 + 1000); len(alerts) != 0 {
		t.Fatalf("Tick(t0+1000) alerts = %v, want none", alerts)
	}
	alerts := f.reg.Tick(t0 + 1001)
	if len(alerts) != 1 || alerts[0].Type != AlertRuntimeProtection || alerts[0].GPIO != 4 {
		t.Fatalf("Tick(t0+1001) alerts = %+v", alerts)
	}
	if alerts[0].ID == "" {
		t.Error("alert has no id")
	}
	if f.sim.Level(4) {
		t.Error("pump still on after protection trip")
	}

	st, _ := f.reg.Status(4, t0+1001)
	if st.State || !st.ProtectionTripped || st.RuntimeMs != 1001 {
		t.Errorf("status = %+v", st)
	}

	// ON is rejected while tripped, OFF is still accepted.
	if _, err := f.reg.Execute(4, CommandOn, 0); !errors.Is(err, ErrProtectionTripped) {
		t.Errorf("ON while tripped error = %v", err)
	}
	if _, err := f.reg.Execute(4, CommandOff, 0); err != nil {
		t.Errorf("OFF while tripped error = %v", err)
	}
	if f.reg.IsCritical(4) {
		t.Error("tripped actuator still critical")
	}

	if _, err := f.reg.Execute(4, CommandRearm, 0); err != nil {
		t.Fatalf("REARM error = %v", err)
	}
	if _, err := f.reg.Execute(4, CommandOn, 0); err != nil {
		t.Errorf("ON after REARM error = %v", err)
	}

	// Only one alert per trip.
	if alerts := f.reg.Tick(t0 + 1002); len(alerts) != 0 {
		t.Errorf("re-armed actuator tripped immediately: %v", alerts)
	}
}

func TestTick_ProtectionDisabled(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 4, Type: TypePump, Protection: RuntimeProtection{MaxRuntimeMs: 10}})
	_, _ = f.reg.Execute(4, CommandOn, 0)
	if alerts := f.reg.Tick(f.clk.Millis() + 100_000); len(alerts) != 0 {
		t.Errorf("alerts = %v, want none when timeout disabled", alerts)
	}
}

func TestTick_WrapSafe(t *testing.T) {
	f := newFixture(t)
	f.clk.Set(0xFFFF_FF00)
	f.configure(t, Config{GPIO: 4, Type: TypePump, Protection: RuntimeProtection{
		MaxRuntimeMs: 1000, TimeoutEnabled: true,
	}})
	_, _ = f.reg.Execute(4, CommandOn, 0)

	now := f.clk.Advance(900)
	if alerts := f.reg.Tick(now); len(alerts) != 0 {
		t.Errorf("tripped early across clock wrap: %v", alerts)
	}
	now = f.clk.Advance(200)
	if alerts := f.reg.Tick(now); len(alerts) != 1 {
		t.Errorf("did not trip across clock wrap")
	}
}

// =============================================================================
// Emergency support
// =============================================================================

func TestEmergencyTransitions(t *testing.T) {
	tests := []struct {
		from, to EmergencyState
		want     bool
	}{
		{EmergencyNormal, EmergencyActive, true},
		{EmergencyActive, EmergencyClearing, true},
		{EmergencyClearing, EmergencyResuming, true},
		{EmergencyResuming, EmergencyNormal, true},
		{EmergencyResuming, EmergencyActive, true},
		{EmergencyClearing, EmergencyActive, true},
		{EmergencyNormal, EmergencyClearing, false},
		{EmergencyActive, EmergencyNormal, false},
		{EmergencyActive, EmergencyResuming, false},
		{EmergencyClearing, EmergencyNormal, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEnterEmergencyAndRestore(t *testing.T) {
	f := newFixture(t)
	f.configure(t, Config{GPIO: 18, Type: TypePWM})
	_, _ = f.reg.Execute(18, CommandPWM, 0.5)

	now := f.clk.Millis()
	stopped, err := f.reg.EnterEmergency(18, now)
	if err != nil || !stopped {
		t.Fatalf("EnterEmergency() = %v, %v", stopped, err)
	}
	if f.sim.Duty(18) != 0 {
		t.Error("PWM not zeroed")
	}
	if again, _ := f.reg.EnterEmergency(18, now); again {
		t.Error("second EnterEmergency() reported a new stop")
	}

	if err := f.reg.SetEmergencyState(18, EmergencyNormal); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Active->Normal error = %v", err)
	}
	_ = f.reg.SetEmergencyState(18, EmergencyClearing)
	_ = f.reg.SetEmergencyState(18, EmergencyResuming)

	target, err := f.reg.Restore(18, now)
	if err != nil || !target {
		t.Fatalf("Restore() = %v, %v", target, err)
	}
	if f.sim.Duty(18) != 128 {
		t.Errorf("restored duty = %d, want 128", f.sim.Duty(18))
	}
	if on, _ := f.reg.ReadBack(18); !on {
		t.Error("ReadBack() = false after restore")
	}
}

func TestStatuses_Ordered(t *testing.T) {
	f := newFixture(t)
	for _, pin := range []int{21, 4, 15} {
		f.configure(t, Config{GPIO: pin, Type: TypeRelay})
	}
	got := f.reg.Statuses(0)
	if len(got) != 3 || got[0].GPIO != 4 || got[1].GPIO != 15 || got[2].GPIO != 21 {
		t.Errorf("Statuses() order = %+v", got)
	}

	f.reg.Reset()
	if f.reg.Len() != 0 {
		t.Error("Reset() left actuators")
	}
}

func TestDutyFromFraction(t *testing.T) {
	tests := map[float64]uint8{0: 0, 1: 255, 0.5: 128, 2: 255, -1: 0}
	for in, want := range tests {
		if got := DutyFromFraction(in); got != want {
			t.Errorf("DutyFromFraction(%v) = %d, want %d", in, got, want)
		}
	}
}
