package clock

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestElapsed(t *testing.T) {
	tests := []struct {
		name  string
		now   uint32
		since uint32
		want  uint32
	}{
		{name: "simple", now: 1500, since: 500, want: 1000},
		{name: "zero", now: 42, since: 42, want: 0},
		{name: "across wrap", now: 100, since: math.MaxUint32 - 99, want: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Elapsed(tt.now, tt.since); got != tt.want {
				t.Errorf("Elapsed(%d, %d) = %d, want %d", tt.now, tt.since, got, tt.want)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	if Expired(1999, 1000, 1000) {
		t.Error("Expired() = true one tick early")
	}
	if !Expired(2000, 1000, 1000) {
		t.Error("Expired() = false at deadline")
	}
	if !Expired(10, math.MaxUint32-1000, 1000) {
		t.Error("Expired() = false across wrap")
	}
}

func TestElapsedNoWrap(t *testing.T) {
	if e, ok := ElapsedNoWrap(90_000, 60_000); !ok || e != 30_000 {
		t.Errorf("ElapsedNoWrap() = (%d, %v), want (30000, true)", e, ok)
	}
	if _, ok := ElapsedNoWrap(10, 60_000); ok {
		t.Error("ElapsedNoWrap() ok = true for wrapped reading")
	}
}

func TestManual(t *testing.T) {
	c := NewManual(100)
	if c.Millis() != 100 {
		t.Fatalf("Millis() = %d, want 100", c.Millis())
	}
	if got := c.Advance(50); got != 150 {
		t.Errorf("Advance() = %d, want 150", got)
	}
	c.Set(math.MaxUint32)
	if got := c.Advance(1); got != 0 {
		t.Errorf("Advance() across wrap = %d, want 0", got)
	}
}

func TestMonotonic(t *testing.T) {
	c := NewMonotonic()
	first := c.Millis()
	if first > 1_000 {
		t.Fatalf("Millis() = %d right after NewMonotonic, want near 0", first)
	}

	time.Sleep(20 * time.Millisecond)
	second := c.Millis()
	if second < first+20 {
		t.Errorf("Millis() = %d after 20ms, want at least %d", second, first+20)
	}

	if got := c.Millis(); got < second {
		t.Errorf("Millis() went backwards: %d after %d", got, second)
	}
	// Only times carrying a monotonic reading print "m=".
	if !strings.Contains(c.start.String(), "m=") {
		t.Errorf("start %v has no monotonic reading", c.start)
	}
}

func TestWall(t *testing.T) {
	before := uint32(time.Now().UnixMilli()) //nolint:gosec // wrap is intended
	got := Wall{}.Millis()
	if Elapsed(got, before) > 1_000 {
		t.Errorf("Wall.Millis() = %d, want close to %d", got, before)
	}
}
