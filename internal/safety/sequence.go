package safety

import (
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/clock"
)

type phase uint8

const (
	phaseDelay phase = iota
	phaseRestore
	phaseVerify
)

// sequence is the state of a running resume.
type sequence struct {
	order     []int
	idx       int
	phase     phase
	stepStart uint32
	attempts  int
	expected  bool
	failed    []int
}

// step advances the sequence by at most one actuator per call.
func (c *Controller) step(now uint32) Outcome {
	s := c.seq
	var out Outcome

	if s.phase == phaseDelay {
		if clock.Elapsed(now, s.stepStart) < c.cfg.InterActuatorDelayMs {
			return out
		}
		s.phase = phaseRestore
	}

	pin := s.order[s.idx]

	if s.phase == phaseRestore {
		s.attempts++
		target, err := c.acts.Restore(pin, now)
		s.expected = target
		s.stepStart = now
		if err != nil {
			c.logger.Warn("resume restore failed", "gpio", pin, "attempt", s.attempts, "error", err)
			if s.attempts >= c.cfg.MaxRetryAttempts {
				return c.fail(pin, now, fmt.Sprintf("restore failed after %d attempts: %v", s.attempts, err))
			}
			return out
		}
		s.phase = phaseVerify
	}

	level, err := c.acts.ReadBack(pin)
	if err == nil && level == s.expected {
		c.logger.Info("actuator resumed", "gpio", pin, "state", level, "attempts", s.attempts)
		return c.advance(now)
	}
	if clock.Elapsed(now, s.stepStart) < c.cfg.VerificationTimeoutMs {
		return out
	}
	if s.attempts < c.cfg.MaxRetryAttempts {
		c.logger.Warn("resume verification timed out, retrying", "gpio", pin, "attempt", s.attempts)
		s.phase = phaseRestore
		return out
	}
	return c.fail(pin, now, fmt.Sprintf("not confirmed after %d attempts", s.attempts))
}

// fail leaves the actuator OFF, flags it and moves on.
func (c *Controller) fail(pin int, now uint32, msg string) Outcome {
	if err := c.acts.ForceOff(pin, now); err != nil {
		c.logger.Error("forcing unconfirmed actuator off failed", "gpio", pin, "error", err)
	}
	c.seq.failed = append(c.seq.failed, pin)
	c.logger.Error("actuator resume failed", "gpio", pin, "detail", msg)

	out := c.advance(now)
	out.Alerts = append([]actuator.Alert{c.acts.NewAlert(pin, actuator.AlertResumeFailed, msg, now)}, out.Alerts...)
	return out
}

// advance moves to the next actuator or finishes the sequence.
func (c *Controller) advance(now uint32) Outcome {
	s := c.seq
	s.idx++
	s.attempts = 0
	if s.idx < len(s.order) {
		s.phase = phaseDelay
		s.stepStart = now
		return Outcome{}
	}

	for _, pin := range s.order {
		if err := c.acts.SetEmergencyState(pin, actuator.EmergencyNormal); err != nil {
			c.logger.Error("completing resume failed", "gpio", pin, "error", err)
		}
	}
	c.seq = nil
	c.logger.Info("resume completed", "order", s.order, "failed", s.failed)
	return Outcome{Event: &Event{
		ID: c.newID(), Kind: EventResumeCompleted, GPIOs: s.order, Failed: s.failed, Timestamp: now,
	}}
}
