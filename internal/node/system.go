package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// resetNamespaces are cleared by a factory reset.
var resetNamespaces = []string{
	storage.NSZone,
	storage.NSSubzone,
	storage.NSConfig,
	storage.NSSafety,
	storage.NSWatchdog,
	storage.NSSystem,
}

// Reboot makes Run return ErrReboot after the current tick.
func (n *Node) Reboot(reason string) {
	if n.rebootReason == "" {
		n.logger.Warn("reboot requested", "reason", reason)
		n.rebootReason = reason
	}
}

// FactoryReset drives every output off, forgets all configuration and
// persisted state, and schedules a reboot. Every namespace is attempted;
// the errors are joined.
func (n *Node) FactoryReset(ctx context.Context) error {
	now := n.clock.Millis()
	n.logger.Warn("factory reset")

	var errs []error
	for _, ns := range resetNamespaces {
		if err := n.store.Clear(ctx, ns); err != nil {
			errs = append(errs, fmt.Errorf("clearing %s: %w", ns, err))
		}
	}
	if len(errs) > 0 {
		n.Faults.Record(faults.StorageWrite, faults.SeverityError, "factory reset incomplete", now)
	}

	n.Actuators.Reset()
	n.Sensors.Reset()
	n.Ledger.Reset()
	n.Router.Forget()
	n.Network.Reset(now)
	n.Bus.Reset(now)
	n.provisioned = false
	if err := n.Lifecycle.Reset(ctx, now); err != nil {
		errs = append(errs, err)
	}

	n.Reboot("factory reset")
	return errors.Join(errs...)
}

// Diagnostics builds the report for the diagnostics command.
func (n *Node) Diagnostics(now uint32) any {
	r := DiagnosticsReport{
		Status:         n.buildStatus(now),
		ActiveCritical: n.Faults.ActiveCritical(),
		Pins:           n.Ledger.Snapshot(),
		Subzones:       n.Ledger.Subzones(),
		Sensors:        n.Sensors.Configs(),
	}
	if p, ok := n.Safety.ResumeProgress(); ok {
		r.Resume = &p
	}
	return r
}

// RecordAlert appends an actuator alert to the event log and writes it to
// telemetry.
func (n *Node) RecordAlert(ctx context.Context, a actuator.Alert) {
	n.appendEvent(ctx, storage.Event{
		ID:        a.ID,
		Kind:      a.Type,
		GPIO:      a.GPIO,
		Detail:    a.Message,
		CreatedAt: time.Now().UTC(),
	})
	n.telemetry.WriteAlert(a.GPIO, a.Type, a.Message)
}

// RecordEvent appends a device-wide emergency event to the event log and
// writes it to telemetry.
func (n *Node) RecordEvent(ctx context.Context, e safety.Event) {
	detail := e.Reason
	if len(e.Failed) > 0 {
		detail = fmt.Sprintf("%s (failed gpios %v)", e.Reason, e.Failed)
	}
	n.appendEvent(ctx, storage.Event{
		ID:        e.ID,
		Kind:      e.Kind,
		GPIO:      -1,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	n.telemetry.WriteSafetyEvent(e.Kind, e.Reason, len(e.GPIOs), len(e.Failed))
}

func (n *Node) appendEvent(ctx context.Context, e storage.Event) {
	log, ok := n.store.(storage.EventLog)
	if !ok {
		return
	}
	if err := log.AppendEvent(ctx, e); err != nil {
		n.Faults.Record(faults.StorageWrite, faults.SeverityWarning, err.Error(), n.clock.Millis())
		n.logger.Warn("appending event failed", "kind", e.Kind, "error", err)
	}
}

// RecentEvents returns up to limit entries of the event log, newest first.
// It is safe to call from any goroutine.
func (n *Node) RecentEvents(ctx context.Context, limit int) ([]storage.Event, error) {
	log, ok := n.store.(storage.EventLog)
	if !ok {
		return nil, nil
	}
	return log.RecentEvents(ctx, limit)
}
