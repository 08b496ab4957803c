package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/sensor"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// Item types reported in ConfigFailureItem.Type.
const (
	itemSensor   = "sensor"
	itemActuator = "actuator"
	itemConfig   = "config"
)

// batch accumulates the per-item results of one config message.
type batch struct {
	resp ConfigResponse
}

func (b *batch) ok() { b.resp.SuccessCount++ }

func (b *batch) fail(kind string, pin int, code faults.Code, err error) {
	b.resp.FailCount++
	if len(b.resp.Failures) >= maxConfigFailures {
		return
	}
	b.resp.Failures = append(b.resp.Failures, ConfigFailureItem{
		Type:      kind,
		GPIO:      pin,
		ErrorCode: code,
		ErrorName: code.Name(),
		Detail:    err.Error(),
	})
}

func (b *batch) finish() ConfigResponse {
	switch {
	case b.resp.FailCount == 0:
		b.resp.Status = StatusSuccess
	case b.resp.SuccessCount == 0:
		b.resp.Status = StatusFailed
	default:
		b.resp.Status = StatusPartialSuccess
	}
	if b.resp.Failures == nil {
		b.resp.Failures = []ConfigFailureItem{}
	}
	return b.resp
}

// handleConfig applies a batch of sensor and actuator configurations. Each
// item is validated and applied on its own; failures are collected and
// reported together while the remaining items still apply.
func (r *Router) handleConfig(ctx context.Context, payload []byte, now uint32) {
	b := &batch{resp: ConfigResponse{Timestamp: now}}
	defer func() {
		resp := b.finish()
		if resp.FailCount > 0 {
			r.logger.Warn("configuration partly rejected",
				"status", resp.Status, "success", resp.SuccessCount, "failed", resp.FailCount)
		} else {
			r.logger.Info("configuration applied", "items", resp.SuccessCount)
		}
		r.publish(r.Topics.ConfigResponse(), resp, false)
	}()

	if state := r.Lifecycle.State(); !state.AllowsConfiguration() {
		b.fail(itemConfig, -1, faults.StateInvalid, fmt.Errorf("configuration not accepted in state %s", state))
		return
	}

	var req ConfigRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.fail(itemConfig, -1, faults.PayloadParse, err)
		return
	}
	if len(req.Sensors) == 0 && len(req.Actuators) == 0 {
		b.fail(itemConfig, -1, faults.PayloadInvalid, errors.New("no sensors or actuators in config"))
		return
	}

	for _, raw := range req.Sensors {
		cfg := sensor.Config{GPIO: -1, Active: true}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			b.fail(itemSensor, cfg.GPIO, faults.PayloadParse, err)
			continue
		}
		if err := r.Sensors.Configure(cfg); err != nil {
			b.fail(itemSensor, cfg.GPIO, codeFor(err), err)
			continue
		}
		b.ok()
	}

	for _, raw := range req.Actuators {
		cfg := actuator.Config{
			GPIO:       -1,
			Active:     true,
			Protection: actuator.RuntimeProtection{TimeoutEnabled: true},
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			b.fail(itemActuator, cfg.GPIO, faults.PayloadParse, err)
			continue
		}
		if err := r.Actuators.Configure(cfg); err != nil {
			b.fail(itemActuator, cfg.GPIO, codeFor(err), err)
			continue
		}
		if cfg.Active {
			r.Safety.Adopt(cfg.GPIO, now)
			r.PublishStatus(cfg.GPIO, now)
		}
		b.ok()
	}

	for _, f := range b.resp.Failures {
		r.Faults.Record(f.ErrorCode, faults.SeverityWarning, f.Detail, now)
	}

	if b.resp.SuccessCount > 0 {
		if err := r.persistComponents(ctx); err != nil {
			r.Faults.Record(faults.ConfigSave, faults.SeverityError, err.Error(), now)
			r.logger.Error("persisting configuration failed", "error", err)
		}
	}
}

func (r *Router) persistComponents(ctx context.Context) error {
	if err := storage.PutJSON(ctx, r.Store, storage.NSConfig, storage.KeyActuators, r.Actuators.Configs()); err != nil {
		return fmt.Errorf("persisting actuators: %w", err)
	}
	if err := storage.PutJSON(ctx, r.Store, storage.NSConfig, storage.KeySensors, r.Sensors.Configs()); err != nil {
		return fmt.Errorf("persisting sensors: %w", err)
	}
	return nil
}

// Restore reloads the persisted zone, subzones, components and emergency
// token. Items that no longer apply are logged and skipped. fallbackToken
// is used when no token has been stored yet.
func (r *Router) Restore(ctx context.Context, fallbackToken string) error {
	var errs []error

	r.fallbackToken = fallbackToken
	r.token = fallbackToken
	var token string
	switch err := storage.GetJSON(ctx, r.Store, storage.NSSafety, storage.KeyEmergencyToken, &token); {
	case err == nil:
		r.token = token
	case !errors.Is(err, storage.ErrNotFound):
		errs = append(errs, fmt.Errorf("loading emergency token: %w", err))
	}

	var zone ZoneAssignment
	switch err := storage.GetJSON(ctx, r.Store, storage.NSZone, storage.KeyAssignment, &zone); {
	case err == nil:
		r.zone = &zone
	case !errors.Is(err, storage.ErrNotFound):
		errs = append(errs, fmt.Errorf("loading zone: %w", err))
	}

	var sensors []sensor.Config
	if err := storage.GetJSON(ctx, r.Store, storage.NSConfig, storage.KeySensors, &sensors); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("loading sensors: %w", err))
	}
	for _, cfg := range sensors {
		if err := r.Sensors.Configure(cfg); err != nil {
			r.logger.Warn("restoring sensor failed", "gpio", cfg.GPIO, "error", err)
		}
	}

	var acts []actuator.Config
	if err := storage.GetJSON(ctx, r.Store, storage.NSConfig, storage.KeyActuators, &acts); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("loading actuators: %w", err))
	}
	for _, cfg := range acts {
		if err := r.Actuators.Configure(cfg); err != nil {
			r.logger.Warn("restoring actuator failed", "gpio", cfg.GPIO, "error", err)
		}
	}

	if err := r.restoreSubzones(ctx); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("state restored",
		"zone_assigned", r.zone != nil,
		"sensors", r.Sensors.Len(),
		"actuators", r.Actuators.Len(),
		"subzones", len(r.Ledger.Subzones()),
	)
	return errors.Join(errs...)
}

// Forget drops the zone assignment and any stored emergency token from
// memory, as after a factory reset. The configured token applies again.
func (r *Router) Forget() {
	r.zone = nil
	r.token = r.fallbackToken
}
