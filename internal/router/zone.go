package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

func (r *Router) handleZoneAssign(ctx context.Context, payload []byte, now uint32) {
	ack := ZoneAck{Timestamp: now}
	var z ZoneAssignment
	if err := json.Unmarshal(payload, &z); err != nil {
		r.respondZone(ack, faults.PayloadParse, err)
		return
	}
	ack.ZoneAssignment = z
	if z.ZoneID == "" {
		r.respondZone(ack, faults.PayloadInvalid, errors.New("zone_id must not be empty"))
		return
	}
	if err := storage.PutJSON(ctx, r.Store, storage.NSZone, storage.KeyAssignment, z); err != nil {
		r.respondZone(ack, faults.ConfigSave, err)
		return
	}
	if r.zone != nil && r.zone.ZoneID != z.ZoneID && len(r.Ledger.Subzones()) > 0 {
		r.logger.Warn("zone changed while subzones exist", "from", r.zone.ZoneID, "to", z.ZoneID)
	}
	r.zone = &z
	r.logger.Info("zone assigned", "zone_id", z.ZoneID, "master_zone_id", z.MasterZoneID)

	ack.Status = StatusZoneAssigned
	r.publish(r.Topics.ZoneAck(), ack, false)
}

func (r *Router) respondZone(ack ZoneAck, code faults.Code, err error) {
	r.Faults.Record(code, faults.SeverityWarning, err.Error(), ack.Timestamp)
	r.logger.Warn("zone assignment rejected", "error", err)
	ack.Status = StatusError
	ack.ErrorInfo = errorInfo(code, err.Error())
	r.publish(r.Topics.ZoneAck(), ack, false)
}

// handleSubzoneAssign validates the request before touching the ledger:
// the id must be set, the device must have a zone and the parent zone, when
// given, must be that zone. The ledger assignment itself is atomic.
//
// A failed safe-mode lock does not undo the assignment; the ack reports
// safe_mode_degraded and a hardware fault is recorded.
func (r *Router) handleSubzoneAssign(ctx context.Context, payload []byte, now uint32) {
	ack := SubzoneAck{Timestamp: now}
	var req SubzoneRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.respondSubzone(ack, faults.PayloadParse, err)
		return
	}
	ack.SubzoneID = req.SubzoneID

	switch {
	case req.SubzoneID == "":
		r.respondSubzone(ack, faults.SubzoneInvalid, errors.New("subzone_id must not be empty"))
		return
	case r.zone == nil:
		r.respondSubzone(ack, faults.ZoneNotAssigned, errors.New("device has no zone"))
		return
	case req.ParentZoneID != "" && req.ParentZoneID != r.zone.ZoneID:
		r.respondSubzone(ack, faults.ZoneMismatch,
			fmt.Errorf("parent zone %q does not match device zone %q", req.ParentZoneID, r.zone.ZoneID))
		return
	}

	rec := SubzoneRecord{
		SubzoneID:      req.SubzoneID,
		ParentZoneID:   r.zone.ZoneID,
		SubzoneName:    req.SubzoneName,
		GPIOs:          req.GPIOs,
		SafeModeActive: req.SafeModeActive == nil || *req.SafeModeActive,
	}
	degraded, err := r.applySubzone(rec, now)
	if err != nil {
		r.respondSubzone(ack, codeFor(err), err)
		return
	}
	if err := storage.PutJSON(ctx, r.Store, storage.NSSubzone, rec.SubzoneID, rec); err != nil {
		r.Faults.Record(faults.ConfigSave, faults.SeverityError, err.Error(), now)
		r.logger.Error("persisting subzone failed", "subzone", rec.SubzoneID, "error", err)
	}

	ack.Status = StatusSubzoneAdded
	ack.GPIOs = rec.GPIOs
	ack.SafeModeDegraded = degraded
	r.publish(r.Topics.SubzoneAck(), ack, false)
}

// applySubzone assigns the pins and applies the safe-mode lock. It reports
// whether the lock was incomplete.
func (r *Router) applySubzone(rec SubzoneRecord, now uint32) (bool, error) {
	if err := r.Ledger.AssignSubzone(rec.SubzoneID, rec.GPIOs); err != nil {
		return false, err
	}
	r.logger.Info("subzone assigned", "subzone", rec.SubzoneID, "gpios", rec.GPIOs)
	if !rec.SafeModeActive {
		return false, nil
	}
	if err := r.Ledger.EnableSafeModeForSubzone(rec.SubzoneID); err != nil {
		r.Faults.Record(faults.SafeModeLock, faults.SeverityWarning, err.Error(), now)
		r.logger.Warn("subzone safe mode incomplete", "subzone", rec.SubzoneID, "error", err)
		return true, nil
	}
	return false, nil
}

func (r *Router) handleSubzoneRemove(ctx context.Context, payload []byte, now uint32) {
	ack := SubzoneAck{Timestamp: now}
	var req SubzoneRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.respondSubzone(ack, faults.PayloadParse, err)
		return
	}
	ack.SubzoneID = req.SubzoneID
	if req.SubzoneID == "" {
		r.respondSubzone(ack, faults.SubzoneInvalid, errors.New("subzone_id must not be empty"))
		return
	}
	if err := r.Ledger.RemoveSubzone(req.SubzoneID); err != nil {
		r.respondSubzone(ack, codeFor(err), err)
		return
	}
	if err := r.Store.Delete(ctx, storage.NSSubzone, req.SubzoneID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.logger.Error("deleting subzone record failed", "subzone", req.SubzoneID, "error", err)
	}
	r.logger.Info("subzone removed", "subzone", req.SubzoneID)
	ack.Status = StatusSubzoneRemoved
	r.publish(r.Topics.SubzoneAck(), ack, false)
}

func (r *Router) respondSubzone(ack SubzoneAck, code faults.Code, err error) {
	r.Faults.Record(code, faults.SeverityWarning, err.Error(), ack.Timestamp)
	r.logger.Warn("subzone request rejected", "subzone", ack.SubzoneID, "error", err)
	ack.Status = StatusError
	ack.ErrorInfo = errorInfo(code, err.Error())
	r.publish(r.Topics.SubzoneAck(), ack, false)
}

func (r *Router) restoreSubzones(ctx context.Context) error {
	ids, err := r.Store.Keys(ctx, storage.NSSubzone)
	if err != nil {
		return fmt.Errorf("listing subzones: %w", err)
	}
	now := r.Clock.Millis()
	for _, id := range ids {
		var rec SubzoneRecord
		if err := storage.GetJSON(ctx, r.Store, storage.NSSubzone, id, &rec); err != nil {
			r.logger.Warn("loading subzone failed", "subzone", id, "error", err)
			continue
		}
		if r.zone == nil || rec.ParentZoneID != r.zone.ZoneID {
			r.logger.Warn("skipping subzone of another zone", "subzone", id, "parent", rec.ParentZoneID)
			continue
		}
		if _, err := r.applySubzone(rec, now); err != nil {
			r.logger.Warn("restoring subzone failed", "subzone", id, "error", err)
		}
	}
	return nil
}
