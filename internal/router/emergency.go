package router

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// authorized compares the presented token with the configured one in
// constant time. With no token configured every request is accepted.
func (r *Router) authorized(presented string) bool {
	if r.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(r.token)) == 1
}

// SetEmergencyToken replaces the token in memory and in storage.
func (r *Router) SetEmergencyToken(ctx context.Context, token string) error {
	if err := storage.PutJSON(ctx, r.Store, storage.NSSafety, storage.KeyEmergencyToken, token); err != nil {
		return faults.Wrap(faults.ConfigSave, "persisting emergency token", err)
	}
	r.token = token
	return nil
}

func (r *Router) handleEmergency(ctx context.Context, kind MessageKind, payload []byte, now uint32) {
	var req EmergencyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.respondResult(CommandResult{Command: "emergency", Timestamp: now}, faults.PayloadParse, err)
		return
	}
	res := CommandResult{Command: req.Command, Status: StatusOK, Timestamp: now}

	if !r.authorized(req.AuthToken) {
		r.Faults.Record(faults.Unauthorized, faults.SeverityWarning, "emergency "+req.Command, now)
		r.logger.Warn("unauthorized emergency command", "command", req.Command, "source", kind.String())
		res.Status = StatusUnauthorized
		res.ErrorInfo = errorInfo(faults.Unauthorized, "auth token mismatch")
		r.publish(r.Topics.SystemResponse(), res, false)
		return
	}
	if r.token == "" {
		r.logger.Warn("emergency command accepted without a configured token", "command", req.Command)
	}

	reason := req.Reason
	if reason == "" {
		reason = kind.String()
	}

	var (
		out safety.Outcome
		err error
	)
	switch req.Command {
	case EmergencyStopAll:
		if req.GPIO != nil && kind == Emergency {
			out, err = r.Safety.EmergencyStop(*req.GPIO, reason, now)
		} else {
			out = r.Safety.EmergencyStopAll(reason, now)
		}
	case EmergencyClear:
		out, err = r.Safety.ClearEmergencyStop(now)
	case EmergencyResume:
		out, err = r.Safety.ResumeOperation(now)
	default:
		err = faults.New(faults.CommandInvalid, fmt.Sprintf("unknown emergency command %q", req.Command))
	}
	r.PublishOutcome(ctx, out, now)

	if err != nil {
		r.respondResult(res, codeFor(err), err)
		return
	}
	r.publish(r.Topics.SystemResponse(), res, false)
}

func (r *Router) respondResult(res CommandResult, code faults.Code, err error) {
	r.Faults.Record(code, faults.SeverityWarning, err.Error(), res.Timestamp)
	r.logger.Warn("command failed", "command", res.Command, "error", err)
	res.Status = StatusError
	res.ErrorInfo = errorInfo(code, err.Error())
	r.publish(r.Topics.SystemResponse(), res, false)
}
