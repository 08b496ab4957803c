package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/kaiser-edge/internal/faults"
)

func (r *Router) handleSystemCommand(ctx context.Context, payload []byte, now uint32) {
	var req SystemRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.respondResult(CommandResult{Command: "system", Timestamp: now}, faults.PayloadParse, err)
		return
	}
	res := CommandResult{Command: req.Command, Status: StatusOK, Timestamp: now}

	switch req.Command {
	case SystemReboot:
		r.publish(r.Topics.SystemResponse(), res, false)
		reason := req.Reason
		if reason == "" {
			reason = "remote command"
		}
		r.System.Reboot(reason)
		return

	case SystemFactoryReset:
		if !req.Confirm {
			r.respondResult(res, faults.CommandRejected, errors.New("factory reset requires confirm"))
			return
		}
		if err := r.System.FactoryReset(ctx); err != nil {
			r.respondResult(res, codeFor(err), err)
			return
		}

	case SystemExitSafeMode:
		if err := r.Lifecycle.ExitSafeMode(ctx, now); err != nil {
			r.respondResult(res, codeFor(err), err)
			return
		}

	case SystemDiagnostics:
		r.publish(r.Topics.Diagnostics(), r.System.Diagnostics(now), false)

	case SystemSetEmergencyToken:
		if !r.authorized(req.AuthToken) {
			r.Faults.Record(faults.Unauthorized, faults.SeverityWarning, req.Command, now)
			res.Status = StatusUnauthorized
			res.ErrorInfo = errorInfo(faults.Unauthorized, "auth token mismatch")
			r.publish(r.Topics.SystemResponse(), res, false)
			return
		}
		if req.Token == "" {
			r.respondResult(res, faults.PayloadInvalid, errors.New("token must not be empty"))
			return
		}
		if err := r.SetEmergencyToken(ctx, req.Token); err != nil {
			r.respondResult(res, codeFor(err), err)
			return
		}
		r.logger.Info("emergency token updated")

	default:
		r.respondResult(res, faults.CommandInvalid, fmt.Errorf("unknown system command %q", req.Command))
		return
	}

	r.publish(r.Topics.SystemResponse(), res, false)
}
