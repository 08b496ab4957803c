package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kaiser-edge/internal/node"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeValidation  = "validation_error"
	ErrCodeConflict    = "conflict"
	ErrCodeUnavailable = "unavailable"
	ErrCodeInternal    = "internal_error"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/provision", s.handleProvision)
	r.Get("/events", s.handleEvents)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var p node.Provisioning
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}

	err := s.node.Provision(r.Context(), p)
	switch {
	case err == nil:
		s.logger.Info("provisioning accepted", "ssid", p.SSID, "broker_host", p.BrokerHost)
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
	case errors.Is(err, node.ErrInvalidProvisioning):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, node.ErrNotProvisioning):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, node.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "node busy, retry")
	default:
		s.logger.Error("provisioning failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "provisioning failed")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.node.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "listing events failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
