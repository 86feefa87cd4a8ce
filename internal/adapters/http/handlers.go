package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobrunner/tilework/internal/application"
	"github.com/jobrunner/tilework/internal/domain"
)

// OpenDatabaseRequest is the body of POST /api/v1/databases.
type OpenDatabaseRequest struct {
	Location string `json:"location"`
}

// handleRPC routes one operation to the worker of a map instance.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	params, err := readParams(w, r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	env := domain.Envelope{
		Operation: domain.Operation(vars["operation"]),
		MapID:     domain.MapInstanceID(vars["mapId"]),
		Params:    params,
	}

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	data, err := s.services.Dispatcher.Dispatch(ctx, env)
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// readParams returns the JSON request body. An empty body is an empty object.
func readParams(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	op := mux.Vars(r)["operation"]
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.MalformedRequestError{Operation: op, Field: "params", Reason: err.Error()}
	}
	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(body) {
		return nil, &domain.MalformedRequestError{Operation: op, Field: "params", Reason: "invalid JSON"}
	}
	return body, nil
}

// handleMessages drains the outbound messages of a map instance.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	mapID := domain.MapInstanceID(mux.Vars(r)["mapId"])
	messages := s.services.Messages.Drain(r.Context(), mapID)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

// handleRelease tears down the worker of a map instance.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	mapID := domain.MapInstanceID(mux.Vars(r)["mapId"])

	if err := s.services.Dispatcher.Release(r.Context(), mapID); err != nil {
		s.handleError(w, err)
		return
	}
	if s.services.OnRelease != nil {
		s.services.OnRelease(mapID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOpenDatabase opens a database through the bootstrap.
func (s *Server) handleOpenDatabase(w http.ResponseWriter, r *http.Request) {
	var req OpenDatabaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.handleError(w, &domain.MalformedRequestError{Operation: "openDatabase", Field: "location", Reason: err.Error()})
		return
	}

	ts, err := s.services.Databases.Open(r.Context(), req.Location)
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ts)
}

// handleTrim triggers a response cache trim.
func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	report, err := s.services.Trimmer.TriggerTrim(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.services.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"status":        boolToStatus(details.Healthy),
		"ready":         details.Ready,
		"map_instances": details.MapInstances,
		"databases":     details.Databases,
		"components":    details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err with its mapped status.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
