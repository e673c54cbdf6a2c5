package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/orchestra/internal/engine"
	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// NotifyRequest is the body of POST /v1/notify/{correlationId}. A non-empty
// Error reports that the task could not run at all.
type NotifyRequest struct {
	Status  ir.Status       `json:"status"`
	Failure *ir.FailureInfo `json:"failure,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NotifyResponse reports whether the result was recorded. A repeated
// notification is acknowledged but not accepted.
type NotifyResponse struct {
	Accepted bool `json:"accepted"`
}

// InterveneRequest is the body of POST /v1/node-executions/{id}/intervene.
type InterveneRequest struct {
	Action     ir.RepairActionCode `json:"action"`
	NextNodeID string              `json:"next_node_id,omitempty"`
}

// LineageResponse is the body of GET /v1/node-executions/{id}/lineage. Live
// is the current attempt; Attempts holds it followed by its retired
// attempts, newest first.
type LineageResponse struct {
	Live     string             `json:"live"`
	Attempts []ir.NodeExecution `json:"attempts"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationId")

	var req NotifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Error == "" && !req.Status.IsFinal() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("status must be a final status, got %q", req.Status))
		return
	}

	var accepted bool
	var err error
	if req.Error != "" {
		accepted, err = s.engine.NotifyTaskError(r.Context(), correlationID, req.Error)
	} else {
		accepted, err = s.engine.NotifyTask(r.Context(), correlationID, ir.StepResponse{
			Status:      req.Status,
			FailureInfo: req.Failure,
		})
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NotifyResponse{Accepted: accepted})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var plan ir.Plan
	if !decodeBody(w, r, &plan) {
		return
	}
	if err := plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pe, err := s.engine.Start(r.Context(), plan)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"plan_execution_id": pe.ID, "status": string(pe.Status)})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Abort(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plan_execution_id": id, "status": string(ir.StatusAborted)})
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := s.engine.Lineage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LineageResponse{Live: lineage[0].UUID, Attempts: lineage})
}

func (s *Server) handleIntervene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req InterveneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !ir.ValidRepairActions[req.Action] {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown repair action %q", req.Action))
		return
	}

	if err := s.engine.Intervene(r.Context(), id, req.Action, req.NextNodeID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"node_execution_id": id, "action": string(req.Action)})
}

func (s *Server) handleAdviseEvent(w http.ResponseWriter, r *http.Request) {
	var ev ir.AdviseEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.NodeExecutionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("node_execution_id is required"))
		return
	}
	if !ev.ToStatus.IsFinal() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("to_status must be a final status, got %q", ev.ToStatus))
		return
	}

	s.engine.SubmitAdviseEvent(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"node_execution_id": ev.NodeExecutionID})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// writeEngineError maps engine and store errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var re *engine.RuntimeError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &re):
		status := http.StatusUnprocessableEntity
		switch re.Code {
		case engine.ErrCodeNotWaiting, engine.ErrCodePlanFinished, engine.ErrCodeCancelled:
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(re.Code)})
	default:
		slog.Error("ingress request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
