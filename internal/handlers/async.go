// Package handlers exposes the pipeline over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/internal/workflows"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// Pipeline is the part of the workflow runner the handlers use
type Pipeline interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResponse, error)
	Poll(ctx context.Context, jobID string) (pipeline.StatusReport, error)
	Video(ctx context.Context, videoID string) (*records.Record, error)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AsyncHandler handles job submission and status polling
type AsyncHandler struct {
	pipeline Pipeline
	log      *logger.Logger
}

// NewAsyncHandler creates a new async handler
func NewAsyncHandler(p Pipeline, log *logger.Logger) *AsyncHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &AsyncHandler{pipeline: p, log: log.Component("handlers")}
}

// HandleProcessAsync handles POST /v1/process: admits the video and returns
// its job id without waiting for the job
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithRequest(r)

	var req pipeline.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err))
		return
	}
	if req.URL == "" {
		writeError(w, fmt.Errorf("%w: url is required", pipeline.ErrInvalidInput))
		return
	}

	resp, err := h.pipeline.Submit(r.Context(), req)
	if err != nil {
		log.WithError(err).Warn("submit rejected")
		writeError(w, err)
		return
	}

	log.WithField("job_id", resp.JobID).WithField("existing", resp.Existing).Info("job submitted")
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleStatus handles GET /v1/jobs/{id}
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, fmt.Errorf("%w: job id is required", pipeline.ErrInvalidInput))
		return
	}

	report, err := h.pipeline.Poll(r.Context(), jobID)
	if err != nil {
		if !errors.Is(err, pipeline.ErrNotFound) {
			h.log.WithRequest(r).WithError(err).Error("poll failed")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and an ErrorResponse
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := pipeline.KindOf(err)
	switch {
	case errors.Is(err, workflows.ErrRunnerNotReady):
		status, kind = http.StatusServiceUnavailable, pipeline.KindUnknown
	case errors.Is(err, pipeline.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrNotFound):
		status = http.StatusNotFound
	case kind == pipeline.KindPermissionDenied:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{Error: string(kind), Message: err.Error()})
}
