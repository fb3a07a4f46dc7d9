package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/report"
	"github.com/opebus/yt-university/internal/storage"
	"github.com/opebus/yt-university/pkg/pipeline"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// VideoHandler serves persisted video records and their artifacts
type VideoHandler struct {
	pipeline  Pipeline
	artifacts storage.ReaderWithMetadata
	log       *logger.Logger
}

// NewVideoHandler creates a video handler. artifacts may be nil, in which
// case audio downloads answer 404.
func NewVideoHandler(p Pipeline, artifacts storage.ReaderWithMetadata, log *logger.Logger) *VideoHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &VideoHandler{pipeline: p, artifacts: artifacts, log: log.Component("handlers")}
}

// HandleGet handles GET /v1/videos/{id}
func (h *VideoHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.pipeline.Video(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleTranscript handles GET /v1/videos/{id}/transcript.xlsx
func (h *VideoHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.pipeline.Video(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteTranscript(&buf, rec); err != nil {
		if errors.Is(err, report.ErrNoTranscript) {
			writeError(w, fmt.Errorf("%w: %v", pipeline.ErrNotFound, err))
			return
		}
		h.log.WithRequest(r).WithError(err).Error("failed to render transcript")
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// HandleAudio handles GET /v1/videos/{id}/audio by streaming the stored audio
func (h *VideoHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	rec, err := h.pipeline.Video(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if h.artifacts == nil || rec.AudioContentID == "" {
		writeError(w, fmt.Errorf("%w: no stored audio for %s", pipeline.ErrNotFound, rec.ID))
		return
	}

	log := h.log.WithRequest(r).WithField("content_id", rec.AudioContentID)
	body, err := h.artifacts.GetReader(r.Context(), rec.AudioContentID)
	if err != nil {
		log.WithError(err).Error("failed to open stored audio")
		writeError(w, err)
		return
	}
	defer body.Close()

	contentType := "audio/wav"
	if meta, err := h.artifacts.GetMetadata(r.Context(), rec.AudioContentID); err == nil {
		if meta.ContentType != "" {
			contentType = meta.ContentType
		}
		if meta.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.WithError(err).Warn("audio stream interrupted")
	}
}
