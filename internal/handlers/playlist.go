package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opebus/yt-university/internal/download"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// PlaylistExpander lists the videos of a playlist
type PlaylistExpander interface {
	Expand(ctx context.Context, rawURL string) ([]download.PlaylistItem, error)
}

// PlaylistEntry is the submission outcome of one playlist video
type PlaylistEntry struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
	*pipeline.SubmitResponse
	Error string `json:"error,omitempty"`
}

// PlaylistResponse is returned by POST /v1/playlists
type PlaylistResponse struct {
	Items []PlaylistEntry `json:"items"`
}

// PlaylistHandler submits every video of a playlist
type PlaylistHandler struct {
	pipeline Pipeline
	expander PlaylistExpander
	log      *logger.Logger
}

// NewPlaylistHandler creates a playlist handler
func NewPlaylistHandler(p Pipeline, expander PlaylistExpander, log *logger.Logger) *PlaylistHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &PlaylistHandler{pipeline: p, expander: expander, log: log.Component("handlers")}
}

// HandleSubmit handles POST /v1/playlists. Videos that cannot be submitted
// (already processed, invalid) are reported per item; the request itself
// only fails when the playlist cannot be listed.
func (h *PlaylistHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithRequest(r)

	var req pipeline.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err))
		return
	}

	items, err := h.expander.Expand(r.Context(), req.URL)
	if err != nil {
		log.WithError(err).Warn("playlist expansion failed")
		writeError(w, err)
		return
	}

	resp := PlaylistResponse{Items: make([]PlaylistEntry, 0, len(items))}
	for _, item := range items {
		entry := PlaylistEntry{Title: item.Title, URL: item.URL}
		sub, err := h.pipeline.Submit(r.Context(), pipeline.SubmitRequest{URL: item.URL, UserID: req.UserID, Force: req.Force})
		if err != nil {
			entry.Error = string(pipeline.KindOf(err))
		} else {
			entry.SubmitResponse = sub
		}
		resp.Items = append(resp.Items, entry)
	}

	log.WithField("videos", len(items)).Info("playlist submitted")
	writeJSON(w, http.StatusAccepted, resp)
}
