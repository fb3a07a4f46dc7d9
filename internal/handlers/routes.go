package handlers

import "net/http"

// Routes are the handlers mounted by NewRouter. Nil handlers leave their
// routes unmounted.
type Routes struct {
	Async    *AsyncHandler
	Videos   *VideoHandler
	Playlist *PlaylistHandler
	Metrics  http.Handler
}

// NewRouter builds the HTTP API
func NewRouter(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	if rt.Async != nil {
		mux.HandleFunc("POST /v1/process", rt.Async.HandleProcessAsync)
		mux.HandleFunc("GET /v1/jobs/{id}", rt.Async.HandleStatus)
	}
	if rt.Videos != nil {
		mux.HandleFunc("GET /v1/videos/{id}", rt.Videos.HandleGet)
		mux.HandleFunc("GET /v1/videos/{id}/transcript.xlsx", rt.Videos.HandleTranscript)
		mux.HandleFunc("GET /v1/videos/{id}/audio", rt.Videos.HandleAudio)
	}
	if rt.Playlist != nil {
		mux.HandleFunc("POST /v1/playlists", rt.Playlist.HandleSubmit)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	return mux
}
