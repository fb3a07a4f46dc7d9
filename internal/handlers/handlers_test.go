package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/opebus/yt-university/internal/download"
	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/internal/storage"
	"github.com/opebus/yt-university/internal/workflows"
	"github.com/opebus/yt-university/pkg/pipeline"
)

type fakePipeline struct {
	submitted []pipeline.SubmitRequest
	submitErr map[string]error
	reports   map[string]pipeline.StatusReport
	videos    map[string]*records.Record
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		submitErr: map[string]error{},
		reports:   map[string]pipeline.StatusReport{},
		videos:    map[string]*records.Record{},
	}
}

func (f *fakePipeline) Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResponse, error) {
	f.submitted = append(f.submitted, req)
	if err := f.submitErr[req.URL]; err != nil {
		return nil, err
	}
	return &pipeline.SubmitResponse{JobID: fmt.Sprintf("process-%d", len(f.submitted)), URL: req.URL}, nil
}

func (f *fakePipeline) Poll(ctx context.Context, jobID string) (pipeline.StatusReport, error) {
	r, ok := f.reports[jobID]
	if !ok {
		return pipeline.StatusReport{}, fmt.Errorf("%w: job %s", pipeline.ErrNotFound, jobID)
	}
	return r, nil
}

func (f *fakePipeline) Video(ctx context.Context, videoID string) (*records.Record, error) {
	rec, ok := f.videos[videoID]
	if !ok {
		return nil, records.ErrRecordNotFound
	}
	return rec, nil
}

type fakeExpander struct {
	items []download.PlaylistItem
	err   error
}

func (f fakeExpander) Expand(ctx context.Context, rawURL string) ([]download.PlaylistItem, error) {
	return f.items, f.err
}

type fakeAudio struct {
	data map[string]string
}

func (f fakeAudio) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	d, ok := f.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(d)), nil
}

func (f fakeAudio) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func (f fakeAudio) GetMetadata(ctx context.Context, key string) (*storage.Metadata, error) {
	return &storage.Metadata{Size: int64(len(f.data[key])), ContentType: "audio/wav"}, nil
}

func newServer(p *fakePipeline, expander PlaylistExpander) http.Handler {
	return NewRouter(Routes{
		Async:    NewAsyncHandler(p, nil),
		Videos:   NewVideoHandler(p, fakeAudio{data: map[string]string{"audio-1": "RIFF"}}, nil),
		Playlist: NewPlaylistHandler(p, expander, nil),
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "# metrics\n") }),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestHealth(t *testing.T) {
	rec := do(t, newServer(newFakePipeline(), nil), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestProcessAccepted(t *testing.T) {
	p := newFakePipeline()
	rec := do(t, newServer(p, nil), http.MethodPost, "/v1/process", `{"url":"https://youtu.be/abc123","user_id":"u1","force":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var resp pipeline.SubmitResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.JobID != "process-1" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(p.submitted) != 1 || p.submitted[0].UserID != "u1" || !p.submitted[0].Force {
		t.Fatalf("submitted = %+v", p.submitted)
	}
}

func TestProcessErrors(t *testing.T) {
	p := newFakePipeline()
	p.submitErr["https://youtu.be/done"] = fmt.Errorf("%w: done", pipeline.ErrConflict)
	p.submitErr["https://example.com"] = fmt.Errorf("%w: not a video url", pipeline.ErrInvalidInput)
	p.submitErr["https://youtu.be/later"] = workflows.ErrRunnerNotReady
	srv := newServer(p, nil)

	cases := []struct {
		body string
		code int
		kind pipeline.ErrorKind
	}{
		{`{"url":"https://youtu.be/done"}`, http.StatusConflict, pipeline.KindConflict},
		{`{"url":"https://example.com"}`, http.StatusBadRequest, pipeline.KindInvalidInput},
		{`{"url":""}`, http.StatusBadRequest, pipeline.KindInvalidInput},
		{`{not json`, http.StatusBadRequest, pipeline.KindInvalidInput},
		{`{"url":"https://youtu.be/later"}`, http.StatusServiceUnavailable, pipeline.KindUnknown},
	}
	for _, tc := range cases {
		rec := do(t, srv, http.MethodPost, "/v1/process", tc.body)
		if rec.Code != tc.code {
			t.Errorf("%s: status = %d, want %d", tc.body, rec.Code, tc.code)
			continue
		}
		if e := decodeError(t, rec); e.Error != string(tc.kind) {
			t.Errorf("%s: error = %q, want %q", tc.body, e.Error, tc.kind)
		}
	}
}

func TestStatus(t *testing.T) {
	p := newFakePipeline()
	total, done, tasks := 5, 3, 2
	p.reports["process-abc-1"] = pipeline.StatusReport{
		Stage: pipeline.StageTranscribe, Status: pipeline.StatusRunning,
		TotalSegments: &total, DoneSegments: &done, Tasks: &tasks,
	}
	srv := newServer(p, nil)

	rec := do(t, srv, http.MethodGet, "/v1/jobs/process-abc-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	json.NewDecoder(rec.Body).Decode(&got)
	if got["stage"] != "transcribe" || got["total_segments"] != float64(5) || got["done_segments"] != float64(3) {
		t.Fatalf("body = %v", got)
	}
	if _, ok := got["error"]; ok {
		t.Fatalf("unexpected error field: %v", got)
	}

	rec = do(t, srv, http.MethodGet, "/v1/jobs/missing", "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error != string(pipeline.KindNotFound) {
		t.Fatalf("missing job = %d", rec.Code)
	}
}

func TestVideoEndpoints(t *testing.T) {
	p := newFakePipeline()
	p.videos["abc123"] = &records.Record{
		ID:             "abc123",
		Title:          "A talk",
		AudioContentID: "audio-1",
		Transcription: &pipeline.Transcript{
			Chunks: []pipeline.Chunk{{Text: "hello", Start: 0, End: 1}},
			Text:   "hello",
		},
	}
	p.videos["bare"] = &records.Record{ID: "bare"}
	srv := newServer(p, nil)

	rec := do(t, srv, http.MethodGet, "/v1/videos/abc123", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"title":"A talk"`) {
		t.Fatalf("get = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/v1/videos/abc123/transcript.xlsx", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("xlsx = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if text, _ := f.GetCellValue("Transcript", "D2"); text != "hello" {
		t.Fatalf("D2 = %q", text)
	}

	rec = do(t, srv, http.MethodGet, "/v1/videos/bare/transcript.xlsx", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("xlsx without transcript = %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/v1/videos/abc123/audio", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "RIFF" || rec.Header().Get("Content-Length") != "4" {
		t.Fatalf("audio = %d %q", rec.Code, rec.Body)
	}
	rec = do(t, srv, http.MethodGet, "/v1/videos/bare/audio", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("audio without artifact = %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/v1/videos/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown video = %d", rec.Code)
	}
}

func TestPlaylistSubmitsEveryVideo(t *testing.T) {
	p := newFakePipeline()
	p.submitErr["https://www.youtube.com/watch?v=b"] = fmt.Errorf("%w: b", pipeline.ErrConflict)
	expander := fakeExpander{items: []download.PlaylistItem{
		{VideoID: "a", Title: "first", URL: "https://www.youtube.com/watch?v=a"},
		{VideoID: "b", Title: "second", URL: "https://www.youtube.com/watch?v=b"},
	}}

	rec := do(t, newServer(p, expander), http.MethodPost, "/v1/playlists", `{"url":"https://www.youtube.com/playlist?list=PL1","user_id":"u"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	var resp PlaylistResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Items) != 2 {
		t.Fatalf("items = %+v", resp.Items)
	}
	if resp.Items[0].SubmitResponse == nil || resp.Items[0].JobID != "process-1" {
		t.Fatalf("first item = %+v", resp.Items[0])
	}
	if resp.Items[1].Error != string(pipeline.KindConflict) {
		t.Fatalf("second item = %+v", resp.Items[1])
	}
	for _, req := range p.submitted {
		if req.UserID != "u" {
			t.Fatalf("user not forwarded: %+v", req)
		}
	}
}

func TestPlaylistExpansionFailure(t *testing.T) {
	expander := fakeExpander{err: fmt.Errorf("%w: missing list parameter", pipeline.ErrInvalidInput)}
	rec := do(t, newServer(newFakePipeline(), expander), http.MethodPost, "/v1/playlists", `{"url":"https://youtu.be/x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := do(t, newServer(newFakePipeline(), nil), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "# metrics") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestWriteErrorPermissionDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &pipeline.StageError{Stage: "download", Kind: pipeline.KindPermissionDenied, Message: "private"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if !errors.Is(&pipeline.StageError{Kind: pipeline.KindPermissionDenied}, pipeline.ErrPermissionDenied) {
		t.Fatal("stage error does not match sentinel")
	}
}
