package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opebus/yt-university/pkg/pipeline"
)

func intPtr(n int) *int { return &n }

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/process" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req pipeline.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !req.Force || req.UserID != "u1" {
			t.Errorf("unexpected body %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(pipeline.SubmitResponse{JobID: "process-abc-1", VideoID: "abc"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL+"/").Submit(context.Background(), pipeline.SubmitRequest{URL: "https://youtu.be/abc", UserID: "u1", Force: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.JobID != "process-abc-1" || resp.VideoID != "abc" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		status int
		kind   pipeline.ErrorKind
		target error
	}{
		{http.StatusConflict, pipeline.KindConflict, pipeline.ErrConflict},
		{http.StatusBadRequest, pipeline.KindInvalidInput, pipeline.ErrInvalidInput},
		{http.StatusNotFound, pipeline.KindNotFound, pipeline.ErrNotFound},
		{http.StatusBadGateway, pipeline.KindPermissionDenied, pipeline.ErrPermissionDenied},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]string{"error": string(tc.kind), "message": "nope"})
			}))
			defer srv.Close()

			_, err := New(srv.URL).Submit(context.Background(), pipeline.SubmitRequest{URL: "x"})
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status || apiErr.Message != "nope" {
				t.Fatalf("unexpected error %#v", err)
			}
		})
	}
}

func TestPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Poll(context.Background(), "j")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != "" || apiErr.Message != "gateway down" {
		t.Fatalf("unexpected error %#v", err)
	}
	if IsTerminal(err) {
		t.Fatal("503 should not be terminal")
	}
}

func TestWaitForCompletion(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/process-abc-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		report := pipeline.StatusReport{
			Stage: pipeline.StageTranscribe, Status: pipeline.StatusRunning,
			TotalSegments: intPtr(3), DoneSegments: intPtr(1),
		}
		if polls.Add(1) >= 3 {
			report = pipeline.StatusReport{Stage: pipeline.StageEnd, Status: pipeline.StatusDone}
		}
		json.NewEncoder(w).Encode(report)
	}))
	defer srv.Close()

	report, err := New(srv.URL).WaitForCompletion(context.Background(), "process-abc-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if !report.Finished() || polls.Load() != 3 {
		t.Fatalf("report %+v after %d polls", report, polls.Load())
	}
}

func TestWaitForCompletionReturnsFailedReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pipeline.StatusReport{Error: string(pipeline.KindPermissionDenied), Message: "private video"})
	}))
	defer srv.Close()

	report, err := New(srv.URL).WaitForCompletion(context.Background(), "j", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if report.Error != string(pipeline.KindPermissionDenied) {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestWaitForCompletionHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pipeline.StatusReport{Stage: pipeline.StageDownload, Status: pipeline.StatusRunning})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).WaitForCompletion(ctx, "j", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/videos/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "abc",
			"title":         "A talk",
			"summary":       "It was good",
			"category":      "Education",
			"transcription": pipeline.Transcript{Text: "hello", Chunks: []pipeline.Chunk{{Text: "hello", Start: 0, End: 1}}},
		})
	}))
	defer srv.Close()

	v, err := New(srv.URL).Video(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Video: %v", err)
	}
	if v.Category != "Education" || v.Transcription == nil || len(v.Transcription.Chunks) != 1 {
		t.Fatalf("unexpected video %+v", v)
	}
}
