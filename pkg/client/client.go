// Package client talks to a running pipeline over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opebus/yt-university/pkg/pipeline"
)

// DefaultPollInterval is the pause between polls in WaitForCompletion
const DefaultPollInterval = 2 * time.Second

// Client is an HTTP client for submitting videos and polling their jobs
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new pipeline client
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// APIError is a failed request. It matches the pipeline error sentinels
// with errors.Is.
type APIError struct {
	StatusCode int
	Kind       pipeline.ErrorKind
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Is maps the error kind onto the pipeline sentinels
func (e *APIError) Is(target error) bool {
	se := &pipeline.StageError{Kind: e.Kind}
	return se.Is(target)
}

// Video is the persisted record of a processed video
type Video struct {
	ID            string               `json:"id"`
	URL           string               `json:"url"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Channel       string               `json:"channel"`
	Duration      int                  `json:"duration"`
	Language      string               `json:"language"`
	Transcription *pipeline.Transcript `json:"transcription"`
	Summary       string               `json:"summary"`
	Category      string               `json:"category"`
}

// Submit asks the pipeline to process a video. A video already in flight
// returns its running job with Existing set.
func (c *Client) Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp pipeline.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/process", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll returns the current status of a job
func (c *Client) Poll(ctx context.Context, jobID string) (pipeline.StatusReport, error) {
	var report pipeline.StatusReport
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &report)
	return report, err
}

// WaitForCompletion polls jobID every interval until the job finishes or
// ctx ends. A failed job is returned as its report, not as an error.
func (c *Client) WaitForCompletion(ctx context.Context, jobID string, interval time.Duration) (pipeline.StatusReport, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := c.Poll(ctx, jobID)
		if err != nil {
			return report, err
		}
		if report.Finished() {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Video fetches the record of a processed video
func (c *Client) Video(ctx context.Context, videoID string) (*Video, error) {
	var v Video
	if err := c.do(ctx, http.MethodGet, "/v1/videos/"+url.PathEscape(videoID), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, target any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Kind = pipeline.ErrorKind(body.Error)
		apiErr.Message = body.Message
	}
	return apiErr
}

// IsTerminal reports whether err means retrying the same call cannot help
func IsTerminal(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
