package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opebus/yt-university/internal/logger"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	requestTimeout = 10 * time.Minute
	maxRetryTime   = 2 * time.Minute
)

// Config for the OpenAI-compatible API
type Config struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	HTTPClient      *http.Client
	MaxRetryTime    time.Duration
}

// Client talks to an OpenAI-compatible API for audio transcription and
// chat completions
type Client struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	chatModel       string
	httpClient      *http.Client
	maxRetryTime    time.Duration
	log             *logger.Logger
}

// NewClient creates an API client
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if cfg.MaxRetryTime == 0 {
		cfg.MaxRetryTime = maxRetryTime
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		transcribeModel: cfg.TranscribeModel,
		chatModel:       cfg.ChatModel,
		httpClient:      cfg.HTTPClient,
		maxRetryTime:    cfg.MaxRetryTime,
		log:             log.Component("openai"),
	}
}

// TranscriptionSegment is one timed piece of a transcription, relative to
// the start of the uploaded audio
type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the verbose transcription response
type Transcription struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`
}

// Transcribe uploads audio and returns its timestamped transcription
func (c *Client) Transcribe(ctx context.Context, r io.Reader, filename string) (*Transcription, error) {
	if err := c.ensureAPIKey(); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	fields := [][2]string{
		{"model", c.transcribeModel},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out Transcription
	err = c.doJSON(ctx, "/audio/transcriptions", writer.FormDataContentType(), body.Bytes(), &out)
	if err != nil {
		return nil, err
	}
	out.Text = strings.TrimSpace(out.Text)
	return &out, nil
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete runs a chat completion and returns the first choice's content
func (c *Client) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	if err := c.ensureAPIKey(); err != nil {
		return "", err
	}

	payload := map[string]any{
		"model":       c.chatModel,
		"messages":    messages,
		"temperature": temperature,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chat payload: %w", err)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.doJSON(ctx, "/chat/completions", "application/json", buf, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no completion returned")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// doJSON posts body to path, retrying transport failures, 429 and 5xx
// responses with exponential backoff, and decodes the JSON response.
func (c *Client) doJSON(ctx context.Context, path, contentType string, body []byte, target any) error {
	url := c.baseURL + path

	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("create request: %w", err)
			return backoff.Permanent(lastErr)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("openai request failed: %w", err)
			if ctx.Err() != nil {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			lastErr = decodeAPIError(resp)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				c.log.WithError(lastErr).WithField("path", path).Warn("retrying openai request")
				return lastErr
			}
			return backoff.Permanent(lastErr)
		}

		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			lastErr = fmt.Errorf("decode %s response: %w", path, err)
			return backoff.Permanent(lastErr)
		}
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("openai api error: status %d type %s message %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Errorf("openai api error: status %d body %s", resp.StatusCode, string(body))
}

func (c *Client) ensureAPIKey() error {
	if strings.TrimSpace(c.apiKey) == "" {
		return errors.New("openai api key is not configured")
	}
	return nil
}
