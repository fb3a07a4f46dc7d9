package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPStore keeps artifacts in a remote simple-content service through
// its HTTP API
type HTTPStore struct {
	baseURL    string
	tenantID   uuid.UUID
	httpClient *http.Client
}

// NewHTTPStore creates an HTTP-backed artifact store
func NewHTTPStore(baseURL string, tenantID uuid.UUID) *HTTPStore {
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// PutAudio uploads the audio of videoID as a new content
func (hs *HTTPStore) PutAudio(ctx context.Context, videoID string, r io.Reader, fileName string) (string, error) {
	fields := map[string]string{
		"owner_id":      SystemOwnerID.String(),
		"tenant_id":     hs.tenantID.String(),
		"name":          videoID,
		"document_type": audioDocumentType,
		"tags":          "audio," + videoID,
	}
	return hs.upload(ctx, hs.baseURL+"/api/v1/contents", fields, r, fileName)
}

// HasThumbnail checks if a thumbnail was already derived from audioID
func (hs *HTTPStore) HasThumbnail(ctx context.Context, audioID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/derived?%s", hs.baseURL, url.PathEscape(audioID),
		url.Values{"derivation_type": {thumbnailType}}.Encode())

	resp, err := hs.get(ctx, endpoint)
	if err != nil {
		return false, fmt.Errorf("failed to list derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, statusError("list derived", resp)
	}

	var derived []struct {
		DerivationType string `json:"derivation_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&derived); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	for _, d := range derived {
		if d.DerivationType == thumbnailType {
			return true, nil
		}
	}
	return false, nil
}

// PutThumbnail uploads a thumbnail derived from audioID
func (hs *HTTPStore) PutThumbnail(ctx context.Context, audioID string, r io.Reader, fileName string) (string, error) {
	variant := thumbnailVariant()
	fields := map[string]string{
		"derivation_type": thumbnailType,
		"variant":         variant,
		"tags":            thumbnailType + "," + variant,
	}
	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/derived", hs.baseURL, url.PathEscape(audioID))
	return hs.upload(ctx, endpoint, fields, r, fileName)
}

// GetReader downloads the content with id key
func (hs *HTTPStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := hs.get(ctx, fmt.Sprintf("%s/api/v1/contents/%s/download", hs.baseURL, url.PathEscape(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("download", resp)
	}
	return resp.Body, nil
}

// Exists checks if content with id key exists
func (hs *HTTPStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := hs.get(ctx, fmt.Sprintf("%s/api/v1/contents/%s", hs.baseURL, url.PathEscape(key)))
	if err != nil {
		return false, fmt.Errorf("failed to check content: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError("check content", resp)
}

// GetMetadata returns size and MIME type of the content with id key
func (hs *HTTPStore) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	resp, err := hs.get(ctx, fmt.Sprintf("%s/api/v1/contents/%s/details", hs.baseURL, url.PathEscape(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("content details", resp)
	}

	var details struct {
		FileSize int64  `json:"file_size"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &Metadata{Size: details.FileSize, ContentType: details.MimeType}, nil
}

func (hs *HTTPStore) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return hs.httpClient.Do(req)
}

// upload posts fields and the file as multipart form data and returns the
// id of the created content.
func (hs *HTTPStore) upload(ctx context.Context, endpoint string, fields map[string]string, r io.Reader, fileName string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write %s field: %w", k, err)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := hs.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("upload", resp)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("no ID in response")
	}
	return result.ID, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s failed with status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
