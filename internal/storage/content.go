package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"
)

// SystemOwnerID owns artifacts uploaded by the pipeline
var SystemOwnerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// ContentStore keeps artifacts in an embedded simple-content service
type ContentStore struct {
	service  simplecontent.Service
	tenantID uuid.UUID
}

// NewContentStore creates an artifact store on top of service
func NewContentStore(service simplecontent.Service, tenantID uuid.UUID) *ContentStore {
	return &ContentStore{
		service:  service,
		tenantID: tenantID,
	}
}

// PutAudio uploads the audio of videoID as a new content
func (cs *ContentStore) PutAudio(ctx context.Context, videoID string, r io.Reader, fileName string) (string, error) {
	content, err := cs.service.UploadContent(ctx, simplecontent.UploadContentRequest{
		OwnerID:      SystemOwnerID,
		TenantID:     cs.tenantID,
		Name:         videoID,
		DocumentType: audioDocumentType,
		Reader:       r,
		FileName:     fileName,
		Tags:         []string{"audio", videoID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	return content.ID.String(), nil
}

// HasThumbnail checks if a thumbnail was already derived from audioID
func (cs *ContentStore) HasThumbnail(ctx context.Context, audioID string) (bool, error) {
	parentID, err := uuid.Parse(audioID)
	if err != nil {
		return false, fmt.Errorf("invalid content ID: %w", err)
	}

	derived, err := cs.service.ListDerivedContent(ctx,
		simplecontent.WithParentID(parentID),
		simplecontent.WithDerivationType(thumbnailType),
	)
	if err != nil {
		return false, fmt.Errorf("failed to list derived content: %w", err)
	}
	for _, d := range derived {
		if d.DerivationType == thumbnailType {
			return true, nil
		}
	}
	return false, nil
}

// PutThumbnail uploads a thumbnail derived from audioID
func (cs *ContentStore) PutThumbnail(ctx context.Context, audioID string, r io.Reader, fileName string) (string, error) {
	parentID, err := uuid.Parse(audioID)
	if err != nil {
		return "", fmt.Errorf("invalid content ID: %w", err)
	}

	variant := thumbnailVariant()
	derived, err := cs.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: thumbnailType,
		Variant:        variant,
		Reader:         r,
		FileName:       fileName,
		Tags:           []string{thumbnailType, variant},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload derived content: %w", err)
	}
	return derived.ID.String(), nil
}

// GetReader downloads the content with id key
func (cs *ContentStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID: %w", err)
	}

	reader, err := cs.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	return reader, nil
}

// Exists checks if content with id key exists
func (cs *ContentStore) Exists(ctx context.Context, key string) (bool, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return false, fmt.Errorf("invalid content ID: %w", err)
	}

	// The service does not expose a typed not-found error.
	if _, err := cs.service.GetContent(ctx, id); err != nil {
		return false, nil
	}
	return true, nil
}

// GetMetadata returns size and MIME type of the content with id key
func (cs *ContentStore) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID: %w", err)
	}

	details, err := cs.service.GetContentDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}
	return &Metadata{
		Size:        details.FileSize,
		ContentType: details.MimeType,
	}, nil
}
