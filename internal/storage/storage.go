// Package storage holds the local audio workspace and the artifact stores
// that keep downloaded audio and thumbnails.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no content exists at a key
var ErrNotFound = errors.New("content not found")

// Reader provides read access to stored content
type Reader interface {
	// GetReader returns a reader for the content at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if content exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string
}

// ReaderWithMetadata provides read access with metadata
type ReaderWithMetadata interface {
	Reader

	// GetMetadata returns metadata for content at the given key
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
}

// ArtifactStore keeps a video's audio and its derived thumbnail. Keys
// are content ids returned by the Put methods.
type ArtifactStore interface {
	ReaderWithMetadata

	// PutAudio stores the audio of videoID and returns its content id
	PutAudio(ctx context.Context, videoID string, r io.Reader, fileName string) (string, error)

	// HasThumbnail reports whether audioID already has a thumbnail
	HasThumbnail(ctx context.Context, audioID string) (bool, error)

	// PutThumbnail stores a JPEG thumbnail derived from audioID
	PutThumbnail(ctx context.Context, audioID string, r io.Reader, fileName string) (string, error)
}

const (
	// ThumbnailVersion is the variant version of generated thumbnails
	ThumbnailVersion = 1

	audioDocumentType = "audio/wav"
)
