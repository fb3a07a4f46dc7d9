// Package records persists one record per video, filled in stage by stage.
package records

import (
	"context"
	"fmt"
	"time"

	"github.com/opebus/yt-university/pkg/pipeline"
)

// ErrRecordNotFound is returned by Get for unknown ids
var ErrRecordNotFound = fmt.Errorf("%w: record", pipeline.ErrNotFound)

// Record is the persisted state of one video
type Record struct {
	ID                 string               `json:"id"`
	URL                string               `json:"url,omitempty"`
	Title              string               `json:"title,omitempty"`
	Description        string               `json:"description,omitempty"`
	Channel            string               `json:"channel,omitempty"`
	ChannelID          string               `json:"channel_id,omitempty"`
	UploadedAt         string               `json:"uploaded_at,omitempty"`
	Thumbnail          string               `json:"thumbnail,omitempty"`
	Duration           int                  `json:"duration,omitempty"`
	Language           string               `json:"language,omitempty"`
	Transcription      *pipeline.Transcript `json:"transcription,omitempty"`
	Summary            string               `json:"summary,omitempty"`
	Category           string               `json:"category,omitempty"`
	FavoriteCount      int                  `json:"favorite_count"`
	UserID             string               `json:"user_id,omitempty"`
	AudioContentID     string               `json:"audio_content_id,omitempty"`
	ThumbnailContentID string               `json:"thumbnail_content_id,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	URL                *string
	Title              *string
	Description        *string
	Channel            *string
	ChannelID          *string
	UploadedAt         *string
	Thumbnail          *string
	Duration           *int
	Language           *string
	Transcription      *pipeline.Transcript
	Summary            *string
	Category           *string
	UserID             *string
	AudioContentID     *string
	ThumbnailContentID *string
}

// Store persists records. Upsert creates the record on first use and is
// idempotent for repeated patches.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Upsert(ctx context.Context, id string, patch Patch) (*Record, error)
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// MetadataPatch builds the patch written after the download stage
func MetadataPatch(url, userID string, m pipeline.VideoMetadata) Patch {
	p := Patch{
		URL:         Ptr(url),
		Title:       Ptr(m.Title),
		Description: Ptr(m.Description),
		Channel:     Ptr(m.Channel),
		ChannelID:   Ptr(m.ChannelID),
		UploadedAt:  Ptr(m.UploadDate),
		Thumbnail:   Ptr(m.Thumbnail),
		Duration:    Ptr(m.Duration),
		Language:    Ptr(m.Language),
	}
	if userID != "" {
		p.UserID = Ptr(userID)
	}
	return p
}

// Apply copies the non-nil fields of p onto r
func (p Patch) Apply(r *Record) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&r.URL, p.URL)
	set(&r.Title, p.Title)
	set(&r.Description, p.Description)
	set(&r.Channel, p.Channel)
	set(&r.ChannelID, p.ChannelID)
	set(&r.UploadedAt, p.UploadedAt)
	set(&r.Thumbnail, p.Thumbnail)
	set(&r.Language, p.Language)
	set(&r.Summary, p.Summary)
	set(&r.Category, p.Category)
	set(&r.UserID, p.UserID)
	set(&r.AudioContentID, p.AudioContentID)
	set(&r.ThumbnailContentID, p.ThumbnailContentID)
	if p.Duration != nil {
		r.Duration = *p.Duration
	}
	if p.Transcription != nil {
		r.Transcription = p.Transcription
	}
}
