package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/pkg/pipeline"
)

const recordColumns = `id, url, title, description, channel, channel_id, uploaded_at, thumbnail,
	duration, language, transcription, summary, category, favorite_count, user_id,
	audio_content_id, thumbnail_content_id, created_at, updated_at`

// PostgresStore keeps records in the video table
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore creates the store and its table
func NewPostgresStore(db *sql.DB, log *logger.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &PostgresStore{db: db, log: log.Component("records")}

	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure video table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS video (
			id TEXT PRIMARY KEY,
			url TEXT UNIQUE,
			title TEXT,
			description TEXT,
			channel TEXT,
			channel_id TEXT,
			uploaded_at TEXT,
			thumbnail TEXT,
			duration INTEGER,
			language TEXT,
			transcription JSONB,
			summary TEXT,
			category TEXT,
			favorite_count INTEGER NOT NULL DEFAULT 0,
			user_id TEXT,
			audio_content_id TEXT,
			thumbnail_content_id TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create video table: %w", err)
	}

	s.log.Info("video table ready")
	return nil
}

// Get retrieves a record by id
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM video WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// Upsert inserts the record or merges patch into the existing row
func (s *PostgresStore) Upsert(ctx context.Context, id string, p Patch) (*Record, error) {
	var transcription any
	if p.Transcription != nil {
		buf, err := json.Marshal(p.Transcription)
		if err != nil {
			return nil, fmt.Errorf("encode transcription: %w", err)
		}
		transcription = string(buf)
	}

	query := `
		INSERT INTO video (id, url, title, description, channel, channel_id, uploaded_at, thumbnail,
			duration, language, transcription, summary, category, user_id,
			audio_content_id, thumbnail_content_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14, $15, $16, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET url = COALESCE(EXCLUDED.url, video.url),
		    title = COALESCE(EXCLUDED.title, video.title),
		    description = COALESCE(EXCLUDED.description, video.description),
		    channel = COALESCE(EXCLUDED.channel, video.channel),
		    channel_id = COALESCE(EXCLUDED.channel_id, video.channel_id),
		    uploaded_at = COALESCE(EXCLUDED.uploaded_at, video.uploaded_at),
		    thumbnail = COALESCE(EXCLUDED.thumbnail, video.thumbnail),
		    duration = COALESCE(EXCLUDED.duration, video.duration),
		    language = COALESCE(EXCLUDED.language, video.language),
		    transcription = COALESCE(EXCLUDED.transcription, video.transcription),
		    summary = COALESCE(EXCLUDED.summary, video.summary),
		    category = COALESCE(EXCLUDED.category, video.category),
		    user_id = COALESCE(EXCLUDED.user_id, video.user_id),
		    audio_content_id = COALESCE(EXCLUDED.audio_content_id, video.audio_content_id),
		    thumbnail_content_id = COALESCE(EXCLUDED.thumbnail_content_id, video.thumbnail_content_id),
		    updated_at = NOW()
		RETURNING ` + recordColumns

	row := s.db.QueryRowContext(ctx, query,
		id, p.URL, p.Title, p.Description, p.Channel, p.ChannelID, p.UploadedAt, p.Thumbnail,
		p.Duration, p.Language, transcription, p.Summary, p.Category, p.UserID,
		p.AudioContentID, p.ThumbnailContentID,
	)
	r, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record %s: %w", id, err)
	}
	return r, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		r        Record
		url      sql.NullString
		title    sql.NullString
		desc     sql.NullString
		channel  sql.NullString
		chanID   sql.NullString
		uploaded sql.NullString
		thumb    sql.NullString
		duration sql.NullInt64
		language sql.NullString
		transcr  []byte
		summary  sql.NullString
		category sql.NullString
		userID   sql.NullString
		audioID  sql.NullString
		thumbID  sql.NullString
	)
	err := row.Scan(&r.ID, &url, &title, &desc, &channel, &chanID, &uploaded, &thumb,
		&duration, &language, &transcr, &summary, &category, &r.FavoriteCount, &userID,
		&audioID, &thumbID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.URL, r.Title, r.Description = url.String, title.String, desc.String
	r.Channel, r.ChannelID, r.UploadedAt = channel.String, chanID.String, uploaded.String
	r.Thumbnail, r.Language = thumb.String, language.String
	r.Duration = int(duration.Int64)
	r.Summary, r.Category, r.UserID = summary.String, category.String, userID.String
	r.AudioContentID, r.ThumbnailContentID = audioID.String, thumbID.String

	if len(transcr) > 0 {
		var t pipeline.Transcript
		if err := json.Unmarshal(transcr, &t); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
		r.Transcription = &t
	}
	return &r, nil
}
