package dedupe

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opebus/yt-university/internal/logger"
)

// Tracker is the persistent submission ledger. It counts how many times
// each video was submitted, across processes and restarts.
type Tracker struct {
	db  *sql.DB
	log *logger.Logger
}

// NewTracker creates a new dedupe tracker
func NewTracker(db *sql.DB, log *logger.Logger) (*Tracker, error) {
	if log == nil {
		log = logger.Discard()
	}
	tracker := &Tracker{db: db, log: log.Component("dedupe.tracker")}

	if err := tracker.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	return tracker, nil
}

// ensureTable creates the video_dedupe table if it doesn't exist
func (t *Tracker) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS video_dedupe (
			video_id TEXT PRIMARY KEY,
			last_user_id TEXT,
			last_job_id TEXT,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1
		)
	`

	_, err := t.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create video_dedupe table: %w", err)
	}

	t.log.Info("video_dedupe table ready")
	return nil
}

// Record records a submission and returns the seen count
func (t *Tracker) Record(ctx context.Context, videoID, userID, jobID string) (int, error) {
	query := `
		INSERT INTO video_dedupe (video_id, last_user_id, last_job_id, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		ON CONFLICT (video_id) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = video_dedupe.seen_count + 1,
		    last_user_id = EXCLUDED.last_user_id,
		    last_job_id = EXCLUDED.last_job_id
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, videoID, userID, jobID).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	return seenCount, nil
}

// GetSeenCount retrieves the seen count for a video
func (t *Tracker) GetSeenCount(ctx context.Context, videoID string) (int, error) {
	query := `SELECT seen_count FROM video_dedupe WHERE video_id = $1`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, videoID).Scan(&seenCount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}
