package workflows

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opebus/yt-university/internal/download"
	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/internal/storage"
)

// storeArtifacts uploads the downloaded audio and a normalized thumbnail.
// Artifacts already referenced by the record are not uploaded again.
func (r *WorkflowRunner) storeArtifacts(ctx context.Context, rec *records.Record, dl *download.Result, log *logrus.Entry) (records.Patch, error) {
	var patch records.Patch
	if r.artifacts == nil {
		return patch, nil
	}

	audioID := rec.AudioContentID
	if audioID == "" {
		f, err := os.Open(dl.AudioPath)
		if err != nil {
			return patch, fmt.Errorf("open audio: %w", err)
		}
		defer f.Close()

		audioID, err = r.artifacts.PutAudio(ctx, rec.ID, f, filepath.Base(dl.AudioPath))
		if err != nil {
			return patch, fmt.Errorf("upload audio: %w", err)
		}
		patch.AudioContentID = records.Ptr(audioID)
		log.WithField("content_id", audioID).Info("stored audio")
	}

	if dl.ThumbnailPath == "" {
		return patch, nil
	}

	has, err := r.artifacts.HasThumbnail(ctx, audioID)
	if err != nil {
		log.WithError(err).Warn("failed to check thumbnail, uploading anyway")
	} else if has {
		log.Debug("thumbnail already stored")
		return patch, nil
	}

	src, err := os.Open(dl.ThumbnailPath)
	if err != nil {
		return patch, fmt.Errorf("open thumbnail: %w", err)
	}
	defer src.Close()

	thumb, err := storage.NormalizeThumbnail(src, r.cfg.ThumbnailWidth, r.cfg.ThumbnailHeight)
	if err != nil {
		return patch, err
	}
	thumbID, err := r.artifacts.PutThumbnail(ctx, audioID, bytes.NewReader(thumb.Data), rec.ID+".jpg")
	if err != nil {
		return patch, fmt.Errorf("upload thumbnail: %w", err)
	}
	patch.ThumbnailContentID = records.Ptr(thumbID)
	log.WithFields(logrus.Fields{
		"content_id": thumbID,
		"width":      thumb.Width,
		"height":     thumb.Height,
		"format":     thumb.Format,
	}).Info("stored thumbnail")
	return patch, nil
}

// removeLocalFiles deletes the downloaded files from the workspace
func (r *WorkflowRunner) removeLocalFiles(ctx context.Context, dl *download.Result) error {
	if r.workspace == nil || r.artifacts == nil {
		return nil
	}
	var keys []string
	for _, p := range []string{dl.SourcePath, dl.AudioPath, dl.ThumbnailPath} {
		if p != "" {
			keys = append(keys, p)
		}
	}
	return r.workspace.Remove(ctx, keys...)
}
