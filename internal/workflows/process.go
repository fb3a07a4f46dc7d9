package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opebus/yt-university/internal/download"
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/jobs"
	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// ProcessInput is the input of the orchestrator task
type ProcessInput struct {
	JobID   string `json:"job_id"`
	VideoID string `json:"video_id"`
	URL     string `json:"url"`
	UserID  string `json:"user_id,omitempty"`
}

// ProcessResult is the output of a finished job
type ProcessResult struct {
	VideoID  string `json:"video_id"`
	Segments int    `json:"segments"`
	Category string `json:"category"`
}

// process runs one job through download, transcribe, summarize and
// categorize, persisting each stage's output before starting the next.
// The first failing stage ends the job; nothing is retried.
func (r *WorkflowRunner) process(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	if in.JobID == "" || in.VideoID == "" || in.URL == "" {
		return ProcessResult{}, fmt.Errorf("%w: process needs job id, video id and url", ErrInvalidRequest)
	}
	if _, ok := r.events.Latest(in.JobID); !ok {
		r.events.Start(in.JobID)
	}
	log := r.log.WithJob(in.JobID, in.VideoID)
	started := time.Now()
	log.Info("job started")

	res, err := r.runStages(ctx, in, log)
	// released before the terminal event is recorded
	r.admission.Release(in.URL, in.JobID)
	if err != nil {
		var se *pipeline.StageError
		if !errors.As(err, &se) {
			se = stageFailure(pipeline.StageInit, err)
		}
		if _, ferr := r.events.Fail(in.JobID, se.Stage, se.Kind, se.Message); ferr != nil {
			log.WithError(ferr).Debug("failure not recorded")
		}
		r.metrics.JobFinished("failure")
		log.WithError(err).WithFields(logrus.Fields{
			"stage": se.Stage,
			"kind":  se.Kind,
		}).Error("job failed")
		return ProcessResult{}, err
	}

	r.transition(in.JobID, jobs.StateDone)
	r.metrics.JobFinished("success")
	log.WithFields(logrus.Fields{
		"category": res.Category,
		"segments": res.Segments,
		"elapsed":  time.Since(started).String(),
	}).Info("job finished")
	return res, nil
}

// runStages drives the state machine. Every returned error is a
// *pipeline.StageError naming the public stage that failed.
func (r *WorkflowRunner) runStages(ctx context.Context, in ProcessInput, log *logrus.Entry) (ProcessResult, error) {
	res := ProcessResult{VideoID: in.VideoID}

	r.transition(in.JobID, jobs.StateDownloading)
	dl, err := awaitStage[*download.Result](ctx, r, pipeline.StageDownload, DownloadInput{JobID: in.JobID, URL: in.URL})
	if err == nil && dl == nil {
		err = fmt.Errorf("%w: download returned no result", ErrInvalidRequest)
	}
	if err != nil {
		return res, stageFailure(pipeline.StageDownload, err)
	}
	if dl.Metadata.ID != "" && dl.Metadata.ID != in.VideoID {
		log.WithField("downloaded_id", dl.Metadata.ID).Warn("downloaded video id differs from submitted id")
	}

	rec, err := r.records.Upsert(ctx, in.VideoID, records.MetadataPatch(in.URL, in.UserID, dl.Metadata))
	if err != nil {
		return res, stageFailure(pipeline.StageDownload, fmt.Errorf("persist metadata: %w", err))
	}
	artifacts, err := r.storeArtifacts(ctx, rec, dl, log)
	if err != nil {
		log.WithError(err).Warn("failed to store artifacts")
	}
	if artifacts.AudioContentID != nil || artifacts.ThumbnailContentID != nil {
		if _, err := r.records.Upsert(ctx, in.VideoID, artifacts); err != nil {
			log.WithError(err).Warn("failed to persist artifact ids")
		}
	}

	r.transition(in.JobID, jobs.StateSegmenting)
	tr, err := awaitStage[*pipeline.Transcript](ctx, r, pipeline.StageTranscribe, TranscribeInput{JobID: in.JobID, AudioPath: dl.AudioPath})
	if err != nil {
		return res, stageFailure(pipeline.StageTranscribe, err)
	}
	if tr == nil {
		tr = &pipeline.Transcript{Chunks: []pipeline.Chunk{}}
	}

	// a video without any segment never reports progress
	r.transition(in.JobID, jobs.StateTranscribing)
	r.transition(in.JobID, jobs.StatePersistTranscript)
	patch := records.Patch{Transcription: tr}
	if tr.Language != "" {
		patch.Language = records.Ptr(tr.Language)
	}
	if _, err := r.records.Upsert(ctx, in.VideoID, patch); err != nil {
		return res, stageFailure(pipeline.StageTranscribe, fmt.Errorf("persist transcript: %w", err))
	}
	if err := r.removeLocalFiles(ctx, dl); err != nil {
		log.WithError(err).Warn("failed to remove local files")
	}
	if ev, ok := r.events.Latest(in.JobID); ok {
		res.Segments = ev.TotalSegments
	}

	r.transition(in.JobID, jobs.StateSummarizing)
	summary, err := awaitStage[string](ctx, r, pipeline.StageSummarize, SummarizeInput{Title: dl.Metadata.Title, Text: tr.Text})
	if err != nil {
		return res, stageFailure(pipeline.StageSummarize, err)
	}
	if _, err := r.records.Upsert(ctx, in.VideoID, records.Patch{Summary: records.Ptr(summary)}); err != nil {
		return res, stageFailure(pipeline.StageSummarize, fmt.Errorf("persist summary: %w", err))
	}

	r.transition(in.JobID, jobs.StateCategorizing)
	category, err := awaitStage[string](ctx, r, pipeline.StageCategorize, CategorizeInput{Title: dl.Metadata.Title, Summary: summary})
	if err != nil {
		return res, stageFailure(pipeline.StageCategorize, err)
	}
	if _, err := r.records.Upsert(ctx, in.VideoID, records.Patch{Category: records.Ptr(category)}); err != nil {
		return res, stageFailure(pipeline.StageCategorize, fmt.Errorf("persist category: %w", err))
	}
	res.Category = category
	return res, nil
}

// awaitStage spawns op as a child of the running job and waits for it up
// to the job timeout. A stage still running at the deadline is cancelled.
func awaitStage[T any](ctx context.Context, r *WorkflowRunner, op string, input any) (T, error) {
	var zero T
	started := time.Now()

	task, err := execution.Spawn[T](ctx, r.exec, op, input)
	if err != nil {
		r.metrics.ObserveStage(op, started, err)
		return zero, fmt.Errorf("spawn %s: %w", op, err)
	}

	out, err := task.Await(ctx, r.cfg.JobTimeout)
	if errors.Is(err, execution.ErrStillPending) {
		task.Cancel()
		err = fmt.Errorf("%s did not finish within %s", op, r.cfg.JobTimeout)
	}
	r.metrics.ObserveStage(op, started, err)
	if err != nil {
		return zero, err
	}
	return out, nil
}

// stageFailure attributes err to stage, keeping the kind and message of a
// stage error raised further down, even one that only survived as text.
// Refusals outside the download stage are reported as unknown errors.
func stageFailure(stage string, err error) *pipeline.StageError {
	kind, msg := pipeline.KindOf(err), err.Error()

	var se *pipeline.StageError
	if errors.As(err, &se) {
		kind, msg = se.Kind, se.Message
	} else if parsed, ok := pipeline.ParseStageError(msg); ok {
		kind, msg = parsed.Kind, parsed.Message
	}
	// only the video source can refuse access
	if kind == pipeline.KindPermissionDenied && stage != pipeline.StageDownload {
		kind = pipeline.KindUnknown
	}
	return &pipeline.StageError{Stage: stage, Kind: kind, Message: msg, Err: err}
}

func (r *WorkflowRunner) transition(jobID string, to jobs.State) {
	if _, err := r.events.Transition(jobID, to); err != nil {
		r.log.WithJob(jobID, "").WithError(err).Debug("transition not recorded")
	}
}
