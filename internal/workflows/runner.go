package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opebus/yt-university/internal/canonical"
	"github.com/opebus/yt-university/internal/dedupe"
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/jobs"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/metrics"
	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/internal/status"
	"github.com/opebus/yt-university/internal/storage"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// OpProcess is the operation name of the per-video orchestrator
const OpProcess = "process"

// Config bounds the runner's waits and admission window
type Config struct {
	// DedupeTTL is how long a submitted job absorbs resubmissions of the same video
	DedupeTTL time.Duration

	// JobTimeout bounds each stage await inside the orchestrator
	JobTimeout time.Duration

	// PollWait bounds the check Poll makes on the job before reporting
	PollWait time.Duration

	ThumbnailWidth  int
	ThumbnailHeight int
}

// WithDefaults fills unset fields
func (c *Config) WithDefaults() {
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.PollWait <= 0 {
		c.PollWait = 100 * time.Millisecond
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = storage.DefaultThumbnailWidth
	}
	if c.ThumbnailHeight <= 0 {
		c.ThumbnailHeight = storage.DefaultThumbnailHeight
	}
}

// SeenRecorder counts submissions per video across processes
type SeenRecorder interface {
	Record(ctx context.Context, videoID, userID, jobID string) (int, error)
	GetSeenCount(ctx context.Context, videoID string) (int, error)
}

// Option configures a WorkflowRunner
type Option func(*WorkflowRunner)

// WithLogger sets the runner's logger
func WithLogger(log *logger.Logger) Option {
	return func(r *WorkflowRunner) { r.log = log }
}

// WithMetrics records submissions, stage durations and job outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *WorkflowRunner) { r.metrics = m }
}

// WithSeenRecorder records every admitted submission in a persistent ledger
func WithSeenRecorder(s SeenRecorder) Option {
	return func(r *WorkflowRunner) { r.seen = s }
}

// WithArtifacts uploads downloaded audio and thumbnails to store and
// removes the local copies from ws once the transcript is persisted
func WithArtifacts(store storage.ArtifactStore, ws *storage.Workspace) Option {
	return func(r *WorkflowRunner) {
		r.artifacts = store
		r.workspace = ws
	}
}

// WorkflowRunner admits video submissions, runs the orchestrator for each
// admitted job on an executor, and answers status polls.
type WorkflowRunner struct {
	exec      execution.Executor
	records   records.Store
	admission *dedupe.Controller
	events    *jobs.Log
	seen      SeenRecorder
	artifacts storage.ArtifactStore
	workspace *storage.Workspace
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	log       *logger.Logger
}

// NewWorkflowRunner creates a runner and registers the orchestrator on exec
func NewWorkflowRunner(exec execution.Executor, store records.Store, cfg Config, opts ...Option) *WorkflowRunner {
	cfg.WithDefaults()
	r := &WorkflowRunner{
		exec:    exec,
		records: store,
		events:  jobs.NewLog(0),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Discard()
	}
	r.log = r.log.Component("workflows")

	r.admission = dedupe.NewController(cfg.DedupeTTL, r.log)
	r.admission.OnSizeChange = r.metrics.SetInflight

	if exec != nil {
		execution.Register(exec, OpProcess, r.process)
	}
	return r
}

// Admission exposes the admission controller so callers can run its sweeper
func (r *WorkflowRunner) Admission() *dedupe.Controller {
	return r.admission
}

// Events exposes the per-job event log
func (r *WorkflowRunner) Events() *jobs.Log {
	return r.events
}

// Records returns the video record store
func (r *WorkflowRunner) Records() records.Store {
	return r.records
}

// Submit admits a video for processing and starts its job. Resubmitting a
// video while its job is in flight returns the same job id; a video whose
// transcription is already persisted is a conflict unless req.Force is set.
func (r *WorkflowRunner) Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResponse, error) {
	if r.exec == nil || r.records == nil {
		return nil, ErrRunnerNotReady
	}

	video, err := canonical.Parse(req.URL)
	if err != nil {
		r.metrics.Submitted("invalid")
		return nil, err
	}

	if !req.Force {
		rec, err := r.records.Get(ctx, video.ID)
		switch {
		case err == nil && rec.Transcription != nil:
			r.metrics.Submitted("conflict")
			return nil, fmt.Errorf("%w: %s", pipeline.ErrConflict, video.ID)
		case err != nil && !errors.Is(err, records.ErrRecordNotFound):
			return nil, fmt.Errorf("load record %s: %w", video.ID, err)
		}
	}

	jobID := fmt.Sprintf("%s-%s-%d", OpProcess, video.ID, r.now().UnixNano())
	adm := r.admission.Admit(video.URL, jobID, req.Force)
	log := r.log.WithJob(adm.JobID, video.ID)

	resp := &pipeline.SubmitResponse{JobID: adm.JobID, VideoID: video.ID, URL: video.URL}
	if !adm.Admitted {
		r.metrics.Submitted("existing")
		log.Info("job already in flight")
		resp.Existing = true
		if r.seen != nil {
			if resp.DedupeSeenCount, err = r.seen.GetSeenCount(ctx, video.ID); err != nil {
				log.WithError(err).Debug("seen count unavailable")
			}
		}
		return resp, nil
	}

	if _, err := r.events.Start(jobID); err != nil {
		log.WithError(err).Debug("job log already open")
	}
	_, err = execution.Spawn[ProcessResult](ctx, r.exec, OpProcess, ProcessInput{
		JobID:   jobID,
		VideoID: video.ID,
		URL:     video.URL,
		UserID:  req.UserID,
	}, execution.WithID(jobID))
	if err != nil {
		r.admission.Release(video.URL, jobID)
		r.events.Fail(jobID, pipeline.StageInit, pipeline.KindOf(err), err.Error())
		return nil, fmt.Errorf("start job: %w", err)
	}

	if r.seen != nil {
		n, err := r.seen.Record(ctx, video.ID, req.UserID, jobID)
		if err != nil {
			log.WithError(err).Warn("failed to record submission")
		}
		resp.DedupeSeenCount = n
	}

	r.metrics.Submitted("admitted")
	log.WithField("force", req.Force).Info("job admitted")
	return resp, nil
}

// Poll reports the progress of a job. It waits at most PollWait for the job
// to resolve, then reads the job's event log. A job whose log never moved
// past INIT here is running on another worker (or started before a
// restart) and is reported from the executor's progress tree.
func (r *WorkflowRunner) Poll(ctx context.Context, jobID string) (pipeline.StatusReport, error) {
	if r.exec == nil {
		return pipeline.StatusReport{}, ErrRunnerNotReady
	}

	h, err := r.exec.Lookup(ctx, jobID)
	if err != nil && !errors.Is(err, execution.ErrHandleNotFound) {
		return pipeline.StatusReport{}, fmt.Errorf("lookup job %s: %w", jobID, err)
	}
	if h != nil {
		_, err := h.Await(ctx, r.cfg.PollWait)
		if ctx.Err() != nil {
			return pipeline.StatusReport{}, ctx.Err()
		}
		if err != nil && !errors.Is(err, execution.ErrStillPending) {
			r.log.WithJob(jobID, "").WithError(err).Debug("polled failed job")
		}
	}

	ev, logged := r.events.Latest(jobID)
	if logged && ev.State != jobs.StateInit {
		return ev.Report(), nil
	}
	if h == nil {
		if logged {
			return ev.Report(), nil
		}
		return pipeline.StatusReport{}, fmt.Errorf("%w: job %s", pipeline.ErrNotFound, jobID)
	}

	root, err := h.Progress(ctx)
	if err != nil {
		r.log.WithJob(jobID, "").WithError(err).Warn("failed to read progress tree")
		if logged {
			return ev.Report(), nil
		}
		return pipeline.StatusReport{Stage: pipeline.StageInit, Status: pipeline.StatusInProgress}, nil
	}
	return status.Reconstruct(root), nil
}

// Video returns the persisted record of a video
func (r *WorkflowRunner) Video(ctx context.Context, videoID string) (*records.Record, error) {
	if r.records == nil {
		return nil, ErrRunnerNotReady
	}
	return r.records.Get(ctx, videoID)
}
