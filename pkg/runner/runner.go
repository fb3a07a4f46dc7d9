// Package runner wires the video pipeline into a ready-to-serve unit:
// executor, record store, artifact store, stage collaborators and the
// HTTP routes. Both binaries and library users start from New.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/opebus/yt-university/internal/dbosruntime"
	"github.com/opebus/yt-university/internal/dedupe"
	"github.com/opebus/yt-university/internal/download"
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/handlers"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/metrics"
	"github.com/opebus/yt-university/internal/openai"
	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/internal/segment"
	"github.com/opebus/yt-university/internal/storage"
	"github.com/opebus/yt-university/internal/summarize"
	"github.com/opebus/yt-university/internal/transcribe"
	"github.com/opebus/yt-university/internal/workflows"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// Config holds the configuration for initializing the pipeline runner
type Config struct {
	DBOSDatabaseURL    string // DBOS PostgreSQL connection string; empty runs jobs in-process
	DatabaseURL        string // Video records database; defaults to the DBOS database
	AppName            string // Application name for DBOS
	QueueName          string // DBOS queue name
	Concurrency        int    // Concurrent jobs and stages per worker
	SegmentConcurrency int    // Concurrent segment transcriptions per worker
	ApplicationVersion string // Optional: Override binary hash for version matching

	ContentAPIURL string // simple-content server; empty uses an embedded service
	TenantID      string
	DataDir       string // Downloads and the embedded content store live here

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModelTranscribe string
	OpenAIModelSummary    string

	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string

	MinSegmentSeconds float64
	MinSilenceSeconds float64
	SilenceNoise      string

	DedupeTTL           time.Duration
	DedupeSweepInterval time.Duration
	JobTimeout          time.Duration
	PollWait            time.Duration

	ThumbnailWidth  int
	ThumbnailHeight int

	// EventRetention is how long finished job logs stay in memory
	EventRetention time.Duration
}

func (c *Config) withDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = c.DBOSDatabaseURL
	}
	if c.AppName == "" {
		c.AppName = "yt-university"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SegmentConcurrency <= 0 {
		c.SegmentConcurrency = 4
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DedupeSweepInterval <= 0 {
		c.DedupeSweepInterval = time.Minute
	}
	if c.EventRetention <= 0 {
		c.EventRetention = time.Hour
	}
}

// Runner owns every long-lived part of a pipeline process
type Runner struct {
	cfg       Config
	runtime   *dbosruntime.Runtime
	recordsDB *sql.DB
	workflows *workflows.WorkflowRunner
	artifacts storage.ArtifactStore
	metrics   *metrics.Metrics
	cleanup   func()
	stop      context.CancelFunc
	done      chan struct{}
	log       *logger.Logger
}

// New creates and starts a pipeline runner. With a DBOS database URL jobs
// are durable DBOS workflows shared by every worker on the queue and video
// records live in PostgreSQL; without one, jobs run as goroutines and
// records are kept in memory.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Runner, error) {
	cfg.withDefaults()
	if log == nil {
		log = logger.New()
	}
	r := &Runner{
		cfg:     cfg,
		metrics: metrics.New(prometheus.NewRegistry()),
		cleanup: func() {},
		done:    make(chan struct{}),
		log:     log.Component("runner"),
	}

	workspace, err := storage.NewWorkspace(filepath.Join(cfg.DataDir, "downloads"))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := r.openArtifacts(); err != nil {
		return nil, err
	}

	exec, store, opts, err := r.openExecution(ctx, log)
	if err != nil {
		r.close()
		return nil, err
	}
	opts = append(opts,
		workflows.WithLogger(log),
		workflows.WithMetrics(r.metrics),
		workflows.WithArtifacts(r.artifacts, workspace),
	)

	r.workflows = workflows.NewWorkflowRunner(exec, store, workflows.Config{
		DedupeTTL:       cfg.DedupeTTL,
		JobTimeout:      cfg.JobTimeout,
		PollWait:        cfg.PollWait,
		ThumbnailWidth:  cfg.ThumbnailWidth,
		ThumbnailHeight: cfg.ThumbnailHeight,
	}, opts...)

	llm := openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		TranscribeModel: cfg.OpenAIModelTranscribe,
		ChatModel:       cfg.OpenAIModelSummary,
	}, log)
	r.workflows.RegisterStages(workflows.Stages{
		Downloader: download.New(download.Options{
			YTDLPPath:  cfg.YTDLPPath,
			FFmpegPath: cfg.FFmpegPath,
			Dir:        workspace.Dir(),
		}, nil, log),
		Segmenter: segment.NewDetector(segment.Options{
			FFmpegPath:       cfg.FFmpegPath,
			FFprobePath:      cfg.FFprobePath,
			MinSegmentLength: cfg.MinSegmentSeconds,
			MinSilenceLength: cfg.MinSilenceSeconds,
			Noise:            cfg.SilenceNoise,
		}, nil, log),
		Transcriber: transcribe.NewWorker(cfg.FFmpegPath, nil, llm, log),
		Summarizer:  summarize.New(llm, log),
	})

	// Launch DBOS (must be after workflow registration)
	if r.runtime != nil {
		if err := r.runtime.Launch(); err != nil {
			r.close()
			return nil, fmt.Errorf("failed to launch DBOS: %w", err)
		}
	}

	bg, stop := context.WithCancel(context.Background())
	r.stop = stop
	go r.housekeeping(bg)

	r.log.WithFields(logrus.Fields{
		"durable":     r.runtime != nil,
		"concurrency": cfg.Concurrency,
		"segments":    cfg.SegmentConcurrency,
	}).Info("pipeline runner started")
	return r, nil
}

func (r *Runner) openArtifacts() error {
	tenant, err := uuid.Parse(r.cfg.TenantID)
	if err != nil {
		tenant = storage.SystemOwnerID
	}

	if r.cfg.ContentAPIURL != "" {
		r.log.WithField("url", r.cfg.ContentAPIURL).Info("using simple-content HTTP API")
		r.artifacts = storage.NewHTTPStore(r.cfg.ContentAPIURL, tenant)
		return nil
	}

	r.log.Info("using embedded simple-content service (development preset)")
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(filepath.Join(r.cfg.DataDir, "content")))
	if err != nil {
		return fmt.Errorf("failed to initialize simple-content service: %w", err)
	}
	r.artifacts = storage.NewContentStore(svc, tenant)
	r.cleanup = cleanup
	return nil
}

func (r *Runner) openExecution(ctx context.Context, log *logger.Logger) (execution.Executor, records.Store, []workflows.Option, error) {
	if r.cfg.DBOSDatabaseURL == "" {
		exec := execution.NewLocalExecutor(log,
			execution.WithPool(workflows.OpProcess, r.cfg.Concurrency),
			execution.WithPool(transcribe.OpTranscribeSegment, r.cfg.SegmentConcurrency),
			execution.WithRetention(r.cfg.EventRetention),
		)
		return exec, records.NewMemoryStore(), nil, nil
	}

	rt, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
		DatabaseURL:        r.cfg.DBOSDatabaseURL,
		AppName:            r.cfg.AppName,
		QueueName:          r.cfg.QueueName,
		Concurrency:        r.cfg.Concurrency,
		SegmentConcurrency: r.cfg.SegmentConcurrency,
		ApplicationVersion: r.cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}
	r.runtime = rt

	exec, err := dbosruntime.NewExecutor(rt, log)
	if err != nil {
		return nil, nil, nil, err
	}
	exec.Route(transcribe.OpTranscribeSegment, rt.Config().SegmentQueueName())

	db := rt.DB()
	if r.cfg.DatabaseURL != r.cfg.DBOSDatabaseURL {
		if db, err = sql.Open("postgres", r.cfg.DatabaseURL); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open records database: %w", err)
		}
		r.recordsDB = db
	}

	store, err := records.NewPostgresStore(db, log)
	if err != nil {
		return nil, nil, nil, err
	}
	tracker, err := dedupe.NewTracker(db, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return exec, store, []workflows.Option{workflows.WithSeenRecorder(tracker)}, nil
}

// housekeeping expires stale admissions and forgets old job logs
func (r *Runner) housekeeping(ctx context.Context) {
	defer close(r.done)
	go r.workflows.Admission().Run(ctx, r.cfg.DedupeSweepInterval)

	ticker := time.NewTicker(r.cfg.EventRetention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.workflows.Events().Prune(r.cfg.EventRetention); n > 0 {
				r.log.WithField("jobs", n).Debug("pruned job logs")
			}
		}
	}
}

// Submit admits a video and starts its job
func (r *Runner) Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResponse, error) {
	return r.workflows.Submit(ctx, req)
}

// Poll reports the status of a job
func (r *Runner) Poll(ctx context.Context, jobID string) (pipeline.StatusReport, error) {
	return r.workflows.Poll(ctx, jobID)
}

// Video returns the persisted record of a video
func (r *Runner) Video(ctx context.Context, videoID string) (*records.Record, error) {
	return r.workflows.Video(ctx, videoID)
}

// Handler returns the HTTP API of this runner
func (r *Runner) Handler() http.Handler {
	return handlers.NewRouter(handlers.Routes{
		Async:    handlers.NewAsyncHandler(r.workflows, r.log),
		Videos:   handlers.NewVideoHandler(r.workflows, r.artifacts, r.log),
		Playlist: handlers.NewPlaylistHandler(r.workflows, download.NewPlaylistExpander(), r.log),
		Metrics:  r.metrics.Handler(),
	})
}

// Durable reports whether jobs run as DBOS workflows
func (r *Runner) Durable() bool {
	return r.runtime != nil
}

// Shutdown stops background work and releases the runtime and stores
func (r *Runner) Shutdown(timeout time.Duration) error {
	if r.stop != nil {
		r.stop()
		<-r.done
	}
	var errs []error
	if r.runtime != nil {
		if err := r.runtime.Shutdown(timeout); err != nil {
			errs = append(errs, fmt.Errorf("shutdown DBOS: %w", err))
		}
	}
	r.close()
	return errors.Join(errs...)
}

func (r *Runner) close() {
	if r.recordsDB != nil {
		r.recordsDB.Close()
	}
	r.cleanup()
}
