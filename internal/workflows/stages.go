package workflows

import (
	"context"
	"fmt"
	"iter"

	"github.com/opebus/yt-university/internal/download"
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/segment"
	"github.com/opebus/yt-university/internal/transcribe"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// DownloadInput is the input of the download stage
type DownloadInput struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
}

// TranscribeInput is the input of the transcribe stage
type TranscribeInput struct {
	JobID     string `json:"job_id"`
	AudioPath string `json:"audio_path"`
}

// SummarizeInput is the input of the summarize stage
type SummarizeInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// CategorizeInput is the input of the categorize stage
type CategorizeInput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Downloader fetches a video's audio, thumbnail and metadata
type Downloader interface {
	Download(ctx context.Context, url string) (*download.Result, error)
}

// Segmenter splits an audio file into segments at silences
type Segmenter interface {
	Segments(ctx context.Context, path string) iter.Seq2[segment.Segment, error]
}

// SegmentTranscriber transcribes one segment of an audio file
type SegmentTranscriber interface {
	TranscribeSegment(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error)
}

// Summarizer condenses transcripts and labels them
type Summarizer interface {
	Summarize(ctx context.Context, title, text string) (string, error)
	Categorize(ctx context.Context, title, summary string) (string, error)
}

// Stages are the collaborators behind each pipeline stage. A process only
// needs the stages it executes: a worker that never runs segment tasks can
// leave Transcriber nil.
type Stages struct {
	Downloader  Downloader
	Segmenter   Segmenter
	Transcriber SegmentTranscriber
	Summarizer  Summarizer
}

// RegisterStages registers a handler for every configured stage on the
// runner's executor.
func (r *WorkflowRunner) RegisterStages(s Stages) {
	if s.Downloader != nil {
		execution.Register(r.exec, pipeline.StageDownload, func(ctx context.Context, in DownloadInput) (*download.Result, error) {
			if in.URL == "" {
				return nil, pipeline.NewStageError(pipeline.StageDownload, fmt.Errorf("%w: missing url", ErrInvalidRequest))
			}
			return s.Downloader.Download(ctx, in.URL)
		})
	}

	if s.Segmenter != nil {
		fan := transcribe.NewFanOut(r.exec, r.cfg.JobTimeout, r.metrics, r.log)
		execution.Register(r.exec, pipeline.StageTranscribe, func(ctx context.Context, in TranscribeInput) (*pipeline.Transcript, error) {
			if in.AudioPath == "" {
				return nil, pipeline.NewStageError(pipeline.StageTranscribe, fmt.Errorf("%w: missing audio path", ErrInvalidRequest))
			}
			progress := func(total, done, tasks int) {
				if _, err := r.events.Progress(in.JobID, total, done, tasks); err != nil {
					r.log.WithJob(in.JobID, "").WithError(err).Debug("progress not recorded")
				}
			}
			tr, err := fan.Run(ctx, in.AudioPath, s.Segmenter.Segments(ctx, in.AudioPath), progress)
			if err != nil {
				return nil, pipeline.NewStageError(pipeline.StageTranscribe, err)
			}
			return tr, nil
		})
	}

	if s.Transcriber != nil {
		execution.Register(r.exec, transcribe.OpTranscribeSegment, s.Transcriber.TranscribeSegment)
	}

	if s.Summarizer != nil {
		execution.Register(r.exec, pipeline.StageSummarize, func(ctx context.Context, in SummarizeInput) (string, error) {
			return s.Summarizer.Summarize(ctx, in.Title, in.Text)
		})
		execution.Register(r.exec, pipeline.StageCategorize, func(ctx context.Context, in CategorizeInput) (string, error) {
			return s.Summarizer.Categorize(ctx, in.Title, in.Summary)
		})
	}
}
