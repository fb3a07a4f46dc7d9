package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opebus/yt-university/internal/command"
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/openai"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// Transcriber turns an audio file into timed text
type Transcriber interface {
	Transcribe(ctx context.Context, r io.Reader, filename string) (*openai.Transcription, error)
}

// Worker transcribes one segment: ffmpeg cuts the sub-range, the
// transcriber does the speech recognition.
type Worker struct {
	ffmpegPath  string
	runner      command.Runner
	transcriber Transcriber
	mkdirTemp   func(dir, pattern string) (string, error)
	log         *logger.Logger
}

// NewWorker creates a segment worker. A nil runner executes real binaries.
func NewWorker(ffmpegPath string, runner command.Runner, transcriber Transcriber, log *logger.Logger) *Worker {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Worker{
		ffmpegPath:  ffmpegPath,
		runner:      runner,
		transcriber: transcriber,
		mkdirTemp:   os.MkdirTemp,
		log:         log.Component("transcribe.worker"),
	}
}

// TranscribeSegment transcribes [req.Start, req.End) of req.AudioPath.
// Returned chunk times are relative to req.Start.
func (w *Worker) TranscribeSegment(ctx context.Context, req SegmentRequest) (SegmentResult, error) {
	if req.End <= req.Start {
		return SegmentResult{}, &pipeline.StageError{
			Stage:   OpTranscribeSegment,
			Kind:    pipeline.KindUnknown,
			Message: fmt.Sprintf("empty segment [%g, %g)", req.Start, req.End),
		}
	}

	dir, err := w.mkdirTemp("", "segment-*")
	if err != nil {
		return SegmentResult{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, fmt.Sprintf("segment-%04d.mp3", req.Index))
	_, err = w.runner.Run(ctx, w.ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", req.AudioPath,
		"-af", fmt.Sprintf("atrim=start=%g:end=%g", req.Start, req.End),
		"-ac", "1", "-ar", "16000", "-b:a", "64k",
		out,
	)
	if err != nil {
		return SegmentResult{}, pipeline.NewStageError(OpTranscribeSegment, fmt.Errorf("extract segment %d: %w", req.Index, err))
	}

	f, err := os.Open(out)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("open segment audio: %w", err)
	}
	defer f.Close()

	tr, err := w.transcriber.Transcribe(ctx, f, filepath.Base(out))
	if err != nil {
		return SegmentResult{}, pipeline.NewStageError(OpTranscribeSegment, fmt.Errorf("transcribe segment %d: %w", req.Index, err))
	}

	res := SegmentResult{
		Index:    req.Index,
		Chunks:   make([]pipeline.Chunk, 0, len(tr.Segments)),
		Language: languageCode(tr.Language),
		WorkerID: execution.WorkerID(ctx),
	}
	for _, s := range tr.Segments {
		res.Chunks = append(res.Chunks, pipeline.Chunk{Text: s.Text, Start: s.Start, End: s.End})
	}
	if len(res.Chunks) == 0 && tr.Text != "" {
		res.Chunks = append(res.Chunks, pipeline.Chunk{Text: tr.Text, Start: 0, End: req.End - req.Start})
	}

	w.log.WithFields(map[string]any{
		"segment": req.Index,
		"start":   req.Start,
		"end":     req.End,
		"chunks":  len(res.Chunks),
		"worker":  res.WorkerID,
	}).Info("transcribed segment")
	return res, nil
}

// languageCode maps the language names returned by the transcription API
// to ISO 639-1 codes where known.
func languageCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	codes := map[string]string{
		"english":    "en",
		"french":     "fr",
		"german":     "de",
		"spanish":    "es",
		"italian":    "it",
		"portuguese": "pt",
		"japanese":   "ja",
		"chinese":    "zh",
		"korean":     "ko",
		"russian":    "ru",
	}
	if code, ok := codes[lang]; ok {
		return code
	}
	return lang
}
