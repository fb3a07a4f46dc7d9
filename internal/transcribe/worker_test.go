package transcribe

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/opebus/yt-university/internal/command"
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/openai"
	"github.com/opebus/yt-university/pkg/pipeline"
)

type fakeRunner struct {
	args []string
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	f.args = args
	if f.err != nil {
		return command.Result{}, f.err
	}
	out := args[len(args)-1]
	return command.Result{}, os.WriteFile(out, []byte("mp3"), 0o644)
}

func (f *fakeRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	return nil, nil, errors.New("not used")
}

type fakeTranscriber struct {
	got string
	out *openai.Transcription
	err error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, r io.Reader, filename string) (*openai.Transcription, error) {
	data, _ := io.ReadAll(r)
	f.got = string(data)
	return f.out, f.err
}

func TestWorkerTranscribeSegment(t *testing.T) {
	runner := &fakeRunner{}
	tr := &fakeTranscriber{out: &openai.Transcription{
		Language: "English",
		Segments: []openai.TranscriptionSegment{{Start: 0, End: 2, Text: "hi"}},
	}}
	w := NewWorker("ffmpeg", runner, tr, nil)

	ctx := execution.WithWorkerID(context.Background(), "worker-7")
	res, err := w.TranscribeSegment(ctx, SegmentRequest{Index: 3, Start: 120, End: 180, AudioPath: "/data/a.wav"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Index != 3 || res.WorkerID != "worker-7" || res.Language != "en" || len(res.Chunks) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if tr.got != "mp3" {
		t.Fatalf("transcriber received %q", tr.got)
	}
	if !strings.Contains(strings.Join(runner.args, " "), "atrim=start=120:end=180") {
		t.Fatalf("ffmpeg args = %v", runner.args)
	}
}

func TestWorkerExtractFailure(t *testing.T) {
	w := NewWorker("ffmpeg", &fakeRunner{err: errors.New("exit 1")}, &fakeTranscriber{}, nil)
	_, err := w.TranscribeSegment(context.Background(), SegmentRequest{Start: 0, End: 10, AudioPath: "x.wav"})
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != OpTranscribeSegment {
		t.Fatalf("err = %v", err)
	}
}

func TestWorkerRejectsEmptySegment(t *testing.T) {
	w := NewWorker("ffmpeg", &fakeRunner{}, &fakeTranscriber{}, nil)
	if _, err := w.TranscribeSegment(context.Background(), SegmentRequest{Start: 10, End: 10}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWorkerFallsBackToPlainText(t *testing.T) {
	tr := &fakeTranscriber{out: &openai.Transcription{Text: "whole segment"}}
	w := NewWorker("ffmpeg", &fakeRunner{}, tr, nil)
	res, err := w.TranscribeSegment(context.Background(), SegmentRequest{Start: 10, End: 40, AudioPath: "a.wav"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 1 || res.Chunks[0].End != 30 {
		t.Fatalf("chunks = %+v", res.Chunks)
	}
}
