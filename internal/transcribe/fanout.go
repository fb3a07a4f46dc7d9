// Package transcribe fans audio segments out to transcription workers and
// merges their results into one transcript on the global timeline.
package transcribe

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/metrics"
	"github.com/opebus/yt-university/internal/segment"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// OpTranscribeSegment is the operation name of one segment transcription
const OpTranscribeSegment = "transcribe_segment"

// DefaultLanguage is reported when no worker detected a language
const DefaultLanguage = "en"

// SegmentRequest asks a worker to transcribe [Start, End) of the audio
type SegmentRequest struct {
	Index     int     `json:"index"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	AudioPath string  `json:"audio_path"`
}

// SegmentResult is a worker's transcription of one segment. Chunk times
// are relative to the segment start.
type SegmentResult struct {
	Index    int              `json:"index"`
	Chunks   []pipeline.Chunk `json:"chunks"`
	Language string           `json:"language,omitempty"`
	WorkerID string           `json:"worker_id,omitempty"`
}

// ProgressFunc receives the number of dispatched segments, finished
// segments and distinct workers seen so far
type ProgressFunc func(total, done, tasks int)

// FanOut dispatches segments as tasks on an executor
type FanOut struct {
	exec    execution.Executor
	timeout time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewFanOut creates a fan-out bounded by timeout per segment
func NewFanOut(exec execution.Executor, timeout time.Duration, m *metrics.Metrics, log *logger.Logger) *FanOut {
	if log == nil {
		log = logger.Discard()
	}
	return &FanOut{exec: exec, timeout: timeout, metrics: m, log: log.Component("transcribe.fanout")}
}

// Run transcribes every segment of audioPath. Segments are dispatched as
// soon as they are produced. Any failed segment fails the whole run and
// no partial transcript is returned.
//
// Executors that replay their callers (see execution.AwaitsSerially) get
// every segment dispatched first and then awaited one by one in index
// order from the calling goroutine.
func (f *FanOut) Run(ctx context.Context, audioPath string, segments iter.Seq2[segment.Segment, error], progress ProgressFunc) (*pipeline.Transcript, error) {
	serial := execution.AwaitsSerially(f.exec)
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu      sync.Mutex
		spans   []segment.Segment
		queued  []*execution.Task[SegmentResult]
		results = make(map[int]SegmentResult)
		done    int
		workers = make(map[string]struct{})
	)
	report := func() {
		if progress != nil {
			progress(len(spans), done, len(workers))
		}
	}
	finish := func(seg segment.Segment, res SegmentResult, err error) error {
		f.metrics.SegmentFinished(err)
		if err != nil {
			return fmt.Errorf("segment %d [%.2f, %.2f): %w", seg.Index, seg.Start, seg.End, err)
		}

		mu.Lock()
		defer mu.Unlock()
		results[seg.Index] = res
		done++
		if res.WorkerID != "" {
			workers[res.WorkerID] = struct{}{}
		}
		report()
		return nil
	}

	var produceErr error
	for seg, err := range segments {
		if err != nil {
			produceErr = fmt.Errorf("segment audio: %w", err)
			break
		}
		if gctx.Err() != nil {
			break
		}

		task, err := execution.Spawn[SegmentResult](ctx, f.exec, OpTranscribeSegment, SegmentRequest{
			Index:     seg.Index,
			Start:     seg.Start,
			End:       seg.End,
			AudioPath: audioPath,
		})
		if err != nil {
			produceErr = fmt.Errorf("dispatch segment %d: %w", seg.Index, err)
			break
		}

		mu.Lock()
		spans = append(spans, seg)
		report()
		mu.Unlock()

		if serial {
			queued = append(queued, task)
			continue
		}
		g.Go(func() error {
			res, err := task.Await(gctx, f.timeout)
			return finish(seg, res, err)
		})
	}

	if serial {
		if produceErr != nil {
			cancelAll(queued)
			return nil, produceErr
		}
		for i, task := range queued {
			res, err := task.Await(ctx, f.timeout)
			if err = finish(spans[i], res, err); err != nil {
				cancelAll(queued[i+1:])
				return nil, err
			}
		}
	} else {
		waitErr := g.Wait()
		if produceErr != nil {
			return nil, produceErr
		}
		if waitErr != nil {
			return nil, waitErr
		}
	}

	f.log.WithField("audio", audioPath).WithField("segments", len(spans)).Info("transcribed all segments")
	return Merge(spans, results), nil
}

func cancelAll(tasks []*execution.Task[SegmentResult]) {
	for _, t := range tasks {
		t.Cancel()
	}
}

// Merge shifts every segment's chunks onto the global timeline and orders
// them by start time. Chunks without a usable end are closed at the end of
// their segment.
func Merge(spans []segment.Segment, results map[int]SegmentResult) *pipeline.Transcript {
	ordered := make([]segment.Segment, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	out := &pipeline.Transcript{Chunks: []pipeline.Chunk{}}
	for _, span := range ordered {
		res := results[span.Index]
		if out.Language == "" && res.Language != "" {
			out.Language = res.Language
		}
		for _, c := range res.Chunks {
			chunk := pipeline.Chunk{
				Text:  strings.TrimSpace(c.Text),
				Start: c.Start + span.Start,
				End:   c.End + span.Start,
			}
			if c.End <= c.Start {
				chunk.End = span.End
			}
			out.Chunks = append(out.Chunks, chunk)
		}
	}
	sort.SliceStable(out.Chunks, func(i, j int) bool { return out.Chunks[i].Start < out.Chunks[j].Start })

	texts := make([]string, 0, len(out.Chunks))
	for _, c := range out.Chunks {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	out.Text = strings.Join(texts, " ")
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	return out
}
