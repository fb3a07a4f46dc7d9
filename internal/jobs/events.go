package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opebus/yt-university/pkg/pipeline"
)

var (
	// ErrJobExists is returned when starting a job id twice
	ErrJobExists = errors.New("job already started")

	// ErrUnknownJob is returned for job ids with no log
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidTransition is returned for state machine violations
	ErrInvalidTransition = errors.New("invalid transition")
)

// Event is one entry of a job's append-only log
type Event struct {
	Seq           int64              `json:"seq"`
	Timestamp     time.Time          `json:"timestamp"`
	JobID         string             `json:"job_id"`
	State         State              `json:"state"`
	Stage         string             `json:"stage,omitempty"`
	TotalSegments int                `json:"total_segments,omitempty"`
	DoneSegments  int                `json:"done_segments,omitempty"`
	Tasks         int                `json:"tasks,omitempty"`
	ErrorKind     pipeline.ErrorKind `json:"error_kind,omitempty"`
	Message       string             `json:"message,omitempty"`
}

// Report renders the event as a poll result
func (e Event) Report() pipeline.StatusReport {
	switch e.State {
	case StateInit:
		return pipeline.StatusReport{Stage: pipeline.StageInit, Status: pipeline.StatusInProgress}
	case StateDone:
		return pipeline.StatusReport{Stage: pipeline.StageEnd, Status: pipeline.StatusDone}
	case StateFailed:
		kind := e.ErrorKind
		if kind == "" {
			kind = pipeline.KindUnknown
		}
		return pipeline.StatusReport{Stage: e.Stage, Error: string(kind), Message: e.Message}
	}

	r := pipeline.StatusReport{Stage: e.State.Stage(), Status: pipeline.StatusRunning}
	switch e.State {
	case StateSegmenting, StateTranscribing, StatePersistTranscript:
		total, done, tasks := e.TotalSegments, e.DoneSegments, e.Tasks
		r.TotalSegments, r.DoneSegments, r.Tasks = &total, &done, &tasks
		if e.State == StatePersistTranscript {
			r.Status = pipeline.StatusSuccess
		}
	}
	return r
}

type jobLog struct {
	events  []Event
	updated time.Time
}

func (j *jobLog) latest() Event {
	return j.events[len(j.events)-1]
}

// Log keeps a bounded append-only event history per job and enforces the
// job state machine on every append.
type Log struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	jobs      map[string]*jobLog
	now       func() time.Time
}

// NewLog creates a log keeping at most maxEvents per job
func NewLog(maxEvents int) *Log {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Log{
		maxEvents: maxEvents,
		jobs:      make(map[string]*jobLog),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start opens the log of a job in the INIT state
func (l *Log) Start(jobID string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.jobs[jobID]; ok {
		return Event{}, fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}
	j := &jobLog{}
	l.jobs[jobID] = j
	return l.appendLocked(j, Event{JobID: jobID, State: StateInit, Stage: pipeline.StageInit}), nil
}

// Transition moves a job to state to. Moving to the current state is a no-op.
func (l *Log) Transition(jobID string, to State) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	j, ok := l.jobs[jobID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	cur := j.latest()
	if cur.State == to {
		return cur, nil
	}
	if to == StateFailed || !isValidTransition(cur.State, to) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.State, to)
	}

	next := Event{JobID: jobID, State: to, Stage: to.Stage()}
	if to == StatePersistTranscript {
		next.TotalSegments, next.DoneSegments, next.Tasks = cur.TotalSegments, cur.DoneSegments, cur.Tasks
	}
	return l.appendLocked(j, next), nil
}

// Progress records transcription progress. The first report moves the job
// from SEGMENTING to TRANSCRIBING.
func (l *Log) Progress(jobID string, total, done, tasks int) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	j, ok := l.jobs[jobID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	cur := j.latest()
	if cur.State != StateSegmenting && cur.State != StateTranscribing {
		return Event{}, fmt.Errorf("%w: progress in %s", ErrInvalidTransition, cur.State)
	}
	return l.appendLocked(j, Event{
		JobID:         jobID,
		State:         StateTranscribing,
		Stage:         pipeline.StageTranscribe,
		TotalSegments: total,
		DoneSegments:  done,
		Tasks:         tasks,
	}), nil
}

// Fail moves a job to FAILED from any non-terminal state
func (l *Log) Fail(jobID, stage string, kind pipeline.ErrorKind, message string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	j, ok := l.jobs[jobID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	cur := j.latest()
	if !isValidTransition(cur.State, StateFailed) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.State, StateFailed)
	}
	if stage == "" {
		stage = cur.State.Stage()
	}
	return l.appendLocked(j, Event{
		JobID:     jobID,
		State:     StateFailed,
		Stage:     stage,
		ErrorKind: kind,
		Message:   message,
	}), nil
}

func (l *Log) appendLocked(j *jobLog, event Event) Event {
	l.nextSeq++
	event.Seq = l.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	j.events = append(j.events, event)
	if len(j.events) > l.maxEvents {
		trim := len(j.events) - l.maxEvents
		j.events = append([]Event(nil), j.events[trim:]...)
	}
	j.updated = event.Timestamp
	return event
}

// Latest returns the most recent event of a job
func (l *Log) Latest(jobID string) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	j, ok := l.jobs[jobID]
	if !ok {
		return Event{}, false
	}
	return j.latest(), true
}

// Since returns the job's events with sequence strictly greater than seq.
func (l *Log) Since(jobID string, seq int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	j, ok := l.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([]Event, 0, len(j.events))
	for _, event := range j.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Prune drops logs of finished jobs untouched for longer than age
func (l *Log) Prune(age time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-age)
	removed := 0
	for id, j := range l.jobs {
		if j.latest().State.Terminal() && j.updated.Before(cutoff) {
			delete(l.jobs, id)
			removed++
		}
	}
	return removed
}
