package jobs

import "github.com/opebus/yt-university/pkg/pipeline"

// State is a step of the per-job pipeline state machine
type State string

const (
	StateInit              State = "INIT"
	StateDownloading       State = "DOWNLOADING"
	StateSegmenting        State = "SEGMENTING"
	StateTranscribing      State = "TRANSCRIBING"
	StatePersistTranscript State = "PERSIST_TRANSCRIPT"
	StateSummarizing       State = "SUMMARIZING"
	StateCategorizing      State = "CATEGORIZING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Stage returns the public stage name reported while in s
func (s State) Stage() string {
	switch s {
	case StateInit:
		return pipeline.StageInit
	case StateDownloading:
		return pipeline.StageDownload
	case StateSegmenting, StateTranscribing, StatePersistTranscript:
		return pipeline.StageTranscribe
	case StateSummarizing:
		return pipeline.StageSummarize
	case StateCategorizing:
		return pipeline.StageCategorize
	case StateDone:
		return pipeline.StageEnd
	}
	return ""
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateInit:
		return to == StateDownloading
	case StateDownloading:
		return to == StateSegmenting
	case StateSegmenting:
		return to == StateTranscribing
	case StateTranscribing:
		return to == StatePersistTranscript
	case StatePersistTranscript:
		return to == StateSummarizing
	case StateSummarizing:
		return to == StateCategorizing
	case StateCategorizing:
		return to == StateDone
	default:
		return false
	}
}
