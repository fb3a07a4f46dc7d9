package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidInput is returned for URLs that are not recognisable video links
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a video was already transcribed and force is unset
	ErrConflict = errors.New("video already processed")

	// ErrNotFound is returned for unknown job or record ids
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the video source refuses access
	ErrPermissionDenied = errors.New("upstream permission denied")

	// ErrUpstreamUnknown covers every other stage failure
	ErrUpstreamUnknown = errors.New("upstream unknown error")
)

// ErrorKind is the wire name of a failure class
type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "InvalidInput"
	KindConflict         ErrorKind = "Conflict"
	KindNotFound         ErrorKind = "NotFound"
	KindPermissionDenied ErrorKind = "UpstreamPermissionDenied"
	KindUnknown          ErrorKind = "UpstreamUnknownError"
)

// StageError is a failure raised by one pipeline stage. It survives
// serialisation through its Error text, see ParseStageError.
type StageError struct {
	Stage   string    `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// NewStageError wraps err for stage, classifying it by the sentinel it matches.
func NewStageError(stage string, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se.Stage = stage
		}
		return se
	}
	return &StageError{
		Stage:   stage,
		Kind:    KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is maps the error kind onto the package sentinels.
func (e *StageError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrPermissionDenied:
		return e.Kind == KindPermissionDenied
	case ErrUpstreamUnknown:
		return e.Kind == KindUnknown
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

var stageErrorPattern = regexp.MustCompile(`\[(InvalidInput|Conflict|NotFound|UpstreamPermissionDenied|UpstreamUnknownError)\] ([a-z_]*): (.*)`)

// ParseStageError recovers a StageError from text produced by Error, possibly
// wrapped in other messages. It returns false when msg carries none.
func ParseStageError(msg string) (*StageError, bool) {
	m := stageErrorPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil, false
	}
	return &StageError{Kind: ErrorKind(m[1]), Stage: m[2], Message: m[3]}, true
}

// KindOf classifies err into an ErrorKind. Unrecognised errors are KindUnknown;
// access refusals are only recognised where the video source is called.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	if se, ok := ParseStageError(err.Error()); ok {
		return se.Kind
	}
	return KindUnknown
}

// permissionMarkers are substrings video sources print when they refuse access.
var permissionMarkers = []string{
	"permission denied",
	"sign in to confirm",
	"private video",
	"members-only",
	"http error 403",
	"video unavailable. this video is not available in your country",
	string(KindPermissionDenied),
}

// IsPermissionDeniedMessage reports whether msg contains an access-refusal marker.
func IsPermissionDeniedMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
