package workflows

import "errors"

var (
	// ErrRunnerNotReady is returned when the runner has no executor or record store
	ErrRunnerNotReady = errors.New("workflow runner not ready")

	// ErrInvalidRequest is returned when a stage receives an unusable input
	ErrInvalidRequest = errors.New("invalid workflow request")
)
