// Package command runs external media tools (ffmpeg, ffprobe, yt-dlp).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result captures one external command invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Error is a failed command invocation with its captured output
type Error struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s exited with %d: %s", e.Command, e.ExitCode, lastLine(e.Stderr))
}

func (e *Error) Unwrap() error { return e.Err }

// Runner abstracts process execution for testability.
type Runner interface {
	// Run executes a command to completion, capturing stdout and stderr.
	Run(ctx context.Context, name string, args ...string) (Result, error)

	// Stream starts a command and returns its stderr as a stream. wait must
	// be called after the stream is drained.
	Stream(ctx context.Context, name string, args ...string) (stderr io.ReadCloser, wait func() error, err error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, &Error{Command: name, Args: args, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}

	return result, nil
}

// Stream starts the command with stderr piped back to the caller.
func (ExecRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, &Error{Command: name, Args: args, ExitCode: -1, Err: err}
	}

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			return &Error{Command: name, Args: args, ExitCode: code, Err: err}
		}
		return nil
	}
	return stderr, wait, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
