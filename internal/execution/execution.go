// Package execution spawns pipeline stages as tasks, awaits their results
// and exposes a progress tree for every task.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStillPending is returned by Await when the task did not resolve in time
	ErrStillPending = errors.New("task still pending")

	// ErrUnknownOperation is returned when spawning an op with no handler
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrHandleNotFound is returned by Lookup for unknown task ids
	ErrHandleNotFound = errors.New("task not found")
)

// Status of a task in the progress tree
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Done reports whether the status is terminal
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ProgressNode is one task in a progress tree. Children are ordered by
// spawn time.
type ProgressNode struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   Status          `json:"status"`
	WorkerID string          `json:"worker_id,omitempty"`
	Error    string          `json:"error,omitempty"`
	Children []*ProgressNode `json:"children,omitempty"`
}

// Leaves returns the descendants of n that have no children. A node
// without children has no leaves.
func (n *ProgressNode) Leaves() []*ProgressNode {
	if n == nil {
		return nil
	}
	var out []*ProgressNode
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		if len(c.Children) == 0 {
			out = append(out, c)
			continue
		}
		out = append(out, c.Leaves()...)
	}
	return out
}

// Clone returns a deep copy of the subtree rooted at n
func (n *ProgressNode) Clone() *ProgressNode {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Children = make([]*ProgressNode, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = c.Clone()
	}
	return &cp
}

// Handler runs one operation. Input and output are JSON so handlers work
// the same in-process and across durable executors.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Executor runs registered operations as tasks
type Executor interface {
	Register(op string, h Handler)

	// Spawn starts op with input. Tasks spawned from inside a running
	// handler become children of that handler's task.
	Spawn(ctx context.Context, op string, input any, opts ...SpawnOption) (Handle, error)

	// Lookup returns the handle of a previously spawned task
	Lookup(ctx context.Context, id string) (Handle, error)
}

// Handle refers to one spawned task
type Handle interface {
	ID() string

	// Await blocks until the task resolves, timeout elapses or ctx is done.
	// A non-positive timeout waits for ctx only. On timeout it returns
	// ErrStillPending.
	Await(ctx context.Context, timeout time.Duration) (json.RawMessage, error)

	// Progress returns a snapshot of the task's progress tree
	Progress(ctx context.Context) (*ProgressNode, error)
}

// Canceler is implemented by handles whose task can be cancelled
type Canceler interface {
	Cancel()
}

// SerialAwaiter is implemented by executors that replay a handler from its
// recorded steps. Their handles must be awaited one at a time from the
// goroutine that spawned them, in a deterministic order.
type SerialAwaiter interface {
	SerialAwait() bool
}

// AwaitsSerially reports whether ex requires serial awaits
func AwaitsSerially(ex Executor) bool {
	s, ok := ex.(SerialAwaiter)
	return ok && s.SerialAwait()
}

// SpawnOptions are the resolved options of a Spawn call
type SpawnOptions struct {
	ID string
}

// SpawnOption configures Spawn
type SpawnOption func(*SpawnOptions)

// WithID sets the task id. Spawning an id that already exists returns the
// existing task.
func WithID(id string) SpawnOption {
	return func(o *SpawnOptions) { o.ID = id }
}

// ApplyOptions resolves opts
func ApplyOptions(opts []SpawnOption) SpawnOptions {
	var o SpawnOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type workerKey struct{}

// WithWorkerID tags ctx with the id of the worker running a task
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerID returns the id of the worker running the current task
func WorkerID(ctx context.Context) string {
	id, _ := ctx.Value(workerKey{}).(string)
	return id
}

// Register adds a typed handler for op
func Register[In, Out any](ex Executor, op string, fn func(context.Context, In) (Out, error)) {
	ex.Register(op, func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("decode %s input: %w", op, err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
}

// Task is a typed future over a Handle
type Task[T any] struct {
	Handle
}

// Spawn starts op and returns a typed future for its result
func Spawn[T any](ctx context.Context, ex Executor, op string, input any, opts ...SpawnOption) (*Task[T], error) {
	h, err := ex.Spawn(ctx, op, input, opts...)
	if err != nil {
		return nil, err
	}
	return &Task[T]{Handle: h}, nil
}

// Attach wraps an existing handle
func Attach[T any](h Handle) *Task[T] {
	return &Task[T]{Handle: h}
}

// Await waits for the task and decodes its result
func (t *Task[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	var out T
	raw, err := t.Handle.Await(ctx, timeout)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode result of %s: %w", t.ID(), err)
	}
	return out, nil
}

// Cancel cancels the task if its executor supports it
func (t *Task[T]) Cancel() {
	if c, ok := t.Handle.(Canceler); ok {
		c.Cancel()
	}
}
