package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opebus/yt-university/internal/logger"
)

type taskKey struct{}

// LocalExecutor runs tasks as goroutines in this process. Operations with
// a pool are limited to the pool size; each pool slot is a named worker.
type LocalExecutor struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	pools     map[string]chan string
	tasks     map[string]*localTask
	timeout   time.Duration
	retention time.Duration
	seq       atomic.Int64
	log       *logger.Logger
}

// LocalOption configures a LocalExecutor
type LocalOption func(*LocalExecutor)

// WithPool bounds op to size concurrent workers
func WithPool(op string, size int) LocalOption {
	return func(e *LocalExecutor) {
		if size <= 0 {
			return
		}
		slots := make(chan string, size)
		for i := 1; i <= size; i++ {
			slots <- fmt.Sprintf("%s-worker-%d", op, i)
		}
		e.pools[op] = slots
	}
}

// WithTaskTimeout bounds the run time of every task
func WithTaskTimeout(d time.Duration) LocalOption {
	return func(e *LocalExecutor) { e.timeout = d }
}

// WithRetention sets how long finished root tasks stay queryable
func WithRetention(d time.Duration) LocalOption {
	return func(e *LocalExecutor) { e.retention = d }
}

// NewLocalExecutor creates an in-process executor
func NewLocalExecutor(log *logger.Logger, opts ...LocalOption) *LocalExecutor {
	if log == nil {
		log = logger.Discard()
	}
	e := &LocalExecutor{
		handlers:  make(map[string]Handler),
		pools:     make(map[string]chan string),
		tasks:     make(map[string]*localTask),
		retention: time.Hour,
		log:       log.Component("executor.local"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register registers the handler for op
func (e *LocalExecutor) Register(op string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[op] = h
}

// Spawn starts op in a new goroutine
func (e *LocalExecutor) Spawn(ctx context.Context, op string, input any, opts ...SpawnOption) (Handle, error) {
	o := ApplyOptions(opts)

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", op, err)
	}

	parent, _ := ctx.Value(taskKey{}).(*localTask)

	e.mu.Lock()
	h, ok := e.handlers[op]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	if o.ID == "" {
		o.ID = fmt.Sprintf("%s-%d-%d", op, time.Now().UnixNano(), e.seq.Add(1))
	}
	if existing, ok := e.tasks[o.ID]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	if parent == nil {
		e.pruneLocked(time.Now())
	}

	// Root tasks outlive the caller's context; children die with their parent.
	base := ctx
	if parent == nil {
		base = context.WithoutCancel(ctx)
	}
	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if e.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(base, e.timeout)
	} else {
		taskCtx, cancel = context.WithCancel(base)
	}

	t := &localTask{
		exec:   e,
		id:     o.ID,
		op:     op,
		parent: parent,
		node:   &ProgressNode{ID: o.ID, Name: op, Status: StatusPending},
		done:   make(chan struct{}),
		cancel: cancel,
	}
	e.tasks[t.id] = t
	if parent != nil {
		parent.node.Children = append(parent.node.Children, t.node)
	}
	pool := e.pools[op]
	e.mu.Unlock()

	go e.run(context.WithValue(taskCtx, taskKey{}, t), t, h, raw, pool)
	return t, nil
}

func (e *LocalExecutor) run(ctx context.Context, t *localTask, h Handler, input json.RawMessage, pool chan string) {
	defer t.cancel()

	workerID := fmt.Sprintf("local-%d", e.seq.Add(1))
	if pool != nil {
		select {
		case workerID = <-pool:
			defer func() { pool <- workerID }()
		case <-ctx.Done():
			e.finish(t, nil, fmt.Errorf("waiting for %s worker: %w", t.op, ctx.Err()))
			return
		}
	}

	e.mu.Lock()
	t.node.Status = StatusRunning
	t.node.WorkerID = workerID
	e.mu.Unlock()

	out, err := func() (out json.RawMessage, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", t.op, r)
			}
		}()
		return h(WithWorkerID(ctx, workerID), input)
	}()
	e.finish(t, out, err)
}

func (e *LocalExecutor) finish(t *localTask, out json.RawMessage, err error) {
	e.mu.Lock()
	t.out = out
	t.err = err
	t.finishedAt = time.Now()
	if err != nil {
		t.node.Status = StatusFailed
		t.node.Error = err.Error()
	} else {
		t.node.Status = StatusSuccess
	}
	e.mu.Unlock()

	if err != nil {
		e.log.WithError(err).WithField("task_id", t.id).WithField("op", t.op).Warn("task failed")
	}
	close(t.done)
}

// pruneLocked forgets finished root tasks older than the retention window
func (e *LocalExecutor) pruneLocked(now time.Time) {
	if e.retention <= 0 {
		return
	}
	for id, t := range e.tasks {
		if t.parent != nil || t.finishedAt.IsZero() || now.Sub(t.finishedAt) < e.retention {
			continue
		}
		e.forgetLocked(id, t)
	}
}

func (e *LocalExecutor) forgetLocked(id string, t *localTask) {
	delete(e.tasks, id)
	for _, c := range t.node.Children {
		if child, ok := e.tasks[c.ID]; ok {
			e.forgetLocked(c.ID, child)
		}
	}
}

// Lookup returns the task with the given id
func (e *LocalExecutor) Lookup(ctx context.Context, id string) (Handle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, id)
	}
	return t, nil
}

type localTask struct {
	exec       *LocalExecutor
	id         string
	op         string
	parent     *localTask
	node       *ProgressNode
	done       chan struct{}
	cancel     context.CancelFunc
	out        json.RawMessage
	err        error
	finishedAt time.Time
}

func (t *localTask) ID() string { return t.id }

func (t *localTask) Await(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-t.done:
		return t.result()
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-t.done:
	case <-expired:
		return nil, ErrStillPending
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return t.result()
}

func (t *localTask) result() (json.RawMessage, error) {
	t.exec.mu.RLock()
	defer t.exec.mu.RUnlock()
	return t.out, t.err
}

func (t *localTask) Progress(ctx context.Context) (*ProgressNode, error) {
	t.exec.mu.RLock()
	defer t.exec.mu.RUnlock()
	return t.node.Clone(), nil
}

// Cancel cancels the task's context
func (t *localTask) Cancel() {
	t.cancel()
}
