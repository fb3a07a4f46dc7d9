package dbosruntime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/internal/logger"
)

const statusPollInterval = 25 * time.Millisecond

// StageInput is the durable input of one task
type StageInput struct {
	Op    string `json:"op"`
	Input string `json:"input"`
}

type parentKey struct{}

type parentRef struct {
	ctx dbos.DBOSContext
	id  string
}

// Executor runs registered operations as DBOS workflows. Every task is one
// workflow; tasks spawned from a running task become child workflows and
// are indexed in pipeline_tasks so progress trees can be rebuilt from the
// database by any worker.
type Executor struct {
	rt  *Runtime
	log *logger.Logger

	mu       sync.RWMutex
	handlers map[string]execution.Handler
	routes   map[string]string
	handles  map[string]*handle
	children sync.Map // parent id -> *atomic.Int64
}

// NewExecutor registers the task workflow with DBOS. It must be called
// before Launch.
func NewExecutor(rt *Runtime, log *logger.Logger) (*Executor, error) {
	if log == nil {
		log = logger.Discard()
	}
	e := &Executor{
		rt:       rt,
		log:      log.Component("dbos.executor"),
		handlers: make(map[string]execution.Handler),
		routes:   make(map[string]string),
		handles:  make(map[string]*handle),
	}
	if err := e.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure task table: %w", err)
	}

	dbos.RegisterWorkflow(rt.Context(), e.executeStage)
	return e, nil
}

func (e *Executor) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS pipeline_tasks (
			seq BIGSERIAL,
			task_id TEXT PRIMARY KEY,
			parent_id TEXT,
			op TEXT NOT NULL,
			worker_id TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS pipeline_tasks_parent_idx ON pipeline_tasks (parent_id, seq);
	`
	if _, err := e.rt.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create pipeline_tasks table: %w", err)
	}
	return nil
}

// Register adds a handler for op
func (e *Executor) Register(op string, h execution.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[op] = h
}

// SerialAwait is always true: GetResult records a workflow step, so
// concurrent awaits from one workflow would break its replay.
func (e *Executor) SerialAwait() bool { return true }

// Route sends tasks of op to queue instead of the default job or stage queue
func (e *Executor) Route(op, queue string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes[op] = queue
}

func (e *Executor) queueFor(op string, child bool) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if q, ok := e.routes[op]; ok {
		return q
	}
	if child {
		return e.rt.config.StageQueueName()
	}
	return e.rt.config.QueueName
}

// Spawn enqueues op as a workflow. Called from inside a running task, the
// new workflow is a child of that task.
func (e *Executor) Spawn(ctx context.Context, op string, input any, opts ...execution.SpawnOption) (execution.Handle, error) {
	o := execution.ApplyOptions(opts)

	e.mu.RLock()
	_, ok := e.handlers[op]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrUnknownOperation, op)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", op, err)
	}

	spawnCtx := e.rt.Context()
	parent, isChild := ctx.Value(parentKey{}).(parentRef)
	if isChild {
		spawnCtx = parent.ctx
	}
	if o.ID == "" {
		if isChild {
			o.ID = fmt.Sprintf("%s-%s-%d", op, parent.id, e.nextChild(parent.id))
		} else {
			o.ID = fmt.Sprintf("%s-%d", op, time.Now().UnixNano())
		}
	}

	e.mu.RLock()
	existing, ok := e.handles[o.ID]
	e.mu.RUnlock()
	if ok {
		return existing, nil
	}

	var parentID sql.NullString
	if isChild {
		parentID = sql.NullString{String: parent.id, Valid: true}
	}
	_, err = e.rt.db.ExecContext(ctx,
		`INSERT INTO pipeline_tasks (task_id, parent_id, op) VALUES ($1, $2, $3) ON CONFLICT (task_id) DO NOTHING`,
		o.ID, parentID, op)
	if err != nil {
		return nil, fmt.Errorf("index task %s: %w", o.ID, err)
	}

	wf, err := dbos.RunWorkflow[StageInput, string](
		spawnCtx,
		e.executeStage,
		StageInput{Op: op, Input: string(raw)},
		dbos.WithWorkflowID(o.ID),
		dbos.WithQueue(e.queueFor(op, isChild)),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", op, err)
	}

	h := &handle{exec: e, id: wf.GetWorkflowID(), wf: wf, done: make(chan struct{})}
	e.mu.Lock()
	e.handles[h.id] = h
	e.mu.Unlock()
	return h, nil
}

func (e *Executor) nextChild(parentID string) int64 {
	v, _ := e.children.LoadOrStore(parentID, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1) - 1
}

// Lookup returns the handle of a task spawned by any worker
func (e *Executor) Lookup(ctx context.Context, id string) (execution.Handle, error) {
	e.mu.RLock()
	h, ok := e.handles[id]
	e.mu.RUnlock()
	if ok {
		return h, nil
	}

	var found int
	err := e.rt.db.QueryRowContext(ctx, `SELECT 1 FROM pipeline_tasks WHERE task_id = $1`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", execution.ErrHandleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup task %s: %w", id, err)
	}
	return &handle{exec: e, id: id}, nil
}

// executeStage is the single DBOS workflow behind every task
func (e *Executor) executeStage(dbosCtx dbos.DBOSContext, in StageInput) (out string, err error) {
	e.mu.RLock()
	h, ok := e.handlers[in.Op]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", execution.ErrUnknownOperation, in.Op)
	}

	id, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return "", err
	}

	workerID := e.rt.config.ExecutorID
	if _, err := e.rt.db.ExecContext(dbosCtx, `UPDATE pipeline_tasks SET worker_id = $2 WHERE task_id = $1`, id, workerID); err != nil {
		e.log.WithError(err).WithField("task_id", id).Warn("failed to record worker")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", in.Op, r)
		}
		if err != nil {
			e.log.WithError(err).WithField("task_id", id).WithField("op", in.Op).Warn("task failed")
		}
	}()

	ctx := context.WithValue(dbosCtx, parentKey{}, parentRef{ctx: dbosCtx, id: id})
	raw, err := h(execution.WithWorkerID(ctx, workerID), json.RawMessage(in.Input))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

type taskRow struct {
	ID       string
	ParentID string
	Op       string
	Status   string
	WorkerID string
	Error    string
}

func (e *Executor) progress(ctx context.Context, rootID string) (*execution.ProgressNode, error) {
	query := `
		WITH RECURSIVE tree AS (
			SELECT seq, task_id, parent_id, op, worker_id FROM pipeline_tasks WHERE task_id = $1
			UNION ALL
			SELECT t.seq, t.task_id, t.parent_id, t.op, t.worker_id
			FROM pipeline_tasks t JOIN tree ON t.parent_id = tree.task_id
		)
		SELECT tree.task_id, COALESCE(tree.parent_id, ''), tree.op,
			COALESCE(ws.status, ''), COALESCE(tree.worker_id, ws.executor_id, ''), COALESCE(ws.error, '')
		FROM tree
		LEFT JOIN dbos.workflow_status ws ON ws.workflow_uuid = tree.task_id
		ORDER BY tree.seq
	`
	rows, err := e.rt.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("query progress of %s: %w", rootID, err)
	}
	defer rows.Close()

	var tasks []taskRow
	for rows.Next() {
		var t taskRow
		if err := rows.Scan(&t.ID, &t.ParentID, &t.Op, &t.Status, &t.WorkerID, &t.Error); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assembleTree(rootID, tasks)
}

// assembleTree links rows, ordered by spawn, into the tree rooted at rootID
func assembleTree(rootID string, rows []taskRow) (*execution.ProgressNode, error) {
	nodes := make(map[string]*execution.ProgressNode, len(rows))
	var root *execution.ProgressNode
	for _, r := range rows {
		n := &execution.ProgressNode{
			ID:       r.ID,
			Name:     r.Op,
			Status:   MapStatus(r.Status),
			WorkerID: r.WorkerID,
			Error:    r.Error,
		}
		nodes[r.ID] = n
		if r.ID == rootID {
			root = n
			continue
		}
		if parent, ok := nodes[r.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", execution.ErrHandleNotFound, rootID)
	}
	return root, nil
}

type handle struct {
	exec *Executor
	id   string
	wf   dbos.WorkflowHandle[string]

	once sync.Once
	done chan struct{}
	out  string
	err  error
}

func (h *handle) ID() string { return h.id }

// Await waits on the workflow result for handles created by Spawn and
// polls the status table for handles found by Lookup. Looked-up handles
// resolve without a result value.
func (h *handle) Await(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	if h.wf == nil {
		return h.pollStatus(ctx, timeout)
	}

	h.once.Do(func() {
		go func() {
			h.out, h.err = h.wf.GetResult()
			close(h.done)
			h.exec.mu.Lock()
			delete(h.exec.handles, h.id)
			h.exec.mu.Unlock()
		}()
	})

	select {
	case <-h.done:
		return h.result()
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-h.done:
		return h.result()
	case <-expired:
		return nil, execution.ErrStillPending
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *handle) result() (json.RawMessage, error) {
	if h.err != nil {
		return nil, h.err
	}
	if h.out == "" {
		return nil, nil
	}
	return json.RawMessage(h.out), nil
}

func (h *handle) pollStatus(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		info, err := h.exec.rt.GetWorkflowStatus(ctx, h.id)
		switch {
		case errors.Is(err, ErrWorkflowNotFound):
			// indexed but not yet enqueued
		case err != nil:
			return nil, err
		default:
			switch MapStatus(info.Status) {
			case execution.StatusSuccess:
				return nil, nil
			case execution.StatusFailed:
				if info.Error == "" {
					info.Error = info.Status
				}
				return nil, errors.New(info.Error)
			}
		}

		wait := statusPollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, execution.ErrStillPending
			}
			wait = min(wait, remaining)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (h *handle) Progress(ctx context.Context) (*execution.ProgressNode, error) {
	return h.exec.progress(ctx, h.id)
}
