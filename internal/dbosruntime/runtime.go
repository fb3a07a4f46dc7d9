// Package dbosruntime runs pipeline tasks as durable DBOS workflows.
package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
)

// Runtime manages the DBOS runtime lifecycle
type Runtime struct {
	dbosContext dbos.DBOSContext
	queues      map[string]*dbos.WorkflowQueue
	config      Config
	db          *sql.DB
}

// NewRuntime creates a new DBOS runtime instance
// Returns error if DBOS_SYSTEM_DATABASE_URL is not set
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}

	cfg.WithDefaults()
	if cfg.ExecutorID == "" {
		host, _ := os.Hostname()
		cfg.ExecutorID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, err
	}

	// Jobs wait on stages and the transcribe stage waits on segments, so
	// each level gets its own queue.
	queues := make(map[string]*dbos.WorkflowQueue, 3)
	for name, concurrency := range map[string]int{
		cfg.QueueName:          cfg.Concurrency,
		cfg.StageQueueName():   cfg.Concurrency,
		cfg.SegmentQueueName(): cfg.SegmentConcurrency,
	} {
		queue := dbos.NewWorkflowQueue(dbosCtx, name, dbos.WithWorkerConcurrency(concurrency))
		queues[name] = &queue
	}

	// Direct SQL access for status queries and the task index
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queues:      queues,
		config:      cfg,
		db:          db,
	}, nil
}

// Launch starts the DBOS runtime and workers
func (r *Runtime) Launch() error {
	return dbos.Launch(r.dbosContext)
}

// Shutdown gracefully shuts down the DBOS runtime
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Context returns the DBOS context
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// DB returns the connection to the DBOS system database
func (r *Runtime) DB() *sql.DB {
	return r.db
}

// Config returns the resolved configuration
func (r *Runtime) Config() Config {
	return r.config
}

// QueueName returns the job queue name
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency returns the configured job concurrency
func (r *Runtime) Concurrency() int {
	return r.config.Concurrency
}
