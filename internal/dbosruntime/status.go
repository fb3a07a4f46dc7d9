package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opebus/yt-university/internal/execution"
)

// WorkflowStatusInfo represents the status of a workflow
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	ExecutorID   string
	Error        string
	CreatedAt    int64
	UpdatedAt    int64
}

// ErrWorkflowNotFound is returned for unknown workflow ids
var ErrWorkflowNotFound = errors.New("workflow not found")

// GetWorkflowStatus retrieves the status of a workflow from the DBOS status table
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, executor_id, error, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var (
		info       WorkflowStatusInfo
		executorID sql.NullString
		errText    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&executorID,
		&errText,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	info.ExecutorID = executorID.String
	info.Error = errText.String
	return &info, nil
}

// MapStatus translates a DBOS workflow status into a task status
func MapStatus(status string) execution.Status {
	switch status {
	case "ENQUEUED":
		return execution.StatusPending
	case "PENDING":
		return execution.StatusRunning
	case "SUCCESS":
		return execution.StatusSuccess
	case "":
		return execution.StatusPending
	}
	// ERROR, CANCELLED, MAX_RECOVERY_ATTEMPTS_EXCEEDED
	return execution.StatusFailed
}
