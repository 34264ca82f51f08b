package storage

import (
	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a task does not exist, is soft-deleted, or is
// not owned by the requesting user.
var ErrNotFound = errors.New("not found")

// Store defines the task state operations the orchestrator and the HTTP
// endpoints consume. The store is the single source of truth for task state:
// all coordination between the detached pipeline and the endpoints goes
// through it, never through in-process memory.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Task operations. userID scopes ownership; an empty userID is an
	// internal/service caller and bypasses the ownership check. Soft-deleted
	// tasks are excluded from every read.
	CreateTask(t models.Task) (string, error)
	GetTask(id, userID string) (models.Task, error)
	ListTasks(userID string) ([]models.Task, error)

	// UpdateTaskStatus writes status and error message unconditionally,
	// stamping completed_at when the status is terminal.
	UpdateTaskStatus(id string, status models.TaskStatus, errorMsg string) error

	// UpdateTaskStatusIf writes status only while the current status equals
	// from, and reports whether the write happened. This is the conditional
	// update that keeps a concurrently written 'stopped' sticky.
	UpdateTaskStatusIf(id string, status models.TaskStatus, errorMsg string, from models.TaskStatus) (bool, error)

	// SetTaskProgress persists a progress checkpoint. Persisted progress is
	// monotonic: a lower value never overwrites a higher one.
	SetTaskProgress(id string, progress int) error

	SetTaskSandbox(id, sandboxID, sandboxURL string) error
	SetTaskBranchName(id, branch string) error

	// SetBranchNameIfEmpty writes the deterministic fallback branch name only
	// if no AI-derived value has appeared since, and reports whether it wrote.
	SetBranchNameIfEmpty(id, branch string) (bool, error)
	SetTaskTitle(id, title string) error

	// Message operations. The log is append-only, read in creation order.
	SaveMessage(m models.TaskMessage) error
	ListMessages(taskID string) ([]models.TaskMessage, error)
}
