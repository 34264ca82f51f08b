package storage

import (
	"database/sql"
	"fmt"

	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/agenticassets/AA-coding-agent/pkg/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func InitStore(dbConnStr string) (*PostgresStore, error) {
	return NewPostgresStore(dbConnStr)
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// CreateTask inserts a new task row and returns its ID.
func (s *PostgresStore) CreateTask(t models.Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.PendingTaskStatus
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, user_id, prompt, repo_url, agent, model, max_duration_minutes,
			install_deps, keep_alive, branch_name, title, status, progress, sandbox_id, sandbox_url, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.UserID, t.Prompt, t.RepoURL, t.Agent, t.Model, t.MaxDurationMinutes,
		t.InstallDeps, t.KeepAlive, t.BranchName, t.Title, t.Status, t.Progress,
		t.SandboxID, t.SandboxURL, t.ErrorMsg)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return t.ID, nil
}

// GetTask retrieves a task by ID, scoped to the owning user unless userID is
// empty (internal caller). Soft-deleted rows are never returned.
func (s *PostgresStore) GetTask(id, userID string) (models.Task, error) {
	var task models.Task
	var err error
	if userID == "" {
		err = s.db.Get(&task, "SELECT * FROM tasks WHERE id = $1 AND deleted_at IS NULL", id)
	} else {
		err = s.db.Get(&task, "SELECT * FROM tasks WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL", id, userID)
	}
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(userID string) ([]models.Task, error) {
	tasks := []models.Task{}
	var err error
	if userID == "" {
		err = s.db.Select(&tasks, "SELECT * FROM tasks WHERE deleted_at IS NULL ORDER BY created_at DESC")
	} else {
		err = s.db.Select(&tasks, "SELECT * FROM tasks WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC", userID)
	}
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTaskStatus writes status and error message, stamping completed_at
// when the status is terminal.
func (s *PostgresStore) UpdateTaskStatus(id string, status models.TaskStatus, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE tasks
		SET status = $1,
		error_msg = $2,
		updated_at = CURRENT_TIMESTAMP,
		completed_at = CASE WHEN $3 IN ('completed', 'error', 'stopped') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = $4 AND deleted_at IS NULL`,
		// PostgreSQL treats the parameter in the CASE clause as separate, so the status is passed twice
		status, errorMsg, status, id)
	return err
}

// UpdateTaskStatusIf writes status only while the current status equals from.
// This is the conditional update that keeps a concurrent 'stopped' sticky.
func (s *PostgresStore) UpdateTaskStatusIf(id string, status models.TaskStatus, errorMsg string, from models.TaskStatus) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks
		SET status = $1,
		error_msg = $2,
		updated_at = CURRENT_TIMESTAMP,
		completed_at = CASE WHEN $3 IN ('completed', 'error', 'stopped') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = $4 AND status = $5 AND deleted_at IS NULL`,
		status, errorMsg, status, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetTaskProgress persists a progress checkpoint. GREATEST keeps persisted
// progress monotonic even if a late writer reports a lower value.
func (s *PostgresStore) SetTaskProgress(id string, progress int) error {
	_, err := s.db.Exec(
		"UPDATE tasks SET progress = GREATEST(progress, $1), updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND deleted_at IS NULL",
		progress, id)
	return err
}

func (s *PostgresStore) SetTaskSandbox(id, sandboxID, sandboxURL string) error {
	_, err := s.db.Exec(
		"UPDATE tasks SET sandbox_id = $1, sandbox_url = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3 AND deleted_at IS NULL",
		sandboxID, sandboxURL, id)
	return err
}

func (s *PostgresStore) SetTaskBranchName(id, branch string) error {
	_, err := s.db.Exec(
		"UPDATE tasks SET branch_name = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND deleted_at IS NULL",
		branch, id)
	return err
}

// SetBranchNameIfEmpty writes the fallback branch name only if no AI-derived
// value has appeared since the fallback was computed.
func (s *PostgresStore) SetBranchNameIfEmpty(id, branch string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE tasks SET branch_name = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND branch_name = '' AND deleted_at IS NULL",
		branch, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) SetTaskTitle(id, title string) error {
	_, err := s.db.Exec(
		"UPDATE tasks SET title = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND deleted_at IS NULL",
		title, id)
	return err
}

// SaveMessage appends one entry to the task's conversation log.
func (s *PostgresStore) SaveMessage(m models.TaskMessage) error {
	_, err := s.db.Exec(
		"INSERT INTO task_messages (task_id, role, content) VALUES ($1, $2, $3)",
		m.TaskID, m.Role, m.Content)
	return err
}

// ListMessages returns the task's conversation log in creation order.
func (s *PostgresStore) ListMessages(taskID string) ([]models.TaskMessage, error) {
	messages := []models.TaskMessage{}
	err := s.db.Select(&messages,
		"SELECT * FROM task_messages WHERE task_id = $1 ORDER BY created_at, id", taskID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}
