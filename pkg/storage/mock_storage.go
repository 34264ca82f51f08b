package storage

import (
	"sync"
	"time"

	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/google/uuid"
)

// mockStore implements Store with in-memory state. It is safe for concurrent
// use so tests can share it between a pipeline goroutine and assertions.
type mockStore struct {
	mu       sync.Mutex
	tasks    []models.Task
	messages []models.TaskMessage
	nextMsg  int64
}

func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) CreateTask(t models.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.PendingTaskStatus
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	m.tasks = append(m.tasks, t)
	return t.ID, nil
}

func (m *mockStore) GetTask(id, userID string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id && t.DeletedAt == nil && (userID == "" || t.UserID == userID) {
			return t, nil
		}
	}
	return models.Task{}, ErrNotFound
}

func (m *mockStore) ListTasks(userID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.DeletedAt == nil && (userID == "" || t.UserID == userID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) update(id string, fn func(*models.Task)) error {
	for i := range m.tasks {
		if m.tasks[i].ID == id && m.tasks[i].DeletedAt == nil {
			fn(&m.tasks[i])
			m.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateTaskStatus(id string, status models.TaskStatus, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(t *models.Task) {
		t.Status = status
		t.ErrorMsg = errorMsg
		if status.Terminal() {
			now := time.Now()
			t.CompletedAt = &now
		}
	})
}

func (m *mockStore) UpdateTaskStatusIf(id string, status models.TaskStatus, errorMsg string, from models.TaskStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := false
	err := m.update(id, func(t *models.Task) {
		if t.Status != from {
			return
		}
		t.Status = status
		t.ErrorMsg = errorMsg
		if status.Terminal() {
			now := time.Now()
			t.CompletedAt = &now
		}
		updated = true
	})
	return updated, err
}

func (m *mockStore) SetTaskProgress(id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(t *models.Task) {
		if progress > t.Progress {
			t.Progress = progress
		}
	})
}

func (m *mockStore) SetTaskSandbox(id, sandboxID, sandboxURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(t *models.Task) {
		t.SandboxID = sandboxID
		t.SandboxURL = sandboxURL
	})
}

func (m *mockStore) SetTaskBranchName(id, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(t *models.Task) {
		t.BranchName = branch
	})
}

func (m *mockStore) SetBranchNameIfEmpty(id, branch string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wrote := false
	err := m.update(id, func(t *models.Task) {
		if t.BranchName == "" {
			t.BranchName = branch
			wrote = true
		}
	})
	return wrote, err
}

func (m *mockStore) SetTaskTitle(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(t *models.Task) {
		t.Title = title
	})
}

func (m *mockStore) SaveMessage(msg models.TaskMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsg++
	msg.ID = m.nextMsg
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockStore) ListMessages(taskID string) ([]models.TaskMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskMessage
	for _, msg := range m.messages {
		if msg.TaskID == taskID {
			out = append(out, msg)
		}
	}
	return out, nil
}
