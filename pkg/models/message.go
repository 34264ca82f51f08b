package models

import "time"

type MessageRole string

const (
	UserMessageRole  MessageRole = "user"
	AgentMessageRole MessageRole = "agent"
)

// TaskMessage is one entry in the ordered conversation log between the user
// and the agent for a task. The log is append-only and read in creation order.
type TaskMessage struct {
	ID        int64       `json:"id" db:"id"`
	TaskID    string      `json:"task_id" db:"task_id"`
	Role      MessageRole `json:"role" db:"role"`
	Content   string      `json:"content" db:"content"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
