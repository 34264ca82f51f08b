package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus    TaskStatus = "pending"
	ProcessingTaskStatus TaskStatus = "processing"
	CompletedTaskStatus  TaskStatus = "completed"
	ErrorTaskStatus      TaskStatus = "error"
	StoppedTaskStatus    TaskStatus = "stopped"
)

// Terminal reports whether the status is a final state. A task in a terminal
// state is never picked up by the orchestrator again.
func (s TaskStatus) Terminal() bool {
	return s == CompletedTaskStatus || s == ErrorTaskStatus || s == StoppedTaskStatus
}

// AgentType selects which coding agent CLI runs inside the environment.
type AgentType string

const (
	ClaudeAgent AgentType = "claude"
	CodexAgent  AgentType = "codex"
	GeminiAgent AgentType = "gemini"
)

// Task represents one user-submitted unit of agent work against a repository,
// or a standalone prompt when RepoURL is empty.
type Task struct {
	ID                 string     `json:"id" db:"id"`                                     // UUID, externally addressable
	UserID             string     `json:"user_id" db:"user_id"`                           // Owner; only the owner may read or mutate
	Prompt             string     `json:"prompt" db:"prompt"`                             // Natural-language task description
	RepoURL            string     `json:"repo_url,omitempty" db:"repo_url"`               // Empty for standalone tasks
	Agent              AgentType  `json:"agent" db:"agent"`                               // Selected agent CLI
	Model              string     `json:"model,omitempty" db:"model"`                     // Selected model, agent-specific
	MaxDurationMinutes int        `json:"max_duration_minutes" db:"max_duration_minutes"` // Wall-clock budget for one run
	InstallDeps        bool       `json:"install_deps" db:"install_deps"`                 // Run dependency install during provisioning
	KeepAlive          bool       `json:"keep_alive" db:"keep_alive"`                     // Keep the environment alive after completion
	BranchName         string     `json:"branch_name,omitempty" db:"branch_name"`         // AI-generated or deterministic fallback
	Title              string     `json:"title,omitempty" db:"title"`                     // AI-generated or deterministic fallback
	Status             TaskStatus `json:"status" db:"status"`
	Progress           int        `json:"progress" db:"progress"`                 // 0-100, non-decreasing within a run
	SandboxID          string     `json:"sandbox_id,omitempty" db:"sandbox_id"`   // Handle of the active execution environment
	SandboxURL         string     `json:"sandbox_url,omitempty" db:"sandbox_url"` // User-facing URL of the environment
	ErrorMsg           string     `json:"error,omitempty" db:"error_msg"`         // Human-readable cause for error/stopped
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"` // Set when a terminal status is written
	DeletedAt          *time.Time `json:"-" db:"deleted_at"`                        // Soft delete; excluded from all normal reads
}

// Standalone reports whether the task has no associated repository. Standalone
// tasks skip branch handling and result publication entirely.
func (t Task) Standalone() bool {
	return t.RepoURL == ""
}
