package orchestrator

import (
	"context"

	"github.com/agenticassets/AA-coding-agent/pkg/models"
)

// Logger defines the logging interface for the orchestrator.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// CreateParams carries everything the environment provisioner needs for one
// run, plus the progress and cancellation callbacks it must honor during long
// internal steps such as dependency installation.
type CreateParams struct {
	TaskID          string
	RepoURL         string
	GitToken        string
	BranchName      string
	Ports           []int
	MachineSize     string
	RunLimitMinutes int
	InstallDeps     bool
	KeepAlive       bool

	// OnProgress receives provisioning progress in percent of the creation
	// step, with a short human-readable message.
	OnProgress func(percent int, message string)

	// Cancelled is polled by the adapter during long internal steps. A true
	// return must produce a clean CreateResult{Cancelled: true}, not an error.
	Cancelled func() bool
}

// CreateResult is the outcome of environment creation.
type CreateResult struct {
	Success   bool
	SandboxID string
	URL       string
	Branch    string
	Cancelled bool
	Err       string
}

// SandboxManager is the lifecycle contract of the isolated execution
// environment. The environment itself lives behind this boundary.
type SandboxManager interface {
	Create(ctx context.Context, p CreateParams) (CreateResult, error)

	// Shutdown releases all environment resources. It always runs in a
	// best-effort cleanup context; callers log failures and move on.
	Shutdown(ctx context.Context, sandboxID string) error
}

// ExecuteParams describes one agent invocation inside an environment. Prompt
// must already be sanitized for the shell context the agent runs in.
type ExecuteParams struct {
	SandboxID  string
	TaskID     string
	UserID     string
	Prompt     string
	Agent      models.AgentType
	Model      string
	Connectors []models.Connector

	OnProgress func(percent int, message string)
}

// ExecuteResult is the agent's reported outcome.
type ExecuteResult struct {
	Success       bool
	Output        string
	AgentResponse string
	Err           string
}

// AgentRunner invokes the selected coding agent inside an environment.
type AgentRunner interface {
	Execute(ctx context.Context, p ExecuteParams) (ExecuteResult, error)
}

// PushResult classifies a publication attempt: Success means fully pushed,
// PushFailed means the work was committed but the remote rejected the push or
// was unreachable, which is recoverable and never fails the task.
type PushResult struct {
	Success    bool
	PushFailed bool
}

// Pusher publishes the agent's changes to the task branch.
type Pusher interface {
	Push(ctx context.Context, sandboxID, branch, commitMessage string) (PushResult, error)
}

// Generator is the AI name/title/commit-message generation capability. Every
// method is paired with a deterministic local fallback used on any failure.
type Generator interface {
	BranchName(ctx context.Context, prompt string) (string, error)
	Title(ctx context.Context, prompt string) (string, error)
	CommitMessage(ctx context.Context, prompt, output string) (string, error)
}

// Credentials are the owner's secrets and limits resolved at run start.
type Credentials struct {
	GitToken           string
	ModelAPIKeys       map[string]string
	MaxDurationMinutes int
	Connectors         []models.Connector
}

// CredentialSource resolves a user's credentials, duration limit and enabled
// connectors. Decryption happens behind this boundary; decrypted values are
// never persisted.
type CredentialSource interface {
	Resolve(ctx context.Context, userID string) (Credentials, error)
}

// Registry maps a task to its active environment handle so a stop request can
// reach the environment before, or instead of, the pipeline's own cleanup.
// Lookup returns an empty handle without error when no entry exists.
type Registry interface {
	Register(ctx context.Context, taskID, sandboxID string) error
	Lookup(ctx context.Context, taskID string) (string, error)
	Deregister(ctx context.Context, taskID string) error
}
