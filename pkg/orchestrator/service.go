package orchestrator

import (
	"context"
	"time"

	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/agenticassets/AA-coding-agent/pkg/storage"
)

// Config carries the orchestrator's tunables. Poll intervals and grace
// windows are explicit configuration rather than buried constants because the
// cancellation protocol depends on them.
type Config struct {
	// MaxDurationMinutes is the operator-controlled cap on a single run. A
	// task's own budget and the user's limit are both clamped to it.
	MaxDurationMinutes int

	// DefaultDurationMinutes applies when a task carries no budget.
	DefaultDurationMinutes int

	// PollInterval paces the cancellation checks and the branch-name wait.
	PollInterval time.Duration

	// BranchNameWait bounds how long the pipeline waits for an AI-generated
	// branch name before computing the deterministic fallback.
	BranchNameWait time.Duration
}

// DefaultConfig matches the intervals the cancellation protocol was designed
// around: 500ms polls, a 10s branch-name grace window.
func DefaultConfig() Config {
	return Config{
		MaxDurationMinutes:     60,
		DefaultDurationMinutes: 30,
		PollInterval:           500 * time.Millisecond,
		BranchNameWait:         10 * time.Second,
	}
}

// Service is the task execution orchestrator. It takes a task from pending to
// a terminal state, coordinating environment provisioning, agent invocation,
// timeout enforcement, cooperative cancellation and result publication. All
// cross-component coordination goes through the Store.
type Service struct {
	store      storage.Store
	sandbox    SandboxManager
	agent      AgentRunner
	pusher     Pusher
	gen        Generator // nil when no generation capability is configured
	creds      CredentialSource
	registry   Registry // nil when no registry is configured
	dispatcher *Dispatcher
	logger     Logger
	cfg        Config
}

func NewService(
	ctx context.Context,
	store storage.Store,
	sandbox SandboxManager,
	agent AgentRunner,
	pusher Pusher,
	gen Generator,
	creds CredentialSource,
	registry Registry,
	logger Logger,
	cfg Config,
) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BranchNameWait <= 0 {
		cfg.BranchNameWait = 10 * time.Second
	}
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = 60
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = 30
	}
	return &Service{
		store:      store,
		sandbox:    sandbox,
		agent:      agent,
		pusher:     pusher,
		gen:        gen,
		creds:      creds,
		registry:   registry,
		dispatcher: NewDispatcher(ctx, logger),
		logger:     logger,
		cfg:        cfg,
	}
}

// StartTask accepts a start request for a task currently in pending. It
// validates existence and ownership, resolves the owner's credentials,
// transitions pending -> processing, and schedules the pipeline as detached
// background work. It never blocks the caller on pipeline completion.
func (s *Service) StartTask(ctx context.Context, taskID, userID string) (models.Task, error) {
	task, err := s.store.GetTask(taskID, userID)
	if err != nil {
		return models.Task{}, err
	}

	switch {
	case task.Status == models.ProcessingTaskStatus:
		return models.Task{}, ErrAlreadyProcessing
	case task.Status.Terminal():
		return models.Task{}, ErrAlreadyTerminal
	case task.Status != models.PendingTaskStatus:
		return models.Task{}, ErrAlreadyProcessing
	}

	creds, err := s.creds.Resolve(ctx, task.UserID)
	if err != nil {
		return models.Task{}, err
	}

	// Claim the task with a conditional write so two concurrent start
	// requests cannot both launch a pipeline.
	claimed, err := s.store.UpdateTaskStatusIf(task.ID, models.ProcessingTaskStatus, "", models.PendingTaskStatus)
	if err != nil {
		return models.Task{}, err
	}
	if !claimed {
		return models.Task{}, ErrAlreadyProcessing
	}
	task.Status = models.ProcessingTaskStatus

	if err := s.dispatcher.Dispatch(task.ID, func(runCtx context.Context) {
		s.processTask(runCtx, task, creds)
	}); err != nil {
		// Undo the claim so the task can be retried.
		if _, revertErr := s.store.UpdateTaskStatusIf(task.ID, models.PendingTaskStatus, "", models.ProcessingTaskStatus); revertErr != nil {
			s.logger.Errorf("Failed to revert task %s to pending after dispatch failure: %v", task.ID, revertErr)
		}
		return models.Task{}, err
	}

	s.logger.Infof("Accepted start request for task %s", task.ID)
	return task, nil
}

// StopTask handles an external stop request. It writes the sticky stopped
// status directly to the store, then best-effort tears the environment down:
// the registry-held handle first, the store-recorded handle second. The
// running pipeline observes the status at its next checkpoint and exits
// without overwriting it.
func (s *Service) StopTask(ctx context.Context, taskID, userID string) (models.Task, error) {
	task, err := s.store.GetTask(taskID, userID)
	if err != nil {
		return models.Task{}, err
	}
	if task.Status != models.ProcessingTaskStatus {
		return models.Task{}, ErrNotProcessing
	}

	stopped, err := s.store.UpdateTaskStatusIf(task.ID, models.StoppedTaskStatus, "Task stopped by user", models.ProcessingTaskStatus)
	if err != nil {
		return models.Task{}, err
	}
	if !stopped {
		// The run finished between the read and the write.
		return models.Task{}, ErrNotProcessing
	}

	s.teardownTask(ctx, task.ID)

	return s.store.GetTask(taskID, userID)
}

// teardownTask releases the task's environment without propagating failures;
// by the time it runs, the task's outcome has already been decided.
func (s *Service) teardownTask(ctx context.Context, taskID string) {
	handle := ""
	if s.registry != nil {
		h, err := s.registry.Lookup(ctx, taskID)
		if err != nil {
			s.logger.Warnf("Registry lookup for task %s failed: %v", taskID, err)
		} else {
			handle = h
		}
	}
	if handle == "" {
		if task, err := s.store.GetTask(taskID, ""); err == nil {
			handle = task.SandboxID
		}
	}
	if handle == "" {
		return
	}
	if err := s.sandbox.Shutdown(ctx, handle); err != nil {
		s.logger.Warnf("Failed to shut down environment %s for task %s: %v", handle, taskID, err)
	}
	if s.registry != nil {
		if err := s.registry.Deregister(ctx, taskID); err != nil {
			s.logger.Warnf("Failed to deregister environment for task %s: %v", taskID, err)
		}
	}
}

// GetTask reads a task on behalf of a user or an internal caller.
func (s *Service) GetTask(taskID, userID string) (models.Task, error) {
	return s.store.GetTask(taskID, userID)
}

// ListMessages returns the task's conversation log in creation order, after
// the ownership check on the task itself.
func (s *Service) ListMessages(taskID, userID string) ([]models.TaskMessage, error) {
	if _, err := s.store.GetTask(taskID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(taskID)
}

// Drain waits for all in-flight pipelines to finish. Used for graceful
// process shutdown.
func (s *Service) Drain() {
	s.dispatcher.Drain()
}
