package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agenticassets/AA-coding-agent/internal/generate"
	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/pkg/errors"
)

// Progress checkpoints persisted during a run. Each checkpoint is preceded by
// a cancellation check, so observed progress is monotonic and a stop request
// short-circuits the remaining pipeline at the next checkpoint.
const (
	progressInitializing = 10
	progressCreatingEnv  = 15
	progressAgentRunning = 50
	progressPublishing   = 90
	progressComplete     = 100
)

// deadlineWarningLead is how long before the deadline the advisory warning
// fires. The warning never affects control flow.
const deadlineWarningLead = time.Minute

// processTask drives one accepted task from processing to a terminal state.
// It runs detached from any client connection; the only channels back to the
// user are the task row and its message log.
func (s *Service) processTask(ctx context.Context, task models.Task, creds Credentials) {
	budget := s.runBudget(task, creds)
	s.logger.Infof("Starting run for task %s with a %s budget", task.ID, budget)
	s.runWithDeadline(ctx, task, creds, budget)
}

// runWithDeadline races the pipeline against the task's wall-clock budget.
// Both timers are owned here and stopped on every exit path so no scheduled
// work fires after the race has been decided.
func (s *Service) runWithDeadline(ctx context.Context, task models.Task, creds Credentials, budget time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if budget > deadlineWarningLead {
		warn := time.AfterFunc(budget-deadlineWarningLead, func() {
			s.logger.Warnf("Task %s is one minute from its %s budget", task.ID, budget)
		})
		defer warn.Stop()
	}
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	done := make(chan error, 1)
	go func() { done <- s.run(runCtx, task, creds) }()

	select {
	case err := <-done:
		switch {
		case err == nil:
			s.logger.Infof("Task %s completed", task.ID)
		case errors.Is(err, errCancelled):
			s.logger.Infof("Task %s stopped cooperatively", task.ID)
		default:
			s.logger.Errorf("Task %s failed: %v", task.ID, err)
			s.failTask(task.ID, err.Error())
		}
	case <-deadline.C:
		cancel()
		msg := fmt.Sprintf("Task timed out after %d minutes", int(budget.Minutes()))
		s.logger.Errorf("Task %s: %s", task.ID, msg)
		s.failTask(task.ID, msg)
		s.teardownTask(context.Background(), task.ID)
	}
}

// runBudget clamps the task's requested budget to the user's limit and the
// operator-controlled maximum.
func (s *Service) runBudget(task models.Task, creds Credentials) time.Duration {
	minutes := task.MaxDurationMinutes
	if minutes <= 0 {
		minutes = s.cfg.DefaultDurationMinutes
	}
	if creds.MaxDurationMinutes > 0 && minutes > creds.MaxDurationMinutes {
		minutes = creds.MaxDurationMinutes
	}
	if minutes > s.cfg.MaxDurationMinutes {
		minutes = s.cfg.MaxDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// run executes the ordered pipeline for one task. It returns nil after
// writing completed, errCancelled after observing a stop, or the failure that
// should surface as the task's error.
func (s *Service) run(ctx context.Context, task models.Task, creds Credentials) (err error) {
	if err := s.checkpoint(ctx, task.ID, progressInitializing); err != nil {
		return err
	}

	// Every task gets a title, repository-backed or not. Branch handling
	// below applies only to repository tasks.
	if task.Title == "" {
		if s.gen != nil {
			go s.generateTitle(ctx, task)
		} else if titleErr := s.store.SetTaskTitle(task.ID, generate.FallbackTitle(task.Prompt)); titleErr != nil {
			s.logger.Warnf("Failed to set title for task %s: %v", task.ID, titleErr)
		}
	}

	if !task.Standalone() {
		if s.gen != nil && task.BranchName == "" {
			go s.generateBranchName(ctx, task)
		}
		task.BranchName = s.awaitBranchName(ctx, task)
	}

	if err := s.checkpoint(ctx, task.ID, progressCreatingEnv); err != nil {
		return err
	}

	res, err := s.createSandbox(ctx, task, creds)
	if err != nil {
		return err
	}
	if res.Cancelled {
		return errCancelled
	}
	sandboxID := res.SandboxID

	defer func() {
		// The environment survives only a successful run with keep-alive set.
		if err != nil || !task.KeepAlive {
			s.releaseSandbox(task.ID, sandboxID)
		}
	}()

	if err := s.store.SetTaskSandbox(task.ID, sandboxID, res.URL); err != nil {
		s.logger.Warnf("Failed to record environment for task %s: %v", task.ID, err)
	}
	if s.registry != nil {
		if regErr := s.registry.Register(ctx, task.ID, sandboxID); regErr != nil {
			s.logger.Warnf("Failed to register environment for task %s: %v", task.ID, regErr)
		}
	}

	if err := s.checkpoint(ctx, task.ID, progressAgentRunning); err != nil {
		return err
	}

	execRes, err := s.invokeAgent(ctx, task, creds, sandboxID)
	if err != nil {
		return err
	}

	if err := s.checkpoint(ctx, task.ID, progressPublishing); err != nil {
		return err
	}

	if !task.Standalone() && creds.GitToken != "" {
		if err := s.publish(ctx, task, sandboxID, execRes); err != nil {
			return err
		}
	} else {
		s.logger.Infof("Task %s has no repository or token, skipping publication", task.ID)
	}

	// Final write. The stop status stays sticky: re-check first, and even
	// then only write completed while still processing.
	stopped, err := s.stopRequested(task.ID)
	if err != nil {
		return err
	}
	if stopped {
		return errCancelled
	}
	if err := s.store.SetTaskProgress(task.ID, progressComplete); err != nil {
		s.logger.Warnf("Failed to record final progress for task %s: %v", task.ID, err)
	}
	wrote, err := s.store.UpdateTaskStatusIf(task.ID, models.CompletedTaskStatus, "", models.ProcessingTaskStatus)
	if err != nil {
		return err
	}
	if !wrote {
		// A stop request won the race on the final write.
		return errCancelled
	}
	return nil
}

// checkpoint performs the cancellation check that precedes every pipeline
// step, then persists the step's progress value. Progress write failures are
// logged, not fatal.
func (s *Service) checkpoint(ctx context.Context, taskID string, progress int) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	stopped, err := s.stopRequested(taskID)
	if err != nil {
		return errors.Wrap(err, "cancellation check failed")
	}
	if stopped {
		return errCancelled
	}
	if err := s.store.SetTaskProgress(taskID, progress); err != nil {
		s.logger.Warnf("Failed to record progress %d for task %s: %v", progress, taskID, err)
	}
	return nil
}

// stopRequested polls the shared persisted state for an external stop. This
// is the only cancellation channel into the detached pipeline.
func (s *Service) stopRequested(taskID string) (bool, error) {
	t, err := s.store.GetTask(taskID, "")
	if err != nil {
		return false, err
	}
	return t.Status == models.StoppedTaskStatus, nil
}

func (s *Service) createSandbox(ctx context.Context, task models.Task, creds Credentials) (CreateResult, error) {
	var ports []int
	if !task.Standalone() {
		// Default web port prepared for repository tasks only.
		ports = []int{3000}
	}
	res, err := s.sandbox.Create(ctx, CreateParams{
		TaskID:          task.ID,
		RepoURL:         task.RepoURL,
		GitToken:        creds.GitToken,
		BranchName:      task.BranchName,
		Ports:           ports,
		RunLimitMinutes: task.MaxDurationMinutes,
		InstallDeps:     task.InstallDeps,
		KeepAlive:       task.KeepAlive,
		OnProgress: func(percent int, message string) {
			// Provisioning owns the band between its checkpoint and the
			// agent-execution checkpoint.
			scaled := progressCreatingEnv + percent*(progressAgentRunning-progressCreatingEnv)/100
			if progErr := s.store.SetTaskProgress(task.ID, scaled); progErr != nil {
				s.logger.Warnf("Failed to record provisioning progress for task %s: %v", task.ID, progErr)
			}
			s.logger.Infof("Task %s provisioning: %s", task.ID, message)
		},
		Cancelled: func() bool {
			stopped, stopErr := s.stopRequested(task.ID)
			return stopErr == nil && stopped
		},
	})
	if err != nil {
		return CreateResult{}, errors.Wrap(err, "environment provisioning failed")
	}
	if !res.Success && !res.Cancelled {
		return CreateResult{}, errors.Errorf("environment provisioning failed: %s", res.Err)
	}
	return res, nil
}

func (s *Service) invokeAgent(ctx context.Context, task models.Task, creds Credentials, sandboxID string) (ExecuteResult, error) {
	execRes, err := s.agent.Execute(ctx, ExecuteParams{
		SandboxID:  sandboxID,
		TaskID:     task.ID,
		UserID:     task.UserID,
		Prompt:     SanitizePrompt(task.Prompt),
		Agent:      task.Agent,
		Model:      task.Model,
		Connectors: creds.Connectors,
		OnProgress: func(percent int, message string) {
			scaled := progressAgentRunning + percent*(progressPublishing-progressAgentRunning)/100
			if progErr := s.store.SetTaskProgress(task.ID, scaled); progErr != nil {
				s.logger.Warnf("Failed to record agent progress for task %s: %v", task.ID, progErr)
			}
		},
	})
	if err != nil || !execRes.Success {
		// An in-flight invocation can fail as a side effect of a stop
		// request tearing the environment down; classify that as the stop.
		if stopped, stopErr := s.stopRequested(task.ID); stopErr == nil && stopped {
			return ExecuteResult{}, errCancelled
		}
		if err != nil {
			return ExecuteResult{}, errors.Wrap(err, "agent execution failed")
		}
		return ExecuteResult{}, errors.Errorf("agent execution failed: %s", execRes.Err)
	}
	if execRes.AgentResponse != "" {
		s.appendAgentMessage(task.ID, execRes.AgentResponse)
	}
	return execRes, nil
}

// generateBranchName runs the AI branch-name generation in the background.
// The name is written unconditionally: either writer's value is valid and
// each writes at most once.
func (s *Service) generateBranchName(ctx context.Context, task models.Task) {
	name, err := s.gen.BranchName(ctx, task.Prompt)
	if err != nil || name == "" {
		s.logger.Warnf("Branch name generation for task %s failed: %v", task.ID, err)
		return
	}
	if storeErr := s.store.SetTaskBranchName(task.ID, name); storeErr != nil {
		s.logger.Warnf("Failed to store generated branch name for task %s: %v", task.ID, storeErr)
	}
}

// generateTitle derives the task title in the background, falling back to the
// deterministic title on any generation failure. The title may land at any
// point during the run; nothing in the pipeline waits for it.
func (s *Service) generateTitle(ctx context.Context, task models.Task) {
	title, err := s.gen.Title(ctx, task.Prompt)
	if err != nil || title == "" {
		s.logger.Warnf("Title generation for task %s failed: %v", task.ID, err)
		title = generate.FallbackTitle(task.Prompt)
	}
	if storeErr := s.store.SetTaskTitle(task.ID, title); storeErr != nil {
		s.logger.Warnf("Failed to store title for task %s: %v", task.ID, storeErr)
	}
}

// awaitBranchName waits up to the grace window for an AI-generated branch
// name to appear in persisted state, because the environment needs a branch
// at creation time. On a miss it persists the deterministic fallback, but
// only if no generated value has landed since.
func (s *Service) awaitBranchName(ctx context.Context, task models.Task) string {
	if task.BranchName != "" {
		return task.BranchName
	}
	if s.gen != nil {
		if name, ok := s.pollBranchName(ctx, task.ID); ok {
			return name
		}
	}
	fb := generate.FallbackBranchName(task.ID)
	if _, err := s.store.SetBranchNameIfEmpty(task.ID, fb); err != nil {
		s.logger.Warnf("Failed to store fallback branch name for task %s: %v", task.ID, err)
	}
	// Re-read in case the generated name landed between the poll and the
	// conditional write; either value is valid.
	if t, err := s.store.GetTask(task.ID, ""); err == nil && t.BranchName != "" {
		return t.BranchName
	}
	return fb
}

func (s *Service) pollBranchName(ctx context.Context, taskID string) (string, bool) {
	deadline := time.NewTimer(s.cfg.BranchNameWait)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	for {
		if t, err := s.store.GetTask(taskID, ""); err == nil && t.BranchName != "" {
			return t.BranchName, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-deadline.C:
			return "", false
		case <-tick.C:
		}
	}
}

// failTask writes the error status with its cause. The write is conditional
// on the task still processing, so a concurrently written stop stays sticky.
func (s *Service) failTask(taskID, message string) {
	wrote, err := s.store.UpdateTaskStatusIf(taskID, models.ErrorTaskStatus, message, models.ProcessingTaskStatus)
	if err != nil {
		s.logger.Errorf("Failed to record error for task %s: %v", taskID, err)
		return
	}
	if !wrote {
		s.logger.Infof("Task %s already reached a terminal status, keeping it", taskID)
	}
}

// releaseSandbox is the pipeline's own environment cleanup. Failures are
// logged and swallowed; the run's outcome is already decided.
func (s *Service) releaseSandbox(taskID, sandboxID string) {
	if sandboxID == "" {
		return
	}
	ctx := context.Background()
	if err := s.sandbox.Shutdown(ctx, sandboxID); err != nil {
		s.logger.Warnf("Failed to shut down environment %s for task %s: %v", sandboxID, taskID, err)
	}
	if s.registry != nil {
		if err := s.registry.Deregister(ctx, taskID); err != nil {
			s.logger.Warnf("Failed to deregister environment for task %s: %v", taskID, err)
		}
	}
}

// appendAgentMessage logs an agent-role entry to the task's conversation.
// Message logging must never fail the pipeline.
func (s *Service) appendAgentMessage(taskID, content string) {
	if err := s.store.SaveMessage(models.TaskMessage{
		TaskID:  taskID,
		Role:    models.AgentMessageRole,
		Content: content,
	}); err != nil {
		s.logger.Warnf("Failed to append message for task %s: %v", taskID, err)
	}
}
