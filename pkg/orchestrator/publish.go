package orchestrator

import (
	"context"

	"github.com/agenticassets/AA-coding-agent/internal/generate"
	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/pkg/errors"
)

// publish derives a commit message from the agent's reported output and
// pushes the changes to the task branch. Outcomes: fully pushed, committed
// but not pushed (recoverable, the task still completes), or the push step
// itself failed (surfaces through the pipeline's error handling).
func (s *Service) publish(ctx context.Context, task models.Task, sandboxID string, execRes ExecuteResult) error {
	msg := ""
	if s.gen != nil {
		m, err := s.gen.CommitMessage(ctx, task.Prompt, execRes.Output)
		if err != nil || m == "" {
			s.logger.Warnf("Commit message generation for task %s failed: %v", task.ID, err)
		} else {
			msg = m
		}
	}
	if msg == "" {
		msg = generate.FallbackCommitMessage(task.Prompt)
	}

	// Read the branch fresh from the store: an async-generated name may have
	// replaced the placeholder the environment was created with.
	branch := task.BranchName
	if t, err := s.store.GetTask(task.ID, ""); err == nil && t.BranchName != "" {
		branch = t.BranchName
	}

	res, err := s.pusher.Push(ctx, sandboxID, branch, msg)
	if err != nil {
		return errors.Wrap(err, "failed to publish results")
	}
	if res.PushFailed {
		s.logger.Warnf("Task %s: changes were committed but could not be pushed to %s", task.ID, branch)
		s.appendAgentMessage(task.ID, "Changes were committed but could not be pushed to the remote.")
		return nil
	}
	if !res.Success {
		return errors.New("failed to publish results")
	}
	s.logger.Infof("Task %s: pushed changes to branch %s", task.ID, branch)
	return nil
}
