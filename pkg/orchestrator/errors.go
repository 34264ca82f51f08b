package orchestrator

import "github.com/pkg/errors"

var (
	// ErrAlreadyProcessing rejects a start request for a task that already
	// has an active run.
	ErrAlreadyProcessing = errors.New("task is already processing")

	// ErrAlreadyTerminal rejects a start request for a task that already
	// reached completed, error or stopped.
	ErrAlreadyTerminal = errors.New("task has already finished")

	// ErrNotProcessing rejects a stop request for a task with no active run.
	ErrNotProcessing = errors.New("task is not processing")

	// ErrUnauthorized rejects a request carrying neither the internal
	// service credential nor the owning user's id.
	ErrUnauthorized = errors.New("unauthorized")

	// errCancelled is the pipeline's clean early exit after observing a
	// cooperative stop. It never surfaces as a task error.
	errCancelled = errors.New("run cancelled")
)
