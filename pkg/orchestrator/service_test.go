package orchestrator_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/agenticassets/AA-coding-agent/pkg/orchestrator"
	"github.com/agenticassets/AA-coding-agent/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type logger struct{}

func (logger) Infof(format string, args ...interface{})  {}
func (logger) Warnf(format string, args ...interface{})  {}
func (logger) Errorf(format string, args ...interface{}) {}

type fakeSandbox struct {
	mu        sync.Mutex
	createErr error
	fail      bool
	created   []orchestrator.CreateParams
	shutdowns []string
}

func (f *fakeSandbox) Create(ctx context.Context, p orchestrator.CreateParams) (orchestrator.CreateResult, error) {
	f.mu.Lock()
	f.created = append(f.created, p)
	f.mu.Unlock()
	if f.createErr != nil {
		return orchestrator.CreateResult{}, f.createErr
	}
	if f.fail {
		return orchestrator.CreateResult{Err: "no capacity"}, nil
	}
	if p.Cancelled != nil && p.Cancelled() {
		return orchestrator.CreateResult{Cancelled: true}, nil
	}
	return orchestrator.CreateResult{
		Success:   true,
		SandboxID: "sbx-" + p.TaskID,
		URL:       "https://sbx.example.com/" + p.TaskID,
		Branch:    p.BranchName,
	}, nil
}

func (f *fakeSandbox) Shutdown(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, sandboxID)
	return nil
}

func (f *fakeSandbox) createdParams() []orchestrator.CreateParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]orchestrator.CreateParams, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeSandbox) shutdownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shutdowns)
}

type fakeAgent struct {
	mu      sync.Mutex
	block   chan struct{} // when non-nil, Execute waits for close or ctx
	result  orchestrator.ExecuteResult
	err     error
	prompts []string
}

func (f *fakeAgent) Execute(ctx context.Context, p orchestrator.ExecuteParams) (orchestrator.ExecuteResult, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p.Prompt)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return orchestrator.ExecuteResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakePusher struct {
	mu       sync.Mutex
	result   orchestrator.PushResult
	err      error
	branches []string
}

func (f *fakePusher) Push(ctx context.Context, sandboxID, branch, commitMessage string) (orchestrator.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, branch)
	return f.result, f.err
}

func (f *fakePusher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.branches)
}

type fakeGen struct {
	branch      string
	branchDelay time.Duration
	branchErr   error
	title       string
	commitMsg   string
}

func (f *fakeGen) BranchName(ctx context.Context, prompt string) (string, error) {
	if f.branchDelay > 0 {
		select {
		case <-time.After(f.branchDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.branch, f.branchErr
}

func (f *fakeGen) Title(ctx context.Context, prompt string) (string, error) {
	return f.title, nil
}

func (f *fakeGen) CommitMessage(ctx context.Context, prompt, output string) (string, error) {
	return f.commitMsg, nil
}

type staticCreds struct {
	creds orchestrator.Credentials
}

func (s staticCreds) Resolve(ctx context.Context, userID string) (orchestrator.Credentials, error) {
	return s.creds, nil
}

func testConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxDurationMinutes:     60,
		DefaultDurationMinutes: 30,
		PollInterval:           10 * time.Millisecond,
		BranchNameWait:         200 * time.Millisecond,
	}
}

func waitForStatus(t *testing.T, store storage.Store, taskID string, status models.TaskStatus) models.Task {
	t.Helper()
	var task models.Task
	assert.Eventually(t, func() bool {
		var err error
		task, err = store.GetTask(taskID, "")
		return err == nil && task.Status == status
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached status %s", taskID, status)
	return task
}

func newTask(store storage.Store, task models.Task) string {
	if task.UserID == "" {
		task.UserID = "u1"
	}
	if task.Prompt == "" {
		task.Prompt = "say hi"
	}
	id, _ := store.CreateTask(task)
	return id
}

func TestStartTaskPreconditions(t *testing.T) {
	store := storage.NewMockStore()
	sb := &fakeSandbox{}
	svc := orchestrator.NewService(context.Background(), store, sb, &fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	t.Run("NotFound", func(t *testing.T) {
		_, err := svc.StartTask(context.Background(), "missing", "u1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("WrongOwner", func(t *testing.T) {
		id := newTask(store, models.Task{})
		_, err := svc.StartTask(context.Background(), id, "someone-else")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("AlreadyProcessing", func(t *testing.T) {
		id := newTask(store, models.Task{Status: models.ProcessingTaskStatus})
		_, err := svc.StartTask(context.Background(), id, "u1")
		assert.ErrorIs(t, err, orchestrator.ErrAlreadyProcessing)
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		id := newTask(store, models.Task{Status: models.CompletedTaskStatus})
		_, err := svc.StartTask(context.Background(), id, "u1")
		assert.ErrorIs(t, err, orchestrator.ErrAlreadyTerminal)
	})
}

func TestStandaloneTaskCompletes(t *testing.T) {
	store := storage.NewMockStore()
	sb := &fakeSandbox{}
	pusher := &fakePusher{}
	svc := orchestrator.NewService(context.Background(), store, sb,
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true, AgentResponse: "hi"}},
		pusher, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{Prompt: "say hi", MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	task := waitForStatus(t, store, id, models.CompletedTaskStatus)
	assert.Equal(t, 100, task.Progress)
	assert.Empty(t, task.ErrorMsg)
	assert.NotNil(t, task.CompletedAt)

	// Standalone: publication never attempted, no ports prepared.
	assert.Equal(t, 0, pusher.callCount())
	params := sb.createdParams()
	assert.Len(t, params, 1)
	assert.Empty(t, params[0].Ports)

	// Environment torn down (no keep-alive).
	assert.GreaterOrEqual(t, sb.shutdownCount(), 1)

	// Agent response logged to the conversation.
	msgs, err := store.ListMessages(id)
	assert.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, models.AgentMessageRole, msgs[0].Role)
}

func TestProvisioningFailureSetsError(t *testing.T) {
	store := storage.NewMockStore()
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{fail: true},
		&fakeAgent{}, &fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	task := waitForStatus(t, store, id, models.ErrorTaskStatus)
	assert.Contains(t, task.ErrorMsg, "environment provisioning failed")
}

func TestAgentFailureSetsError(t *testing.T) {
	store := storage.NewMockStore()
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{err: errors.New("agent crashed")}, &fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	task := waitForStatus(t, store, id, models.ErrorTaskStatus)
	assert.Contains(t, task.ErrorMsg, "agent execution failed")
}

func TestStopDuringAgentInvocationStaysSticky(t *testing.T) {
	store := storage.NewMockStore()
	sb := &fakeSandbox{}
	block := make(chan struct{})
	agent := &fakeAgent{block: block, err: errors.New("connection reset")}
	svc := orchestrator.NewService(context.Background(), store, sb, agent,
		&fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	// Wait until the agent invocation is in flight.
	assert.Eventually(t, func() bool {
		task, err := store.GetTask(id, "")
		return err == nil && task.SandboxID != ""
	}, 5*time.Second, 10*time.Millisecond)

	stopped, err := svc.StopTask(context.Background(), id, "u1")
	assert.NoError(t, err)
	assert.Equal(t, models.StoppedTaskStatus, stopped.Status)

	// The in-flight call now throws; the pipeline must classify it as the
	// stop, not overwrite the status with an error.
	close(block)

	time.Sleep(100 * time.Millisecond)
	task, err := store.GetTask(id, "")
	assert.NoError(t, err)
	assert.Equal(t, models.StoppedTaskStatus, task.Status)
	assert.GreaterOrEqual(t, sb.shutdownCount(), 1)
}

func TestStopRejectsNonProcessingTask(t *testing.T) {
	store := storage.NewMockStore()
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{}, &fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{})
	_, err := svc.StopTask(context.Background(), id, "u1")
	assert.ErrorIs(t, err, orchestrator.ErrNotProcessing)
}

func TestPublicationPushedOnSuccess(t *testing.T) {
	store := storage.NewMockStore()
	pusher := &fakePusher{result: orchestrator.PushResult{Success: true}}
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true, Output: "did things"}},
		pusher, nil, staticCreds{creds: orchestrator.Credentials{GitToken: "tok"}}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{RepoURL: "https://example.com/repo.git", MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	task := waitForStatus(t, store, id, models.CompletedTaskStatus)
	assert.Equal(t, 1, pusher.callCount())
	// No generator configured: the deterministic fallback branch was used.
	assert.True(t, strings.HasPrefix(task.BranchName, "agent/"), "branch %q", task.BranchName)
}

func TestPublicationDegradedStillCompletes(t *testing.T) {
	store := storage.NewMockStore()
	pusher := &fakePusher{result: orchestrator.PushResult{Success: false, PushFailed: true}}
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		pusher, nil, staticCreds{creds: orchestrator.Credentials{GitToken: "tok"}}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{RepoURL: "https://example.com/repo.git", MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)

	msgs, err := store.ListMessages(id)
	assert.NoError(t, err)
	found := false
	for _, m := range msgs {
		if strings.Contains(m.Content, "could not be pushed") {
			found = true
		}
	}
	assert.True(t, found, "expected a non-fatal could-not-push message")
}

func TestPublicationSkippedWithoutToken(t *testing.T) {
	store := storage.NewMockStore()
	pusher := &fakePusher{}
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		pusher, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{RepoURL: "https://example.com/repo.git", MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)
	assert.Equal(t, 0, pusher.callCount())
}

func TestBranchNameFromGeneratorWithinGrace(t *testing.T) {
	store := storage.NewMockStore()
	sb := &fakeSandbox{}
	gen := &fakeGen{branch: "feat/add-greeting", branchDelay: 50 * time.Millisecond, title: "Add greeting", commitMsg: "Add greeting"}
	svc := orchestrator.NewService(context.Background(), store, sb,
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{result: orchestrator.PushResult{Success: true}}, gen,
		staticCreds{creds: orchestrator.Credentials{GitToken: "tok"}}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{RepoURL: "https://example.com/repo.git", MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)
	params := sb.createdParams()
	assert.Len(t, params, 1)
	assert.Equal(t, "feat/add-greeting", params[0].BranchName)
}

func TestBranchNameFallbackWhenGeneratorMissesGrace(t *testing.T) {
	store := storage.NewMockStore()
	sb := &fakeSandbox{}
	// Generation takes far longer than the grace window.
	gen := &fakeGen{branch: "feat/too-late", branchDelay: 2 * time.Second, title: "Late", commitMsg: "Late"}
	svc := orchestrator.NewService(context.Background(), store, sb,
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{result: orchestrator.PushResult{Success: true}}, gen,
		staticCreds{creds: orchestrator.Credentials{GitToken: "tok"}}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{RepoURL: "https://example.com/repo.git", MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)
	params := sb.createdParams()
	assert.Len(t, params, 1)
	// The environment was created with the fallback; the late AI name must
	// not retroactively change the environment's branch.
	assert.True(t, strings.HasPrefix(params[0].BranchName, "agent/"), "branch %q", params[0].BranchName)
}

func TestTitleGeneratedForStandaloneTask(t *testing.T) {
	store := storage.NewMockStore()
	gen := &fakeGen{branch: "feat/greeting", title: "Say hi politely", commitMsg: "Say hi"}
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{}, gen, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)

	// Title derivation is independent of branch handling, which standalone
	// tasks skip entirely.
	assert.Eventually(t, func() bool {
		task, err := store.GetTask(id, "")
		return err == nil && task.Title == "Say hi politely"
	}, 5*time.Second, 10*time.Millisecond, "standalone task never got a title")
}

func TestTitleGeneratedWhenBranchPreset(t *testing.T) {
	store := storage.NewMockStore()
	gen := &fakeGen{branch: "feat/unused", title: "Fix the login bug", commitMsg: "Fix"}
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{result: orchestrator.PushResult{Success: true}}, gen,
		staticCreds{creds: orchestrator.Credentials{GitToken: "tok"}}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{
		RepoURL:            "https://example.com/repo.git",
		BranchName:         "feat/preset",
		MaxDurationMinutes: 5,
	})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)
	assert.Eventually(t, func() bool {
		task, err := store.GetTask(id, "")
		return err == nil && task.Title == "Fix the login bug"
	}, 5*time.Second, 10*time.Millisecond, "task with a preset branch never got a title")
}

func TestProgressIsMonotonic(t *testing.T) {
	store := storage.NewMockStore()
	svc := orchestrator.NewService(context.Background(), store, &fakeSandbox{},
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	last := 0
	assert.Eventually(t, func() bool {
		task, err := store.GetTask(id, "")
		if err != nil {
			return false
		}
		assert.GreaterOrEqual(t, task.Progress, last)
		last = task.Progress
		return task.Status == models.CompletedTaskStatus
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 100, last)
}

func TestKeepAliveSkipsTeardownOnSuccess(t *testing.T) {
	store := storage.NewMockStore()
	sb := &fakeSandbox{}
	svc := orchestrator.NewService(context.Background(), store, sb,
		&fakeAgent{result: orchestrator.ExecuteResult{Success: true}},
		&fakePusher{}, nil, staticCreds{}, nil, logger{}, testConfig())

	id := newTask(store, models.Task{KeepAlive: true, MaxDurationMinutes: 5})
	_, err := svc.StartTask(context.Background(), id, "u1")
	assert.NoError(t, err)

	waitForStatus(t, store, id, models.CompletedTaskStatus)
	assert.Equal(t, 0, sb.shutdownCount())
}
