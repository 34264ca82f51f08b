package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agenticassets/AA-coding-agent/pkg/orchestrator"
	"github.com/pkg/errors"
)

// Client talks to the external environment provisioner's REST API. It
// implements the orchestrator's SandboxManager, AgentRunner and Pusher
// capabilities; the sandbox itself lives entirely behind that service.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	pollInterval time.Duration
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		// No client timeout: creation and agent runs are multi-minute calls
		// bounded by the caller's context.
		http:         &http.Client{},
		pollInterval: 2 * time.Second,
	}
}

type createRequest struct {
	TaskID          string `json:"task_id"`
	RepoURL         string `json:"repo_url,omitempty"`
	GitToken        string `json:"git_token,omitempty"`
	Branch          string `json:"branch,omitempty"`
	Ports           []int  `json:"ports,omitempty"`
	MachineSize     string `json:"machine_size,omitempty"`
	RunLimitMinutes int    `json:"run_limit_minutes,omitempty"`
	InstallDeps     bool   `json:"install_deps"`
	KeepAlive       bool   `json:"keep_alive"`
}

type environmentState struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // creating | installing | ready | failed
	URL      string `json:"url"`
	Branch   string `json:"branch"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Error    string `json:"error"`
}

// Create provisions an environment and polls until it is ready. The
// cancellation callback is checked on every poll so a stop request during a
// long step, such as dependency installation, produces a clean cancelled
// result instead of an error.
func (c *Client) Create(ctx context.Context, p orchestrator.CreateParams) (orchestrator.CreateResult, error) {
	var state environmentState
	err := c.do(ctx, http.MethodPost, "/v1/environments", createRequest{
		TaskID:          p.TaskID,
		RepoURL:         p.RepoURL,
		GitToken:        p.GitToken,
		Branch:          p.BranchName,
		Ports:           p.Ports,
		MachineSize:     p.MachineSize,
		RunLimitMinutes: p.RunLimitMinutes,
		InstallDeps:     p.InstallDeps,
		KeepAlive:       p.KeepAlive,
	}, &state)
	if err != nil {
		return orchestrator.CreateResult{}, err
	}

	for {
		switch state.Status {
		case "ready":
			return orchestrator.CreateResult{
				Success:   true,
				SandboxID: state.ID,
				URL:       state.URL,
				Branch:    state.Branch,
			}, nil
		case "failed":
			return orchestrator.CreateResult{SandboxID: state.ID, Err: state.Error}, nil
		}

		if p.OnProgress != nil {
			p.OnProgress(state.Progress, state.Message)
		}
		if p.Cancelled != nil && p.Cancelled() {
			// Cleanup is best effort; the run is over either way.
			_ = c.Shutdown(ctx, state.ID)
			return orchestrator.CreateResult{SandboxID: state.ID, Cancelled: true}, nil
		}

		select {
		case <-ctx.Done():
			return orchestrator.CreateResult{SandboxID: state.ID}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		if err := c.do(ctx, http.MethodGet, "/v1/environments/"+state.ID, nil, &state); err != nil {
			return orchestrator.CreateResult{SandboxID: state.ID}, err
		}
	}
}

func (c *Client) Shutdown(ctx context.Context, sandboxID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/environments/"+sandboxID, nil, nil)
}

type executeRequest struct {
	TaskID     string            `json:"task_id"`
	UserID     string            `json:"user_id"`
	Prompt     string            `json:"prompt"`
	Agent      string            `json:"agent"`
	Model      string            `json:"model,omitempty"`
	Connectors []json.RawMessage `json:"connectors,omitempty"`
}

type executeResponse struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	AgentResponse string `json:"agent_response"`
	Error         string `json:"error"`
}

// Execute runs the selected agent CLI inside the environment. The call blocks
// for the whole agent run; the caller's context bounds it.
func (c *Client) Execute(ctx context.Context, p orchestrator.ExecuteParams) (orchestrator.ExecuteResult, error) {
	connectors := make([]json.RawMessage, 0, len(p.Connectors))
	for _, conn := range p.Connectors {
		raw, err := json.Marshal(conn)
		if err != nil {
			return orchestrator.ExecuteResult{}, errors.Wrap(err, "encode connector")
		}
		connectors = append(connectors, raw)
	}
	var resp executeResponse
	err := c.do(ctx, http.MethodPost, "/v1/environments/"+p.SandboxID+"/agent", executeRequest{
		TaskID:     p.TaskID,
		UserID:     p.UserID,
		Prompt:     p.Prompt,
		Agent:      string(p.Agent),
		Model:      p.Model,
		Connectors: connectors,
	}, &resp)
	if err != nil {
		return orchestrator.ExecuteResult{}, err
	}
	return orchestrator.ExecuteResult{
		Success:       resp.Success,
		Output:        resp.Output,
		AgentResponse: resp.AgentResponse,
		Err:           resp.Error,
	}, nil
}

type pushRequest struct {
	Branch  string `json:"branch"`
	Message string `json:"message"`
}

type pushResponse struct {
	Success    bool `json:"success"`
	PushFailed bool `json:"push_failed"`
}

func (c *Client) Push(ctx context.Context, sandboxID, branch, commitMessage string) (orchestrator.PushResult, error) {
	var resp pushResponse
	err := c.do(ctx, http.MethodPost, "/v1/environments/"+sandboxID+"/push", pushRequest{
		Branch:  branch,
		Message: commitMessage,
	}, &resp)
	if err != nil {
		return orchestrator.PushResult{}, err
	}
	return orchestrator.PushResult{Success: resp.Success, PushFailed: resp.PushFailed}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox API %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
