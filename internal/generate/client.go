package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the external generation service for branch names, titles and
// commit messages. Every call site pairs it with a deterministic fallback, so
// the client keeps a short timeout and never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type generateRequest struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
	Output string `json:"output,omitempty"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (c *Client) BranchName(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{Kind: "branch_name", Prompt: prompt})
}

func (c *Client) Title(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{Kind: "title", Prompt: prompt})
}

func (c *Client) CommitMessage(ctx context.Context, prompt, output string) (string, error) {
	return c.generate(ctx, generateRequest{Kind: "commit_message", Prompt: prompt, Output: output})
}

func (c *Client) generate(ctx context.Context, reqBody generateRequest) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation service: unexpected status %d", resp.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}
