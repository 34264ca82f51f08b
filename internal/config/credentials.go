package config

import (
	"context"
	"os"

	"github.com/agenticassets/AA-coding-agent/pkg/orchestrator"
)

// EnvCredentialSource resolves credentials from the process environment. It
// serves single-tenant deployments where every task runs under one set of
// keys; multi-tenant deployments plug in their own CredentialSource backed by
// the encrypted credential store.
type EnvCredentialSource struct {
	MaxDurationMinutes int
}

func (e EnvCredentialSource) Resolve(ctx context.Context, userID string) (orchestrator.Credentials, error) {
	keys := map[string]string{}
	for env, provider := range map[string]string{
		"ANTHROPIC_API_KEY": "anthropic",
		"OPENAI_API_KEY":    "openai",
		"GEMINI_API_KEY":    "gemini",
	} {
		if v := os.Getenv(env); v != "" {
			keys[provider] = v
		}
	}
	return orchestrator.Credentials{
		GitToken:           os.Getenv("GIT_TOKEN"),
		ModelAPIKeys:       keys,
		MaxDurationMinutes: e.MaxDurationMinutes,
	}, nil
}
