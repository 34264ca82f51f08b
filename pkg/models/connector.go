package models

// Connector describes one external integration enabled for a user, made
// available to the agent for a single run. Settings hold connection secrets
// decrypted at run start; they are never persisted in decrypted form.
type Connector struct {
	Provider string            `json:"provider"`
	Settings map[string]string `json:"settings,omitempty"`
}
