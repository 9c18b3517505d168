// Package providers defines the model provider contract and its
// implementations.
package providers

import "context"

// AuthType describes how a provider authenticates.
type AuthType string

const (
	// AuthAPIKey providers authenticate with a static API key.
	AuthAPIKey AuthType = "api_key"
	// AuthLogin providers require an interactive login session.
	AuthLogin AuthType = "login"
	// AuthHybrid providers accept either an API key or a login session.
	AuthHybrid AuthType = "hybrid"
)

// Context carries per-request generation knobs.
type Context struct {
	// Model overrides the provider's default model when non-empty.
	Model string
	// System is an optional system prompt.
	System string
	// Temperature in [0,1]; zero means provider default.
	Temperature float64
	// MaxTokens caps the completion; zero means provider default.
	MaxTokens int
	// Stream requests streamed generation when the provider supports it.
	Stream bool
	// AccountID identifies the rotated account serving this request.
	AccountID string
}

// Provider generates text for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, pc Context) (string, error)
	SupportsStreaming() bool
	AuthType() AuthType
}
