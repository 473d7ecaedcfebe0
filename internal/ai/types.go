// Package ai routes generation-pipeline completions to model providers.
// One client per provider, one live configuration plus one fallback, and a
// single non-streaming request/response contract.
package ai

import (
	"context"
	"errors"
	"time"
)

// Provider identifiers persisted in AIProviderConfig.Provider.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var (
	// ErrUnknownProvider means a stored configuration names a provider this
	// build has no client for.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrMalformedResponse means no JSON structure could be recovered from the
	// model's text.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrNoActiveProvider means the config store has no active configuration
	// with credentials.
	ErrNoActiveProvider = errors.New("no active provider configured")
)

// Image is an optional side-channel attachment for multimodal prompts.
type Image struct {
	MediaType  string `json:"media_type"` // e.g. image/png
	DataBase64 string `json:"data"`
}

// CompletionRequest is one logical model call. Operation labels the pipeline
// stage for usage attribution ("classify", "build_step", ...).
type CompletionRequest struct {
	Operation         string
	Prompt            string
	SystemInstruction string
	Images            []Image
	MaxTokens         int
	Temperature       float32

	UserID    uint
	ProjectID uint
}

// Usage is the per-call usage result consumed by the billing collaborator.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
}

// CompletionResult is the full text of one provider answer plus its usage.
// There is no partial-result contract: callers get the whole text or an error.
type CompletionResult struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

// ProviderClient executes a single completion against one provider backend.
type ProviderClient interface {
	Complete(ctx context.Context, apiKey, model string, req *CompletionRequest) (*CompletionResult, error)
	Provider() string
}

// UsageRecorder receives usage for every call that actually executed. The
// operation label carries a "_fallback" suffix when the fallback provider
// answered.
type UsageRecorder interface {
	Record(ctx context.Context, userID, projectID uint, operation string, usage Usage, duration time.Duration)
}
