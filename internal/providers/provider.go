package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// UnspecifiedConfidence is reported when a backend gives no confidence of its
// own. It is a placeholder, not a probability; ConfidenceKnown stays false.
const UnspecifiedConfidence = 1.0

type Guess struct {
	Guess           string     `json:"guess"`
	Confidence      float64    `json:"confidence"`
	ConfidenceKnown bool       `json:"confidence_known"`
	Source          SourceName `json:"provider,omitempty"`
	Raw             string     `json:"-"`
	LatencyMs       int        `json:"latency_ms,omitempty"`
}

type SourceName string

const (
	SourceOpenAI   SourceName = "OPENAI"
	SourceGemini   SourceName = "GEMINI"
	SourceInternVL SourceName = "INTERNVL"
	SourceClaude   SourceName = "CLAUDE"
)

// Provider is one remote vision backend. Guess performs exactly one outbound
// call and never retries; fallback belongs to the caller.
type Provider interface {
	Name() SourceName
	Guess(ctx context.Context, img Image) (Guess, error)
}

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrEmptyGuess        = errors.New("empty guess")
)

// ConfigError is returned by constructors when a provider cannot be built.
type ConfigError struct {
	Provider SourceName
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: config: %v", e.Provider, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options carries the per-provider client configuration. It is copied into
// the provider at construction and not changed afterwards.
type Options struct {
	Key     string
	Model   string
	BaseURL string
	Prompt  string
	Client  *http.Client
	DryRun  bool
}

func (o Options) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o Options) prompt() string {
	return BuildPrompt(o.Prompt)
}

func requireKey(name SourceName, o Options) error {
	if o.Key == "" {
		return &ConfigError{Provider: name, Err: ErrMissingCredential}
	}
	return nil
}

func dryRunGuess(name SourceName) Guess {
	return Guess{
		Guess:      "simulated guess",
		Confidence: UnspecifiedConfidence,
		Source:     name,
		LatencyMs:  1,
	}
}
