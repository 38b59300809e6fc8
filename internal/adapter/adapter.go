// Package adapter provides a unified interface for LLM providers and embedders.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ErrNoAPIKey means a hosted provider was selected without a key.
var ErrNoAPIKey = errors.New("adapter: no API key configured")

// StreamChunk is a single token or error delivered during streaming.
type StreamChunk struct {
	Text  string
	Error error
}

// CompletionRequest holds the parameters for a completion call.
type CompletionRequest struct {
	SystemPrompt string
	Context      string
	UserMessage  string
	Model        string
	MaxTokens    int
	Temperature  float64
	Stream       bool
}

// ModelInfo describes the capabilities of a model.
type ModelInfo struct {
	Name               string
	Provider           string
	MaxContextWindow   int
	SupportsStreaming  bool
	EmbeddingDimension int // 0 if the adapter cannot embed
}

// LLMAdapter is the common interface all provider adapters implement.
type LLMAdapter interface {
	// Complete sends a prompt and streams the response.
	Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Info returns metadata about the adapter/model.
	Info() ModelInfo
}

// Options selects and configures a provider.
type Options struct {
	Provider   string
	Model      string // chat model; provider default when empty
	EmbedModel string // embedding model; provider default when empty
	APIKey     string
	BaseURL    string // API endpoint override; the Ollama host for ollama
}

// New constructs the LLMAdapter for opts.Provider. Hosted providers without a
// key fail with ErrNoAPIKey.
func New(opts Options) (LLMAdapter, error) {
	switch opts.Provider {
	case ProviderClaude:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w for %s (set ANTHROPIC_API_KEY)", ErrNoAPIKey, opts.Provider)
		}
		return NewClaude(opts), nil
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w for %s (set OPENAI_API_KEY)", ErrNoAPIKey, opts.Provider)
		}
		return NewOpenAI(opts), nil
	case ProviderOllama:
		return NewOllama(opts), nil
	default:
		return nil, fmt.Errorf("adapter: unknown provider %q; valid providers: claude, openai, ollama", opts.Provider)
	}
}

const defaultMaxTokens = 1000

// resolve fills the per-provider defaults for model and token limit.
func (r CompletionRequest) resolve(model string) CompletionRequest {
	if r.Model == "" {
		r.Model = model
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = defaultMaxTokens
	}
	return r
}

func wrapContext(s string) string {
	return "<context>\n" + s + "\n</context>"
}

// single delivers the result of a blocking call as a one-chunk stream.
func single(fn func() (string, error)) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		text, err := fn()
		if err != nil {
			ch <- StreamChunk{Error: err}
			return
		}
		ch <- StreamChunk{Text: text}
	}()
	return ch
}

// CompleteText runs a non-streaming completion and returns the full text.
func CompleteText(ctx context.Context, a LLMAdapter, req CompletionRequest) (string, error) {
	req.Stream = false
	ch, err := a.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}
