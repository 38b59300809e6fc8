package adapter

import "context"

// Embedder is a narrower interface for components that only need embedding,
// not full chat completion. An LLMAdapter satisfies this interface.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder returns the embedder for provider. Claude has no embedding API,
// so only openai and ollama are accepted.
func NewEmbedder(opts Options) (Embedder, error) {
	if opts.Provider == ProviderClaude {
		return nil, errEmbedUnsupported
	}
	return New(opts)
}
