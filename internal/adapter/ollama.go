package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultOllamaHost       = "http://localhost:11434"
	defaultOllamaModel      = "llama3.2"
	defaultOllamaEmbedModel = "nomic-embed-text"
)

// ollamaAdapter implements LLMAdapter for a local Ollama instance.
type ollamaAdapter struct {
	host       string
	model      string
	embedModel string
	client     *http.Client
}

// NewOllama creates an Ollama adapter. opts.BaseURL is the Ollama host.
func NewOllama(opts Options) LLMAdapter {
	host := opts.BaseURL
	if host == "" {
		host = defaultOllamaHost
	}
	model := opts.Model
	if model == "" {
		model = defaultOllamaModel
	}
	embed := opts.EmbedModel
	if embed == "" {
		embed = defaultOllamaEmbedModel
	}
	return &ollamaAdapter{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		embedModel: embed,
		client:     &http.Client{},
	}
}

func (o *ollamaAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               o.model,
		Provider:           ProviderOllama,
		MaxContextWindow:   32768,
		SupportsStreaming:  true,
		EmbeddingDimension: 768,
	}
}

// ollamaEmbedRequest is the request body for the Ollama embed API.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the response from the Ollama embed API.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// post sends a JSON body to an Ollama endpoint and returns the response for
// the caller to read and close. Non-200 responses are errors.
func (o *ollamaAdapter) post(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return resp, nil
}

func (o *ollamaAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.post(ctx, "/api/embed", ollamaEmbedRequest{Model: o.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("adapter: ollama embed: %w", err)
	}
	defer resp.Body.Close()

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("adapter: ollama embed: decode: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("adapter: ollama embed: got %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

// ollamaChatRequest is the request body for the Ollama chat API.
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatChunk is a single streamed response chunk.
type ollamaChatChunk struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (o *ollamaAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := make([]ollamaChatMessage, 0, 3)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	if req.Context != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: wrapContext(req.Context)})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.UserMessage})

	chat := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   req.Stream,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		chat.Options["num_predict"] = req.MaxTokens
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)

		resp, err := o.post(ctx, "/api/chat", chat)
		if err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("adapter: ollama complete: %w", err)}
			return
		}
		defer resp.Body.Close()

		// Streaming or not, the body is newline-delimited chat chunks.
		lines := bufio.NewScanner(resp.Body)
		lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for lines.Scan() {
			if len(bytes.TrimSpace(lines.Bytes())) == 0 {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal(lines.Bytes(), &chunk); err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("adapter: ollama stream: decode: %w", err)}
				return
			}
			if chunk.Message.Content != "" {
				ch <- StreamChunk{Text: chunk.Message.Content}
			}
			if chunk.Done {
				return
			}
		}
		if err := lines.Err(); err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("adapter: ollama stream: %w", err)}
		}
	}()

	return ch, nil
}
