package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiDims is the vector width of the embedding models we know about.
var openaiDims = map[openai.EmbeddingModel]int{
	openai.AdaEmbeddingV2:  1536,
	openai.SmallEmbedding3: 1536,
	openai.LargeEmbedding3: 3072,
}

// openaiAdapter talks to OpenAI or any endpoint speaking its API.
type openaiAdapter struct {
	client     *openai.Client
	model      string
	embedModel openai.EmbeddingModel
}

// NewOpenAI creates an OpenAI adapter. opts.BaseURL points it at a
// compatible endpoint.
func NewOpenAI(opts Options) LLMAdapter {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	a := &openaiAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		embedModel: openai.EmbeddingModel(opts.EmbedModel),
	}
	if a.model == "" {
		a.model = defaultOpenAIModel
	}
	if a.embedModel == "" {
		a.embedModel = openai.SmallEmbedding3
	}
	return a
}

func (o *openaiAdapter) Info() ModelInfo {
	dim, ok := openaiDims[o.embedModel]
	if !ok {
		dim = 1536
	}
	return ModelInfo{
		Name:               o.model,
		Provider:           ProviderOpenAI,
		MaxContextWindow:   128000,
		SupportsStreaming:  true,
		EmbeddingDimension: dim,
	}
}

// Embed returns one vector per text, in input order regardless of the order
// the API lists them.
func (o *openaiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: o.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter: openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("adapter: openai embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("adapter: openai embed: index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (o *openaiAdapter) chatRequest(req CompletionRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, 3)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	if req.Context != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: wrapContext(req.Context)})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage})

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
}

func (o *openaiAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	chat := o.chatRequest(req.resolve(o.model))

	if !req.Stream {
		return single(func() (string, error) {
			resp, err := o.client.CreateChatCompletion(ctx, chat)
			if err != nil {
				return "", fmt.Errorf("adapter: openai complete: %w", err)
			}
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return resp.Choices[0].Message.Content, nil
		}), nil
	}

	chat.Stream = true
	stream, err := o.client.CreateChatCompletionStream(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("adapter: openai stream: %w", err)
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			switch {
			case errors.Is(err, io.EOF):
				return
			case err != nil:
				ch <- StreamChunk{Error: fmt.Errorf("adapter: openai stream recv: %w", err)}
				return
			case len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "":
				ch <- StreamChunk{Text: resp.Choices[0].Delta.Content}
			}
		}
	}()
	return ch, nil
}
