package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const defaultClaudeModel = "claude-sonnet-4-6"

var errEmbedUnsupported = errors.New("adapter: claude has no embeddings API; set embed.provider to openai or ollama")

type claudeAdapter struct {
	client *anthropic.Client
	model  string
}

// NewClaude creates a Claude adapter. It can complete but not embed.
func NewClaude(opts Options) LLMAdapter {
	var clientOpts []anthropic.ClientOption
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}
	a := &claudeAdapter{
		client: anthropic.NewClient(opts.APIKey, clientOpts...),
		model:  opts.Model,
	}
	if a.model == "" {
		a.model = defaultClaudeModel
	}
	return a
}

func (c *claudeAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:              c.model,
		Provider:          ProviderClaude,
		MaxContextWindow:  200000,
		SupportsStreaming: true,
	}
}

func (c *claudeAdapter) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errEmbedUnsupported
}

// messagesRequest puts retrieved context ahead of the question in the single
// user turn; the system prompt travels separately.
func (c *claudeAdapter) messagesRequest(req CompletionRequest) anthropic.MessagesRequest {
	user := req.UserMessage
	if req.Context != "" {
		user = wrapContext(req.Context) + "\n\n" + req.UserMessage
	}
	mr := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		System:    req.SystemPrompt,
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(user)},
		}},
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		mr.Temperature = &t
	}
	return mr
}

func (c *claudeAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	mr := c.messagesRequest(req.resolve(c.model))

	if !req.Stream {
		return single(func() (string, error) {
			resp, err := c.client.CreateMessages(ctx, mr)
			if err != nil {
				return "", fmt.Errorf("adapter: claude complete: %w", err)
			}
			var b strings.Builder
			for _, block := range resp.Content {
				if block.Type == anthropic.MessagesContentTypeText {
					b.WriteString(block.GetText())
				}
			}
			return b.String(), nil
		}), nil
	}

	// go-anthropic streams through callbacks rather than a reader.
	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		_, err := c.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
			MessagesRequest: mr,
			OnContentBlockDelta: func(d anthropic.MessagesEventContentBlockDeltaData) {
				if d.Delta.Type == anthropic.MessagesContentTypeTextDelta {
					ch <- StreamChunk{Text: d.Delta.GetText()}
				}
			},
		})
		if err != nil && !errors.Is(err, io.EOF) {
			ch <- StreamChunk{Error: fmt.Errorf("adapter: claude stream: %w", err)}
		}
	}()
	return ch, nil
}
