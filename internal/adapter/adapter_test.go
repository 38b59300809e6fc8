package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		provider string
		key      string
	}{
		{ProviderClaude, "sk-ant"},
		{ProviderOpenAI, "sk-oa"},
		{ProviderOllama, ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			a, err := New(Options{Provider: tt.provider, APIKey: tt.key})
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.provider, err)
			}
			if got := a.Info().Provider; got != tt.provider {
				t.Errorf("Info().Provider = %q, want %q", got, tt.provider)
			}
		})
	}
}

func TestNew_MissingKey(t *testing.T) {
	for _, p := range []string{ProviderClaude, ProviderOpenAI} {
		_, err := New(Options{Provider: p})
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("New(%q) without key: got %v, want ErrNoAPIKey", p, err)
		}
	}
}

func TestNew_InvalidProvider(t *testing.T) {
	if _, err := New(Options{Provider: "gemini"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_ModelOverride(t *testing.T) {
	a, err := New(Options{Provider: ProviderOpenAI, APIKey: "k", Model: "gpt-4.1"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Info().Name != "gpt-4.1" {
		t.Errorf("Info().Name = %q", a.Info().Name)
	}
}

func TestNewEmbedder_RejectsClaude(t *testing.T) {
	if _, err := NewEmbedder(Options{Provider: ProviderClaude, APIKey: "k"}); err == nil {
		t.Error("expected claude embedder to be rejected")
	}
}

func TestOllama_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		fmt.Fprint(w, `{"embeddings":[[0.1,0.2],[0.3,0.4]]}`)
	}))
	defer server.Close()

	a := NewOllama(Options{BaseURL: server.URL + "/"})
	vecs, err := a.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 0.3 {
		t.Errorf("unexpected vectors %v", vecs)
	}
}

func TestOllama_CompleteText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "qwen2.5" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 3 {
			t.Errorf("expected system, context and user messages, got %d", len(req.Messages))
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"there"},"done":true}`)
	}))
	defer server.Close()

	a := NewOllama(Options{BaseURL: server.URL, Model: "qwen2.5"})
	text, err := CompleteText(context.Background(), a, CompletionRequest{
		SystemPrompt: "be brief",
		Context:      "memory",
		UserMessage:  "hi",
	})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if text != "Hello there" {
		t.Errorf("got %q", text)
	}
}

func TestOllama_CompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := CompleteText(context.Background(), NewOllama(Options{BaseURL: server.URL}), CompletionRequest{UserMessage: "hi"})
	if err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestOpenAI_CompleteText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"synthesized answer"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	a := NewOpenAI(Options{APIKey: "k", BaseURL: server.URL + "/v1"})
	text, err := CompleteText(context.Background(), a, CompletionRequest{UserMessage: "q"})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if text != "synthesized answer" {
		t.Errorf("got %q", text)
	}
}

func TestOpenAI_EmbedKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[2]},
			{"object":"embedding","index":0,"embedding":[1]}
		]}`)
	}))
	defer server.Close()

	a := NewOpenAI(Options{APIKey: "k", BaseURL: server.URL + "/v1"})
	vecs, err := a.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("unexpected order %v", vecs)
	}
}
