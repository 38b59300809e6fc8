package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/memory"
)

func TestAMSClient_Upsert(t *testing.T) {
	var got struct {
		Memories    []map[string]any `json:"memories"`
		Deduplicate bool             `json:"deduplicate"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/long-term-memory/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewAMSClient(srv.URL, time.Second)
	err := c.Upsert(context.Background(), []memory.Record{{
		ID: "abc", Text: "hello", MemoryType: memory.TypeSemantic,
		Topics: []string{"go"}, Namespace: "proj", SessionID: "git-123",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	require.NoError(t, err)

	require.Len(t, got.Memories, 1)
	assert.True(t, got.Deduplicate)
	assert.Equal(t, "abc", got.Memories[0]["id"])
	assert.Equal(t, "semantic", got.Memories[0]["memory_type"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got.Memories[0]["created_at"])
}

func TestAMSClient_UpsertServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewAMSClient(srv.URL, time.Second).Upsert(context.Background(), []memory.Record{{ID: "a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientStore)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestAMSClient_ClientErrorIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewAMSClient(srv.URL, time.Second).Upsert(context.Background(), []memory.Record{{ID: "a"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransientStore)
}

func TestAMSClient_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewAMSClient(srv.URL, 20*time.Millisecond).Health(context.Background())
	assert.ErrorIs(t, err, ErrTransientStore)
}

func TestAMSClient_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewAMSClient(url, time.Second).Health(context.Background())
	assert.True(t, errors.Is(err, ErrTransientStore))
}

func TestAMSClient_Search(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/long-term-memory/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"memories":[
			{"id":"a","text":"auth uses cookies","memory_type":"semantic","topics":["auth"],"dist":0.21,"created_at":"2026-02-01T00:00:00Z"},
			{"id":"b","text":"old","memory_type":"episodic","score":0.9,"metadata":{"created_at":"2025-01-01T00:00:00Z"}}
		],"total":2}`))
	}))
	defer srv.Close()

	results, err := NewAMSClient(srv.URL, time.Second).Search(context.Background(), SearchRequest{
		Text: "auth", Limit: 5, Namespace: "proj", Topics: []string{"auth"}, MemoryType: memory.TypeSemantic,
	})
	require.NoError(t, err)

	assert.Equal(t, "auth", body["text"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, map[string]any{"eq": "proj"}, body["namespace"])
	assert.Equal(t, map[string]any{"any": []any{"auth"}}, body["topics"])
	assert.Equal(t, map[string]any{"eq": "semantic"}, body["memory_type"])
	assert.NotContains(t, body, "user_id")

	require.Len(t, results, 2)
	assert.InDelta(t, 0.21, results[0].Distance, 1e-9)
	assert.InDelta(t, 0.9, results[1].Distance, 1e-9)
	assert.Equal(t, 2025, results[1].Record.CreatedAt.Year())
}

func TestAMSClient_Delete(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		ids = r.URL.Query()["memory_ids"]
	}))
	defer srv.Close()

	require.NoError(t, NewAMSClient(srv.URL, time.Second).Delete(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestAMSClient_CountPages(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Offset int `json:"offset"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Offset == 0 {
			w.Write([]byte(`{"memories":[{"id":"a"},{"id":"b"}],"next_offset":2}`))
			return
		}
		w.Write([]byte(`{"memories":[{"id":"c"}],"next_offset":null}`))
	}))
	defer srv.Close()

	n, err := NewAMSClient(srv.URL, time.Second).Count(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, calls)
}

func TestAMSClient_SourceRefRoundTrip(t *testing.T) {
	var stored []json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/long-term-memory/":
			var in struct {
				Memories []json.RawMessage `json:"memories"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			stored = append(stored, in.Memories...)
			w.Write([]byte(`{"status":"ok"}`))
		case "/v1/long-term-memory/search":
			json.NewEncoder(w).Encode(map[string]any{"memories": stored, "total": len(stored)})
		}
	}))
	defer srv.Close()

	c := NewAMSClient(srv.URL, time.Second)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, []memory.Record{{
		ID: "k1", Text: "## Auth\nSessions live in cookies", MemoryType: memory.TypeSemantic,
		Entities: []string{"cookies"}, SessionID: memory.KnowledgeSession("notes.md"), SourceRef: "notes.md#Auth",
	}}))

	results, err := c.Search(ctx, SearchRequest{Text: "auth"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes.md#Auth", results[0].Record.SourceRef)
	assert.Equal(t, []string{"cookies"}, results[0].Record.Entities)
	assert.Equal(t, "knowledge notes.md#Auth", memory.SourceLabel(results[0].Record))
}
