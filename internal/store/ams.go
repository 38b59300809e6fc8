package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devmemory/devmemory/internal/memory"
)

const countPageSize = 100

// AMSClient talks to an agent-memory-server instance.
type AMSClient struct {
	baseURL     string
	client      *http.Client
	deduplicate bool
}

// NewAMSClient creates a client for the server at baseURL.
func NewAMSClient(baseURL string, timeout time.Duration) *AMSClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AMSClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: timeout},
		deduplicate: true,
	}
}

// amsMemory is the wire shape of a long-term memory.
type amsMemory struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	MemoryType string   `json:"memory_type"`
	Topics     []string `json:"topics,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Namespace  string   `json:"namespace,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty"`

	// Only present in search responses.
	Dist     *float64 `json:"dist,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Metadata *struct {
		CreatedAt string `json:"created_at"`
	} `json:"metadata,omitempty"`
}

type eqFilter struct {
	Eq string `json:"eq"`
}

type anyFilter struct {
	Any []string `json:"any"`
}

type amsSearchRequest struct {
	Text       string     `json:"text"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset,omitempty"`
	Namespace  *eqFilter  `json:"namespace,omitempty"`
	UserID     *eqFilter  `json:"user_id,omitempty"`
	Topics     *anyFilter `json:"topics,omitempty"`
	MemoryType *eqFilter  `json:"memory_type,omitempty"`
}

type amsSearchResponse struct {
	Memories   []amsMemory `json:"memories"`
	Total      int         `json:"total"`
	NextOffset *int        `json:"next_offset"`
}

// Upsert implements Store.
func (c *AMSClient) Upsert(ctx context.Context, records []memory.Record) error {
	if len(records) == 0 {
		return nil
	}
	payload := struct {
		Memories    []amsMemory `json:"memories"`
		Deduplicate bool        `json:"deduplicate"`
	}{Deduplicate: c.deduplicate}
	for _, r := range records {
		payload.Memories = append(payload.Memories, toAMS(r))
	}
	return c.do(ctx, "upsert", http.MethodPost, "/v1/long-term-memory/", payload, nil)
}

// Search implements Store.
func (c *AMSClient) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	body := amsSearchRequest{Text: req.Text, Limit: req.Limit, Offset: req.Offset}
	if body.Limit <= 0 {
		body.Limit = 10
	}
	if req.Namespace != "" {
		body.Namespace = &eqFilter{Eq: req.Namespace}
	}
	if req.UserID != "" {
		body.UserID = &eqFilter{Eq: req.UserID}
	}
	if len(req.Topics) > 0 {
		body.Topics = &anyFilter{Any: req.Topics}
	}
	if req.MemoryType != "" {
		body.MemoryType = &eqFilter{Eq: string(req.MemoryType)}
	}

	var resp amsSearchResponse
	if err := c.do(ctx, "search", http.MethodPost, "/v1/long-term-memory/search", body, &resp); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(resp.Memories))
	for _, m := range resp.Memories {
		results = append(results, fromAMS(m))
	}
	return results, nil
}

// Delete implements Store.
func (c *AMSClient) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("memory_ids", id)
	}
	return c.do(ctx, "delete", http.MethodDelete, "/v1/long-term-memory?"+q.Encode(), nil, nil)
}

// Health implements Store.
func (c *AMSClient) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/v1/health", nil, nil)
}

// Count pages through an empty-text search and counts the hits.
func (c *AMSClient) Count(ctx context.Context, namespace string) (int, error) {
	total, offset := 0, 0
	for {
		body := amsSearchRequest{Limit: countPageSize, Offset: offset}
		if namespace != "" {
			body.Namespace = &eqFilter{Eq: namespace}
		}
		var resp amsSearchResponse
		if err := c.do(ctx, "count", http.MethodPost, "/v1/long-term-memory/search", body, &resp); err != nil {
			return 0, err
		}
		total += len(resp.Memories)
		if resp.NextOffset == nil || *resp.NextOffset <= offset || len(resp.Memories) == 0 {
			return total, nil
		}
		offset = *resp.NextOffset
	}
}

func (c *AMSClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("store: %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("store: %s: request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("store: %s: %w", op, err)
		}
		return transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("store: %s: decode: %w", op, err)
	}
	return nil
}

// sourceEntity prefixes the entity that carries Record.SourceRef. AMS has no
// field for it, and entities are never used as a search filter.
const sourceEntity = "source:"

func toAMS(r memory.Record) amsMemory {
	entities := r.Entities
	if r.SourceRef != "" {
		entities = append(append([]string(nil), r.Entities...), sourceEntity+r.SourceRef)
	}
	m := amsMemory{
		ID:         r.ID,
		Text:       r.Text,
		MemoryType: string(r.MemoryType),
		Topics:     r.Topics,
		Entities:   entities,
		Namespace:  r.Namespace,
		UserID:     r.UserID,
		SessionID:  r.SessionID,
	}
	if !r.CreatedAt.IsZero() {
		m.CreatedAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

func fromAMS(m amsMemory) Result {
	rec := memory.Record{
		ID:         m.ID,
		Text:       m.Text,
		MemoryType: memory.MemoryType(m.MemoryType),
		Topics:     m.Topics,
		Namespace:  m.Namespace,
		UserID:     m.UserID,
		SessionID:  m.SessionID,
	}
	for _, e := range m.Entities {
		if ref, ok := strings.CutPrefix(e, sourceEntity); ok {
			rec.SourceRef = ref
			continue
		}
		rec.Entities = append(rec.Entities, e)
	}
	created := m.CreatedAt
	if created == "" && m.Metadata != nil {
		created = m.Metadata.CreatedAt
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		rec.CreatedAt = t
	}

	res := Result{Record: rec}
	switch {
	case m.Dist != nil:
		res.Distance = *m.Dist
	case m.Score != nil:
		res.Distance = *m.Score
	}
	return res
}
