// Package storetest provides an in-memory store for tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/store"
)

// Memory is a thread-safe in-memory store.Store. Records are keyed by id so
// repeated upserts overwrite.
type Memory struct {
	mu      sync.Mutex
	records map[string]memory.Record
	upserts int

	// FailUpsert, when set, is consulted before each Upsert; a non-nil return
	// fails the call without writing anything.
	FailUpsert func(records []memory.Record) error
	// HealthErr is returned by Health.
	HealthErr error
	// SearchErr is returned by Search.
	SearchErr error
	// Results, when non-nil, is returned by Search verbatim.
	Results []store.Result
	// Searches counts Search calls.
	Searches int
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{records: map[string]memory.Record{}}
}

// Upsert implements store.Store.
func (m *Memory) Upsert(_ context.Context, records []memory.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsert != nil {
		if err := m.FailUpsert(records); err != nil {
			return err
		}
	}
	m.upserts++
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

// Search implements store.Store. Without canned Results it matches records
// containing any query word, ranked by the share of words matched.
func (m *Memory) Search(_ context.Context, req store.SearchRequest) ([]store.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Searches++
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.Results != nil {
		return m.Results, nil
	}

	words := strings.Fields(strings.ToLower(req.Text))
	var out []store.Result
	for _, r := range m.records {
		if req.Namespace != "" && r.Namespace != req.Namespace {
			continue
		}
		if req.MemoryType != "" && r.MemoryType != req.MemoryType {
			continue
		}
		if len(req.Topics) > 0 && !anyTopic(r, req.Topics) {
			continue
		}
		text := strings.ToLower(r.Text)
		hits := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				hits++
			}
		}
		if len(words) > 0 && hits == 0 {
			continue
		}
		dist := 0.0
		if len(words) > 0 {
			dist = 1 - float64(hits)/float64(len(words))
		}
		out = append(out, store.Result{Record: r, Distance: dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Delete implements store.Store.
func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Health implements store.Store.
func (m *Memory) Health(context.Context) error { return m.HealthErr }

// Count implements store.Counter.
func (m *Memory) Count(_ context.Context, namespace string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if namespace == "" || r.Namespace == namespace {
			n++
		}
	}
	return n, nil
}

// Records returns a snapshot sorted by id.
func (m *Memory) Records() []memory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the record with id.
func (m *Memory) Get(id string) (memory.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

// Upserts counts successful Upsert calls.
func (m *Memory) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func anyTopic(r memory.Record, topics []string) bool {
	for _, t := range topics {
		if r.HasTopic(t) {
			return true
		}
	}
	return false
}
