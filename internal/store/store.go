// Package store is the boundary to the memory store: the remote
// agent-memory-server over HTTP, or a local SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/devmemory/devmemory/internal/memory"
)

// ErrTransientStore marks failures worth retrying on a later run: timeouts,
// transport errors and 5xx responses.
var ErrTransientStore = errors.New("store: transient failure")

// StatusError is a non-2xx response from the store.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("store: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("store: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Is reports 5xx responses as ErrTransientStore.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransientStore && e.Status >= 500
}

// SearchRequest filters a similarity search. Empty fields are not applied.
type SearchRequest struct {
	Text       string
	Limit      int
	Offset     int
	Namespace  string
	UserID     string
	Topics     []string // match any
	MemoryType memory.MemoryType
}

// Result is one search hit. Distance is lower-is-better.
type Result struct {
	Record   memory.Record
	Distance float64
}

// Store is implemented by every backend.
type Store interface {
	// Upsert writes records keyed by id. Either every record is durable or an
	// error is returned.
	Upsert(ctx context.Context, records []memory.Record) error
	Search(ctx context.Context, req SearchRequest) ([]Result, error)
	Delete(ctx context.Context, ids []string) error
	Health(ctx context.Context) error
}

// Counter is implemented by stores that can report how many records a
// namespace holds.
type Counter interface {
	Count(ctx context.Context, namespace string) (int, error)
}

// transient wraps err so errors.Is(err, ErrTransientStore) holds.
func transient(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrTransientStore, err)
}
