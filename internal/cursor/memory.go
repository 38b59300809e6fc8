package cursor

import (
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same contract as FileStore.
type MemoryStore struct {
	ancestry Ancestry

	mu     sync.Mutex
	states map[string]State
	locks  map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(ancestry Ancestry) *MemoryStore {
	return &MemoryStore{
		ancestry: ancestry,
		states:   map[string]State{},
		locks:    map[string]bool{},
	}
}

// Read implements Store.
func (m *MemoryStore) Read(repo, ref string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[key(repo, ref)]; ok {
		return st, nil
	}
	return State{Repo: repo, Ref: ref}, nil
}

// Advance implements Store.
func (m *MemoryStore) Advance(repo, ref, hash string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(repo, ref)
	st := m.states[k]
	done, err := covered(m.ancestry, st.LastHash, hash)
	if err != nil {
		return State{}, err
	}
	if done {
		return st, nil
	}
	next := State{
		Repo:        repo,
		Ref:         ref,
		LastHash:    hash,
		Sequence:    st.Sequence + 1,
		SyncedAt:    time.Now().UTC(),
		TotalSynced: st.TotalSynced + 1,
	}
	m.states[k] = next
	return next, nil
}

// Lock implements Store.
func (m *MemoryStore) Lock(repo, ref string) (Unlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(repo, ref)
	if m.locks[k] {
		return nil, ErrLocked
	}
	m.locks[k] = true
	return func() error {
		m.mu.Lock()
		delete(m.locks, k)
		m.mu.Unlock()
		return nil
	}, nil
}

// Reset implements Store.
func (m *MemoryStore) Reset(repo, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key(repo, ref))
	return nil
}
