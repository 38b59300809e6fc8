package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultStaleLockAfter is how old a lock file without a readable pid must be
// before it is broken. Locks naming a pid are judged by that process alone.
const DefaultStaleLockAfter = 10 * time.Minute

// FileStore keeps one JSON file per (repo, ref) in a state directory.
type FileStore struct {
	dir       string
	ancestry  Ancestry
	staleLock time.Duration
	now       func() time.Time
	alive     func(pid int) bool

	mu sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithStaleLockAfter overrides DefaultStaleLockAfter.
func WithStaleLockAfter(d time.Duration) FileStoreOption {
	return func(s *FileStore) {
		if d > 0 {
			s.staleLock = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates a FileStore rooted at dir. ancestry may be nil, in
// which case only an identical hash counts as already covered.
func NewFileStore(dir string, ancestry Ancestry, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		dir:       dir,
		ancestry:  ancestry,
		staleLock: DefaultStaleLockAfter,
		now:       time.Now,
		alive:     processAlive,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the state file for (repo, ref).
func (s *FileStore) Path(repo, ref string) string {
	return filepath.Join(s.dir, "cursor-"+key(repo, ref)+".json")
}

func (s *FileStore) lockPath(repo, ref string) string {
	return s.Path(repo, ref) + ".lock"
}

// Read implements Store. A missing file yields a zero State.
func (s *FileStore) Read(repo, ref string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(repo, ref)
}

func (s *FileStore) read(repo, ref string) (State, error) {
	data, err := os.ReadFile(s.Path(repo, ref))
	if errors.Is(err, os.ErrNotExist) {
		return State{Repo: repo, Ref: ref}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("cursor: read: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("cursor: decode %s: %w", s.Path(repo, ref), err)
	}
	return st, nil
}

// Advance implements Store.
func (s *FileStore) Advance(repo, ref, hash string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read(repo, ref)
	if err != nil {
		return State{}, err
	}
	done, err := covered(s.ancestry, st.LastHash, hash)
	if err != nil {
		return State{}, fmt.Errorf("cursor: ancestry: %w", err)
	}
	if done {
		return st, nil
	}

	next := State{
		Repo:        repo,
		Ref:         ref,
		LastHash:    hash,
		Sequence:    st.Sequence + 1,
		SyncedAt:    s.now().UTC(),
		TotalSynced: st.TotalSynced + 1,
	}
	if err := s.write(next); err != nil {
		return State{}, err
	}
	return next, nil
}

// Reset implements Store.
func (s *FileStore) Reset(repo, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(repo, ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cursor: reset: %w", err)
	}
	return nil
}

// write replaces the state file atomically via a temp file and rename.
func (s *FileStore) write(st State) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cursor: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("cursor: encode: %w", err)
	}

	path := s.Path(st.Repo, st.Ref)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cursor: write: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cursor: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cursor: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cursor: write: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cursor: rename: %w", err)
	}
	return nil
}

// Lock implements Store. The lock is a file created exclusively holding the
// owner's pid. It is broken once, and only when abandoned: its pid is no
// longer running, or it has no readable pid and is older than the stale
// threshold.
func (s *FileStore) Lock(repo, ref string) (Unlock, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("cursor: create state dir: %w", err)
	}
	path := s.lockPath(repo, ref)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), s.now().UTC().Format(time.RFC3339))
			f.Close()
			var once sync.Once
			return func() error {
				var rmErr error
				once.Do(func() {
					if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
						rmErr = fmt.Errorf("cursor: unlock: %w", err)
					}
				})
				return rmErr
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("cursor: lock: %w", err)
		}
		if attempt > 0 || !s.abandoned(path) {
			break
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cursor: break stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

// LockHolder returns the pid recorded in the lock file, or 0.
func (s *FileStore) LockHolder(repo, ref string) int {
	return lockPid(s.lockPath(repo, ref))
}

func lockPid(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	line, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0
	}
	return pid
}

func (s *FileStore) abandoned(path string) bool {
	if pid := lockPid(path); pid > 0 {
		return !s.alive(pid)
	}
	// Creator may still be writing its pid.
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return s.now().Sub(info.ModTime()) > s.staleLock
}
