package cursor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linear treats commits as a single chain in the given order.
type linear []string

func (l linear) IsAncestor(ancestor, descendant string) (bool, error) {
	ai, di := -1, -1
	for i, h := range l {
		if h == ancestor {
			ai = i
		}
		if h == descendant {
			di = i
		}
	}
	if ai < 0 || di < 0 {
		return false, errors.New("unknown commit")
	}
	return ai <= di, nil
}

var chain = linear{"c1", "c2", "c3", "c4"}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"file":   NewFileStore(t.TempDir(), chain),
		"memory": NewMemoryStore(chain),
	}
}

func TestStore_ReadEmpty(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := s.Read("/repo", "main")
			require.NoError(t, err)
			assert.True(t, st.IsZero())
			assert.Equal(t, "/repo", st.Repo)
			assert.Equal(t, "main", st.Ref)
		})
	}
}

func TestStore_AdvanceIsMonotonic(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := s.Advance("/repo", "main", "c2")
			require.NoError(t, err)
			assert.Equal(t, int64(1), st.Sequence)

			st, err = s.Advance("/repo", "main", "c3")
			require.NoError(t, err)
			assert.Equal(t, "c3", st.LastHash)
			assert.Equal(t, int64(2), st.Sequence)
			assert.Equal(t, 2, st.TotalSynced)

			// Older and equal hashes leave the cursor alone.
			for _, h := range []string{"c1", "c3"} {
				st, err = s.Advance("/repo", "main", h)
				require.NoError(t, err)
				assert.Equal(t, "c3", st.LastHash)
				assert.Equal(t, int64(2), st.Sequence)
			}

			got, err := s.Read("/repo", "main")
			require.NoError(t, err)
			assert.Equal(t, "c3", got.LastHash)
		})
	}
}

func TestStore_RefsAreIndependent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Advance("/repo", "main", "c2")
			require.NoError(t, err)
			st, err := s.Read("/repo", "feature")
			require.NoError(t, err)
			assert.True(t, st.IsZero())
		})
	}
}

func TestStore_LockExcludes(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := s.Lock("/repo", "main")
			require.NoError(t, err)

			_, err = s.Lock("/repo", "main")
			assert.ErrorIs(t, err, ErrLocked)

			other, err := s.Lock("/repo", "dev")
			require.NoError(t, err)
			require.NoError(t, other())

			require.NoError(t, unlock())
			again, err := s.Lock("/repo", "main")
			require.NoError(t, err)
			require.NoError(t, again())
		})
	}
}

func TestStore_Reset(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Advance("/repo", "main", "c4")
			require.NoError(t, err)
			require.NoError(t, s.Reset("/repo", "main"))
			st, err := s.Read("/repo", "main")
			require.NoError(t, err)
			assert.True(t, st.IsZero())
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileStore(dir, chain).Advance("/repo", "main", "c2")
	require.NoError(t, err)

	st, err := NewFileStore(dir, chain).Read("/repo", "main")
	require.NoError(t, err)
	assert.Equal(t, "c2", st.LastHash)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp file left behind")
	}
}

func TestFileStore_LiveHolderIsNeverBroken(t *testing.T) {
	now := time.Now()
	s := NewFileStore(t.TempDir(), chain, WithStaleLockAfter(time.Minute), WithClock(func() time.Time { return now }))

	_, err := s.Lock("/repo", "main")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), s.LockHolder("/repo", "main"))

	// A long run: the lock file is far past the stale threshold but this
	// process is still alive.
	old := now.Add(-11 * time.Minute)
	require.NoError(t, os.Chtimes(s.Path("/repo", "main")+".lock", old, old))

	_, err = s.Lock("/repo", "main")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestFileStore_BreaksLockOfExitedHolder(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, chain)
	s.alive = func(pid int) bool { return pid != 424242 }

	lock := s.Path("/repo", "main") + ".lock"
	require.NoError(t, os.WriteFile(lock, []byte("424242\n2026-05-01T00:00:00Z\n"), 0o644))

	unlock, err := s.Lock("/repo", "main")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), s.LockHolder("/repo", "main"))
	require.NoError(t, unlock())
	_, err = os.Stat(filepath.Join(dir, filepath.Base(lock)))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_PidlessLockBrokenOnlyWhenOld(t *testing.T) {
	now := time.Now()
	s := NewFileStore(t.TempDir(), chain, WithStaleLockAfter(time.Minute), WithClock(func() time.Time { return now }))
	lock := s.Path("/repo", "main") + ".lock"
	require.NoError(t, os.WriteFile(lock, nil, 0o644))

	_, err := s.Lock("/repo", "main")
	require.ErrorIs(t, err, ErrLocked)

	old := now.Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(lock, old, old))

	unlock, err := s.Lock("/repo", "main")
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestFileStore_CorruptState(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, chain)
	require.NoError(t, os.WriteFile(s.Path("/repo", "main"), []byte("{not json"), 0o644))
	_, err := s.Read("/repo", "main")
	assert.Error(t, err)
}
