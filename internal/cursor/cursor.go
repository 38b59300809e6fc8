// Package cursor persists the last synced commit per repository and ref.
package cursor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrLocked means another sync run holds the lock for this repo and ref.
var ErrLocked = errors.New("cursor: sync already running")

// State is the persisted cursor for one (repo, ref).
type State struct {
	Repo        string    `json:"repo"`
	Ref         string    `json:"ref"`
	LastHash    string    `json:"last_hash"`
	Sequence    int64     `json:"sequence"`
	SyncedAt    time.Time `json:"synced_at"`
	TotalSynced int       `json:"total_synced"`
}

// IsZero reports whether nothing has been synced yet.
func (s State) IsZero() bool { return s.LastHash == "" }

// Ancestry answers whether one commit is reachable from another.
type Ancestry interface {
	IsAncestor(ancestor, descendant string) (bool, error)
}

// Unlock releases a lock taken with Store.Lock.
type Unlock func() error

// Store reads and advances cursors.
type Store interface {
	Read(repo, ref string) (State, error)
	// Advance moves the cursor to hash unless hash is already covered by the
	// current cursor, in which case the state is returned unchanged.
	Advance(repo, ref, hash string) (State, error)
	// Lock takes the per-(repo, ref) run lock or fails with ErrLocked.
	Lock(repo, ref string) (Unlock, error)
	Reset(repo, ref string) error
}

// key names the state for (repo, ref).
func key(repo, ref string) string {
	sum := sha256.Sum256([]byte(repo + "\x00" + ref))
	return hex.EncodeToString(sum[:])[:16]
}

// covered reports whether hash is at or behind current.
func covered(anc Ancestry, current, hash string) (bool, error) {
	if current == "" {
		return false, nil
	}
	if current == hash {
		return true, nil
	}
	if anc == nil {
		return false, nil
	}
	return anc.IsAncestor(hash, current)
}
