// Package capture reads AI-attribution data recorded by git-ai and normalizes
// it into CommitRecord values. Nothing downstream sees git-ai field names.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotCaptured means the capture tool has no attribution data for a commit.
// Such commits are skipped, not retried.
var ErrNotCaptured = errors.New("capture: commit has no AI attribution")

// FormatError reports malformed commit metadata. The commit is not synced and
// the cursor does not move past it.
type FormatError struct {
	Hash   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("capture: malformed metadata for %s: %s", shortHash(e.Hash), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// Message is one turn of a prompt conversation.
type Message struct {
	Role string
	Text string
}

// Prompt is one AI session that contributed lines to a commit.
type Prompt struct {
	ID              string
	Tool            string
	Model           string
	HumanAuthor     string
	Messages        []Message
	TotalAdditions  int
	TotalDeletions  int
	AcceptedLines   int
	OverriddenLines int
}

// Agent returns "tool/model", or whichever half is known.
func (p Prompt) Agent() string {
	switch {
	case p.Tool != "" && p.Model != "":
		return p.Tool + "/" + p.Model
	case p.Tool != "":
		return p.Tool
	default:
		return p.Model
	}
}

// FileChange is the diff for one path plus its attribution.
type FileChange struct {
	Path      string
	Diff      string
	Additions int
	Deletions int
	Binary    bool
	AI        bool
	PromptIDs []string
	AILines   int
}

// Stats holds AI-vs-human line accounting for a commit.
type Stats struct {
	HumanAdditions   int
	AIAdditions      int
	AIAccepted       int
	MixedAdditions   int
	TotalAIAdditions int
	TotalAIDeletions int
	GitAdditions     int
	GitDeletions     int
	WaitingForAI     time.Duration
	ToolModels       map[string]int
}

// CommitRecord is the normalized view of one commit. Immutable once read.
type CommitRecord struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	Subject     string
	Body        string
	When        time.Time
	Agent       string
	Prompts     []Prompt
	Files       []FileChange
	Stats       Stats
	DiffStat    string
	Captured    bool
}

// ShortHash returns the first 12 characters of the commit hash.
func (c CommitRecord) ShortHash() string { return shortHash(c.Hash) }

// AIFiles returns the files carrying AI attribution.
func (c CommitRecord) AIFiles() []FileChange {
	var out []FileChange
	for _, f := range c.Files {
		if f.AI {
			out = append(out, f)
		}
	}
	return out
}

// AcceptanceRate returns accepted AI lines over AI additions in [0,1], or -1
// when there is nothing to measure.
func (c CommitRecord) AcceptanceRate() float64 {
	added := c.Stats.AIAdditions
	if added == 0 {
		added = c.Stats.TotalAIAdditions
	}
	if added <= 0 {
		return -1
	}
	rate := float64(c.Stats.AIAccepted) / float64(added)
	if rate > 1 {
		rate = 1
	}
	return rate
}

func shortHash(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
