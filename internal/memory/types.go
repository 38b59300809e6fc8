// Package memory defines memory records and turns commit records into them.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// MemoryType classifies a stored memory.
type MemoryType string

const (
	TypeSemantic MemoryType = "semantic"
	TypeEpisodic MemoryType = "episodic"
)

// ValidMemoryType returns true if t is a recognised memory type.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case TypeSemantic, TypeEpisodic:
		return true
	}
	return false
}

// Source kinds used in record ids.
const (
	KindCommit    = "commit"
	KindKnowledge = "knowledge"
	KindManual    = "manual"
)

// Layers of a commit.
const (
	LayerSummary    = "summary"
	LayerPrompts    = "prompts"
	LayerEnrichment = "enrichment"
	LayerHuman      = "human"
)

// FileLayer names the per-file-code layer for path.
func FileLayer(path string) string { return "file:" + path }

// SectionLayer names a knowledge section layer.
func SectionLayer(heading string) string { return "section:" + heading }

// Record is the unit persisted to the memory store.
type Record struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	MemoryType MemoryType `json:"memory_type"`
	Topics     []string   `json:"topics,omitempty"`
	Entities   []string   `json:"entities,omitempty"`
	Namespace  string     `json:"namespace,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	SourceRef  string     `json:"source_ref,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RecordID derives the stable id for (kind, ref, layer): the first 24 hex
// characters of sha256("kind:ref:layer"). Re-syncing a commit or reloading a
// section produces the same id, so the store upserts instead of appending.
func RecordID(kind, ref, layer string) string {
	sum := sha256.Sum256([]byte(kind + ":" + ref + ":" + layer))
	return hex.EncodeToString(sum[:])[:24]
}

// NormalizeSet lowercases, trims, dedupes and sorts a set of tags.
func NormalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasTopic reports whether r carries topic t.
func (r Record) HasTopic(t string) bool {
	t = strings.ToLower(t)
	for _, topic := range r.Topics {
		if topic == t {
			return true
		}
	}
	return false
}

// KnowledgeSession groups all records derived from one knowledge file.
func KnowledgeSession(relPath string) string { return "knowledge:" + relPath }

// SourceLabel names where a record came from, for citations. Knowledge
// records name their section through SourceRef when it is set.
func SourceLabel(r Record) string {
	switch {
	case strings.HasPrefix(r.SessionID, "knowledge:"):
		if r.SourceRef != "" {
			return "knowledge " + r.SourceRef
		}
		return "knowledge " + strings.TrimPrefix(r.SessionID, "knowledge:")
	case strings.HasPrefix(r.Text, "File: "):
		line, _, _ := strings.Cut(r.Text, "\n")
		return "file " + strings.TrimPrefix(line, "File: ")
	case strings.HasPrefix(r.SessionID, "git-"):
		return "commit " + strings.TrimPrefix(r.SessionID, "git-")
	case r.SourceRef != "":
		return r.SourceRef
	case r.MemoryType != "":
		return string(r.MemoryType)
	}
	return "memory"
}
