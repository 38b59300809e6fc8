package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyMemory is returned for a manual memory with no text.
var ErrEmptyMemory = errors.New("memory: text is empty")

// Manual builds a record for a memory typed in by hand. The id is derived
// from the text, so adding the same note twice overwrites it.
func (f Formatter) Manual(text string, typ MemoryType, topics, entities []string, now time.Time) (Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Record{}, ErrEmptyMemory
	}
	if typ == "" {
		typ = TypeSemantic
	}
	if !ValidMemoryType(typ) {
		return Record{}, fmt.Errorf("memory: unknown memory type %q", typ)
	}
	return Record{
		ID:         RecordID(KindManual, text, ""),
		Text:       text,
		MemoryType: typ,
		Topics:     NormalizeSet(topics),
		Entities:   UniqueSorted(entities),
		Namespace:  f.Namespace,
		UserID:     f.UserID,
		SessionID:  KindManual,
		SourceRef:  KindManual,
		CreatedAt:  now.UTC(),
	}, nil
}
