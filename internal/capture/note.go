package capture

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	promptIDPattern  = regexp.MustCompile(`^[a-f0-9]+$`)
	separatorPattern = regexp.MustCompile(`\n[ \t]*---[ \t]*\n`)
)

// FileAttribution maps one file in a note to the prompts that wrote its lines.
type FileAttribution struct {
	Path        string
	PromptLines map[string][]string // prompt id -> line ranges such as "4-9"
}

// Lines returns the number of lines attributed to any prompt.
func (f FileAttribution) Lines() int {
	n := 0
	for _, ranges := range f.PromptLines {
		n += countRangeLines(ranges)
	}
	return n
}

// Note is a parsed git-ai note.
type Note struct {
	Files   []FileAttribution
	Prompts map[string]Prompt // from the metadata block, keyed by prompt id
}

// PromptIDs returns every prompt id referenced by the attribution section, sorted.
func (n Note) PromptIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, f := range n.Files {
		for id := range f.PromptLines {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// PromptFor finds metadata for id, tolerating abbreviated ids on either side.
func (n Note) PromptFor(id string) (Prompt, bool) {
	if p, ok := n.Prompts[id]; ok {
		return p, true
	}
	keys := make([]string, 0, len(n.Prompts))
	for k := range n.Prompts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasPrefix(k, id) || strings.HasPrefix(id, k) {
			p := n.Prompts[k]
			p.ID = id
			return p, true
		}
	}
	return Prompt{}, false
}

// ParseNote parses a raw git-ai note: an attribution section of unindented file
// paths followed by indented "<prompt-id> <ranges>" lines, then optionally a
// "---" separator and a JSON metadata block.
func ParseNote(raw string) (Note, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	attribution, metadata := raw, ""
	if loc := separatorPattern.FindStringIndex(raw); loc != nil {
		attribution, metadata = raw[:loc[0]], raw[loc[1]:]
	} else if strings.HasPrefix(strings.TrimSpace(raw), "---") {
		attribution, metadata = "", strings.TrimPrefix(strings.TrimSpace(raw), "---")
	}

	note := Note{Files: parseAttribution(attribution), Prompts: map[string]Prompt{}}

	metadata = strings.TrimSpace(metadata)
	if metadata == "" {
		return note, nil
	}
	prompts, err := parseMetadata(metadata)
	if err != nil {
		return note, err
	}
	note.Prompts = prompts
	return note, nil
}

func parseAttribution(section string) []FileAttribution {
	var files []FileAttribution
	var current *FileAttribution

	for _, line := range strings.Split(section, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}

		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			if looksLikePath(stripped) {
				files = append(files, FileAttribution{Path: stripped, PromptLines: map[string][]string{}})
				current = &files[len(files)-1]
			} else {
				current = nil
			}
			continue
		}
		if current == nil {
			continue
		}

		fields := strings.Fields(stripped)
		if len(fields) == 0 || !promptIDPattern.MatchString(fields[0]) {
			continue
		}
		var ranges []string
		if len(fields) > 1 {
			ranges = strings.Split(strings.Join(fields[1:], ""), ",")
		}
		current.PromptLines[fields[0]] = ranges
	}
	return files
}

func looksLikePath(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s {
	case "{", "}", "---", "...", "***":
		return false
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return false
	}
	if strings.Trim(s, "-=_~*#<>{}[]()@!$%^&+|\\\"'") == "" {
		return false
	}
	if strings.ContainsAny(s, "/.") {
		return true
	}
	c := s[0]
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// countRangeLines counts lines in ranges like ["1-3", "7"].
func countRangeLines(ranges []string) int {
	n := 0
	for _, r := range ranges {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(r, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		if !isRange {
			n++
			continue
		}
		end, err := strconv.Atoi(hi)
		if err != nil || end < start {
			n++
			continue
		}
		n += end - start + 1
	}
	return n
}

// noteMetadata mirrors the JSON block git-ai appends to a note.
type noteMetadata struct {
	Prompts map[string]notePrompt `json:"prompts"`
}

type notePrompt struct {
	AgentID struct {
		Tool  string `json:"tool"`
		Model string `json:"model"`
	} `json:"agent_id"`
	HumanAuthor     string          `json:"human_author"`
	Messages        json.RawMessage `json:"messages"`
	TotalAdditions  int             `json:"total_additions"`
	TotalDeletions  int             `json:"total_deletions"`
	AcceptedLines   int             `json:"accepted_lines"`
	OverriddenLines *int            `json:"overridden_lines"`
	// Older git-ai releases misspell the field.
	OverridenLines *int `json:"overriden_lines"`
}

type noteMessage struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Text    json.RawMessage `json:"text"`
	Content json.RawMessage `json:"content"`
}

func parseMetadata(block string) (map[string]Prompt, error) {
	var meta noteMetadata
	if err := json.Unmarshal([]byte(block), &meta); err != nil {
		return nil, fmt.Errorf("note metadata: %w", err)
	}

	prompts := make(map[string]Prompt, len(meta.Prompts))
	for id, np := range meta.Prompts {
		if !promptIDPattern.MatchString(id) {
			continue
		}
		p := Prompt{
			ID:             id,
			Tool:           np.AgentID.Tool,
			Model:          np.AgentID.Model,
			HumanAuthor:    np.HumanAuthor,
			Messages:       decodeMessages(np.Messages),
			TotalAdditions: np.TotalAdditions,
			TotalDeletions: np.TotalDeletions,
			AcceptedLines:  np.AcceptedLines,
		}
		switch {
		case np.OverriddenLines != nil:
			p.OverriddenLines = *np.OverriddenLines
		case np.OverridenLines != nil:
			p.OverriddenLines = *np.OverridenLines
		}
		prompts[id] = p
	}
	return prompts, nil
}

// decodeMessages accepts either a plain string or a list of message objects.
// Only user and assistant turns are kept.
func decodeMessages(raw json.RawMessage) []Message {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []Message{{Role: "user", Text: single}}
	}

	var list []noteMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	var out []Message
	for _, m := range list {
		role := m.Type
		if role == "" {
			role = m.Role
		}
		if role == "" {
			role = "user"
		}
		if role != "user" && role != "assistant" {
			continue
		}
		text := flattenText(m.Text)
		if text == "" {
			text = flattenText(m.Content)
		}
		out = append(out, Message{Role: role, Text: text})
	}
	return out
}

// flattenText handles content given as a string or as a list of text parts.
func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, part := range parts {
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &obj); err == nil && obj.Text != "" {
			texts = append(texts, obj.Text)
			continue
		}
		var str string
		if err := json.Unmarshal(part, &str); err == nil && str != "" {
			texts = append(texts, str)
		}
	}
	return strings.Join(texts, " ")
}
