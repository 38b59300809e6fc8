// Package context renders retrieved memories into token-budgeted prompt
// context and the agent-facing CONTEXT.md file.
package context

import (
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// bytesPerToken is the fallback estimate when no encoding is available.
const bytesPerToken = 4

// Tokenizer wraps tiktoken for approximate token counting.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer creates a Tokenizer using the cl100k_base encoding, a close
// enough approximation for every supported provider. When the encoding
// cannot be loaded (it is fetched on first use) counts fall back to a
// byte-length estimate and the load error is returned alongside a usable
// Tokenizer.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Tokenizer{}, err
	}
	return &Tokenizer{enc: enc}, nil
}

// Estimated reports whether counts are byte-length estimates.
func (t *Tokenizer) Estimated() bool { return t.enc == nil }

// Count returns the approximate number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	if t.enc == nil {
		return (len(s) + bytesPerToken - 1) / bytesPerToken
	}
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate truncates s to at most maxTokens tokens.
func (t *Tokenizer) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t.enc == nil {
		n := maxTokens * bytesPerToken
		if len(s) <= n {
			return s
		}
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		return s[:n]
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	return t.enc.Decode(tokens[:maxTokens])
}
