package capture

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// PromptSource supplies prompt and stats data the note itself does not carry.
type PromptSource interface {
	ShowPrompt(ctx context.Context, id, sha string) (Prompt, bool)
	Stats(ctx context.Context, sha string) (Stats, bool)
}

// GitAI shells out to the git-ai CLI.
type GitAI struct {
	argv []string
	dir  string
}

// FindGitAI locates a working git-ai binary: on PATH, in ~/.git-ai/bin, or as
// a git subcommand. Returns nil when none responds to "version".
func FindGitAI(dir string) *GitAI {
	candidates := [][]string{{"git-ai"}}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, []string{filepath.Join(home, ".git-ai", "bin", "git-ai")})
	}
	candidates = append(candidates, []string{"git", "ai"})

	for _, argv := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		args := append(append([]string{}, argv[1:]...), "version")
		err := exec.CommandContext(ctx, argv[0], args...).Run()
		cancel()
		if err == nil {
			return &GitAI{argv: argv, dir: dir}
		}
	}
	return nil
}

func (g *GitAI) output(ctx context.Context, args ...string) ([]byte, error) {
	full := append(append([]string{}, g.argv[1:]...), args...)
	cmd := exec.CommandContext(ctx, g.argv[0], full...)
	cmd.Dir = g.dir
	return cmd.Output()
}

// ShowPrompt runs `git-ai show-prompt <id> --commit <sha>`.
func (g *GitAI) ShowPrompt(ctx context.Context, id, sha string) (Prompt, bool) {
	out, err := g.output(ctx, "show-prompt", id, "--commit", sha)
	if err != nil || len(out) == 0 {
		return Prompt{}, false
	}
	var resp struct {
		Prompt notePrompt `json:"prompt"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return Prompt{}, false
	}
	np := resp.Prompt
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
	return p, true
}

// Stats runs `git-ai stats <sha> --json`.
func (g *GitAI) Stats(ctx context.Context, sha string) (Stats, bool) {
	out, err := g.output(ctx, "stats", sha, "--json")
	if err != nil || len(out) == 0 {
		return Stats{}, false
	}
	var raw struct {
		HumanAdditions      int            `json:"human_additions"`
		AIAdditions         int            `json:"ai_additions"`
		AIAccepted          int            `json:"ai_accepted"`
		MixedAdditions      int            `json:"mixed_additions"`
		TotalAIAdditions    int            `json:"total_ai_additions"`
		TotalAIDeletions    int            `json:"total_ai_deletions"`
		TimeWaitingForAI    float64        `json:"time_waiting_for_ai"`
		GitDiffAddedLines   int            `json:"git_diff_added_lines"`
		GitDiffDeletedLines int            `json:"git_diff_deleted_lines"`
		ToolModelBreakdown  map[string]any `json:"tool_model_breakdown"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return Stats{}, false
	}
	s := Stats{
		HumanAdditions:   raw.HumanAdditions,
		AIAdditions:      raw.AIAdditions,
		AIAccepted:       raw.AIAccepted,
		MixedAdditions:   raw.MixedAdditions,
		TotalAIAdditions: raw.TotalAIAdditions,
		TotalAIDeletions: raw.TotalAIDeletions,
		GitAdditions:     raw.GitDiffAddedLines,
		GitDeletions:     raw.GitDiffDeletedLines,
		WaitingForAI:     time.Duration(raw.TimeWaitingForAI * float64(time.Second)),
	}
	if len(raw.ToolModelBreakdown) > 0 {
		s.ToolModels = map[string]int{}
		for k, v := range raw.ToolModelBreakdown {
			switch n := v.(type) {
			case float64:
				s.ToolModels[k] = int(n)
			case map[string]any:
				if a, ok := n["ai_additions"].(float64); ok {
					s.ToolModels[k] = int(a)
				}
			}
		}
	}
	return s, true
}
