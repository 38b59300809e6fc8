package context

import (
	"strings"
	"testing"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/store"
)

func estimatingBuilder() *Builder {
	return NewBuilder(NewFormatter(), &Tokenizer{})
}

func TestBuild_KeepsOrderAndNumbers(t *testing.T) {
	results := []store.Result{
		result("first", memory.TypeSemantic, 0.1),
		result("second", memory.TypeEpisodic, 0.2),
	}
	built := estimatingBuilder().Build(results, 1000)

	if len(built.Used) != 2 || built.Dropped != 0 {
		t.Fatalf("used %d dropped %d", len(built.Used), built.Dropped)
	}
	i1 := strings.Index(built.Text, "--- Memory 1")
	i2 := strings.Index(built.Text, "--- Memory 2")
	if i1 < 0 || i2 < i1 {
		t.Errorf("blocks out of order:\n%s", built.Text)
	}
	if built.Tokens <= 0 {
		t.Error("expected a token count")
	}
}

func TestBuild_DropsOverBudget(t *testing.T) {
	big := strings.Repeat("word ", 400)
	results := []store.Result{
		result("small memory", memory.TypeSemantic, 0.1),
		result(big, memory.TypeSemantic, 0.2),
		result("never reached", memory.TypeSemantic, 0.3),
	}
	built := estimatingBuilder().Build(results, 120)

	if built.Tokens > 120 {
		t.Errorf("Tokens = %d, over budget", built.Tokens)
	}
	if strings.Contains(built.Text, "never reached") {
		t.Error("block past the budget should be dropped")
	}
	if built.Dropped == 0 {
		t.Error("expected dropped results")
	}
	if len(built.Used)+built.Dropped != len(results) {
		t.Errorf("used %d + dropped %d != %d", len(built.Used), built.Dropped, len(results))
	}
}

func TestQueries(t *testing.T) {
	ws := git.WorkingState{
		Branch:        "feat/auth-refresh",
		Modified:      []string{"internal/auth/token.go", "cmd/app/main.go"},
		RecentSubject: []string{"a", "b", "c", "d"},
	}
	got := Queries(ws)
	want := []string{
		"feat auth refresh",
		"known issues and patterns in auth app",
		"architecture decisions for internal/auth/token.go cmd/app/main.go",
		"context for recent work: a; b; c",
	}
	if len(got) != len(want) {
		t.Fatalf("Queries = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("query %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueries_Fallback(t *testing.T) {
	got := Queries(git.WorkingState{Branch: "main"})
	if len(got) != 1 || got[0] != "project architecture and conventions" {
		t.Errorf("Queries = %q", got)
	}
}
