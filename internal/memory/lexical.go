package memory

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// topicForExt maps file extensions to coarse topics.
var topicForExt = map[string]string{
	".go":     "go",
	".py":     "python",
	".rb":     "ruby",
	".rs":     "rust",
	".java":   "java",
	".kt":     "kotlin",
	".js":     "javascript",
	".mjs":    "javascript",
	".ts":     "typescript",
	".tsx":    "react",
	".jsx":    "react",
	".vue":    "vue",
	".svelte": "svelte",
	".css":    "styling",
	".scss":   "styling",
	".sass":   "styling",
	".sql":    "database",
	".prisma": "database",
	".yml":    "config",
	".yaml":   "config",
	".toml":   "config",
	".json":   "config",
	".sh":     "shell",
	".bash":   "shell",
	".zsh":    "shell",
	".md":     "documentation",
	".mdx":    "documentation",
	".tf":     "terraform",
	".proto":  "protobuf",
}

// subjectKeywords maps words in a commit subject to topics. Matching is by
// whole word so "address" does not count as "add".
var subjectKeywords = map[string]string{
	"fix":      "bugfix",
	"bug":      "bugfix",
	"hotfix":   "bugfix",
	"feat":     "feature",
	"feature":  "feature",
	"add":      "feature",
	"refactor": "refactoring",
	"test":     "testing",
	"tests":    "testing",
	"doc":      "documentation",
	"docs":     "documentation",
	"ci":       "ci-cd",
	"cd":       "ci-cd",
	"style":    "styling",
	"perf":     "performance",
	"chore":    "maintenance",
	"build":    "build",
	"dep":      "dependencies",
	"deps":     "dependencies",
}

// knownModules maps import roots to technology names.
var knownModules = map[string]string{
	// Python
	"fastapi": "FastAPI", "flask": "Flask", "django": "Django", "typer": "Typer",
	"click": "Click", "httpx": "httpx", "requests": "requests", "aiohttp": "aiohttp",
	"redis": "Redis", "sqlalchemy": "SQLAlchemy", "pydantic": "Pydantic",
	"pytest": "pytest", "langchain": "LangChain", "openai": "OpenAI",
	"anthropic": "Anthropic", "celery": "Celery", "numpy": "NumPy",
	"pandas": "Pandas", "torch": "PyTorch", "transformers": "Transformers",
	// Go
	"github.com/spf13/cobra": "Cobra", "github.com/gin-gonic/gin": "Gin",
	"github.com/labstack/echo": "Echo", "gorm.io/gorm": "GORM",
	"github.com/jackc/pgx": "pgx", "github.com/rs/zerolog": "zerolog",
	"go.uber.org/zap": "zap", "google.golang.org/grpc": "gRPC",
	"github.com/redis/go-redis": "Redis", "github.com/mattn/go-sqlite3": "SQLite",
	"github.com/go-git/go-git": "go-git", "github.com/stretchr/testify": "testify",
	"github.com/sashabaranov/go-openai": "OpenAI", "github.com/mark3labs/mcp-go": "MCP",
}

// knownPackages maps package.json dependency names to technology names.
var knownPackages = map[string]string{
	"react": "React", "next": "Next.js", "vue": "Vue", "express": "Express",
	"fastify": "Fastify", "typescript": "TypeScript", "tailwindcss": "Tailwind CSS",
	"webpack": "Webpack", "vite": "Vite", "esbuild": "esbuild", "prisma": "Prisma",
	"drizzle-orm": "Drizzle",
}

var (
	pyImportPattern  = regexp.MustCompile(`(?m)^\+\s*(?:from|import)\s+([\w.]+)`)
	goImportPattern  = regexp.MustCompile(`(?m)^\+\s*(?:import\s+)?(?:\w+\s+)?"([\w.\-]+\.[\w.\-]+/[^"]+)"`)
	jsImportPattern  = regexp.MustCompile(`(?m)^\+.*\bfrom\s+['"]([@\w][\w\-./@]*)['"]`)
	imagePattern     = regexp.MustCompile(`(?m)^\+\s*image:\s*["']?([^\s"']+)`)
	packageDepPatten = regexp.MustCompile(`(?m)^\+\s*"([^"]+)":\s*"[\^~>=<]*\d`)
	wordPattern      = regexp.MustCompile(`[a-z0-9]+`)
)

// keyLinePatterns recognise declarations and signatures in added lines.
var keyLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(func|type|package)\s+`),
	regexp.MustCompile(`^\s*(class\s+\w+|def\s+\w+|async\s+def\s+\w+|function\s+\w+)`),
	regexp.MustCompile(`^\s*(pub\s+)?(fn|struct|enum|trait|impl)\s+`),
	regexp.MustCompile(`^\s*(public|private|protected)\s+.*\(`),
	regexp.MustCompile(`^\s*(from\s+\S+\s+import|import\s+)`),
	regexp.MustCompile(`^\s*image:\s*\S+`),
	regexp.MustCompile(`^\s*export\s+(default\s+)?(class|function|const|interface|type)`),
	regexp.MustCompile(`^\s*[A-Z_][A-Z0-9_]*=`),
	regexp.MustCompile(`^\s*CREATE\s+(TABLE|INDEX|VIEW)`),
}

// TopicsFromPaths derives topics from directory names and file extensions.
func TopicsFromPaths(paths []string) []string {
	var topics []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if dir := path.Dir(p); dir != "." && dir != "/" {
			topics = append(topics, path.Base(dir))
		}
		if t, ok := topicForExt[strings.ToLower(path.Ext(p))]; ok {
			topics = append(topics, t)
		}
		if strings.Contains(strings.ToLower(path.Base(p)), "dockerfile") {
			topics = append(topics, "docker")
		}
	}
	return NormalizeSet(topics)
}

// TopicsFromSubject maps conventional commit words to topics.
func TopicsFromSubject(subject string) []string {
	var topics []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(subject), -1) {
		if t, ok := subjectKeywords[w]; ok {
			topics = append(topics, t)
		}
	}
	return NormalizeSet(topics)
}

// TechFromDiff finds well-known technologies in added import lines, container
// images and package manifest dependencies.
func TechFromDiff(diff string) []string {
	var tech []string

	for _, m := range pyImportPattern.FindAllStringSubmatch(diff, -1) {
		root := strings.ToLower(strings.SplitN(m[1], ".", 2)[0])
		if name, ok := knownModules[root]; ok {
			tech = append(tech, name)
		}
	}
	for _, m := range goImportPattern.FindAllStringSubmatch(diff, -1) {
		if name, ok := lookupModule(m[1]); ok {
			tech = append(tech, name)
		}
	}
	for _, m := range jsImportPattern.FindAllStringSubmatch(diff, -1) {
		if name, ok := knownPackages[strings.ToLower(m[1])]; ok {
			tech = append(tech, name)
		}
	}
	for _, m := range imagePattern.FindAllStringSubmatch(diff, -1) {
		image := strings.SplitN(m[1], ":", 2)[0]
		if i := strings.LastIndex(image, "/"); i >= 0 {
			image = image[i+1:]
		}
		if image != "" {
			tech = append(tech, image)
		}
	}
	for _, m := range packageDepPatten.FindAllStringSubmatch(diff, -1) {
		if name, ok := knownPackages[strings.ToLower(m[1])]; ok {
			tech = append(tech, name)
		}
	}
	return UniqueSorted(tech)
}

// lookupModule matches an import path against knownModules by longest prefix.
func lookupModule(importPath string) (string, bool) {
	best, name := "", ""
	for prefix, n := range knownModules {
		if !strings.Contains(prefix, "/") {
			continue
		}
		if (importPath == prefix || strings.HasPrefix(importPath, prefix+"/")) && len(prefix) > len(best) {
			best, name = prefix, n
		}
	}
	return name, best != ""
}

// KeyLines extracts added lines from a diff, declarations and signatures first,
// then other added lines in order, within maxChars. Output is stable for a
// given input; when lines are dropped the result ends with "... (truncated)".
// A first line longer than maxChars is clipped rather than dropped.
func KeyLines(diff string, maxChars int) string {
	return keyLines(diff, "+", maxChars)
}

// RemovedKeyLines is KeyLines over the lines a diff deletes.
func RemovedKeyLines(diff string, maxChars int) string {
	return keyLines(diff, "-", maxChars)
}

func keyLines(diff, sign string, maxChars int) string {
	header := strings.Repeat(sign, 3)
	var key, other []string
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, sign) || strings.HasPrefix(line, header) {
			continue
		}
		clean := line[1:]
		if strings.TrimSpace(clean) == "" {
			continue
		}
		if isKeyLine(clean) {
			key = append(key, clean)
		} else {
			other = append(other, clean)
		}
	}

	var out []string
	total := 0
	truncated := false
	for _, group := range [][]string{key, other} {
		for _, line := range group {
			if total+len(line)+1 > maxChars {
				if len(out) == 0 {
					if clipped := truncate(line, maxChars); clipped != "" {
						out = append(out, clipped)
					}
				}
				truncated = true
				break
			}
			out = append(out, line)
			total += len(line) + 1
		}
		if truncated {
			break
		}
	}
	if truncated {
		out = append(out, "... (truncated)")
	}
	return strings.Join(out, "\n")
}

func isKeyLine(line string) bool {
	for _, p := range keyLinePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// UniqueSorted dedupes values and sorts them, keeping case.
func UniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// truncate shortens s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
