// Package knowledge turns hand-written markdown notes into memory records,
// one per "##" section.
package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	gitignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"

	"github.com/devmemory/devmemory/internal/memory"
)

// IgnoreFile lists paths under the knowledge directory to skip, in gitignore syntax.
const IgnoreFile = ".devmemoryignore"

const frontMatterDelimiter = "---"

// ParseError reports a knowledge file that could not be loaded. Other files
// are unaffected.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("knowledge: %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result is the outcome of loading a knowledge directory.
type Result struct {
	Records []memory.Record
	Files   []FileSummary
	Errors  []*ParseError
}

// FileSummary is the number of records one file produced.
type FileSummary struct {
	Path    string
	Records int
}

// Loader reads knowledge directories.
type Loader struct {
	Namespace string
	UserID    string
	Include   []string // glob patterns on slash-separated relative paths; default "**.md"
	Now       func() time.Time
	Logger    zerolog.Logger
}

// frontMatter is the optional YAML header of a knowledge file.
type frontMatter struct {
	Topics   stringList `yaml:"topics"`
	Entities stringList `yaml:"entities"`
	Type     string     `yaml:"type"`
}

// stringList accepts either a scalar or a sequence.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			*s = []string{node.Value}
		}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*s = out
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list", node.Line)
}

// Load walks dir and parses every included markdown file. A missing
// directory is an error; a malformed file is reported in Result.Errors.
func (l *Loader) Load(dir string) (Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Result{}, fmt.Errorf("knowledge: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("knowledge: %s is not a directory", dir)
	}

	include, err := compileIncludes(l.Include)
	if err != nil {
		return Result{}, err
	}
	ignore := loadIgnore(dir)

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ignore != nil && ignore.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(rel), ".md") || !matchesAny(include, rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("knowledge: walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	loadedAt := now().UTC()

	var res Result
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			res.Errors = append(res.Errors, &ParseError{Path: rel, Err: err})
			continue
		}
		records, err := l.Parse(rel, data, loadedAt)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				perr = &ParseError{Path: rel, Err: err}
			}
			l.Logger.Warn().Err(perr).Msg("skipping knowledge file")
			res.Errors = append(res.Errors, perr)
			continue
		}
		res.Files = append(res.Files, FileSummary{Path: rel, Records: len(records)})
		res.Records = append(res.Records, records...)
	}
	return res, nil
}

// Parse turns one file into records. relPath is slash-separated and
// relative to the knowledge directory; it keys the record ids.
func (l *Loader) Parse(relPath string, data []byte, loadedAt time.Time) ([]memory.Record, error) {
	meta, body, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, &ParseError{Path: relPath, Err: err}
	}

	typ := memory.TypeSemantic
	if meta.Type != "" {
		typ = memory.MemoryType(strings.ToLower(meta.Type))
		if !memory.ValidMemoryType(typ) {
			return nil, &ParseError{Path: relPath, Err: fmt.Errorf("unknown memory type %q", meta.Type)}
		}
	}

	stem := strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	topics := memory.NormalizeSet(meta.Topics)
	if len(topics) == 0 {
		topics = []string{strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(stem))}
	}
	entities := memory.UniqueSorted(meta.Entities)

	var records []memory.Record
	for _, s := range splitSections(body, stem) {
		records = append(records, memory.Record{
			ID:         memory.RecordID(memory.KindKnowledge, relPath, memory.SectionLayer(s.heading)),
			Text:       s.heading + "\n\n" + s.body,
			MemoryType: typ,
			Topics:     topics,
			Entities:   entities,
			Namespace:  l.Namespace,
			UserID:     l.UserID,
			SessionID:  memory.KnowledgeSession(relPath),
			SourceRef:  relPath + "#" + s.heading,
			CreatedAt:  loadedAt,
		})
	}
	return records, nil
}

// splitFrontMatter separates the YAML header from the body. Files without a
// header have empty metadata.
func splitFrontMatter(content string) (frontMatter, string, error) {
	var meta frontMatter
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, frontMatterDelimiter+"\n") && !strings.HasPrefix(content, frontMatterDelimiter+"\r\n") {
		return meta, content, nil
	}
	rest := content[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx == -1 {
		return meta, "", errors.New("unclosed front matter")
	}
	block := rest[:idx]
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return meta, "", fmt.Errorf("front matter: %w", err)
	}
	return meta, body, nil
}

type section struct {
	heading string
	body    string
}

// splitSections returns one section per "##" heading. Text before the first
// "##" is dropped. A file with no "##" headings becomes a single section
// titled by its "#" heading or, failing that, its file stem.
func splitSections(body, stem string) []section {
	var (
		out     []section
		title   string
		heading string
		inSec   bool
		lines   []string
		preface []string
	)
	flush := func() {
		if !inSec {
			return
		}
		if text := strings.TrimSpace(strings.Join(lines, "\n")); text != "" {
			out = append(out, section{heading: heading, body: text})
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			flush()
			heading = strings.TrimSpace(line[3:])
			inSec = true
			lines = nil
		case strings.HasPrefix(line, "# ") && !inSec && title == "":
			title = strings.TrimSpace(line[2:])
		case inSec:
			lines = append(lines, line)
		default:
			preface = append(preface, line)
		}
	}
	flush()

	if inSec {
		return out
	}
	text := strings.TrimSpace(strings.Join(preface, "\n"))
	if text == "" {
		return nil
	}
	if title == "" {
		title = stem
	}
	return []section{{heading: title, body: text}}
}

func compileIncludes(patterns []string) ([]glob.Glob, error) {
	if len(patterns) == 0 {
		patterns = []string{"**.md"}
	}
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("knowledge: include pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchesAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func loadIgnore(dir string) *gitignore.GitIgnore {
	path := filepath.Join(dir, IgnoreFile)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	gi, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
