package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/db"
	"github.com/devmemory/devmemory/internal/memory"
)

// vectorCandidates is how many nearest neighbours to pull before filtering.
const vectorCandidates = 200

// LocalStore keeps records in SQLite. Records are embedded on write when an
// embedder is configured and sqlite-vec is loaded; otherwise search falls
// back to keyword overlap.
type LocalStore struct {
	db       *db.DB
	embedder adapter.Embedder
}

// NewLocalStore creates a LocalStore. embedder may be nil.
func NewLocalStore(database *db.DB, embedder adapter.Embedder) *LocalStore {
	return &LocalStore{db: database, embedder: embedder}
}

func (s *LocalStore) vectors() bool {
	return s.embedder != nil && s.db.VectorsEnabled()
}

// Upsert implements Store. All records are written in one transaction.
func (s *LocalStore) Upsert(ctx context.Context, records []memory.Record) error {
	if len(records) == 0 {
		return nil
	}

	var embeddings [][]float32
	if s.vectors() {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Text
		}
		var err error
		embeddings, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return transient("upsert: embed", err)
		}
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, r := range records {
		topics, _ := json.Marshal(nonNil(r.Topics))
		entities, _ := json.Marshal(nonNil(r.Entities))
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, text, memory_type, topics, entities, namespace, user_id, session_id, source_ref, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
			    text        = excluded.text,
			    memory_type = excluded.memory_type,
			    topics      = excluded.topics,
			    entities    = excluded.entities,
			    namespace   = excluded.namespace,
			    user_id     = excluded.user_id,
			    session_id  = excluded.session_id,
			    source_ref  = excluded.source_ref,
			    created_at  = excluded.created_at,
			    updated_at  = CURRENT_TIMESTAMP`,
			r.ID, r.Text, string(r.MemoryType), string(topics), string(entities),
			r.Namespace, r.UserID, r.SessionID, r.SourceRef, created.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("store: upsert %s: %w", r.ID, err)
		}

		if i < len(embeddings) && len(embeddings[i]) == s.db.Dimension() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE id = ?`, r.ID); err != nil {
				return fmt.Errorf("store: upsert vector %s: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO vec_memories (id, embedding) VALUES (?, ?)`,
				r.ID, float32SliceToBlob(embeddings[i])); err != nil {
				return fmt.Errorf("store: upsert vector %s: %w", r.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert: commit: %w", err)
	}
	return nil
}

// Search implements Store.
func (s *LocalStore) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []Result
	var err error
	if s.vectors() && strings.TrimSpace(req.Text) != "" {
		results, err = s.vectorSearch(ctx, req)
	} else {
		results, err = s.keywordSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if req.Offset >= len(results) {
		return nil, nil
	}
	results = results[req.Offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *LocalStore) vectorSearch(ctx context.Context, req SearchRequest) ([]Result, error) {
	vecs, err := s.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, transient("search: embed", err)
	}
	if len(vecs) == 0 || len(vecs[0]) != s.db.Dimension() {
		return s.keywordSearch(ctx, req)
	}

	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, distance FROM vec_memories WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		float32SliceToBlob(vecs[0]), vectorCandidates,
	)
	if err != nil {
		return s.keywordSearch(ctx, req)
	}
	distances := map[string]float64{}
	var order []string
	for rows.Next() {
		var id string
		var d float64
		if err := rows.Scan(&id, &d); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: search: %w", err)
		}
		// Cosine distance, 0 (same direction) to 2 (opposite).
		distances[id] = d
		order = append(order, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	records, err := s.load(ctx, req, order)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(records))
	for _, r := range records {
		results = append(results, Result{Record: r, Distance: distances[r.ID]})
	}
	sortResults(results)
	return results, nil
}

// keywordSearch scores records by the share of query terms they contain.
func (s *LocalStore) keywordSearch(ctx context.Context, req SearchRequest) ([]Result, error) {
	records, err := s.load(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	terms := queryTerms(req.Text)

	var results []Result
	for _, r := range records {
		if len(terms) == 0 {
			results = append(results, Result{Record: r})
			continue
		}
		hay := strings.ToLower(r.Text + " " + strings.Join(r.Topics, " ") + " " + strings.Join(r.Entities, " "))
		hits := 0
		for _, t := range terms {
			if strings.Contains(hay, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, Result{Record: r, Distance: 1 - float64(hits)/float64(len(terms))})
	}
	sortResults(results)
	return results, nil
}

// load reads records matching the request filters. When ids is non-nil only
// those records are returned.
func (s *LocalStore) load(ctx context.Context, req SearchRequest, ids []string) ([]memory.Record, error) {
	query := `SELECT id, text, memory_type, topics, entities, namespace, user_id, session_id, source_ref, created_at FROM memories WHERE 1=1`
	var args []any
	if req.Namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, req.Namespace)
	}
	if req.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, req.UserID)
	}
	if req.MemoryType != "" {
		query += ` AND memory_type = ?`
		args = append(args, string(req.MemoryType))
	}
	if ids != nil {
		if len(ids) == 0 {
			return nil, nil
		}
		query += ` AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: search: %w", err)
		}
		if len(req.Topics) > 0 && !hasAnyTopic(r, req.Topics) {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// reindexBatch is how many memories are embedded per call during Reindex.
const reindexBatch = 64

// Reindex embeds every memory that has no vector row, returning how many
// were written. It backfills after the vector table has been rebuilt.
func (s *LocalStore) Reindex(ctx context.Context) (int, error) {
	if !s.vectors() {
		return 0, nil
	}
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, text FROM memories
		WHERE id NOT IN (SELECT id FROM vec_memories)
		ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("store: reindex: %w", err)
	}
	var ids, texts []string
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: reindex: %w", err)
		}
		ids = append(ids, id)
		texts = append(texts, text)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("store: reindex: %w", err)
	}

	done := 0
	for start := 0; start < len(ids); start += reindexBatch {
		end := min(start+reindexBatch, len(ids))
		vecs, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return done, transient("reindex: embed", err)
		}
		for i, v := range vecs {
			if len(v) != s.db.Dimension() {
				continue
			}
			if _, err := s.db.Conn().ExecContext(ctx,
				`INSERT INTO vec_memories (id, embedding) VALUES (?, ?)`,
				ids[start+i], float32SliceToBlob(v)); err != nil {
				return done, fmt.Errorf("store: reindex %s: %w", ids[start+i], err)
			}
			done++
		}
	}
	return done, nil
}

// Delete implements Store.
func (s *LocalStore) Delete(ctx context.Context, ids []string) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("store: delete %s: %w", id, err)
		}
		if s.db.VectorsEnabled() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE id = ?`, id); err != nil {
				return fmt.Errorf("store: delete vector %s: %w", id, err)
			}
		}
	}
	return tx.Commit()
}

// Health implements Store.
func (s *LocalStore) Health(ctx context.Context) error {
	if err := s.db.Conn().PingContext(ctx); err != nil {
		return fmt.Errorf("store: health: %w", err)
	}
	return nil
}

// Count implements Counter.
func (s *LocalStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	query, args := `SELECT COUNT(*) FROM memories`, []any{}
	if namespace != "" {
		query += ` WHERE namespace = ?`
		args = append(args, namespace)
	}
	if err := s.db.Conn().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// RecordRun stores a sync run summary for status reporting.
func (s *LocalStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, ref, mode, synced, skipped, failed, records, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
		    synced = excluded.synced, skipped = excluded.skipped, failed = excluded.failed,
		    records = excluded.records, finished_at = excluded.finished_at`,
		run.ID, run.Ref, run.Mode, run.Synced, run.Skipped, run.Failed, run.Records,
		run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent sync run, or false when none was recorded.
func (s *LocalStore) LastRun(ctx context.Context) (Run, bool, error) {
	var run Run
	var started, finished string
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT run_id, ref, mode, synced, skipped, failed, records, started_at, COALESCE(finished_at, '')
		FROM sync_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.Ref, &run.Mode, &run.Synced, &run.Skipped, &run.Failed, &run.Records, &started, &finished)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("store: last run: %w", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, started)
	run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	return run, true, nil
}

// Run summarises one sync invocation.
type Run struct {
	ID         string
	Ref        string
	Mode       string
	Synced     int
	Skipped    int
	Failed     int
	Records    int
	StartedAt  time.Time
	FinishedAt time.Time
}

func scanRecord(rows *sql.Rows) (memory.Record, error) {
	var r memory.Record
	var typ, topics, entities, created string
	if err := rows.Scan(&r.ID, &r.Text, &typ, &topics, &entities, &r.Namespace,
		&r.UserID, &r.SessionID, &r.SourceRef, &created); err != nil {
		return r, err
	}
	r.MemoryType = memory.MemoryType(typ)
	_ = json.Unmarshal([]byte(topics), &r.Topics)
	_ = json.Unmarshal([]byte(entities), &r.Entities)
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return r, nil
}

func hasAnyTopic(r memory.Record, topics []string) bool {
	for _, t := range topics {
		if r.HasTopic(t) {
			return true
		}
	}
	return false
}

func queryTerms(text string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r == '-' || r == '.' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127)
	}) {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// float32SliceToBlob serialises a float32 slice to the little-endian blob
// sqlite-vec expects.
func float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
