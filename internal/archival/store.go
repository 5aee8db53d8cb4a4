package archival

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tendwatch/tendwatch/internal/embedding"
)

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	rowid        INTEGER PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	content      TEXT NOT NULL,
	source       TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	embedding    BLOB
);

CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
	content, content='facts', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS facts_ai AFTER INSERT ON facts BEGIN
	INSERT INTO facts_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS facts_ad AFTER DELETE ON facts BEGIN
	INSERT INTO facts_fts(facts_fts, rowid, content) VALUES('delete', old.rowid, old.content);
END;
`

// Store is a per-user archival fact store. All writes are serialised
// through mu, matching the spec's single-writer-per-user assumption; the
// underlying *sql.DB still protects its own transactions.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	vectorWeight float64
	textWeight   float64
	minScore     float64
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithWeights sets the hybrid-search combination weights and score floor.
func WithWeights(vectorWeight, textWeight, minScore float64) Option {
	return func(s *Store) {
		s.vectorWeight = vectorWeight
		s.textWeight = textWeight
		s.minScore = minScore
	}
}

// Open opens (creating if necessary) the SQLite-backed store at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archival: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + single-writer assumption

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archival: migrate schema: %w", err)
	}

	s := &Store{
		db:           db,
		path:         path,
		vectorWeight: 0.5,
		textWeight:   0.5,
		minScore:     0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum[:8]) // 16 hex chars
}

// Add inserts content if no fact with the same content_hash exists yet,
// returning the (possibly pre-existing) fact id. Idempotent by design: a
// second Add with identical content is a no-op that returns the original id.
func (s *Store) Add(ctx context.Context, content string, source FactSource, emb []float32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := contentHash(content)

	var existingID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM facts WHERE content_hash = ?`, hash).Scan(&existingID)
	switch {
	case err == nil:
		return existingID, nil
	case err != sql.ErrNoRows:
		return "", fmt.Errorf("archival: lookup by hash: %w", err)
	}

	id := uuid.NewString()
	var embBlob []byte
	if len(emb) > 0 {
		embBlob = encodeEmbedding(emb)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO facts (id, content, source, timestamp_ms, content_hash, embedding) VALUES (?, ?, ?, ?, ?, ?)`,
		id, content, string(source), time.Now().UnixMilli(), hash, embBlob,
	)
	if err != nil {
		return "", fmt.Errorf("archival: insert fact: %w", err)
	}
	return id, nil
}

// Remove deletes a fact from every index.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archival: delete fact: %w", err)
	}
	return nil
}

// ftsSpecial matches FTS5 query-syntax characters and boolean operators;
// sanitizeQuery strips them so user/agent text can never be interpreted as
// search syntax.
var ftsSpecial = regexp.MustCompile(`["*^:()-]|(?i)\b(AND|OR|NOT|NEAR)\b`)
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// sanitizeQuery turns raw user text into a safe FTS5 MATCH expression: each
// surviving token is quoted as a literal phrase and the tokens are ANDed
// implicitly by FTS5's default phrase-list behaviour. An empty result
// signals the caller to fall back to substring matching.
func sanitizeQuery(query string) string {
	cleaned := ftsSpecial.ReplaceAllString(query, " ")
	fields := nonWord.Split(cleaned, -1)
	var tokens []string
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, `"`+f+`"`)
		}
	}
	return strings.Join(tokens, " ")
}

// SearchKeyword runs a BM25-ranked search over fact content. An empty query
// returns no results. sqlite's bm25() is lower-is-better; results here are
// re-sorted best-first with positive scores.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchExpr := sanitizeQuery(query)
	if matchExpr == "" {
		return s.searchSubstring(ctx, query, limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.content, f.source, f.timestamp_ms, f.content_hash, bm25(facts_fts) AS rank
		FROM facts_fts
		JOIN facts f ON f.rowid = facts_fts.rowid
		WHERE facts_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, matchExpr, limit)
	if err != nil {
		// A query that still fails to parse as FTS5 syntax (edge cases the
		// sanitizer doesn't catch) falls back to substring match rather
		// than erroring the caller out.
		return s.searchSubstring(ctx, query, limit)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var source, hash string
		var rank float64
		if err := rows.Scan(&r.ID, &r.Content, &source, &r.TimestampMs, &hash, &rank); err != nil {
			return nil, fmt.Errorf("archival: scan keyword result: %w", err)
		}
		r.Source = FactSource(source)
		r.ContentHash = hash
		r.Score = -rank // bm25 is negative-is-better; flip so higher score = better
		r.MatchedBy = []string{"keyword"}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) searchSubstring(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, timestamp_ms, content_hash
		FROM facts
		WHERE content LIKE '%' || ? || '%'
		ORDER BY timestamp_ms DESC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archival: substring search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var source, hash string
		if err := rows.Scan(&r.ID, &r.Content, &source, &r.TimestampMs, &hash); err != nil {
			return nil, fmt.Errorf("archival: scan substring result: %w", err)
		}
		r.Source = FactSource(source)
		r.ContentHash = hash
		r.Score = 1
		r.MatchedBy = []string{"keyword"}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchVector runs a brute-force cosine similarity search over every fact
// with a stored embedding. Returns no results (not an error) when the
// embedder is unavailable or no facts have embeddings yet.
func (s *Store) SearchVector(ctx context.Context, queryEmbedding []float32, limit int) ([]SearchResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, timestamp_ms, content_hash, embedding
		FROM facts
		WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("archival: scan for vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var source, hash string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Content, &source, &r.TimestampMs, &hash, &blob); err != nil {
			return nil, fmt.Errorf("archival: scan vector result: %w", err)
		}
		r.Source = FactSource(source)
		r.ContentHash = hash
		r.Embedding = decodeEmbedding(blob)
		r.Score = embedding.CosineSimilarity(queryEmbedding, r.Embedding)
		r.MatchedBy = []string{"vector"}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// HybridSearch combines keyword and vector search. When both subsystems
// return results for a fact, the combined score is
// vectorWeight*cosine + textWeight*normalisedKeywordScore; a fact that only
// one subsystem found keeps that subsystem's own (weighted) score.
func (s *Store) HybridSearch(ctx context.Context, query string, queryEmbedding []float32, limit int) ([]SearchResult, error) {
	keyword, err := s.SearchKeyword(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}
	vector, err := s.SearchVector(ctx, queryEmbedding, limit*2)
	if err != nil {
		return nil, err
	}

	maxKeyword := 0.0
	for _, r := range keyword {
		if r.Score > maxKeyword {
			maxKeyword = r.Score
		}
	}

	combined := make(map[string]*SearchResult)
	order := func(id string) *SearchResult {
		if r, ok := combined[id]; ok {
			return r
		}
		return nil
	}

	for _, r := range keyword {
		norm := 0.0
		if maxKeyword > 0 {
			norm = r.Score / maxKeyword
		}
		r.Score = norm * s.textWeight
		r.MatchedBy = []string{"keyword"}
		cp := r
		combined[r.ID] = &cp
	}
	for _, r := range vector {
		weighted := r.Score * s.vectorWeight
		if existing := order(r.ID); existing != nil {
			existing.Score += weighted
			existing.MatchedBy = append(existing.MatchedBy, "vector")
			continue
		}
		r.Score = weighted
		cp := r
		combined[r.ID] = &cp
	}

	results := make([]SearchResult, 0, len(combined))
	for _, r := range combined {
		if r.Score < s.minScore {
			continue
		}
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
