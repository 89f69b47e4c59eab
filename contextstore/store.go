// Package contextstore is the storage side of feature context enrichment:
// it persists content chunks with their embeddings and answers similarity
// and keyword queries. It does not decide what is worth retrieving or how
// to embed content — that heuristic stays an external contract, same as
// the worker-spawning CLI construction.
package contextstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	_ "modernc.org/sqlite"
)

// Store persists content chunks and serves similarity/keyword search over
// them, grounded on rag/store.go's VectorStore but retargeted from
// kanban-ticket sourcing to feature-id sourcing.
type Store struct {
	db *sql.DB
}

// Chunk is one retrievable unit of context, scoped to a feature.
type Chunk struct {
	ID        string    `json:"id"`
	FeatureID string    `json:"featureId"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SearchResult is one scored match.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// SearchOptions configures a similarity search.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
}

// New opens (and migrates) a context store at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("contextstore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("contextstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		feature_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		tags TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_feature ON chunks(feature_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		id, content, feature_id,
		content='chunks',
		content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(id, content, feature_id) VALUES (new.id, new.content, new.feature_id);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		DELETE FROM chunks_fts WHERE id = old.id;
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		DELETE FROM chunks_fts WHERE id = old.id;
		INSERT INTO chunks_fts(id, content, feature_id) VALUES (new.id, new.content, new.feature_id);
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or replaces a chunk.
func (s *Store) Put(ctx context.Context, chunk Chunk) error {
	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("contextstore: marshal embedding: %w", err)
	}
	tagsJSON, err := json.Marshal(chunk.Tags)
	if err != nil {
		return fmt.Errorf("contextstore: marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, feature_id, content, embedding, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, chunk.ID, chunk.FeatureID, chunk.Content, string(embeddingJSON), string(tagsJSON), chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("contextstore: put: %w", err)
	}
	return nil
}

// Search performs cosine-similarity search, optionally scoped to a feature.
func (s *Store) Search(ctx context.Context, featureID string, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	query := "SELECT id, feature_id, content, embedding, tags, created_at FROM chunks"
	var args []any
	if featureID != "" {
		query += " WHERE feature_id = ?"
		args = append(args, featureID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contextstore: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var c Chunk
		var embeddingJSON, tagsJSON string
		if err := rows.Scan(&c.ID, &c.FeatureID, &c.Content, &embeddingJSON, &tagsJSON, &c.CreatedAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &c.Embedding); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)

		similarity := cosineSimilarity(queryVec, c.Embedding)
		if similarity >= opts.MinSimilarity {
			results = append(results, SearchResult{Chunk: c, Similarity: similarity})
		}
	}

	sortBySimilarity(results)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// SearchKeyword performs full-text search as a fallback when an embedding
// is not available for the query.
func (s *Store) SearchKeyword(ctx context.Context, keywords string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.feature_id, c.content, c.embedding, c.tags, c.created_at
		FROM chunks_fts fts JOIN chunks c ON fts.id = c.id
		WHERE chunks_fts MATCH ?
		LIMIT ?
	`, keywords, limit)
	if err != nil {
		return nil, fmt.Errorf("contextstore: search keyword: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var c Chunk
		var embeddingJSON, tagsJSON string
		if err := rows.Scan(&c.ID, &c.FeatureID, &c.Content, &embeddingJSON, &tagsJSON, &c.CreatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
		results = append(results, SearchResult{Chunk: c, Similarity: 0.5})
	}
	return results, nil
}

// DeleteByFeature removes every chunk scoped to featureID.
func (s *Store) DeleteByFeature(ctx context.Context, featureID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE feature_id = ?", featureID)
	if err != nil {
		return fmt.Errorf("contextstore: delete by feature: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortBySimilarity(results []SearchResult) {
	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
}

// ChunkMarkdown splits a retrieved Markdown document into one passage per
// blank-line-separated block (heading, paragraph, list, code fence), the
// unit Put stores and Search ranks over. Each candidate chunk is validated
// by rendering it through goldmark; a chunk that fails to render (a
// truncated fence, say) is kept as-is rather than dropped, since a broken
// code block is still useful retrieval context.
func ChunkMarkdown(doc string) []string {
	var chunks []string
	var discard bytes.Buffer
	for _, block := range strings.Split(doc, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		discard.Reset()
		_ = goldmark.Convert([]byte(trimmed), &discard)
		chunks = append(chunks, trimmed)
	}
	return chunks
}

// FormatContext renders search results into the flat string the core
// stores on Feature.Context (spec: "a fixed data shape" contract with no
// further opinion on rendering).
func FormatContext(results []SearchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%.2f] %s\n", r.Similarity, r.Chunk.Content)
	}
	return b.String()
}
