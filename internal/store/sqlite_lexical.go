package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteLexicalIndex implements LexicalIndex with an in-memory SQLite FTS5
// table ranked by bm25(). Bodies are pre-tokenized with Tokenize so both
// backends agree on terms.
type SQLiteLexicalIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	closed    bool
	count     int
	stopWords map[string]struct{}
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex creates an empty in-memory FTS5 index.
func NewSQLiteLexicalIndex(config LexicalConfig) (*SQLiteLexicalIndex, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each :memory: connection is its own database, so pin the pool to one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	schema := `CREATE VIRTUAL TABLE fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create FTS5 table: %w", err)
	}

	return &SQLiteLexicalIndex{
		db:        db,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

// Index inserts units in a single transaction.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, units []*TextUnit) error {
	if len(units) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content (doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		content := strings.Join(Tokenize(u.Body, s.stopWords), " ")
		if _, err := stmt.ExecContext(ctx, u.ID, content); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.count += len(units)
	return nil
}

// Search matches any query term and ranks by BM25. SQLite's bm25() is
// lower-is-better, so scores are negated.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, query string, k int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := Tokenize(query, s.stopWords)
	if len(terms) == 0 || k <= 0 {
		return []*LexicalResult{}, nil
	}

	quoted := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score ASC, doc_id ASC
		LIMIT ?`, strings.Join(quoted, " OR "), k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]*LexicalResult, 0, k)
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Score = -r.Score
		results = append(results, &r)
	}
	return results, rows.Err()
}

// Count returns the number of indexed units.
func (s *SQLiteLexicalIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Close releases the database.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
