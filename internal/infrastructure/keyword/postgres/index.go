// Package postgres is the keyword backend adapter: full-text search over
// the shared document chunk table. The table is written by the ingestion
// service; this side only ensures the schema and reads.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

type KeywordIndex struct {
	db *sql.DB
}

func NewKeywordIndex(db *sql.DB) *KeywordIndex {
	return &KeywordIndex{db: db}
}

func (k *KeywordIndex) EnsureSchema(ctx context.Context) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL with the ingestion side.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS search_chunks (
	doc_id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);
CREATE INDEX IF NOT EXISTS search_chunks_tsv_idx ON search_chunks USING GIN (tsv);`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure search_chunks schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Query OR-combines the expanded terms into one tsquery and ranks matches
// with ts_rank_cd.
func (k *KeywordIndex) Query(ctx context.Context, terms []string, topK int) ([]domain.BackendCandidate, error) {
	tsquery := buildTSQuery(terms)
	if tsquery == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := k.db.QueryContext(ctx, `
SELECT doc_id, content, ts_rank_cd(tsv, query) AS rank
FROM search_chunks, to_tsquery('english', $1) AS query
WHERE tsv @@ query
ORDER BY rank DESC, doc_id ASC
LIMIT $2`, tsquery, topK)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "keyword search", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.BackendCandidate
	for rows.Next() {
		var cand domain.BackendCandidate
		if err := rows.Scan(&cand.DocID, &cand.Content, &cand.Score); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		out = append(out, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "keyword search", err)
	}
	return out, nil
}

// buildTSQuery keeps only lexeme-safe tokens so user input can never break
// the tsquery syntax.
func buildTSQuery(terms []string) string {
	safe := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		token := sanitizeLexeme(term)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		safe = append(safe, token)
	}
	return strings.Join(safe, " | ")
}

func sanitizeLexeme(term string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(term)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
