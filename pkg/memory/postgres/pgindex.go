// Package postgres provides a pgvector-backed SemanticIndex for sessions that
// accumulate more fragments than the in-memory exact scan comfortably handles.
//
// Fragments are stored in a single fragments table keyed by (session_id, seq)
// with an HNSW cosine index, giving amortized incremental inserts and sublinear
// queries. The index is still strictly session-scoped: Close purges the
// session's rows, so no transcript content outlives the meeting.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/confab/pkg/memory"
)

// ddlFragments returns the fragments DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlFragments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS fragments (
    session_id  TEXT         NOT NULL,
    seq         INTEGER      NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_fragments_session_id
    ON fragments (session_id);

CREATE INDEX IF NOT EXISTS idx_fragments_embedding
    ON fragments USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the fragments table and pgvector extension exist.
// It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embeddings provider (e.g.,
// 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text). Changing
// this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlFragments(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// NewPool opens a pgxpool with pgvector types registered on every connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return pool, nil
}

// Index is the pgvector-backed SemanticIndex implementation. One Index serves
// exactly one session; rows are namespaced by session_id and deleted on Close.
//
// All methods are safe for concurrent use. Sequence numbers are allocated
// under an internal mutex so they stay contiguous even with concurrent
// inserters.
type Index struct {
	pool      *pgxpool.Pool
	sessionID string

	mu     sync.Mutex
	count  int
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewIndex returns a fresh Index for sessionID. The caller must have run
// [Migrate] against the pool's database beforehand. Any rows left over from a
// previous process under the same session id are purged so sequence numbers
// start at 0.
func NewIndex(ctx context.Context, pool *pgxpool.Pool, sessionID string) (*Index, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("postgres: sessionID must not be empty")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM fragments WHERE session_id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("postgres: reset session %q: %w", sessionID, err)
	}
	return &Index{pool: pool, sessionID: sessionID}, nil
}

// Insert implements memory.SemanticIndex.
func (x *Index) Insert(ctx context.Context, text string, embedding []float32) error {
	if strings.TrimSpace(text) == "" {
		// Skipped before any sequence number is allocated.
		return nil
	}
	vec, err := memory.Normalize(embedding)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return memory.ErrClosed
	}

	const q = `
		INSERT INTO fragments (session_id, seq, content, embedding)
		VALUES ($1, $2, $3, $4)`
	if _, err := x.pool.Exec(ctx, q, x.sessionID, x.count, text, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("postgres: insert fragment: %w", err)
	}
	x.count++
	return nil
}

// Query implements memory.SemanticIndex. Cosine distance ordering with seq as
// the secondary sort key keeps equal-distance results deterministic.
func (x *Index) Query(ctx context.Context, embedding []float32, k int) ([]string, error) {
	query, err := memory.Normalize(embedding)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, memory.ErrClosed
	}
	if k > x.count {
		k = x.count
	}
	x.mu.Unlock()

	if k <= 0 {
		return []string{}, nil
	}

	const q = `
		SELECT content
		FROM   fragments
		WHERE  session_id = $1
		ORDER  BY embedding <=> $2, seq
		LIMIT  $3`
	rows, err := x.pool.Query(ctx, q, x.sessionID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: query fragments: %w", err)
	}
	results, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fragments: %w", err)
	}
	if results == nil {
		results = []string{}
	}
	return results, nil
}

// AllText implements memory.SemanticIndex.
func (x *Index) AllText(ctx context.Context) (string, error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return "", memory.ErrClosed
	}
	x.mu.Unlock()

	const q = `
		SELECT content
		FROM   fragments
		WHERE  session_id = $1
		ORDER  BY seq`
	rows, err := x.pool.Query(ctx, q, x.sessionID)
	if err != nil {
		return "", fmt.Errorf("postgres: load fragments: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("postgres: scan fragments: %w", err)
	}
	return strings.Join(texts, " "), nil
}

// Count implements memory.SemanticIndex.
func (x *Index) Count() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.count
}

// Close implements memory.SemanticIndex. It purges the session's rows so no
// transcript content persists beyond the meeting. The purge uses its own
// timeout because Close is typically called during session teardown when the
// session context is already cancelled. A failed purge is returned so the
// caller can log that transcript rows were left behind.
func (x *Index) Close() error {
	x.closeOnce.Do(func() {
		x.mu.Lock()
		x.closed = true
		x.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := x.pool.Exec(ctx, `DELETE FROM fragments WHERE session_id = $1`, x.sessionID); err != nil {
			x.closeErr = fmt.Errorf("postgres: purge session %q: %w", x.sessionID, err)
		}
	})
	return x.closeErr
}

// Ensure Index implements memory.SemanticIndex at compile time.
var _ memory.SemanticIndex = (*Index)(nil)
