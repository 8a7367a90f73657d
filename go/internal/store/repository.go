package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres channel written on every document upsert so
// sibling processes can refresh their caches.
const NotifyChannel = "document_updates"

// PgRepository persists the singleton documents in a single jsonb table.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a repository on an existing pool and ensures the
// documents table exists.
func NewPgRepository(ctx context.Context, pool *pgxpool.Pool) (*PgRepository, error) {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS documents (
            kind       text PRIMARY KEY,
            doc        jsonb NOT NULL,
            updated_at timestamptz NOT NULL DEFAULT now()
        )
    `)
	if err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &PgRepository{pool: pool}, nil
}

// GetDocument returns the stored document for kind, or nil when absent.
func (r *PgRepository) GetDocument(ctx context.Context, kind Kind) (json.RawMessage, error) {
	var doc json.RawMessage
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM documents WHERE kind = $1`, string(kind),
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s document: %w", kind, err)
	}
	return doc, nil
}

// PutDocument replaces the stored document for kind and notifies listening
// processes.
func (r *PgRepository) PutDocument(ctx context.Context, kind Kind, doc json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO documents (kind, doc, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (kind) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
    `, string(kind), doc)
	if err != nil {
		return fmt.Errorf("upsert %s document: %w", kind, err)
	}

	if _, err := r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(kind)); err != nil {
		return fmt.Errorf("notify %s update: %w", kind, err)
	}
	return nil
}
