// Package postgres implements the Storage backend adaptor's durable sink
// and the SourceStore persistence boundary, reusing the teacher's
// COPY-based batch upsert pattern (internal/adapter/repository/postgres
// in the teacher repo) generalized from one flat logs table to
// per-source-token partitioning via a source_token column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// SinkRepository implements domain.LogSinkRepository: batched, idempotent
// writes via Postgres COPY into a staging temp table, then an
// ON CONFLICT upsert into the durable logs table.
type SinkRepository struct {
	db *sql.DB
}

// NewSinkRepository wraps an existing *sql.DB.
func NewSinkRepository(db *sql.DB) *SinkRepository {
	return &SinkRepository{db: db}
}

// WriteBatch upserts events keyed by id, so a redelivered
// event after a consumer crash is idempotent rather than duplicated.
func (r *SinkRepository) WriteBatch(ctx context.Context, sourceToken string, events []domain.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	const tempTable = "logs_temp_import"
	if _, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTable+` (LIKE logs INCLUDING DEFAULTS) ON COMMIT DROP;`); err != nil {
		return err
	}

	stmt, err := txn.Prepare(pq.CopyIn(tempTable, "id", "source_token", "ingested_at", "body"))
	if err != nil {
		return err
	}

	for _, event := range events {
		body, err := json.Marshal(event.Body)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx, event.ID, sourceToken, event.IngestedAt, body); err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO logs (id, source_token, ingested_at, body)
		SELECT id, source_token, ingested_at, body FROM `+tempTable+`
		ON CONFLICT (id) DO UPDATE SET
			source_token = EXCLUDED.source_token,
			ingested_at  = EXCLUDED.ingested_at,
			body         = EXCLUDED.body;
	`)
	if err != nil {
		return err
	}

	return txn.Commit()
}
