package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/liveauction/internal/domain"
	"github.com/jmoiron/sqlx"
)

// AuditRepository persists audit records. Write-only: rows are batch-inserted
// by the audit sink and never updated.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// BatchInsert writes a batch of audit records in one transaction with a
// prepared statement. An error leaves nothing inserted so the sink can
// re-buffer the whole batch.
func (r *AuditRepository) BatchInsert(ctx context.Context, records []domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit_repo.BatchInsert: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_logs (event_type, payload, event_timestamp, received_at)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("audit_repo.BatchInsert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, rec.EventType, rec.Payload, rec.EventTimestamp, rec.ReceivedAt); err != nil {
			return fmt.Errorf("audit_repo.BatchInsert: insert: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("audit_repo.BatchInsert: commit: %w", err)
	}
	return nil
}
