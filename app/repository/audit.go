package repository

import (
	"context"
	"time"

	"github.com/novacart/ms-go-payments/app/entity"
)

// AuditLogRepository persists audit events to the append-only audit_events
// table. It satisfies the audit trail's Sink contract.
type AuditLogRepository struct {
	db      DBTX
	timeout time.Duration
}

func NewAuditLogRepository(db DBTX) *AuditLogRepository {
	return &AuditLogRepository{db: db, timeout: 5 * time.Second}
}

func (r *AuditLogRepository) Append(event entity.AuditEvent) error {
	detailJSON, err := serializeMetadata(event.Detail)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	query := `
		INSERT INTO audit_events (occurred_at, actor_id, action, outcome, subject_id, duplicate, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.Timestamp,
		nullableStringValue(event.ActorID),
		event.Action,
		event.Outcome,
		event.SubjectID,
		event.Duplicate,
		detailJSON,
	)
	return err
}
