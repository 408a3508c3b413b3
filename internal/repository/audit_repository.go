package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// PostgresAuditRepository appends and reads immutable audit events.
type PostgresAuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new Postgres-backed audit log.
func NewAuditRepository(db *database.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Append inserts one audit event. Events are never updated or deleted.
func (r *PostgresAuditRepository) Append(ctx context.Context, event *AuditEvent) error {
	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit details")
		}
	}

	query := `
		INSERT INTO audit_events
		    (operation, entity_type, entity_id, description,
		     operator_id, operator_name, details)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7)
		RETURNING id, recorded_at
	`

	return r.db.QueryRow(ctx, query,
		event.Operation,
		event.EntityType,
		event.EntityID,
		event.Description,
		event.OperatorID,
		event.OperatorName,
		detailsJSON,
	).Scan(&event.ID, &event.RecordedAt)
}

// ListByEntity returns the audit trail of one entity ordered oldest-first.
func (r *PostgresAuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEvent, error) {
	query := `
		SELECT id, operation, entity_type, entity_id, description,
		       operator_id, operator_name, details, recorded_at
		FROM audit_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit trail")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *PostgresAuditRepository) scanRows(rows pgx.Rows) ([]*AuditEvent, error) {
	var events []*AuditEvent
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *PostgresAuditRepository) scanEvent(sc rowScanner) (*AuditEvent, error) {
	event := &AuditEvent{}
	var detailsJSON []byte

	err := sc.Scan(
		&event.ID,
		&event.Operation,
		&event.EntityType,
		&event.EntityID,
		&event.Description,
		&event.OperatorID,
		&event.OperatorName,
		&detailsJSON,
		&event.RecordedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit event")
	}

	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit details")
		}
	}
	return event, nil
}
