package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// PostgresResolutionRepository appends conflict resolutions and reads them back.
type PostgresResolutionRepository struct {
	db *database.DB
}

func NewResolutionRepository(db *database.DB) *PostgresResolutionRepository {
	return &PostgresResolutionRepository{db: db}
}

// Create inserts one resolution record.
func (r *PostgresResolutionRepository) Create(ctx context.Context, res *ConflictResolution) error {
	query := `
		INSERT INTO conflict_resolutions
		    (id, conflict_type, conflict_description, strategy,
		     detail, resolved_by, impacted_machine_ids, resolved_at)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4,
		        $5, $6, $7, $8)
		RETURNING id
	`

	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now().UTC()
	}
	machines := res.ImpactedMachineIDs
	if machines == nil {
		machines = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		res.ID,
		res.ConflictType,
		res.ConflictDescription,
		res.Strategy,
		res.Detail,
		res.ResolvedBy,
		machines,
		res.ResolvedAt,
	).Scan(&res.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create conflict resolution")
	}
	return nil
}

// ListBetween returns resolutions recorded in [from, to), oldest first.
func (r *PostgresResolutionRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*ConflictResolution, error) {
	query := `
		SELECT id, conflict_type, conflict_description, strategy,
		       detail, resolved_by, impacted_machine_ids, resolved_at
		FROM conflict_resolutions
		WHERE resolved_at >= $1 AND resolved_at < $2
		ORDER BY resolved_at ASC
	`

	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list conflict resolutions")
	}
	defer rows.Close()

	var out []*ConflictResolution
	for rows.Next() {
		res := &ConflictResolution{}
		err := rows.Scan(
			&res.ID,
			&res.ConflictType,
			&res.ConflictDescription,
			&res.Strategy,
			&res.Detail,
			&res.ResolvedBy,
			&res.ImpactedMachineIDs,
			&res.ResolvedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan conflict resolution")
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
