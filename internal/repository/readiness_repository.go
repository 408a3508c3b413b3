package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// PostgresReadinessRepository reads and upserts machine readiness rows. The
// table is unique on (machine_id, target_date).
type PostgresReadinessRepository struct {
	db *database.DB
}

// NewReadinessRepository creates a new Postgres-backed readiness repository.
func NewReadinessRepository(db *database.DB) *PostgresReadinessRepository {
	return &PostgresReadinessRepository{db: db}
}

const readinessColumns = `
	id, machine_id, target_date, status, health_score,
	pending_batch_id, last_approved_batch_id, actual_ready_at,
	last_status_update, updated_by, created_at`

// Get returns the row for a machine and date, or nil when none exists.
func (r *PostgresReadinessRepository) Get(ctx context.Context, machineID string, date time.Time) (*MachineReadinessState, error) {
	query := `SELECT ` + readinessColumns + `
		FROM machine_readiness
		WHERE machine_id = $1 AND target_date = $2`

	s, err := scanReadiness(r.db.QueryRow(ctx, query, machineID, NormalizeDate(date)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get machine readiness")
	}
	return s, nil
}

// ListByDate returns every readiness row for a date.
func (r *PostgresReadinessRepository) ListByDate(ctx context.Context, date time.Time) ([]*MachineReadinessState, error) {
	query := `SELECT ` + readinessColumns + `
		FROM machine_readiness
		WHERE target_date = $1
		ORDER BY machine_id ASC`
	return r.queryStates(ctx, query, NormalizeDate(date))
}

// ListBetween returns readiness rows with target date in [from, to).
func (r *PostgresReadinessRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*MachineReadinessState, error) {
	query := `SELECT ` + readinessColumns + `
		FROM machine_readiness
		WHERE target_date >= $1 AND target_date < $2
		ORDER BY target_date ASC, machine_id ASC`
	return r.queryStates(ctx, query, NormalizeDate(from), NormalizeDate(to))
}

// Upsert inserts the row or replaces the existing one for (machine, date).
func (r *PostgresReadinessRepository) Upsert(ctx context.Context, s *MachineReadinessState) error {
	query := `
		INSERT INTO machine_readiness
		    (id, machine_id, target_date, status, health_score,
		     pending_batch_id, last_approved_batch_id, actual_ready_at,
		     last_status_update, updated_by)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10)
		ON CONFLICT (machine_id, target_date) DO UPDATE
		SET status                 = EXCLUDED.status,
		    health_score           = EXCLUDED.health_score,
		    pending_batch_id       = EXCLUDED.pending_batch_id,
		    last_approved_batch_id = EXCLUDED.last_approved_batch_id,
		    actual_ready_at        = EXCLUDED.actual_ready_at,
		    last_status_update     = EXCLUDED.last_status_update,
		    updated_by             = EXCLUDED.updated_by
		RETURNING id, created_at
	`

	s.TargetDate = NormalizeDate(s.TargetDate)
	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.MachineID,
		s.TargetDate,
		s.Status,
		s.HealthScore,
		s.PendingBatchID,
		s.LastApprovedBatchID,
		s.ActualReadyAt,
		s.LastStatusUpdate,
		s.UpdatedBy,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert machine readiness")
	}
	return nil
}

func (r *PostgresReadinessRepository) queryStates(ctx context.Context, query string, args ...any) ([]*MachineReadinessState, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list machine readiness")
	}
	defer rows.Close()

	var states []*MachineReadinessState
	for rows.Next() {
		s, err := scanReadiness(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan machine readiness")
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func scanReadiness(row rowScanner) (*MachineReadinessState, error) {
	s := &MachineReadinessState{}
	err := row.Scan(
		&s.ID,
		&s.MachineID,
		&s.TargetDate,
		&s.Status,
		&s.HealthScore,
		&s.PendingBatchID,
		&s.LastApprovedBatchID,
		&s.ActualReadyAt,
		&s.LastStatusUpdate,
		&s.UpdatedBy,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
