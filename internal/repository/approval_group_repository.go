package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// PostgresApprovalGroupRepository manages approval groups. Batch membership is
// stored as an id array on the group row.
type PostgresApprovalGroupRepository struct {
	db *database.DB
}

// NewApprovalGroupRepository creates a new Postgres-backed group repository.
func NewApprovalGroupRepository(db *database.DB) *PostgresApprovalGroupRepository {
	return &PostgresApprovalGroupRepository{db: db}
}

const groupColumns = `
	id, name, target_date, batch_ids, coordinator_id,
	priority, status, submitted_at,
	approved_at, approved_by, notes,
	created_at, updated_at`

// Create inserts a group.
func (r *PostgresApprovalGroupRepository) Create(ctx context.Context, g *ApprovalGroup) error {
	query := `
		INSERT INTO approval_groups
		    (id, name, target_date, batch_ids, coordinator_id,
		     priority, status, submitted_at, notes)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5,
		        $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	if g.SubmittedAt.IsZero() {
		g.SubmittedAt = time.Now().UTC()
	}
	batchIDs := g.BatchIDs
	if batchIDs == nil {
		batchIDs = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		g.ID,
		g.Name,
		g.TargetDate,
		batchIDs,
		g.CoordinatorID,
		g.Priority,
		g.Status,
		g.SubmittedAt,
		g.Notes,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval group")
	}
	return nil
}

// GetByID retrieves a group by its primary key.
func (r *PostgresApprovalGroupRepository) GetByID(ctx context.Context, id string) (*ApprovalGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM approval_groups WHERE id = $1`

	g, err := scanGroup(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_group", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval group")
	}
	return g, nil
}

// ListByDate returns the groups targeting a date.
func (r *PostgresApprovalGroupRepository) ListByDate(ctx context.Context, date time.Time) ([]*ApprovalGroup, error) {
	query := `SELECT ` + groupColumns + `
		FROM approval_groups
		WHERE target_date = $1
		ORDER BY created_at ASC, id ASC`
	return r.queryGroups(ctx, query, NormalizeDate(date))
}

// ListBetween returns groups whose target date falls in [from, to).
func (r *PostgresApprovalGroupRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*ApprovalGroup, error) {
	query := `SELECT ` + groupColumns + `
		FROM approval_groups
		WHERE target_date >= $1 AND target_date < $2
		ORDER BY target_date ASC, created_at ASC`
	return r.queryGroups(ctx, query, NormalizeDate(from), NormalizeDate(to))
}

// Update writes membership, status and approval fields.
func (r *PostgresApprovalGroupRepository) Update(ctx context.Context, g *ApprovalGroup) error {
	query := `
		UPDATE approval_groups
		SET name        = $2,
		    batch_ids   = $3,
		    priority    = $4,
		    status      = $5,
		    approved_at = $6,
		    approved_by = $7,
		    notes       = $8,
		    updated_at  = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	batchIDs := g.BatchIDs
	if batchIDs == nil {
		batchIDs = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		g.ID,
		g.Name,
		batchIDs,
		g.Priority,
		g.Status,
		g.ApprovedAt,
		g.ApprovedBy,
		g.Notes,
	).Scan(&g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_group", g.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval group")
	}
	return nil
}

func (r *PostgresApprovalGroupRepository) queryGroups(ctx context.Context, query string, args ...any) ([]*ApprovalGroup, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval groups")
	}
	defer rows.Close()

	var groups []*ApprovalGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval group")
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanGroup(row rowScanner) (*ApprovalGroup, error) {
	g := &ApprovalGroup{}
	err := row.Scan(
		&g.ID,
		&g.Name,
		&g.TargetDate,
		&g.BatchIDs,
		&g.CoordinatorID,
		&g.Priority,
		&g.Status,
		&g.SubmittedAt,
		&g.ApprovedAt,
		&g.ApprovedBy,
		&g.Notes,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}
