package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// PostgresBatchRepository handles production batches and their product configs.
// A batch and its configs are always written together in one transaction.
type PostgresBatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new Postgres-backed batch repository.
func NewBatchRepository(db *database.DB) *PostgresBatchRepository {
	return &PostgresBatchRepository{db: db}
}

const batchColumns = `
	id, machine_id, mode, status,
	submitted_by, submitted_by_name, submitted_at,
	target_date, shift, template_id,
	reviewed_by, reviewed_at, review_notes,
	created_at, updated_at`

// Create inserts a batch with its product configs.
func (r *PostgresBatchRepository) Create(ctx context.Context, batch *ProductionBatch) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return insertBatch(ctx, tx, batch)
	})
}

// CreateMany inserts all batches in a single transaction.
func (r *PostgresBatchRepository) CreateMany(ctx context.Context, batches []*ProductionBatch) error {
	if len(batches) == 0 {
		return nil
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, b := range batches {
			if err := insertBatch(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertBatch(ctx context.Context, tx pgx.Tx, b *ProductionBatch) error {
	query := `
		INSERT INTO production_batches
		    (machine_id, mode, status,
		     submitted_by, submitted_by_name, submitted_at,
		     target_date, shift, template_id)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	submittedAt := b.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
		b.SubmittedAt = submittedAt
	}

	err := tx.QueryRow(ctx, query,
		b.MachineID,
		b.Mode,
		b.Status,
		b.SubmittedBy,
		b.SubmittedByName,
		submittedAt,
		b.TargetDate,
		b.Shift,
		b.TemplateID,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create production batch")
	}

	configQuery := `
		INSERT INTO product_configs
		    (batch_id, product_id, product_name,
		     primary_color_id, secondary_color_id,
		     stations, expected_output, priority)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7, $8)
		RETURNING id
	`

	for i := range b.Products {
		p := &b.Products[i]
		p.BatchID = b.ID
		stations := p.Stations
		if stations == nil {
			stations = []int{}
		}
		err := tx.QueryRow(ctx, configQuery,
			p.BatchID,
			p.ProductID,
			p.ProductName,
			p.PrimaryColorID,
			p.SecondaryColorID,
			stations,
			p.ExpectedOutput,
			p.Priority,
		).Scan(&p.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create product config")
		}
	}
	return nil
}

// GetByID retrieves a batch with its product configs.
func (r *PostgresBatchRepository) GetByID(ctx context.Context, id string) (*ProductionBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM production_batches WHERE id = $1`

	b, err := scanBatch(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("production_batch", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get production batch")
	}

	if err := r.attachProducts(ctx, []*ProductionBatch{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// GetByIDs returns the batches that exist, ordered as ids.
func (r *PostgresBatchRepository) GetByIDs(ctx context.Context, ids []string) ([]*ProductionBatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + batchColumns + ` FROM production_batches WHERE id = ANY($1)`

	found, err := r.queryBatches(ctx, query, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*ProductionBatch, len(found))
	for _, b := range found {
		byID[b.ID] = b
	}
	out := make([]*ProductionBatch, 0, len(found))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListByStatus returns batches with the status, oldest submission first.
func (r *PostgresBatchRepository) ListByStatus(ctx context.Context, status BatchStatus) ([]*ProductionBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM production_batches
		WHERE status = $1
		ORDER BY submitted_at ASC, id ASC`
	return r.queryBatches(ctx, query, status)
}

// ListSubmittedBetween returns batches with the status submitted in [from, to).
func (r *PostgresBatchRepository) ListSubmittedBetween(ctx context.Context, status BatchStatus, from, to time.Time) ([]*ProductionBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM production_batches
		WHERE status = $1 AND submitted_at >= $2 AND submitted_at < $3
		ORDER BY submitted_at ASC, id ASC`
	return r.queryBatches(ctx, query, status, from, to)
}

// ListCreatedBetween returns batches created in [from, to).
func (r *PostgresBatchRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*ProductionBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM production_batches
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC, id ASC`
	return r.queryBatches(ctx, query, from, to)
}

// Update writes the mutable header fields of a batch. Product configs are
// immutable once created.
func (r *PostgresBatchRepository) Update(ctx context.Context, b *ProductionBatch) error {
	query := `
		UPDATE production_batches
		SET status       = $2,
		    target_date  = $3,
		    shift        = $4,
		    reviewed_by  = $5,
		    reviewed_at  = $6,
		    review_notes = $7,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		b.ID,
		b.Status,
		b.TargetDate,
		b.Shift,
		b.ReviewedBy,
		b.ReviewedAt,
		b.ReviewNotes,
	).Scan(&b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("production_batch", b.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update production batch")
	}
	return nil
}

func (r *PostgresBatchRepository) queryBatches(ctx context.Context, query string, args ...any) ([]*ProductionBatch, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list production batches")
	}
	defer rows.Close()

	var batches []*ProductionBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan production batch")
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list production batches")
	}

	if err := r.attachProducts(ctx, batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// attachProducts loads product configs for all batches with one query.
func (r *PostgresBatchRepository) attachProducts(ctx context.Context, batches []*ProductionBatch) error {
	if len(batches) == 0 {
		return nil
	}
	ids := make([]string, len(batches))
	byID := make(map[string]*ProductionBatch, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
		byID[b.ID] = b
		b.Products = []ProductConfig{}
	}

	query := `
		SELECT id, batch_id, product_id, product_name,
		       primary_color_id, secondary_color_id,
		       stations, expected_output, priority
		FROM product_configs
		WHERE batch_id = ANY($1)
		ORDER BY batch_id, priority, id
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to get product configs")
	}
	defer rows.Close()

	for rows.Next() {
		var p ProductConfig
		err := rows.Scan(
			&p.ID,
			&p.BatchID,
			&p.ProductID,
			&p.ProductName,
			&p.PrimaryColorID,
			&p.SecondaryColorID,
			&p.Stations,
			&p.ExpectedOutput,
			&p.Priority,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan product config")
		}
		if b, ok := byID[p.BatchID]; ok {
			b.Products = append(b.Products, p)
		}
	}
	return rows.Err()
}

// ── scan helper ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*ProductionBatch, error) {
	b := &ProductionBatch{}
	err := row.Scan(
		&b.ID,
		&b.MachineID,
		&b.Mode,
		&b.Status,
		&b.SubmittedBy,
		&b.SubmittedByName,
		&b.SubmittedAt,
		&b.TargetDate,
		&b.Shift,
		&b.TemplateID,
		&b.ReviewedBy,
		&b.ReviewedAt,
		&b.ReviewNotes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
