package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// PostgresTemplateRepository handles CRUD for batch_templates. Product
// templates are kept in a JSONB column.
type PostgresTemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new Postgres-backed template repository.
func NewTemplateRepository(db *database.DB) *PostgresTemplateRepository {
	return &PostgresTemplateRepository{db: db}
}

// Create inserts a new template.
func (r *PostgresTemplateRepository) Create(ctx context.Context, t *BatchTemplate) error {
	productsJSON, err := json.Marshal(t.Products)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal product templates")
	}

	machines := t.ApplicableMachines
	if machines == nil {
		machines = []string{}
	}

	query := `
		INSERT INTO batch_templates
		    (id, name, applicable_machines, priority,
		     products, is_active, created_by)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4,
		        $5, $6, $7)
		RETURNING id, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.Name,
		machines,
		t.Priority,
		productsJSON,
		t.IsActive,
		t.CreatedBy,
	).Scan(&t.ID, &t.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create batch template")
	}
	return nil
}

// GetByID retrieves a template by primary key.
func (r *PostgresTemplateRepository) GetByID(ctx context.Context, id string) (*BatchTemplate, error) {
	query := `
		SELECT id, name, applicable_machines, priority,
		       products, is_active, created_by, updated_at
		FROM batch_templates
		WHERE id = $1
	`

	t, err := r.scanTemplate(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("batch_template", id)
	}
	return t, err
}

// List returns all templates, optionally only active ones.
func (r *PostgresTemplateRepository) List(ctx context.Context, activeOnly bool) ([]*BatchTemplate, error) {
	query := `
		SELECT id, name, applicable_machines, priority,
		       products, is_active, created_by, updated_at
		FROM batch_templates
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY name ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list batch templates")
	}
	defer rows.Close()

	var templates []*BatchTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Update replaces the template definition.
func (r *PostgresTemplateRepository) Update(ctx context.Context, t *BatchTemplate) error {
	productsJSON, err := json.Marshal(t.Products)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal product templates")
	}

	machines := t.ApplicableMachines
	if machines == nil {
		machines = []string{}
	}

	query := `
		UPDATE batch_templates
		SET name                = $2,
		    applicable_machines = $3,
		    priority            = $4,
		    products            = $5,
		    is_active           = $6,
		    updated_at          = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.Name,
		machines,
		t.Priority,
		productsJSON,
		t.IsActive,
	).Scan(&t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("batch_template", t.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update batch template")
	}
	return nil
}

func (r *PostgresTemplateRepository) scanTemplate(row rowScanner) (*BatchTemplate, error) {
	t := &BatchTemplate{}
	var productsJSON []byte

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.ApplicableMachines,
		&t.Priority,
		&productsJSON,
		&t.IsActive,
		&t.CreatedBy,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan batch template")
	}

	if err := json.Unmarshal(productsJSON, &t.Products); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal product templates")
	}
	return t, nil
}
