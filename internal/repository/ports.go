package repository

import (
	"context"
	"time"
)

// The interfaces below are the persistence port of the engine. The Postgres
// repositories in this package and the in-memory store in
// repository/memory both implement them. Lookups by id return a NotFound
// AppError when the row is absent.

// BatchRepository stores production batches.
type BatchRepository interface {
	Create(ctx context.Context, batch *ProductionBatch) error
	// CreateMany persists every batch in one transaction.
	CreateMany(ctx context.Context, batches []*ProductionBatch) error
	GetByID(ctx context.Context, id string) (*ProductionBatch, error)
	// GetByIDs returns the batches that exist, in the order of ids; missing ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]*ProductionBatch, error)
	ListByStatus(ctx context.Context, status BatchStatus) ([]*ProductionBatch, error)
	// ListSubmittedBetween returns batches with the given status whose
	// SubmittedAt falls in [from, to).
	ListSubmittedBetween(ctx context.Context, status BatchStatus, from, to time.Time) ([]*ProductionBatch, error)
	// ListCreatedBetween returns all batches whose CreatedAt falls in [from, to).
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*ProductionBatch, error)
	Update(ctx context.Context, batch *ProductionBatch) error
}

// ApprovalGroupRepository stores approval groups.
type ApprovalGroupRepository interface {
	Create(ctx context.Context, group *ApprovalGroup) error
	GetByID(ctx context.Context, id string) (*ApprovalGroup, error)
	ListByDate(ctx context.Context, date time.Time) ([]*ApprovalGroup, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]*ApprovalGroup, error)
	Update(ctx context.Context, group *ApprovalGroup) error
}

// ReadinessRepository stores one readiness row per (machine, date).
type ReadinessRepository interface {
	// Get returns nil, nil when no row exists.
	Get(ctx context.Context, machineID string, date time.Time) (*MachineReadinessState, error)
	ListByDate(ctx context.Context, date time.Time) ([]*MachineReadinessState, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]*MachineReadinessState, error)
	// Upsert inserts or replaces the row keyed by (MachineID, TargetDate).
	Upsert(ctx context.Context, state *MachineReadinessState) error
}

// ResolutionRepository stores conflict resolutions.
type ResolutionRepository interface {
	Create(ctx context.Context, resolution *ConflictResolution) error
	ListBetween(ctx context.Context, from, to time.Time) ([]*ConflictResolution, error)
}

// TemplateRepository stores batch templates.
type TemplateRepository interface {
	Create(ctx context.Context, template *BatchTemplate) error
	GetByID(ctx context.Context, id string) (*BatchTemplate, error)
	List(ctx context.Context, activeOnly bool) ([]*BatchTemplate, error)
	Update(ctx context.Context, template *BatchTemplate) error
}

// AuditLog appends audit events and reads them back.
type AuditLog interface {
	Append(ctx context.Context, event *AuditEvent) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEvent, error)
}
