// Package memory provides an in-memory implementation of every repository
// port. Rows are indexed by id, values are cloned on the way in and out so
// callers never share mutable state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// Store holds all entity maps behind one lock.
type Store struct {
	mu    sync.RWMutex
	nowFn func() time.Time

	batches     map[string]*repository.ProductionBatch
	groups      map[string]*repository.ApprovalGroup
	readiness   map[readinessKey]*repository.MachineReadinessState
	resolutions []*repository.ConflictResolution
	templates   map[string]*repository.BatchTemplate
	audit       []*repository.AuditEvent

	Batches     *BatchRepository
	Groups      *GroupRepository
	Readiness   *ReadinessRepository
	Resolutions *ResolutionRepository
	Templates   *TemplateRepository
	Audit       *AuditLog
}

type readinessKey struct {
	machineID string
	date      string
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		nowFn:     func() time.Time { return time.Now().UTC() },
		batches:   make(map[string]*repository.ProductionBatch),
		groups:    make(map[string]*repository.ApprovalGroup),
		readiness: make(map[readinessKey]*repository.MachineReadinessState),
		templates: make(map[string]*repository.BatchTemplate),
	}
	s.Batches = &BatchRepository{s: s}
	s.Groups = &GroupRepository{s: s}
	s.Readiness = &ReadinessRepository{s: s}
	s.Resolutions = &ResolutionRepository{s: s}
	s.Templates = &TemplateRepository{s: s}
	s.Audit = &AuditLog{s: s}
	return s
}

// SetNowFunc overrides the clock used for timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *Store) now() time.Time { return s.nowFn() }

func newID() string { return uuid.NewString() }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// ── batches ──────────────────────────────────────────────────────────────────

// BatchRepository implements repository.BatchRepository.
type BatchRepository struct{ s *Store }

func (r *BatchRepository) Create(ctx context.Context, b *repository.ProductionBatch) error {
	return r.CreateMany(ctx, []*repository.ProductionBatch{b})
}

// CreateMany validates every batch before storing any of them.
func (r *BatchRepository) CreateMany(_ context.Context, batches []*repository.ProductionBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, b := range batches {
		if b.ID != "" {
			if _, exists := r.s.batches[b.ID]; exists {
				return errors.Conflict("production batch " + b.ID + " already exists")
			}
		}
	}

	now := r.s.now()
	for _, b := range batches {
		if b.ID == "" {
			b.ID = newID()
		}
		if b.SubmittedAt.IsZero() {
			b.SubmittedAt = now
		}
		b.CreatedAt = now
		b.UpdatedAt = now
		for i := range b.Products {
			if b.Products[i].ID == "" {
				b.Products[i].ID = newID()
			}
			b.Products[i].BatchID = b.ID
		}
		r.s.batches[b.ID] = b.Clone()
	}
	return nil
}

func (r *BatchRepository) GetByID(_ context.Context, id string) (*repository.ProductionBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.batches[id]
	if !ok {
		return nil, errors.NotFound("production_batch", id)
	}
	return b.Clone(), nil
}

func (r *BatchRepository) GetByIDs(_ context.Context, ids []string) ([]*repository.ProductionBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var out []*repository.ProductionBatch
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if b, ok := r.s.batches[id]; ok {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (r *BatchRepository) ListByStatus(_ context.Context, status repository.BatchStatus) ([]*repository.ProductionBatch, error) {
	return r.filter(func(b *repository.ProductionBatch) bool { return b.Status == status }), nil
}

func (r *BatchRepository) ListSubmittedBetween(_ context.Context, status repository.BatchStatus, from, to time.Time) ([]*repository.ProductionBatch, error) {
	return r.filter(func(b *repository.ProductionBatch) bool {
		return b.Status == status && inRange(b.SubmittedAt, from, to)
	}), nil
}

func (r *BatchRepository) ListCreatedBetween(_ context.Context, from, to time.Time) ([]*repository.ProductionBatch, error) {
	return r.filter(func(b *repository.ProductionBatch) bool { return inRange(b.CreatedAt, from, to) }), nil
}

func (r *BatchRepository) Update(_ context.Context, b *repository.ProductionBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.batches[b.ID]
	if !ok {
		return errors.NotFound("production_batch", b.ID)
	}
	b.UpdatedAt = r.s.now()
	updated := b.Clone()
	// product configs are immutable once created
	updated.Products = existing.Clone().Products
	updated.CreatedAt = existing.CreatedAt
	r.s.batches[b.ID] = updated
	return nil
}

// filter returns matching batches ordered by submission time then id.
func (r *BatchRepository) filter(keep func(*repository.ProductionBatch) bool) []*repository.ProductionBatch {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ProductionBatch
	for _, b := range r.s.batches {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ── approval groups ──────────────────────────────────────────────────────────

// GroupRepository implements repository.ApprovalGroupRepository.
type GroupRepository struct{ s *Store }

func (r *GroupRepository) Create(_ context.Context, g *repository.ApprovalGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if g.ID == "" {
		g.ID = newID()
	} else if _, exists := r.s.groups[g.ID]; exists {
		return errors.Conflict("approval group " + g.ID + " already exists")
	}
	now := r.s.now()
	if g.SubmittedAt.IsZero() {
		g.SubmittedAt = now
	}
	g.TargetDate = repository.NormalizeDate(g.TargetDate)
	g.CreatedAt = now
	g.UpdatedAt = now
	r.s.groups[g.ID] = g.Clone()
	return nil
}

func (r *GroupRepository) GetByID(_ context.Context, id string) (*repository.ApprovalGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	g, ok := r.s.groups[id]
	if !ok {
		return nil, errors.NotFound("approval_group", id)
	}
	return g.Clone(), nil
}

func (r *GroupRepository) ListByDate(_ context.Context, date time.Time) ([]*repository.ApprovalGroup, error) {
	day := repository.NormalizeDate(date)
	return r.filter(func(g *repository.ApprovalGroup) bool { return g.TargetDate.Equal(day) }), nil
}

func (r *GroupRepository) ListBetween(_ context.Context, from, to time.Time) ([]*repository.ApprovalGroup, error) {
	from, to = repository.NormalizeDate(from), repository.NormalizeDate(to)
	return r.filter(func(g *repository.ApprovalGroup) bool { return inRange(g.TargetDate, from, to) }), nil
}

func (r *GroupRepository) Update(_ context.Context, g *repository.ApprovalGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.groups[g.ID]
	if !ok {
		return errors.NotFound("approval_group", g.ID)
	}
	g.UpdatedAt = r.s.now()
	updated := g.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.TargetDate = existing.TargetDate
	r.s.groups[g.ID] = updated
	return nil
}

func (r *GroupRepository) filter(keep func(*repository.ApprovalGroup) bool) []*repository.ApprovalGroup {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ApprovalGroup
	for _, g := range r.s.groups {
		if keep(g) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ── readiness ────────────────────────────────────────────────────────────────

// ReadinessRepository implements repository.ReadinessRepository.
type ReadinessRepository struct{ s *Store }

func (r *ReadinessRepository) Get(_ context.Context, machineID string, date time.Time) (*repository.MachineReadinessState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.readiness[readinessKey{machineID, repository.DateKey(repository.NormalizeDate(date))}]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (r *ReadinessRepository) ListByDate(_ context.Context, date time.Time) ([]*repository.MachineReadinessState, error) {
	day := repository.NormalizeDate(date)
	return r.filter(func(st *repository.MachineReadinessState) bool { return st.TargetDate.Equal(day) }), nil
}

func (r *ReadinessRepository) ListBetween(_ context.Context, from, to time.Time) ([]*repository.MachineReadinessState, error) {
	from, to = repository.NormalizeDate(from), repository.NormalizeDate(to)
	return r.filter(func(st *repository.MachineReadinessState) bool { return inRange(st.TargetDate, from, to) }), nil
}

func (r *ReadinessRepository) Upsert(_ context.Context, st *repository.MachineReadinessState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st.TargetDate = repository.NormalizeDate(st.TargetDate)
	key := readinessKey{st.MachineID, repository.DateKey(st.TargetDate)}
	if existing, ok := r.s.readiness[key]; ok {
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	} else {
		if st.ID == "" {
			st.ID = newID()
		}
		st.CreatedAt = r.s.now()
	}
	r.s.readiness[key] = st.Clone()
	return nil
}

func (r *ReadinessRepository) filter(keep func(*repository.MachineReadinessState) bool) []*repository.MachineReadinessState {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.MachineReadinessState
	for _, st := range r.s.readiness {
		if keep(st) {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TargetDate.Equal(out[j].TargetDate) {
			return out[i].TargetDate.Before(out[j].TargetDate)
		}
		return out[i].MachineID < out[j].MachineID
	})
	return out
}

// ── resolutions ──────────────────────────────────────────────────────────────

// ResolutionRepository implements repository.ResolutionRepository.
type ResolutionRepository struct{ s *Store }

func (r *ResolutionRepository) Create(_ context.Context, res *repository.ConflictResolution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if res.ID == "" {
		res.ID = newID()
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = r.s.now()
	}
	r.s.resolutions = append(r.s.resolutions, res.Clone())
	return nil
}

func (r *ResolutionRepository) ListBetween(_ context.Context, from, to time.Time) ([]*repository.ConflictResolution, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ConflictResolution
	for _, res := range r.s.resolutions {
		if inRange(res.ResolvedAt, from, to) {
			out = append(out, res.Clone())
		}
	}
	return out, nil
}

// ── templates ────────────────────────────────────────────────────────────────

// TemplateRepository implements repository.TemplateRepository.
type TemplateRepository struct{ s *Store }

func (r *TemplateRepository) Create(_ context.Context, t *repository.BatchTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t.ID == "" {
		t.ID = newID()
	} else if _, exists := r.s.templates[t.ID]; exists {
		return errors.Conflict("batch template " + t.ID + " already exists")
	}
	t.UpdatedAt = r.s.now()
	r.s.templates[t.ID] = t.Clone()
	return nil
}

func (r *TemplateRepository) GetByID(_ context.Context, id string) (*repository.BatchTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.templates[id]
	if !ok {
		return nil, errors.NotFound("batch_template", id)
	}
	return t.Clone(), nil
}

func (r *TemplateRepository) List(_ context.Context, activeOnly bool) ([]*repository.BatchTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.BatchTemplate
	for _, t := range r.s.templates {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *TemplateRepository) Update(_ context.Context, t *repository.BatchTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.templates[t.ID]; !ok {
		return errors.NotFound("batch_template", t.ID)
	}
	t.UpdatedAt = r.s.now()
	r.s.templates[t.ID] = t.Clone()
	return nil
}

// ── audit ────────────────────────────────────────────────────────────────────

// AuditLog implements repository.AuditLog.
type AuditLog struct{ s *Store }

func (a *AuditLog) Append(_ context.Context, e *repository.AuditEvent) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	e.ID = newID()
	e.RecordedAt = a.s.now()
	a.s.audit = append(a.s.audit, e.Clone())
	return nil
}

func (a *AuditLog) ListByEntity(_ context.Context, entityType, entityID string) ([]*repository.AuditEvent, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	var out []*repository.AuditEvent
	for _, e := range a.s.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// All returns every audit event in append order.
func (a *AuditLog) All() []*repository.AuditEvent {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	out := make([]*repository.AuditEvent, len(a.s.audit))
	for i, e := range a.s.audit {
		out[i] = e.Clone()
	}
	return out
}

var (
	_ repository.BatchRepository         = (*BatchRepository)(nil)
	_ repository.ApprovalGroupRepository = (*GroupRepository)(nil)
	_ repository.ReadinessRepository     = (*ReadinessRepository)(nil)
	_ repository.ResolutionRepository    = (*ResolutionRepository)(nil)
	_ repository.TemplateRepository      = (*TemplateRepository)(nil)
	_ repository.AuditLog                = (*AuditLog)(nil)
)
