package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/lock"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// ReadinessService tracks per-machine, per-date readiness.
type ReadinessService struct {
	repo     repository.ReadinessRepository
	audit    *auditor
	settings Settings
	c        Collaborators
	log      *logger.Logger
}

// NewReadinessService creates a new ReadinessService.
func NewReadinessService(
	repo repository.ReadinessRepository,
	auditLog repository.AuditLog,
	settings Settings,
	c Collaborators,
) *ReadinessService {
	c = c.WithDefaults()
	settings = settings.withDefaults()
	return &ReadinessService{
		repo:     repo,
		audit:    newAuditor(auditLog, c),
		settings: settings,
		c:        c,
		log:      c.Log.With("readiness"),
	}
}

// GetReadiness returns the row for machineID on date, or nil when none was
// ever recorded.
func (s *ReadinessService) GetReadiness(ctx context.Context, machineID string, date time.Time) (*repository.MachineReadinessState, error) {
	if machineID == "" {
		return nil, errors.InvalidInput("machine_id", "machine id is required")
	}
	return s.repo.Get(ctx, machineID, date)
}

// ListForDate returns every readiness row for date.
func (s *ReadinessService) ListForDate(ctx context.Context, date time.Time) ([]*repository.MachineReadinessState, error) {
	return s.repo.ListByDate(ctx, date)
}

// MarkReady records the machine as ready and stamps the ready time.
func (s *ReadinessService) MarkReady(ctx context.Context, machineID string, date time.Time, updatedBy string) (*repository.MachineReadinessState, error) {
	return s.setStatus(ctx, machineID, date, repository.ReadinessReady, updatedBy)
}

// MarkMaintenance records the machine as under maintenance.
func (s *ReadinessService) MarkMaintenance(ctx context.Context, machineID string, date time.Time, updatedBy string) (*repository.MachineReadinessState, error) {
	return s.setStatus(ctx, machineID, date, repository.ReadinessMaintenance, updatedBy)
}

// MarkUnavailable records the machine as unavailable.
func (s *ReadinessService) MarkUnavailable(ctx context.Context, machineID string, date time.Time, updatedBy string) (*repository.MachineReadinessState, error) {
	return s.setStatus(ctx, machineID, date, repository.ReadinessUnavailable, updatedBy)
}

func (s *ReadinessService) setStatus(
	ctx context.Context,
	machineID string,
	date time.Time,
	status repository.ReadinessStatus,
	updatedBy string,
) (*repository.MachineReadinessState, error) {
	if machineID == "" {
		return nil, errors.InvalidInput("machine_id", "machine id is required")
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(machineID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, created, err := s.getOrNew(ctx, machineID, date)
	if err != nil {
		return nil, err
	}
	if err := st.SetStatus(status); err != nil {
		return nil, err
	}
	if status == repository.ReadinessReady {
		now := s.c.Now()
		st.ActualReadyAt = &now
	}

	if err := s.save(ctx, st, created, updatedBy, fmt.Sprintf("Machine %s marked %s", machineID, status)); err != nil {
		return nil, err
	}
	return st, nil
}

// MarkInUse assigns batchID to the machine's row and sets it in use. When no
// row exists the call is skipped unless CreateReadinessOnMarkInUse is set.
func (s *ReadinessService) MarkInUse(ctx context.Context, machineID, batchID string, date time.Time) error {
	if machineID == "" {
		return errors.InvalidInput("machine_id", "machine id is required")
	}
	if batchID == "" {
		return errors.InvalidInput("batch_id", "batch id is required")
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(machineID, date))
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.repo.Get(ctx, machineID, date)
	if err != nil {
		return err
	}
	created := false
	if st == nil {
		if !s.settings.CreateReadinessOnMarkInUse {
			s.log.Debug().
				Str("machine_id", machineID).
				Str("batch_id", batchID).
				Str("date", repository.DateKey(date)).
				Msg("No readiness row; mark in use skipped")
			return nil
		}
		st = s.newState(machineID, date)
		created = true
	}

	if err := st.SetStatus(repository.ReadinessInUse); err != nil {
		return err
	}
	st.PendingBatchID = &batchID

	return s.save(ctx, st, created, "system", fmt.Sprintf("Machine %s in use by batch %s", machineID, batchID))
}

// UpdateHealth sets the health score, which must be within [0, 1].
func (s *ReadinessService) UpdateHealth(
	ctx context.Context,
	machineID string,
	date time.Time,
	score float64,
	updatedBy string,
) (*repository.MachineReadinessState, error) {
	if machineID == "" {
		return nil, errors.InvalidInput("machine_id", "machine id is required")
	}
	if score < 0 || score > 1 {
		return nil, errors.InvalidInput("health_score", "health score must be between 0 and 1")
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(machineID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, created, err := s.getOrNew(ctx, machineID, date)
	if err != nil {
		return nil, err
	}
	st.HealthScore = score

	if err := s.save(ctx, st, created, updatedBy, fmt.Sprintf("Machine %s health set to %.2f", machineID, score)); err != nil {
		return nil, err
	}
	return st, nil
}

// Update persists a caller-modified state as-is.
func (s *ReadinessService) Update(ctx context.Context, st *repository.MachineReadinessState, operatorID string) error {
	if st == nil || st.MachineID == "" {
		return errors.InvalidInput("machine_id", "machine id is required")
	}
	if !st.Status.Valid() {
		return errors.InvalidInput("status", fmt.Sprintf("unknown readiness status %q", st.Status))
	}
	if st.HealthScore < 0 || st.HealthScore > 1 {
		return errors.InvalidInput("health_score", "health score must be between 0 and 1")
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(st.MachineID, st.TargetDate))
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := s.repo.Get(ctx, st.MachineID, st.TargetDate)
	if err != nil {
		return err
	}
	if existing != nil {
		st.ID = existing.ID
	}
	return s.save(ctx, st, existing == nil, operatorID, fmt.Sprintf("Machine %s readiness updated", st.MachineID))
}

// recordApproval stores batchID as the machine's last approved batch. The
// caller must hold the machine/date lock. Missing rows are left alone.
func (s *ReadinessService) recordApproval(ctx context.Context, machineID string, date time.Time, batchID, approverID string) error {
	st, err := s.repo.Get(ctx, machineID, date)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	st.LastApprovedBatchID = &batchID
	return s.save(ctx, st, false, approverID, fmt.Sprintf("Batch %s approved on machine %s", batchID, machineID))
}

func (s *ReadinessService) getOrNew(ctx context.Context, machineID string, date time.Time) (*repository.MachineReadinessState, bool, error) {
	st, err := s.repo.Get(ctx, machineID, date)
	if err != nil {
		return nil, false, err
	}
	if st != nil {
		return st, false, nil
	}
	return s.newState(machineID, date), true, nil
}

// newState returns an unsaved row; new machines start fully healthy.
func (s *ReadinessService) newState(machineID string, date time.Time) *repository.MachineReadinessState {
	return &repository.MachineReadinessState{
		MachineID:   machineID,
		TargetDate:  repository.NormalizeDate(date),
		Status:      repository.ReadinessUnavailable,
		HealthScore: 1,
	}
}

func (s *ReadinessService) save(
	ctx context.Context,
	st *repository.MachineReadinessState,
	created bool,
	operatorID, description string,
) error {
	st.TargetDate = repository.NormalizeDate(st.TargetDate)
	st.LastStatusUpdate = s.c.Now()
	st.UpdatedBy = operatorID
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	op := repository.AuditUpdate
	if created {
		op = repository.AuditCreate
	}
	details := map[string]string{
		"machine_id":   st.MachineID,
		"status":       string(st.Status),
		"target_date":  repository.DateKey(st.TargetDate),
		"health_score": strconv.FormatFloat(st.HealthScore, 'f', 2, 64),
		"updated_at":   iso(st.LastStatusUpdate),
	}
	if err := s.audit.commit(ctx, func() error { return s.repo.Upsert(ctx, st) },
		op, repository.EntityMachineReadiness, st.ID, description, operatorID, details); err != nil {
		return err
	}

	s.c.Events.PublishEvent(ctx, &client.Event{
		EventType:    client.EventReadinessChanged,
		ResourceType: repository.EntityMachineReadiness,
		ResourceID:   st.MachineID,
		ActorID:      operatorID,
		TargetDate:   repository.DateKey(st.TargetDate),
		Payload: map[string]any{
			"status":       st.Status,
			"health_score": st.HealthScore,
		},
		OccurredAt: st.LastStatusUpdate,
	})

	s.log.Info().
		Str("machine_id", st.MachineID).
		Str("status", string(st.Status)).
		Str("date", repository.DateKey(st.TargetDate)).
		Msg("Machine readiness updated")
	return nil
}
