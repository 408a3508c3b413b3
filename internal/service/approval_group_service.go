package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/conflict"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/lock"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// ApprovalGroupService groups pending batches for review, approves or
// rejects them, copies configurations between days and detects and resolves
// conflicts.
type ApprovalGroupService struct {
	batches     repository.BatchRepository
	groups      repository.ApprovalGroupRepository
	resolutions repository.ResolutionRepository
	readiness   *ReadinessService
	detector    *conflict.Detector
	resolver    *conflict.Resolver
	audit       *auditor
	settings    Settings
	c           Collaborators
	log         *logger.Logger
}

// NewApprovalGroupService creates a new ApprovalGroupService.
func NewApprovalGroupService(
	batches repository.BatchRepository,
	groups repository.ApprovalGroupRepository,
	resolutions repository.ResolutionRepository,
	auditLog repository.AuditLog,
	readiness *ReadinessService,
	settings Settings,
	c Collaborators,
) *ApprovalGroupService {
	c = c.WithDefaults()
	settings = settings.withDefaults()
	return &ApprovalGroupService{
		batches:     batches,
		groups:      groups,
		resolutions: resolutions,
		readiness:   readiness,
		detector:    conflict.NewDetector(settings.detectorConfig()),
		resolver:    conflict.NewResolver().WithClock(c.Now),
		audit:       newAuditor(auditLog, c),
		settings:    settings,
		c:           c,
		log:         c.Log.With("approval_groups"),
	}
}

// CreateGroupRequest is a manual group creation request.
type CreateGroupRequest struct {
	Name          string                   `validate:"required"`
	TargetDate    time.Time                `validate:"required"`
	BatchIDs      []string                 `validate:"dive,required"`
	CoordinatorID string                   `validate:"required"`
	Priority      repository.GroupPriority `validate:"omitempty,oneof=low medium high"`
	Notes         *string
}

// BatchApprovalResult is the outcome of BatchApprove. It is returned even
// when some batches fail.
type BatchApprovalResult struct {
	GroupID     string
	GroupStatus repository.GroupStatus
	ApprovedIDs []string
	FailedIDs   []string
	// Failures maps each failed batch id to its reason.
	Failures    map[string]string
	Warnings    []string
	CompletedAt time.Time
	Duration    time.Duration

	errs *multierror.Error
}

// Err aggregates the per-batch failures, or returns nil when there were none.
func (r *BatchApprovalResult) Err() error {
	return r.errs.ErrorOrNil()
}

// ── Grouping ──────────────────────────────────────────────────────────────────

type clusterKey struct {
	machineID string
	mode      repository.ProductionMode
}

// CreateOptimalBatchGroups clusters pending batches by (machine, mode) and
// creates one group per cluster for date. Batches already assigned to a live
// group on date, or targeting another date, are left out.
func (s *ApprovalGroupService) CreateOptimalBatchGroups(
	ctx context.Context,
	date time.Time,
	coordinatorID string,
) (created []*repository.ApprovalGroup, err error) {
	defer func(start time.Time) { s.c.observe("create_optimal_groups", start, err) }(time.Now())

	if coordinatorID == "" {
		return nil, errors.InvalidInput("coordinator_id", "coordinator id is required")
	}
	day := repository.NormalizeDate(date)

	pending, err := s.batches.ListByStatus(ctx, repository.BatchPending)
	if err != nil {
		return nil, err
	}

	clusters := make(map[clusterKey][]string)
	for _, b := range pending {
		if b.TargetDate != nil && !repository.NormalizeDate(*b.TargetDate).Equal(day) {
			continue
		}
		k := clusterKey{b.MachineID, b.Mode}
		clusters[k] = append(clusters[k], b.ID)
	}

	keys := make([]clusterKey, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].machineID != keys[j].machineID {
			return keys[i].machineID < keys[j].machineID
		}
		return keys[i].mode < keys[j].mode
	})

	for _, k := range keys {
		g, err := s.createClusterGroup(ctx, day, k, clusters[k], coordinatorID)
		if err != nil {
			return created, err
		}
		if g != nil {
			created = append(created, g)
		}
	}

	s.log.Info().
		Str("date", repository.DateKey(day)).
		Int("pending_batches", len(pending)).
		Int("groups_created", len(created)).
		Msg("Optimal batch groups created")

	return created, nil
}

func (s *ApprovalGroupService) createClusterGroup(
	ctx context.Context,
	day time.Time,
	k clusterKey,
	batchIDs []string,
	coordinatorID string,
) (*repository.ApprovalGroup, error) {
	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(k.machineID, day))
	if err != nil {
		return nil, err
	}
	defer unlock()

	assigned, err := s.assignedBatchIDs(ctx, day)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range batchIDs {
		if !assigned[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	priority := repository.PriorityMedium
	if len(ids) > s.settings.LargeGroupThreshold {
		priority = repository.PriorityHigh
	}

	g := &repository.ApprovalGroup{
		Name:          fmt.Sprintf("%s %s %s", k.machineID, k.mode, repository.DateKey(day)),
		TargetDate:    day,
		BatchIDs:      ids,
		CoordinatorID: coordinatorID,
		Priority:      priority,
		Status:        repository.GroupPendingReview,
		SubmittedAt:   s.c.Now(),
	}
	if err := s.persistNewGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// assignedBatchIDs returns the batch ids referenced by non-rejected groups on day.
func (s *ApprovalGroupService) assignedBatchIDs(ctx context.Context, day time.Time) (map[string]bool, error) {
	groups, err := s.groups.ListByDate(ctx, day)
	if err != nil {
		return nil, err
	}
	assigned := make(map[string]bool)
	for _, g := range groups {
		if g.Status == repository.GroupRejected {
			continue
		}
		for _, id := range g.BatchIDs {
			assigned[id] = true
		}
	}
	return assigned, nil
}

// CreateGroup creates a group from an explicit batch list.
func (s *ApprovalGroupService) CreateGroup(ctx context.Context, req *CreateGroupRequest) (*repository.ApprovalGroup, error) {
	if req == nil {
		return nil, errors.InvalidInput("request", "request is required")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	ids := uniqueIDs(req.BatchIDs)
	if err := s.requireBatches(ctx, ids); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = repository.PriorityMedium
	}

	g := &repository.ApprovalGroup{
		Name:          req.Name,
		TargetDate:    repository.NormalizeDate(req.TargetDate),
		BatchIDs:      ids,
		CoordinatorID: req.CoordinatorID,
		Priority:      priority,
		Status:        repository.GroupPendingReview,
		SubmittedAt:   s.c.Now(),
		Notes:         req.Notes,
	}
	if err := s.persistNewGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *ApprovalGroupService) persistNewGroup(ctx context.Context, g *repository.ApprovalGroup) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	details := map[string]string{
		"name":         g.Name,
		"target_date":  iso(g.TargetDate),
		"priority":     string(g.Priority),
		"batch_count":  strconv.Itoa(len(g.BatchIDs)),
		"batch_ids":    strings.Join(g.BatchIDs, ","),
		"submitted_at": iso(g.SubmittedAt),
	}
	if err := s.audit.commit(ctx, func() error { return s.groups.Create(ctx, g) },
		repository.AuditCreate, repository.EntityApprovalGroup, g.ID,
		"Created approval group "+g.Name, g.CoordinatorID, details); err != nil {
		return err
	}

	s.publishGroupEvent(ctx, client.EventGroupCreated, g, g.CoordinatorID, nil)

	s.log.Info().
		Str("group_id", g.ID).
		Str("priority", string(g.Priority)).
		Int("batch_count", len(g.BatchIDs)).
		Msg("Approval group created")
	return nil
}

// ── Membership ────────────────────────────────────────────────────────────────

// AddBatches adds the ids not already in the group. Adding present ids is a no-op.
func (s *ApprovalGroupService) AddBatches(ctx context.Context, groupID string, batchIDs []string, operatorID string) (*repository.ApprovalGroup, error) {
	return s.mutateMembership(ctx, groupID, operatorID, func(g *repository.ApprovalGroup) ([]string, error) {
		present := toSet(g.BatchIDs)
		var added []string
		for _, id := range uniqueIDs(batchIDs) {
			if !present[id] {
				added = append(added, id)
			}
		}
		if err := s.requireBatches(ctx, added); err != nil {
			return nil, err
		}
		g.BatchIDs = append(g.BatchIDs, added...)
		return added, nil
	}, "added")
}

// RemoveBatches removes the given ids from the group. Absent ids are ignored.
func (s *ApprovalGroupService) RemoveBatches(ctx context.Context, groupID string, batchIDs []string, operatorID string) (*repository.ApprovalGroup, error) {
	return s.mutateMembership(ctx, groupID, operatorID, func(g *repository.ApprovalGroup) ([]string, error) {
		drop := toSet(batchIDs)
		kept := make([]string, 0, len(g.BatchIDs))
		var removed []string
		for _, id := range g.BatchIDs {
			if drop[id] {
				removed = append(removed, id)
				continue
			}
			kept = append(kept, id)
		}
		g.BatchIDs = kept
		return removed, nil
	}, "removed")
}

func (s *ApprovalGroupService) mutateMembership(
	ctx context.Context,
	groupID, operatorID string,
	mutate func(g *repository.ApprovalGroup) ([]string, error),
	verb string,
) (*repository.ApprovalGroup, error) {
	unlock, err := s.c.Locker.Lock(ctx, lock.GroupKey(groupID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Status != repository.GroupPendingReview {
		return nil, errors.InvalidInput("group_id",
			fmt.Sprintf("approval group %s is %s; membership can only change while pending review", g.ID, g.Status))
	}

	changed, err := mutate(g)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return g, nil
	}

	details := map[string]string{
		verb + "_batch_ids": strings.Join(changed, ","),
		"batch_count":       strconv.Itoa(len(g.BatchIDs)),
	}
	if err := s.audit.commit(ctx, func() error { return s.groups.Update(ctx, g) },
		repository.AuditUpdate, repository.EntityApprovalGroup, g.ID,
		fmt.Sprintf("Approval group %s: %s %d batches", g.Name, verb, len(changed)), operatorID, details); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("group_id", g.ID).
		Str("change", verb).
		Int("count", len(changed)).
		Msg("Approval group membership changed")
	return g, nil
}

// ── Approval ──────────────────────────────────────────────────────────────────

// ValidateGroupForSubmission returns human-readable warnings for the group.
// Warnings never block approval.
func (s *ApprovalGroupService) ValidateGroupForSubmission(ctx context.Context, g *repository.ApprovalGroup) ([]string, error) {
	batches, err := s.batches.GetByIDs(ctx, g.BatchIDs)
	if err != nil {
		return nil, err
	}

	var warnings []string
	for _, c := range s.detector.DetectGroupConflicts(g, batches) {
		s.c.Metrics.ConflictDetected("group", string(c.Type), string(c.Severity))
		warnings = append(warnings, fmt.Sprintf("[%s] %s: %s", c.Severity, c.Type, c.Description))
	}
	for _, b := range batches {
		if b.Status != repository.BatchPending {
			warnings = append(warnings, fmt.Sprintf("batch %s is %s, not pending", b.ID, b.Status))
		}
	}
	return warnings, nil
}

// BatchApprove approves every batch of the group. Individual failures are
// collected in the result; the group ends fullyApproved when none failed,
// partiallyApproved when some succeeded and is otherwise left unchanged.
func (s *ApprovalGroupService) BatchApprove(
	ctx context.Context,
	groupID, approverID string,
	notes *string,
) (result *BatchApprovalResult, err error) {
	start := s.c.Now()
	defer func(t time.Time) { s.c.observe("batch_approve", t, err) }(time.Now())

	if approverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver id is required")
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.GroupKey(groupID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Status.IsTerminal() {
		return nil, errors.InvalidInput("group_id",
			fmt.Sprintf("approval group %s is already %s", g.ID, g.Status))
	}

	warnings, err := s.ValidateGroupForSubmission(ctx, g)
	if err != nil {
		return nil, err
	}

	result = &BatchApprovalResult{
		GroupID:  g.ID,
		Failures: make(map[string]string),
		Warnings: warnings,
	}

	for _, id := range g.BatchIDs {
		if err := s.approveBatch(ctx, g, id, approverID, notes); err != nil {
			result.FailedIDs = append(result.FailedIDs, id)
			result.Failures[id] = err.Error()
			result.errs = multierror.Append(result.errs, fmt.Errorf("batch %s: %w", id, err))
			s.log.Warn().Err(err).Str("group_id", g.ID).Str("batch_id", id).Msg("Batch approval failed")
			continue
		}
		result.ApprovedIDs = append(result.ApprovedIDs, id)
	}

	next := g.Status
	switch {
	case len(g.BatchIDs) == 0:
	case len(result.FailedIDs) == 0:
		next = repository.GroupFullyApproved
	case len(result.ApprovedIDs) > 0:
		next = repository.GroupPartiallyApproved
	}

	if next != g.Status {
		if err := s.finishGroup(ctx, g, next, approverID, notes, result); err != nil {
			return nil, err
		}
	}

	s.c.Metrics.BatchesApproved(len(result.ApprovedIDs), len(result.FailedIDs))
	result.GroupStatus = g.Status
	result.CompletedAt = s.c.Now()
	result.Duration = result.CompletedAt.Sub(start)

	s.log.Info().
		Str("group_id", g.ID).
		Str("status", string(g.Status)).
		Int("approved", len(result.ApprovedIDs)).
		Int("failed", len(result.FailedIDs)).
		Int("warnings", len(result.Warnings)).
		Msg("Batch approval completed")

	return result, nil
}

func (s *ApprovalGroupService) finishGroup(
	ctx context.Context,
	g *repository.ApprovalGroup,
	next repository.GroupStatus,
	approverID string,
	notes *string,
	result *BatchApprovalResult,
) error {
	before := g.Status
	if err := g.TransitionTo(next); err != nil {
		return err
	}
	now := s.c.Now()
	g.ApprovedAt = &now
	g.ApprovedBy = &approverID
	if notes != nil {
		g.Notes = notes
	}
	if err := s.groups.Update(ctx, g); err != nil {
		return err
	}

	details := map[string]string{
		"status_before": string(before),
		"status_after":  string(next),
		"approved_ids":  strings.Join(result.ApprovedIDs, ","),
		"failed_ids":    strings.Join(result.FailedIDs, ","),
		"approved_at":   iso(now),
	}
	// Batch approvals are committed by now; a rejected event goes on the result.
	if err := s.audit.record(ctx, repository.AuditUpdate, repository.EntityApprovalGroup, g.ID,
		fmt.Sprintf("Approval group %s %s", g.Name, next), approverID, details); err != nil {
		result.Warnings = append(result.Warnings, "audit event for group status was not written: "+err.Error())
		result.errs = multierror.Append(result.errs, fmt.Errorf("group %s audit: %w", g.ID, err))
		s.log.Error().Err(err).Str("group_id", g.ID).Msg("Failed to audit approval group roll-up")
	}

	event := client.EventGroupApproved
	if next == repository.GroupPartiallyApproved {
		event = client.EventGroupPartial
	}
	s.publishGroupEvent(ctx, event, g, approverID, map[string]any{
		"approved": len(result.ApprovedIDs),
		"failed":   len(result.FailedIDs),
	})
	return nil
}

// approveBatch approves one batch under its machine/date lock.
func (s *ApprovalGroupService) approveBatch(
	ctx context.Context,
	g *repository.ApprovalGroup,
	batchID, approverID string,
	notes *string,
) error {
	b, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(b.MachineID, g.TargetDate))
	if err != nil {
		return err
	}
	defer unlock()

	// reload under the lock
	b, err = s.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if err := b.TransitionTo(repository.BatchApproved); err != nil {
		return err
	}
	now := s.c.Now()
	b.ReviewedBy = &approverID
	b.ReviewedAt = &now
	b.ReviewNotes = notes

	if err := s.audit.commit(ctx, func() error { return s.batches.Update(ctx, b) },
		repository.AuditUpdate, repository.EntityProductionBatch, b.ID,
		"Approved batch "+b.ID, approverID, map[string]string{
			"group_id":    g.ID,
			"machine_id":  b.MachineID,
			"status":      string(b.Status),
			"reviewed_at": iso(now),
		}); err != nil {
		return err
	}

	if err := s.readiness.recordApproval(ctx, b.MachineID, g.TargetDate, b.ID, approverID); err != nil {
		s.log.Warn().Err(err).Str("batch_id", b.ID).Str("machine_id", b.MachineID).
			Msg("Failed to record approval on machine readiness")
	}
	return nil
}

// RejectGroup rejects a group under review and every pending batch in it.
func (s *ApprovalGroupService) RejectGroup(ctx context.Context, groupID, approverID, reason string) (*repository.ApprovalGroup, error) {
	if approverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver id is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.GroupKey(groupID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := g.TransitionTo(repository.GroupRejected); err != nil {
		return nil, err
	}

	members, err := s.batches.GetByIDs(ctx, g.BatchIDs)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, b := range members {
		if b.Status == repository.BatchPending {
			pending = append(pending, b.ID)
		}
	}

	now := s.c.Now()
	g.ApprovedAt = &now
	g.ApprovedBy = &approverID
	g.Notes = &reason

	details := map[string]string{
		"reason":       reason,
		"rejected_ids": strings.Join(pending, ","),
		"rejected_at":  iso(now),
	}
	if err := s.audit.commit(ctx, func() error { return s.groups.Update(ctx, g) },
		repository.AuditUpdate, repository.EntityApprovalGroup, g.ID,
		"Rejected approval group "+g.Name, approverID, details); err != nil {
		return nil, err
	}

	var rejected []string
	for _, id := range pending {
		ok, err := s.rejectBatch(ctx, g, id, approverID, reason)
		if err != nil {
			s.log.Warn().Err(err).Str("group_id", g.ID).Str("batch_id", id).Msg("Batch rejection failed")
			continue
		}
		if ok {
			rejected = append(rejected, id)
		}
	}
	s.publishGroupEvent(ctx, client.EventGroupRejected, g, approverID, map[string]any{"reason": reason})

	s.log.Info().Str("group_id", g.ID).Int("rejected_batches", len(rejected)).Msg("Approval group rejected")
	return g, nil
}

// rejectBatch rejects a pending batch. Batches in any other status are left as they are.
func (s *ApprovalGroupService) rejectBatch(ctx context.Context, g *repository.ApprovalGroup, batchID, approverID, reason string) (bool, error) {
	b, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return false, err
	}

	unlock, err := s.c.Locker.Lock(ctx, lock.MachineDateKey(b.MachineID, g.TargetDate))
	if err != nil {
		return false, err
	}
	defer unlock()

	b, err = s.batches.GetByID(ctx, batchID)
	if err != nil {
		return false, err
	}
	if b.Status != repository.BatchPending {
		return false, nil
	}
	if err := b.TransitionTo(repository.BatchRejected); err != nil {
		return false, err
	}
	now := s.c.Now()
	b.ReviewedBy = &approverID
	b.ReviewedAt = &now
	b.ReviewNotes = &reason
	if err := s.batches.Update(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// ── Configuration copy ────────────────────────────────────────────────────────

// CopyConfiguration copies the batches approved on sourceDate into new
// pending batches for targetDate. machineIDs, when non-empty, restricts the
// copy to those machines.
func (s *ApprovalGroupService) CopyConfiguration(
	ctx context.Context,
	sourceDate, targetDate time.Time,
	machineIDs []string,
	coordinatorID string,
) (copies []*repository.ProductionBatch, err error) {
	defer func(start time.Time) { s.c.observe("copy_configuration", start, err) }(time.Now())

	if coordinatorID == "" {
		return nil, errors.InvalidInput("coordinator_id", "coordinator id is required")
	}

	src := repository.NormalizeDate(sourceDate)
	dst := repository.NormalizeDate(targetDate)

	approved, err := s.batches.ListSubmittedBetween(ctx, repository.BatchApproved, src, src.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	filter := toSet(machineIDs)
	now := s.c.Now()
	coordinatorName := s.audit.operatorName(ctx, coordinatorID)

	copies = make([]*repository.ProductionBatch, 0, len(approved))
	for _, b := range approved {
		if len(filter) > 0 && !filter[b.MachineID] {
			continue
		}
		c := b.Clone()
		c.ID = ""
		c.Status = repository.BatchPending
		c.SubmittedBy = coordinatorID
		c.SubmittedByName = coordinatorName
		c.SubmittedAt = now
		target := dst
		c.TargetDate = &target
		c.ReviewedBy = nil
		c.ReviewedAt = nil
		c.ReviewNotes = nil
		c.CreatedAt = time.Time{}
		c.UpdatedAt = time.Time{}
		for i := range c.Products {
			c.Products[i].ID = ""
			c.Products[i].BatchID = ""
		}
		copies = append(copies, c)
	}

	if len(copies) == 0 {
		s.log.Info().Str("source_date", repository.DateKey(src)).Msg("No approved batches to copy")
		return copies, nil
	}

	details := map[string]string{
		"source_date":    iso(src),
		"target_date":    iso(dst),
		"source_count":   strconv.Itoa(len(approved)),
		"copied_count":   strconv.Itoa(len(copies)),
		"machine_filter": strings.Join(machineIDs, ","),
	}
	if err := s.audit.commit(ctx, func() error { return s.batches.CreateMany(ctx, copies) },
		repository.AuditCreate, repository.EntityProductionBatch, repository.DateKey(dst),
		fmt.Sprintf("Copied %d batches from %s to %s", len(copies), repository.DateKey(src), repository.DateKey(dst)),
		coordinatorID, details); err != nil {
		return nil, err
	}
	s.c.Metrics.BatchesCreated("copy", len(copies))

	s.c.Events.PublishEvent(ctx, &client.Event{
		EventType:    client.EventBatchesCopied,
		ResourceType: repository.EntityProductionBatch,
		ResourceID:   repository.DateKey(dst),
		ActorID:      coordinatorID,
		TargetDate:   repository.DateKey(dst),
		Payload:      map[string]any{"source_date": repository.DateKey(src), "count": len(copies)},
	})

	s.log.Info().
		Str("source_date", repository.DateKey(src)).
		Str("target_date", repository.DateKey(dst)).
		Int("copied", len(copies)).
		Msg("Configuration copied")

	return copies, nil
}

// ValidateNoDuplicateApprovals returns the machine ids that already have an
// approved batch recorded for date.
func (s *ApprovalGroupService) ValidateNoDuplicateApprovals(ctx context.Context, machineIDs []string, date time.Time) ([]string, error) {
	var out []string
	for _, id := range uniqueIDs(machineIDs) {
		st, err := s.readiness.GetReadiness(ctx, id, date)
		if err != nil {
			return nil, err
		}
		if st != nil && st.LastApprovedBatchID != nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// ── Conflicts ─────────────────────────────────────────────────────────────────

// DetectConflictsForDate runs the date-scope checks.
func (s *ApprovalGroupService) DetectConflictsForDate(ctx context.Context, date time.Time) ([]conflict.Conflict, error) {
	states, err := s.readiness.ListForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	groups, err := s.groups.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	var memberIDs []string
	for _, g := range groups {
		if g.Status != repository.GroupRejected {
			memberIDs = append(memberIDs, g.BatchIDs...)
		}
	}
	members, err := s.batches.GetByIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}

	conflicts := s.detector.DetectMachineConflicts(states, groups, members)
	s.reportConflicts(ctx, "date", repository.DateKey(repository.NormalizeDate(date)), conflicts)
	return conflicts, nil
}

// DetectGroupConflicts runs the group-scope checks for one group.
func (s *ApprovalGroupService) DetectGroupConflicts(ctx context.Context, groupID string) ([]conflict.Conflict, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	batches, err := s.batches.GetByIDs(ctx, g.BatchIDs)
	if err != nil {
		return nil, err
	}

	conflicts := s.detector.DetectGroupConflicts(g, batches)
	s.reportConflicts(ctx, "group", repository.DateKey(g.TargetDate), conflicts)
	return conflicts, nil
}

// ValidateBatchCompatibility checks an arbitrary batch list before grouping.
// Unknown ids are ignored.
func (s *ApprovalGroupService) ValidateBatchCompatibility(ctx context.Context, batchIDs []string) ([]conflict.Conflict, error) {
	batches, err := s.batches.GetByIDs(ctx, uniqueIDs(batchIDs))
	if err != nil {
		return nil, err
	}

	conflicts := s.detector.ValidateBatchCompatibility(batches)
	s.reportConflicts(ctx, "batches", "", conflicts)
	return conflicts, nil
}

func (s *ApprovalGroupService) reportConflicts(ctx context.Context, scope, date string, conflicts []conflict.Conflict) {
	if len(conflicts) == 0 {
		return
	}
	bySeverity := make(map[string]int)
	for _, c := range conflicts {
		s.c.Metrics.ConflictDetected(scope, string(c.Type), string(c.Severity))
		bySeverity[string(c.Severity)]++
	}

	severity := string(conflict.SeverityMedium)
	if bySeverity[string(conflict.SeverityHigh)] > 0 {
		severity = string(conflict.SeverityHigh)
	}
	s.c.Events.PublishEvent(ctx, &client.Event{
		EventType:    client.EventConflictsDetected,
		ResourceType: "conflict",
		ResourceID:   scope,
		TargetDate:   date,
		Severity:     severity,
		Payload:      map[string]any{"count": len(conflicts), "by_severity": bySeverity},
	})

	s.log.Info().Str("scope", scope).Str("date", date).Int("conflicts", len(conflicts)).Msg("Conflicts detected")
}

// ResolveConflicts asks the resolver for a proposal for each conflict and
// persists every proposal it produces. Conflicts that cannot be resolved
// automatically are skipped.
func (s *ApprovalGroupService) ResolveConflicts(ctx context.Context, conflicts []conflict.Conflict) ([]*repository.ConflictResolution, error) {
	var out []*repository.ConflictResolution
	for _, c := range conflicts {
		res := s.resolver.AttemptAutoResolution(c)
		if res == nil {
			s.log.Debug().Str("type", string(c.Type)).Msg("Conflict requires manual resolution")
			continue
		}
		if res.ID == "" {
			res.ID = uuid.NewString()
		}
		details := map[string]string{
			"conflict_type": res.ConflictType,
			"strategy":      string(res.Strategy),
			"detail":        res.Detail,
			"machines":      strings.Join(res.ImpactedMachineIDs, ","),
			"resolved_at":   iso(res.ResolvedAt),
		}
		if err := s.audit.commit(ctx, func() error { return s.resolutions.Create(ctx, res) },
			repository.AuditCreate, repository.EntityConflictResolution, res.ID,
			res.ConflictDescription, res.ResolvedBy, details); err != nil {
			return out, err
		}
		s.c.Metrics.ResolutionRecorded(res.ConflictType, string(res.Strategy))
		out = append(out, res)
	}

	if len(out) > 0 {
		s.c.Events.PublishEvent(ctx, &client.Event{
			EventType:    client.EventConflictsResolved,
			ResourceType: repository.EntityConflictResolution,
			ResourceID:   out[0].ID,
			ActorID:      conflict.SystemResolver,
			Payload:      map[string]any{"count": len(out)},
		})
	}
	return out, nil
}

// GetResolutionHistory lists persisted resolutions recorded in [from, to).
func (s *ApprovalGroupService) GetResolutionHistory(ctx context.Context, from, to time.Time) ([]*repository.ConflictResolution, error) {
	if !from.Before(to) {
		return nil, errors.InvalidInput("to", "end of range must be after start")
	}
	return s.resolutions.ListBetween(ctx, from, to)
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetGroup returns one group.
func (s *ApprovalGroupService) GetGroup(ctx context.Context, groupID string) (*repository.ApprovalGroup, error) {
	return s.groups.GetByID(ctx, groupID)
}

// ListGroupsForDate returns the groups targeting date.
func (s *ApprovalGroupService) ListGroupsForDate(ctx context.Context, date time.Time) ([]*repository.ApprovalGroup, error) {
	return s.groups.ListByDate(ctx, date)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// requireBatches returns NotFound for the first id that does not exist.
func (s *ApprovalGroupService) requireBatches(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.batches.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(found))
	for _, b := range found {
		have[b.ID] = true
	}
	for _, id := range ids {
		if !have[id] {
			return errors.NotFound(repository.EntityProductionBatch, id)
		}
	}
	return nil
}

func (s *ApprovalGroupService) publishGroupEvent(ctx context.Context, eventType string, g *repository.ApprovalGroup, actorID string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = g.Status
	payload["priority"] = g.Priority
	payload["batch_count"] = len(g.BatchIDs)

	s.c.Events.PublishEvent(ctx, &client.Event{
		EventType:    eventType,
		ResourceType: repository.EntityApprovalGroup,
		ResourceID:   g.ID,
		ActorID:      actorID,
		TargetDate:   repository.DateKey(g.TargetDate),
		Payload:      payload,
	})
}

// uniqueIDs trims, drops blanks and removes repeats, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
