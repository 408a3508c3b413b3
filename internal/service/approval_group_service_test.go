package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/conflict"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

func TestCreateOptimalBatchGroups(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for range 6 {
		e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	}
	e.seedBatch(t, "M2", repository.ModeDualColor, repository.BatchPending)
	e.seedBatch(t, "M2", repository.ModeDualColor, repository.BatchPending)
	e.seedBatch(t, "M1", repository.ModeDualColor, repository.BatchPending)
	e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchApproved)

	tomorrow := day.AddDate(0, 0, 1)
	other := &repository.ProductionBatch{
		MachineID: "M3", Mode: repository.ModeSingleColor, Status: repository.BatchPending, TargetDate: &tomorrow,
	}
	require.NoError(t, e.store.Batches.Create(ctx, other))

	groups, err := e.groups.CreateOptimalBatchGroups(ctx, day, "coord-1")
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Contains(t, groups[0].Name, "M1")
	assert.Contains(t, groups[0].Name, string(repository.ModeDualColor))
	assert.Len(t, groups[0].BatchIDs, 1)
	assert.Equal(t, repository.PriorityMedium, groups[0].Priority)

	assert.Contains(t, groups[1].Name, string(repository.ModeSingleColor))
	assert.Len(t, groups[1].BatchIDs, 6)
	assert.Equal(t, repository.PriorityHigh, groups[1].Priority)

	assert.Contains(t, groups[2].Name, "M2")
	assert.Len(t, groups[2].BatchIDs, 2)
	assert.Equal(t, repository.PriorityMedium, groups[2].Priority)

	for _, g := range groups {
		assert.Equal(t, repository.GroupPendingReview, g.Status)
		assert.Equal(t, day, g.TargetDate)
		assert.NotContains(t, g.BatchIDs, other.ID)
	}
	assert.Len(t, e.auditFor(repository.EntityApprovalGroup), 3)
	assert.Len(t, e.events.ofType(client.EventGroupCreated), 3)

	// already grouped batches are not grouped twice
	again, err := e.groups.CreateOptimalBatchGroups(ctx, day, "coord-1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCreateOptimalBatchGroups_ZeroLimitsUseDefaults(t *testing.T) {
	e := newEnv(t, func(s *Settings, _ *Collaborators) {
		s.LargeGroupThreshold = 0
		s.HighPriorityGroupLimit = 0
	})
	ctx := context.Background()

	for range 3 {
		e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	}

	groups, err := e.groups.CreateOptimalBatchGroups(ctx, day, "coord-1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, repository.PriorityMedium, groups[0].Priority)
}

func TestCreateOptimalBatchGroups_RequiresCoordinator(t *testing.T) {
	e := newEnv(t)
	_, err := e.groups.CreateOptimalBatchGroups(context.Background(), day, "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestCreateGroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)

	g, err := e.groups.CreateGroup(ctx, &CreateGroupRequest{
		Name:          "rush",
		TargetDate:    day.Add(15 * time.Hour),
		BatchIDs:      []string{b1.ID, " " + b1.ID},
		CoordinatorID: "coord-1",
		Priority:      repository.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID}, g.BatchIDs)
	assert.Equal(t, day, g.TargetDate)
	assert.Equal(t, repository.PriorityHigh, g.Priority)

	audits := e.auditFor(repository.EntityApprovalGroup)
	require.Len(t, audits, 1)
	assert.Equal(t, "Dana Coordinator", audits[0].OperatorName)
	assert.Equal(t, "1", audits[0].Details["batch_count"])

	_, err = e.groups.CreateGroup(ctx, &CreateGroupRequest{
		Name: "bad", TargetDate: day, BatchIDs: []string{"missing"}, CoordinatorID: "coord-1",
	})
	assert.True(t, errors.IsNotFound(err))

	_, err = e.groups.CreateGroup(ctx, &CreateGroupRequest{TargetDate: day, CoordinatorID: "coord-1"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestBatchApprove_FullyApproved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.readiness.MarkReady(ctx, "M1", day, "op-1")
	require.NoError(t, err)

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)
	g := e.seedGroup(t, b1.ID, b2.ID)

	e.clock.Advance(time.Hour)
	notes := "looks good"
	res, err := e.groups.BatchApprove(ctx, g.ID, "approver-1", &notes)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, repository.GroupFullyApproved, res.GroupStatus)
	assert.Equal(t, []string{b1.ID, b2.ID}, res.ApprovedIDs)
	assert.Empty(t, res.FailedIDs)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, e.clock.Now(), res.CompletedAt)

	stored := e.batch(t, b1.ID)
	assert.Equal(t, repository.BatchApproved, stored.Status)
	require.NotNil(t, stored.ReviewedBy)
	assert.Equal(t, "approver-1", *stored.ReviewedBy)
	require.NotNil(t, stored.ReviewedAt)
	assert.Equal(t, e.clock.Now(), *stored.ReviewedAt)
	require.NotNil(t, stored.ReviewNotes)
	assert.Equal(t, notes, *stored.ReviewNotes)

	st, err := e.readiness.GetReadiness(ctx, "M1", day)
	require.NoError(t, err)
	require.NotNil(t, st.LastApprovedBatchID)
	assert.Equal(t, b1.ID, *st.LastApprovedBatchID)

	// no readiness row is invented for M2
	st, err = e.readiness.GetReadiness(ctx, "M2", day)
	require.NoError(t, err)
	assert.Nil(t, st)

	group, err := e.groups.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.GroupFullyApproved, group.Status)
	require.NotNil(t, group.ApprovedBy)
	assert.Equal(t, "approver-1", *group.ApprovedBy)

	assert.Len(t, e.auditFor(repository.EntityProductionBatch), 2)
	assert.Len(t, e.events.ofType(client.EventGroupApproved), 1)

	dups, err := e.groups.ValidateNoDuplicateApprovals(ctx, []string{"M1", "M2", "M1"}, day)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1"}, dups)

	_, err = e.groups.BatchApprove(ctx, g.ID, "approver-1", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestBatchApprove_PartiallyApproved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchApproved)
	g := e.seedGroup(t, b1.ID, b2.ID)

	res, err := e.groups.BatchApprove(ctx, g.ID, "approver-1", nil)
	require.NoError(t, err)

	assert.Equal(t, repository.GroupPartiallyApproved, res.GroupStatus)
	assert.Equal(t, []string{b1.ID}, res.ApprovedIDs)
	assert.Equal(t, []string{b2.ID}, res.FailedIDs)
	assert.Contains(t, res.Failures[b2.ID], "cannot move")
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), b2.ID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "not pending")

	assert.Len(t, e.events.ofType(client.EventGroupPartial), 1)
}

func TestBatchApprove_NothingApprovedLeavesStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchRejected)
	g := e.seedGroup(t, b1.ID)

	ghost := &repository.ApprovalGroup{
		Name: "ghost", TargetDate: day, BatchIDs: []string{"ghost-batch"},
		CoordinatorID: "coord-1", Priority: repository.PriorityLow, Status: repository.GroupPendingReview,
	}
	require.NoError(t, e.store.Groups.Create(ctx, ghost))

	for _, id := range []string{g.ID, ghost.ID} {
		res, err := e.groups.BatchApprove(ctx, id, "approver-1", nil)
		require.NoError(t, err)
		assert.Equal(t, repository.GroupPendingReview, res.GroupStatus)
		assert.Empty(t, res.ApprovedIDs)
		assert.Len(t, res.FailedIDs, 1)
		assert.Error(t, res.Err())
	}
	assert.Empty(t, e.events.ofType(client.EventGroupApproved))
	assert.Empty(t, e.events.ofType(client.EventGroupPartial))
}

func TestBatchApprove_EmptyGroup(t *testing.T) {
	e := newEnv(t)
	g := e.seedGroup(t)

	res, err := e.groups.BatchApprove(context.Background(), g.ID, "approver-1", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.GroupPendingReview, res.GroupStatus)
	assert.Empty(t, res.ApprovedIDs)
	assert.Empty(t, res.FailedIDs)
	assert.NoError(t, res.Err())
}

func TestBatchApprove_InvalidRequests(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.groups.BatchApprove(ctx, "no-such-group", "approver-1", nil)
	assert.True(t, errors.IsNotFound(err))

	g := e.seedGroup(t)
	_, err = e.groups.BatchApprove(ctx, g.ID, "", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestBatchApprove_ConcurrentSameGroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var ids []string
	for _, m := range []string{"M1", "M2", "M3"} {
		ids = append(ids, e.seedBatch(t, m, repository.ModeSingleColor, repository.BatchPending).ID)
	}
	g := e.seedGroup(t, ids...)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.groups.BatchApprove(ctx, g.ID, "approver-1", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, e.auditFor(repository.EntityProductionBatch), len(ids))
}

func TestBatchApprove_SharedBatchApprovedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	shared := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b1 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M3", repository.ModeSingleColor, repository.BatchPending)
	g1 := e.seedGroup(t, shared.ID, b1.ID)
	g2 := e.seedGroup(t, shared.ID, b2.ID)

	var wg sync.WaitGroup
	results := make([]*BatchApprovalResult, 2)
	for i, id := range []string{g1.ID, g2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := e.groups.BatchApprove(ctx, id, "approver-1", nil)
			assert.NoError(t, err)
			results[i] = res
		}(i, id)
	}
	wg.Wait()

	approvedShared := 0
	statuses := map[repository.GroupStatus]int{}
	for _, res := range results {
		require.NotNil(t, res)
		statuses[res.GroupStatus]++
		for _, id := range res.ApprovedIDs {
			if id == shared.ID {
				approvedShared++
			}
		}
	}
	assert.Equal(t, 1, approvedShared)
	assert.Equal(t, 1, statuses[repository.GroupFullyApproved])
	assert.Equal(t, 1, statuses[repository.GroupPartiallyApproved])

	var sharedAudits int
	for _, ev := range e.auditFor(repository.EntityProductionBatch) {
		if ev.EntityID == shared.ID {
			sharedAudits++
		}
	}
	assert.Equal(t, 1, sharedAudits)
}

func TestAddAndRemoveBatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)
	b3 := e.seedBatch(t, "M3", repository.ModeSingleColor, repository.BatchPending)
	g := e.seedGroup(t, b1.ID)
	require.Len(t, e.auditFor(repository.EntityApprovalGroup), 1)

	got, err := e.groups.AddBatches(ctx, g.ID, []string{b1.ID}, "coord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID}, got.BatchIDs)
	assert.Len(t, e.auditFor(repository.EntityApprovalGroup), 1)

	got, err = e.groups.AddBatches(ctx, g.ID, []string{b2.ID, b3.ID, b2.ID}, "coord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID, b2.ID, b3.ID}, got.BatchIDs)
	assert.Len(t, e.auditFor(repository.EntityApprovalGroup), 2)

	_, err = e.groups.AddBatches(ctx, g.ID, []string{"missing"}, "coord-1")
	assert.True(t, errors.IsNotFound(err))

	got, err = e.groups.RemoveBatches(ctx, g.ID, []string{b2.ID, "not-there"}, "coord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID, b3.ID}, got.BatchIDs)
	assert.Len(t, e.auditFor(repository.EntityApprovalGroup), 3)

	_, err = e.groups.RemoveBatches(ctx, g.ID, []string{b2.ID}, "coord-1")
	require.NoError(t, err)
	assert.Len(t, e.auditFor(repository.EntityApprovalGroup), 3)

	_, err = e.groups.BatchApprove(ctx, g.ID, "approver-1", nil)
	require.NoError(t, err)

	_, err = e.groups.AddBatches(ctx, g.ID, []string{b2.ID}, "coord-1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	_, err = e.groups.RemoveBatches(ctx, g.ID, []string{b1.ID}, "coord-1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestRejectGroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchApproved)
	g := e.seedGroup(t, b1.ID, b2.ID)

	_, err := e.groups.RejectGroup(ctx, g.ID, "approver-1", "  ")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	got, err := e.groups.RejectGroup(ctx, g.ID, "approver-1", "wrong colours")
	require.NoError(t, err)
	assert.Equal(t, repository.GroupRejected, got.Status)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "wrong colours", *got.Notes)

	rejected := e.batch(t, b1.ID)
	assert.Equal(t, repository.BatchRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewNotes)
	assert.Equal(t, "wrong colours", *rejected.ReviewNotes)
	assert.Equal(t, repository.BatchApproved, e.batch(t, b2.ID).Status)

	assert.Len(t, e.events.ofType(client.EventGroupRejected), 1)

	_, err = e.groups.RejectGroup(ctx, g.ID, "approver-1", "again")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	_, err = e.groups.BatchApprove(ctx, g.ID, "approver-1", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestCopyConfiguration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	src := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchApproved)
	reviewer := "approver-1"
	src.ReviewedBy = &reviewer
	require.NoError(t, e.store.Batches.Update(ctx, src))
	e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchApproved)
	e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)

	target := day.AddDate(0, 0, 1)
	copies, err := e.groups.CopyConfiguration(ctx, day, target, []string{"M1"}, "coord-1")
	require.NoError(t, err)
	require.Len(t, copies, 1)

	c := copies[0]
	assert.NotEmpty(t, c.ID)
	assert.NotEqual(t, src.ID, c.ID)
	assert.Equal(t, repository.BatchPending, c.Status)
	require.NotNil(t, c.TargetDate)
	assert.Equal(t, target, *c.TargetDate)
	assert.Equal(t, "coord-1", c.SubmittedBy)
	assert.Equal(t, "Dana Coordinator", c.SubmittedByName)
	assert.Nil(t, c.ReviewedBy)
	require.Len(t, c.Products, 1)
	assert.NotEqual(t, src.Products[0].ID, c.Products[0].ID)
	assert.Equal(t, c.ID, c.Products[0].BatchID)
	assert.Equal(t, src.Products[0].PrimaryColorID, c.Products[0].PrimaryColorID)

	original := e.batch(t, src.ID)
	assert.Equal(t, repository.BatchApproved, original.Status)
	assert.Equal(t, src.Products[0].ID, original.Products[0].ID)

	audits := e.auditFor(repository.EntityProductionBatch)
	require.Len(t, audits, 1)
	assert.Equal(t, "1", audits[0].Details["copied_count"])
	assert.Equal(t, "2", audits[0].Details["source_count"])
	assert.Len(t, e.events.ofType(client.EventBatchesCopied), 1)
}

func TestCopyConfiguration_NothingToCopy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchApproved)

	copies, err := e.groups.CopyConfiguration(ctx, day.AddDate(0, 0, -1), day, nil, "coord-1")
	require.NoError(t, err)
	assert.Empty(t, copies)
	assert.Empty(t, e.auditFor(repository.EntityProductionBatch))

	_, err = e.groups.CopyConfiguration(ctx, day, day, nil, "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestCopyConfiguration_AllMachines(t *testing.T) {
	e := newEnv(t)
	e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchApproved)
	e.seedBatch(t, "M2", repository.ModeDualColor, repository.BatchApproved)

	copies, err := e.groups.CopyConfiguration(context.Background(), day, day.AddDate(0, 0, 7), nil, "coord-1")
	require.NoError(t, err)
	assert.Len(t, copies, 2)
}

func TestDetectAndResolveConflictsForDate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pending := "b-x"
	require.NoError(t, e.readiness.Update(ctx, &repository.MachineReadinessState{
		MachineID:      "M1",
		TargetDate:     day,
		Status:         repository.ReadinessMaintenance,
		HealthScore:    1,
		PendingBatchID: &pending,
	}, "op-1"))
	_, err := e.readiness.MarkReady(ctx, "M2", day, "op-1")
	require.NoError(t, err)
	_, err = e.readiness.UpdateHealth(ctx, "M2", day, 0.4, "op-1")
	require.NoError(t, err)

	conflicts, err := e.groups.DetectConflictsForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, conflict.SeverityHigh, conflicts[0].Severity)
	assert.Equal(t, []string{"M1"}, conflicts[0].AffectedMachineIDs)
	assert.Contains(t, conflicts[1].Description, "low health")

	detected := e.events.ofType(client.EventConflictsDetected)
	require.Len(t, detected, 1)
	assert.Equal(t, string(conflict.SeverityHigh), detected[0].Severity)

	resolutions, err := e.groups.ResolveConflicts(ctx, conflicts)
	require.NoError(t, err)
	require.Len(t, resolutions, 2)
	assert.Equal(t, repository.StrategyAutomatic, resolutions[0].Strategy)
	assert.Equal(t, repository.StrategyPostponed, resolutions[1].Strategy)

	history, err := e.groups.GetResolutionHistory(ctx, start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 2)

	audits := e.auditFor(repository.EntityConflictResolution)
	require.Len(t, audits, 2)
	assert.Equal(t, conflict.SystemResolver, audits[0].OperatorID)
	assert.Len(t, e.events.ofType(client.EventConflictsResolved), 1)

	none, err := e.groups.ResolveConflicts(ctx, []conflict.Conflict{{Type: conflict.DependencyMissing}})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.groups.GetResolutionHistory(ctx, start, start)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestDetectConflictsForDate_MachineInTwoGroups(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b3 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)
	b4 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)
	e.seedGroup(t, b1.ID)
	e.seedGroup(t, b2.ID)
	e.seedGroup(t, b3.ID, b4.ID)

	conflicts, err := e.groups.DetectConflictsForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.ResourceConstraint, conflicts[0].Type)
	assert.Equal(t, conflict.SeverityHigh, conflicts[0].Severity)
	assert.Equal(t, []string{"M1"}, conflicts[0].AffectedMachineIDs)
	assert.Contains(t, conflicts[0].Description, "simultaneous")
}

func TestDetectGroupConflicts(t *testing.T) {
	e := newEnv(t)
	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M1", repository.ModeDualColor, repository.BatchPending)
	g := e.seedGroup(t, b1.ID, b2.ID)

	conflicts, err := e.groups.DetectGroupConflicts(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, conflict.ResourceConstraint, conflicts[0].Type)
	assert.Equal(t, conflict.ConfigurationInvalid, conflicts[1].Type)

	_, err = e.groups.DetectGroupConflicts(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestValidateBatchCompatibility(t *testing.T) {
	e := newEnv(t)
	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b3 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)

	conflicts, err := e.groups.ValidateBatchCompatibility(context.Background(), []string{b1.ID, b2.ID, b3.ID, "unknown"})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.StationOverlap, conflicts[0].Type)
	assert.Equal(t, []string{"M1"}, conflicts[0].AffectedMachineIDs)
}

func TestValidateBatchCompatibility_GlobalScope(t *testing.T) {
	e := newEnv(t, func(s *Settings, _ *Collaborators) { s.CompatibilityScope = conflict.ScopeGlobal })
	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)

	conflicts, err := e.groups.ValidateBatchCompatibility(context.Background(), []string{b1.ID, b2.ID})
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "color red conflicts across machines", conflicts[0].Description)
}

func TestListGroupsForDate(t *testing.T) {
	e := newEnv(t)
	e.seedGroup(t)
	e.seedGroup(t)

	groups, err := e.groups.ListGroupsForDate(context.Background(), day.Add(20*time.Hour))
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	groups, err = e.groups.ListGroupsForDate(context.Background(), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, groups)
}
