package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

func TestFetchApprovalMetrics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b1 := e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)
	b2 := e.seedBatch(t, "M2", repository.ModeSingleColor, repository.BatchPending)
	b3 := e.seedBatch(t, "M3", repository.ModeSingleColor, repository.BatchPending)
	b4 := e.seedBatch(t, "M4", repository.ModeSingleColor, repository.BatchPending)
	approved := e.seedGroup(t, b1.ID, b2.ID)
	rejected := e.seedGroup(t, b3.ID)
	e.seedGroup(t, b4.ID)

	e.clock.Advance(2 * time.Hour)
	_, err := e.groups.BatchApprove(ctx, approved.ID, "approver-1", nil)
	require.NoError(t, err)
	_, err = e.groups.RejectGroup(ctx, rejected.ID, "approver-1", "no stock")
	require.NoError(t, err)

	m, err := e.analytics.FetchApprovalMetrics(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, m.Groups)
	assert.Equal(t, 1, m.GroupsByStatus[repository.GroupFullyApproved])
	assert.Equal(t, 1, m.GroupsByStatus[repository.GroupRejected])
	assert.Equal(t, 1, m.GroupsByStatus[repository.GroupPendingReview])
	assert.Equal(t, 4, m.Batches)
	assert.Equal(t, 2, m.Approved)
	assert.Equal(t, 1, m.Rejected)
	assert.Equal(t, 1, m.Pending)
	assert.InDelta(t, 0.5, m.ApprovalRate, 1e-9)
	assert.Equal(t, 2*time.Hour, m.MeanTimeToApproval)

	empty, err := e.analytics.FetchApprovalMetrics(ctx, day.AddDate(0, 0, 5), day.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Zero(t, empty.Groups)
	assert.Zero(t, empty.ApprovalRate)

	_, err = e.analytics.FetchApprovalMetrics(ctx, day, day)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestFetchMachineUtilization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rows := []*repository.MachineReadinessState{
		{MachineID: "M1", TargetDate: day, Status: repository.ReadinessInUse, HealthScore: 0.8},
		{MachineID: "M1", TargetDate: day.AddDate(0, 0, 1), Status: repository.ReadinessReady, HealthScore: 0.6},
		{MachineID: "M2", TargetDate: day, Status: repository.ReadinessMaintenance, HealthScore: 1},
		{MachineID: "M2", TargetDate: day.AddDate(0, 0, 3), Status: repository.ReadinessInUse, HealthScore: 1},
	}
	for _, st := range rows {
		require.NoError(t, e.readiness.Update(ctx, st, "op"))
	}

	got, err := e.analytics.FetchMachineUtilization(ctx, day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "M1", got[0].MachineID)
	assert.Equal(t, 2, got[0].DaysTracked)
	assert.Equal(t, 1, got[0].DaysInUse)
	assert.Equal(t, 1, got[0].DaysReady)
	assert.InDelta(t, 0.7, got[0].MeanHealth, 1e-9)
	assert.InDelta(t, 0.5, got[0].Utilization, 1e-9)

	assert.Equal(t, "M2", got[1].MachineID)
	assert.Equal(t, 1, got[1].DaysTracked)
	assert.Zero(t, got[1].DaysInUse)
	assert.Zero(t, got[1].Utilization)
}

func TestFetchTemplateUsageStatistics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tmpl, err := e.templates.CreateTemplate(ctx, sampleTemplate(), "coord-1")
	require.NoError(t, err)

	_, err = e.templates.ApplyTemplate(ctx, tmpl, []string{"M1", "M2"}, day, "coord-1")
	require.NoError(t, err)
	e.clock.Advance(time.Hour)
	_, err = e.templates.ApplyTemplate(ctx, tmpl, []string{"M1"}, day.AddDate(0, 0, 1), "coord-1")
	require.NoError(t, err)

	gone := "retired-template"
	require.NoError(t, e.store.Batches.Create(ctx, &repository.ProductionBatch{
		MachineID: "M9", Mode: repository.ModeSingleColor, Status: repository.BatchPending, TemplateID: &gone,
	}))
	e.seedBatch(t, "M1", repository.ModeSingleColor, repository.BatchPending)

	got, err := e.analytics.FetchTemplateUsageStatistics(ctx, start.Add(-time.Hour), start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, tmpl.ID, got[0].TemplateID)
	assert.Equal(t, "Morning run", got[0].TemplateName)
	assert.Equal(t, 3, got[0].Batches)
	assert.Equal(t, 2, got[0].Machines)
	assert.Equal(t, start.Add(time.Hour), got[0].LastUsed)

	assert.Equal(t, gone, got[1].TemplateID)
	assert.Empty(t, got[1].TemplateName)
	assert.Equal(t, 1, got[1].Batches)
}
