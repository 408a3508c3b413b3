package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

func TestBatchStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BatchStatus
		ok       bool
	}{
		{BatchUnsubmitted, BatchPending, true},
		{BatchPending, BatchApproved, true},
		{BatchPending, BatchRejected, true},
		{BatchApproved, BatchActive, true},
		{BatchActive, BatchCompleted, true},
		{BatchApproved, BatchPending, false},
		{BatchRejected, BatchPending, false},
		{BatchUnsubmitted, BatchApproved, false},
		{BatchCompleted, BatchActive, false},
		{BatchApproved, BatchApproved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			b := &ProductionBatch{ID: "b1", Status: tt.from}
			err := b.TransitionTo(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, b.Status)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
			assert.Equal(t, tt.from, b.Status)
		})
	}
}

func TestGroupStatusIsTerminalAfterReview(t *testing.T) {
	assert.False(t, GroupPendingReview.IsTerminal())
	for _, s := range []GroupStatus{GroupFullyApproved, GroupPartiallyApproved, GroupRejected} {
		assert.True(t, s.IsTerminal(), s)
		g := &ApprovalGroup{ID: "g1", Status: s}
		assert.Error(t, g.TransitionTo(GroupPendingReview))
	}

	g := &ApprovalGroup{ID: "g1", Status: GroupPendingReview}
	require.NoError(t, g.TransitionTo(GroupPartiallyApproved))
	assert.Error(t, g.TransitionTo(GroupFullyApproved))
}

func TestReadinessSetStatus(t *testing.T) {
	s := &MachineReadinessState{Status: ReadinessReady}
	require.NoError(t, s.SetStatus(ReadinessMaintenance))
	assert.False(t, s.Status.Accepting())
	require.NoError(t, s.SetStatus(ReadinessInUse))
	assert.True(t, s.Status.Accepting())
	assert.Error(t, s.SetStatus("broken"))
}

func TestBatchCloneIsDeep(t *testing.T) {
	secondary := "blue"
	date := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	b := &ProductionBatch{
		ID:         "b1",
		TargetDate: &date,
		Products: []ProductConfig{
			{ProductID: "p1", Stations: []int{1, 2}, SecondaryColorID: &secondary},
		},
	}

	c := b.Clone()
	c.Products[0].Stations[0] = 9
	*c.Products[0].SecondaryColorID = "red"
	*c.TargetDate = date.AddDate(0, 0, 1)

	assert.Equal(t, 1, b.Products[0].Stations[0])
	assert.Equal(t, "blue", *b.Products[0].SecondaryColorID)
	assert.Equal(t, date, *b.TargetDate)
}

func TestTemplateAppliesTo(t *testing.T) {
	open := &BatchTemplate{}
	assert.True(t, open.AppliesTo("M9"))

	scoped := &BatchTemplate{ApplicableMachines: []string{"M1", "M2"}}
	assert.True(t, scoped.AppliesTo("M2"))
	assert.False(t, scoped.AppliesTo("M3"))
}

func TestNormalizeDate(t *testing.T) {
	in := time.Date(2026, 5, 6, 17, 45, 0, 0, time.FixedZone("x", 3600))
	out := NormalizeDate(in)
	assert.Equal(t, time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC), out)
	assert.Equal(t, "2026-05-06", DateKey(out))

	parsed, err := ParseDate("2026-05-06")
	require.NoError(t, err)
	assert.Equal(t, out, parsed)
	_, err = ParseDate("06/05/2026")
	assert.Error(t, err)
}
