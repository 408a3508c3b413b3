package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

func TestAttemptAutoResolution_DependencyMissing(t *testing.T) {
	r := NewResolver()
	assert.Nil(t, r.AttemptAutoResolution(Conflict{Type: DependencyMissing, Description: "anything"}))
}

func TestAttemptAutoResolution_Table(t *testing.T) {
	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	r := NewResolver().WithClock(func() time.Time { return now })

	tests := []struct {
		name     string
		conflict Conflict
		strategy repository.ResolutionStrategy
		detail   string
	}{
		{"low health", Conflict{Type: MachineUnavailable, Description: "machine M1 has Low Health score 0.40"},
			repository.StrategyPostponed, "maintenance"},
		{"unavailable", Conflict{Type: MachineUnavailable, Description: "machine M1 is maintenance"},
			repository.StrategyAutomatic, "available machine"},
		{"duplicate", Conflict{Type: ResourceConstraint, Description: "duplicate batch assignment: B"},
			repository.StrategyAutomatic, "duplicate"},
		{"simultaneous", Conflict{Type: ResourceConstraint, Description: "machine M1 has 2 simultaneous assignments"},
			repository.StrategyAutomatic, "submission order"},
		{"resource other", Conflict{Type: ResourceConstraint, Description: "station 3 is occupied"},
			repository.StrategyAutomatic, "Rebalance"},
		{"congestion", Conflict{Type: ConfigurationInvalid, Description: "high-priority congestion: 4"},
			repository.StrategyAutomatic, "medium priority"},
		{"mixed modes", Conflict{Type: ConfigurationInvalid, Description: "mixed production modes in group g1"},
			repository.StrategyAutomatic, "dominant production mode"},
		{"config other", Conflict{Type: ConfigurationInvalid, Description: "color red conflicts across machines"},
			repository.StrategyAutomatic, "Normalize"},
		{"station overlap", Conflict{Type: StationOverlap, Description: "station 1"},
			repository.StrategyAutomatic, "stations"},
		{"time conflict", Conflict{Type: TimeConflict, Description: "same shift"},
			repository.StrategyAutomatic, "timing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.conflict.AffectedMachineIDs = []string{"M1"}
			res := r.AttemptAutoResolution(tt.conflict)
			require.NotNil(t, res)
			assert.Equal(t, SystemResolver, res.ResolvedBy)
			assert.Equal(t, tt.strategy, res.Strategy)
			assert.Contains(t, res.Detail, tt.detail)
			assert.Equal(t, string(tt.conflict.Type), res.ConflictType)
			assert.Equal(t, tt.conflict.Description, res.ConflictDescription)
			assert.Equal(t, []string{"M1"}, res.ImpactedMachineIDs)
			assert.Equal(t, now, res.ResolvedAt)
		})
	}
}

func TestResolveAll_SkipsUnresolvable(t *testing.T) {
	r := NewResolver()
	got := r.ResolveAll([]Conflict{
		{Type: TimeConflict, Description: "a"},
		{Type: DependencyMissing, Description: "b"},
		{Type: StationOverlap, Description: "c"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ConflictDescription)
	assert.Equal(t, "c", got[1].ConflictDescription)
}
