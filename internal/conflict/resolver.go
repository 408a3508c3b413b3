package conflict

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// SystemResolver is the ResolvedBy value of automatic resolutions.
const SystemResolver = "system"

// Resolver maps a conflict to a resolution proposal. It does not mutate any
// state; callers persist what it returns.
type Resolver struct {
	nowFn func() time.Time
}

// NewResolver creates a resolver using the wall clock.
func NewResolver() *Resolver {
	return &Resolver{nowFn: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used to stamp resolutions.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.nowFn = now
	return r
}

// AttemptAutoResolution returns nil when the conflict cannot be resolved
// automatically.
func (r *Resolver) AttemptAutoResolution(c Conflict) *repository.ConflictResolution {
	if !c.CanAutoResolve() {
		return nil
	}

	strategy, detail := chooseStrategy(c)
	return &repository.ConflictResolution{
		ConflictType:        string(c.Type),
		ConflictDescription: c.Description,
		Strategy:            strategy,
		Detail:              detail,
		ResolvedBy:          SystemResolver,
		ImpactedMachineIDs:  append([]string(nil), c.AffectedMachineIDs...),
		ResolvedAt:          r.nowFn(),
	}
}

// ResolveAll runs AttemptAutoResolution over every conflict and returns the
// resolutions produced, in input order.
func (r *Resolver) ResolveAll(conflicts []Conflict) []*repository.ConflictResolution {
	var out []*repository.ConflictResolution
	for _, c := range conflicts {
		if res := r.AttemptAutoResolution(c); res != nil {
			out = append(out, res)
		}
	}
	return out
}

func chooseStrategy(c Conflict) (repository.ResolutionStrategy, string) {
	desc := strings.ToLower(c.Description)

	switch c.Type {
	case MachineUnavailable:
		if strings.Contains(desc, "low health") {
			return repository.StrategyPostponed, "Defer production until machine maintenance completes"
		}
		return repository.StrategyAutomatic, "Reassign batch to an available machine"

	case ResourceConstraint:
		switch {
		case strings.Contains(desc, "duplicate"):
			return repository.StrategyAutomatic, "Remove duplicate batch assignment, keeping the highest-priority group"
		case strings.Contains(desc, "simultaneous"), strings.Contains(desc, "overuse"):
			return repository.StrategyAutomatic, "Reschedule conflicting batches by submission order"
		}
		return repository.StrategyAutomatic, "Rebalance resource allocation across machines"

	case ConfigurationInvalid:
		switch {
		case strings.Contains(desc, "high-priority"), strings.Contains(desc, "priority congestion"):
			return repository.StrategyAutomatic, "Downgrade excess high-priority groups to medium priority"
		case strings.Contains(desc, "mixed production modes"), strings.Contains(desc, "mixed modes"):
			return repository.StrategyAutomatic, "Unify batches to the dominant production mode"
		}
		return repository.StrategyAutomatic, "Normalize configuration parameters"

	case StationOverlap:
		return repository.StrategyAutomatic, "Reassign stations so batches do not overlap"

	case TimeConflict:
		return repository.StrategyAutomatic, "Shift batch timing to the next free slot"
	}

	return repository.StrategyManual, "Manual review required"
}
