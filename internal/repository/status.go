package repository

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
)

// BatchStatus is the lifecycle state of a production batch.
type BatchStatus string

const (
	BatchUnsubmitted BatchStatus = "unsubmitted"
	BatchPending     BatchStatus = "pending"
	BatchApproved    BatchStatus = "approved"
	BatchRejected    BatchStatus = "rejected"
	BatchActive      BatchStatus = "active"
	BatchCompleted   BatchStatus = "completed"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchUnsubmitted: {BatchPending},
	BatchPending:     {BatchApproved, BatchRejected},
	BatchApproved:    {BatchActive},
	BatchActive:      {BatchCompleted},
}

// CanTransitionTo reports whether s may move to next.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	return contains(batchTransitions[s], next)
}

// GroupStatus is the review state of an approval group.
type GroupStatus string

const (
	GroupPendingReview     GroupStatus = "pendingReview"
	GroupPartiallyApproved GroupStatus = "partiallyApproved"
	GroupFullyApproved     GroupStatus = "fullyApproved"
	GroupRejected          GroupStatus = "rejected"
)

// Every non-pending group status is terminal.
var groupTransitions = map[GroupStatus][]GroupStatus{
	GroupPendingReview: {GroupFullyApproved, GroupPartiallyApproved, GroupRejected},
}

// CanTransitionTo reports whether s may move to next. Only groups pending
// review can move.
func (s GroupStatus) CanTransitionTo(next GroupStatus) bool {
	return contains(groupTransitions[s], next)
}

// IsTerminal reports whether no further transition is possible.
func (s GroupStatus) IsTerminal() bool {
	return len(groupTransitions[s]) == 0
}

// ReadinessStatus is a machine's availability for a date.
type ReadinessStatus string

const (
	ReadinessReady       ReadinessStatus = "ready"
	ReadinessInUse       ReadinessStatus = "inUse"
	ReadinessMaintenance ReadinessStatus = "maintenance"
	ReadinessUnavailable ReadinessStatus = "unavailable"
)

// Valid reports whether s is one of the known readiness values.
func (s ReadinessStatus) Valid() bool {
	switch s {
	case ReadinessReady, ReadinessInUse, ReadinessMaintenance, ReadinessUnavailable:
		return true
	}
	return false
}

// Accepting reports whether a machine in this status can carry work.
func (s ReadinessStatus) Accepting() bool {
	return s == ReadinessReady || s == ReadinessInUse
}

// TransitionTo moves the batch to next, rejecting illegal transitions.
func (b *ProductionBatch) TransitionTo(next BatchStatus) error {
	if !b.Status.CanTransitionTo(next) {
		return errors.InvalidInput("status",
			fmt.Sprintf("batch %s cannot move from %s to %s", b.ID, b.Status, next))
	}
	b.Status = next
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionTo moves the group to next, rejecting illegal transitions.
func (g *ApprovalGroup) TransitionTo(next GroupStatus) error {
	if !g.Status.CanTransitionTo(next) {
		return errors.InvalidInput("status",
			fmt.Sprintf("approval group %s cannot move from %s to %s", g.ID, g.Status, next))
	}
	g.Status = next
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus changes the readiness status. Any valid status may follow any other.
func (r *MachineReadinessState) SetStatus(next ReadinessStatus) error {
	if !next.Valid() {
		return errors.InvalidInput("status", fmt.Sprintf("unknown readiness status %q", next))
	}
	r.Status = next
	return nil
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
