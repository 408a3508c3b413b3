package service

import (
	"context"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/conflict"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/metrics"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// AuditPolicy decides what happens when the audit sink rejects an event.
type AuditPolicy string

const (
	// AuditWarn logs the failure and lets the operation succeed.
	AuditWarn AuditPolicy = "warn"
	// AuditAbort returns the failure to the caller and leaves the store
	// untouched: the event is written before the mutation it describes.
	AuditAbort AuditPolicy = "abort"
)

// auditor writes audit events for the services.
type auditor struct {
	sink    repository.AuditLog
	users   client.UserDirectoryInterface
	policy  AuditPolicy
	metrics metrics.Recorder
	log     *logger.Logger
}

func newAuditor(sink repository.AuditLog, c Collaborators) *auditor {
	return &auditor{
		sink:    sink,
		users:   c.Users,
		policy:  c.AuditPolicy,
		metrics: c.Metrics,
		log:     c.Log,
	}
}

// record appends one audit event. Under AuditWarn it never returns an error.
func (a *auditor) record(
	ctx context.Context,
	op repository.AuditOperation,
	entityType, entityID, description, operatorID string,
	details map[string]string,
) error {
	event := &repository.AuditEvent{
		Operation:    op,
		EntityType:   entityType,
		EntityID:     entityID,
		Description:  description,
		OperatorID:   operatorID,
		OperatorName: a.operatorName(ctx, operatorID),
		Details:      details,
	}

	if err := a.sink.Append(ctx, event); err != nil {
		a.metrics.AuditFailure(entityType)
		if a.policy == AuditAbort {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to write audit event")
		}
		a.log.Warn().Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Str("operation", string(op)).
			Msg("Failed to write audit log entry")
	}
	return nil
}

// commit persists a mutation together with its audit event. Under AuditAbort
// the event goes first, so a rejected event means mutate never runs. Under
// AuditWarn the mutation goes first and a rejected event is only logged.
// entityID must be known before mutate runs.
func (a *auditor) commit(
	ctx context.Context,
	mutate func() error,
	op repository.AuditOperation,
	entityType, entityID, description, operatorID string,
	details map[string]string,
) error {
	if a.policy != AuditAbort {
		if err := mutate(); err != nil {
			return err
		}
		return a.record(ctx, op, entityType, entityID, description, operatorID, details)
	}

	if err := a.record(ctx, op, entityType, entityID, description, operatorID, details); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		a.log.Error().Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Str("operation", string(op)).
			Msg("Audited change was not persisted")
		return err
	}
	return nil
}

// operatorName resolves a display name, falling back to the id.
func (a *auditor) operatorName(ctx context.Context, operatorID string) string {
	if operatorID == "" || operatorID == conflict.SystemResolver || a.users == nil {
		return operatorID
	}
	user, err := a.users.GetUser(ctx, operatorID)
	if err != nil {
		a.log.Debug().Err(err).Str("operator_id", operatorID).Msg("Could not resolve operator name")
		return operatorID
	}
	if user == nil || user.DisplayName == "" {
		return operatorID
	}
	return user.DisplayName
}
