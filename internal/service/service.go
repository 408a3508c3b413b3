// Package service implements the batch approval engine: machine readiness,
// template application, approval groups with conflict handling, and
// read-only analytics.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/conflict"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/lock"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/metrics"
)

// Settings are the business thresholds applied by the services.
type Settings struct {
	HealthThreshold            float64
	HighPriorityGroupLimit     int
	LargeGroupThreshold        int
	DefaultExpectedOutput      int
	CompatibilityScope         conflict.Scope
	CreateReadinessOnMarkInUse bool
}

// DefaultSettings returns the standard thresholds.
func DefaultSettings() Settings {
	return Settings{
		HealthThreshold:        0.7,
		HighPriorityGroupLimit: 3,
		LargeGroupThreshold:    5,
		DefaultExpectedOutput:  100,
		CompatibilityScope:     conflict.ScopePerMachine,
	}
}

// withDefaults replaces non-positive limits and an empty scope with the
// standard values.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.HighPriorityGroupLimit <= 0 {
		s.HighPriorityGroupLimit = def.HighPriorityGroupLimit
	}
	if s.LargeGroupThreshold <= 0 {
		s.LargeGroupThreshold = def.LargeGroupThreshold
	}
	if s.DefaultExpectedOutput <= 0 {
		s.DefaultExpectedOutput = def.DefaultExpectedOutput
	}
	if s.CompatibilityScope == "" {
		s.CompatibilityScope = def.CompatibilityScope
	}
	return s
}

func (s Settings) detectorConfig() conflict.DetectorConfig {
	return conflict.DetectorConfig{
		HealthThreshold:        s.HealthThreshold,
		HighPriorityGroupLimit: s.HighPriorityGroupLimit,
		CompatibilityScope:     s.CompatibilityScope,
	}
}

// Collaborators are the optional ports shared by every service. Services
// that must serialise against each other need the same Locker.
type Collaborators struct {
	Log         *logger.Logger
	Metrics     metrics.Recorder
	Events      client.EventPublisherInterface
	Users       client.UserDirectoryInterface
	Machines    client.MachineDirectoryInterface
	Locker      lock.Locker
	Now         func() time.Time
	AuditPolicy AuditPolicy
}

// WithDefaults fills nil collaborators with no-op or in-process implementations.
func (c Collaborators) WithDefaults() Collaborators {
	if c.Log == nil {
		c.Log = logger.Nop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.Events == nil {
		c.Events = noopEvents{}
	}
	if c.Locker == nil {
		c.Locker = lock.NewLocal()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.AuditPolicy == "" {
		c.AuditPolicy = AuditWarn
	}
	return c
}

// observe records the duration and outcome of a public operation.
func (c Collaborators) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(errors.CodeOf(err)))
	}
	c.Metrics.ObserveOperation(operation, outcome, time.Since(start))
}

type noopEvents struct{}

func (noopEvents) PublishEvent(_ context.Context, _ *client.Event) {}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the struct's validate tags and reports the first
// violation as an InvalidInput error.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
		fe := ve[0]
		return errors.InvalidInput(fe.Namespace(), "failed '"+fe.Tag()+"' validation")
	}
	return errors.Wrap(err, errors.ErrCodeInvalidInput, "validation failed")
}

func iso(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
