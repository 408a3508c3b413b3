package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/lock"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository/memory"
)

var (
	day   = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	start = time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*client.Event
}

func (r *recordingEvents) PublishEvent(_ context.Context, e *client.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEvents) ofType(eventType string) []*client.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*client.Event
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeMachines struct {
	known map[string]bool
	err   error
}

func (f fakeMachines) ValidateMachine(_ context.Context, id string) (bool, string, error) {
	if f.err != nil {
		return false, "", f.err
	}
	if f.known[id] {
		return true, "ok", nil
	}
	return false, "unknown machine", nil
}

type fakeUsers map[string]string

func (f fakeUsers) GetUser(_ context.Context, id string) (*client.User, error) {
	name, ok := f[id]
	if !ok {
		return nil, stderrors.New("user not found")
	}
	return &client.User{ID: id, DisplayName: name}, nil
}

// failingAudit rejects every append.
type failingAudit struct{}

func (failingAudit) Append(context.Context, *repository.AuditEvent) error {
	return stderrors.New("audit sink down")
}

func (failingAudit) ListByEntity(context.Context, string, string) ([]*repository.AuditEvent, error) {
	return nil, nil
}

// entityFailingAudit rejects appends for one entity type and stores the rest.
type entityFailingAudit struct {
	repository.AuditLog
	entityType string
}

func (a entityFailingAudit) Append(ctx context.Context, ev *repository.AuditEvent) error {
	if ev.EntityType == a.entityType {
		return stderrors.New("audit sink down")
	}
	return a.AuditLog.Append(ctx, ev)
}

type testEnv struct {
	store     *memory.Store
	clock     *fakeClock
	events    *recordingEvents
	settings  Settings
	c         Collaborators
	readiness *ReadinessService
	groups    *ApprovalGroupService
	templates *TemplateService
	analytics *AnalyticsService
}

type envOption func(*Settings, *Collaborators)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clock := &fakeClock{t: start}
	store := memory.New()
	store.SetNowFunc(clock.Now)
	events := &recordingEvents{}

	settings := DefaultSettings()
	c := Collaborators{
		Events: events,
		Locker: lock.NewLocal(),
		Now:    clock.Now,
		Users:  fakeUsers{"coord-1": "Dana Coordinator"},
	}
	for _, opt := range opts {
		opt(&settings, &c)
	}

	readiness := NewReadinessService(store.Readiness, store.Audit, settings, c)
	return &testEnv{
		store:     store,
		clock:     clock,
		events:    events,
		settings:  settings,
		c:         c,
		readiness: readiness,
		groups:    NewApprovalGroupService(store.Batches, store.Groups, store.Resolutions, store.Audit, readiness, settings, c),
		templates: NewTemplateService(store.Templates, store.Batches, store.Audit, settings, c),
		analytics: NewAnalyticsService(store.Batches, store.Groups, store.Readiness, store.Templates, c),
	}
}

// useAudit rebuilds the services on sink under policy.
func (e *testEnv) useAudit(sink repository.AuditLog, policy AuditPolicy) {
	e.c.AuditPolicy = policy
	e.readiness = NewReadinessService(e.store.Readiness, sink, e.settings, e.c)
	e.groups = NewApprovalGroupService(e.store.Batches, e.store.Groups, e.store.Resolutions, sink, e.readiness, e.settings, e.c)
	e.templates = NewTemplateService(e.store.Templates, e.store.Batches, sink, e.settings, e.c)
}

func (e *testEnv) seedBatch(t *testing.T, machineID string, mode repository.ProductionMode, status repository.BatchStatus) *repository.ProductionBatch {
	t.Helper()
	b := &repository.ProductionBatch{
		MachineID:   machineID,
		Mode:        mode,
		Status:      status,
		SubmittedBy: "coord-1",
		SubmittedAt: e.clock.Now(),
		Products: []repository.ProductConfig{
			{ProductID: "p1", ProductName: "Widget", PrimaryColorID: "red", Stations: []int{1}, ExpectedOutput: 50},
		},
	}
	require.NoError(t, e.store.Batches.Create(context.Background(), b))
	return b
}

func (e *testEnv) seedGroup(t *testing.T, batchIDs ...string) *repository.ApprovalGroup {
	t.Helper()
	g, err := e.groups.CreateGroup(context.Background(), &CreateGroupRequest{
		Name:          "manual",
		TargetDate:    day,
		BatchIDs:      batchIDs,
		CoordinatorID: "coord-1",
	})
	require.NoError(t, err)
	return g
}

func (e *testEnv) auditFor(entityType string) []*repository.AuditEvent {
	var out []*repository.AuditEvent
	for _, ev := range e.store.Audit.All() {
		if ev.EntityType == entityType {
			out = append(out, ev)
		}
	}
	return out
}

func (e *testEnv) batch(t *testing.T, id string) *repository.ProductionBatch {
	t.Helper()
	b, err := e.store.Batches.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}
