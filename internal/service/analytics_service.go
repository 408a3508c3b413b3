package service

import (
	"context"
	"sort"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// AnalyticsService computes read-only aggregates over a date range.
type AnalyticsService struct {
	batches   repository.BatchRepository
	groups    repository.ApprovalGroupRepository
	readiness repository.ReadinessRepository
	templates repository.TemplateRepository
	c         Collaborators
	log       *logger.Logger
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(
	batches repository.BatchRepository,
	groups repository.ApprovalGroupRepository,
	readiness repository.ReadinessRepository,
	templates repository.TemplateRepository,
	c Collaborators,
) *AnalyticsService {
	c = c.WithDefaults()
	return &AnalyticsService{
		batches:   batches,
		groups:    groups,
		readiness: readiness,
		templates: templates,
		c:         c,
		log:       c.Log.With("analytics"),
	}
}

// ApprovalMetrics summarises the groups targeting a date range.
type ApprovalMetrics struct {
	From           time.Time                      `json:"from"`
	To             time.Time                      `json:"to"`
	Groups         int                            `json:"groups"`
	GroupsByStatus map[repository.GroupStatus]int `json:"groups_by_status"`
	Batches        int                            `json:"batches"`
	Approved       int                            `json:"approved"`
	Rejected       int                            `json:"rejected"`
	Pending        int                            `json:"pending"`
	// ApprovalRate is Approved / Batches, zero when there are no batches.
	ApprovalRate float64 `json:"approval_rate"`
	// MeanTimeToApproval is measured from submission to review.
	MeanTimeToApproval time.Duration `json:"mean_time_to_approval"`
}

// MachineUtilization summarises one machine's readiness rows.
type MachineUtilization struct {
	MachineID   string  `json:"machine_id"`
	DaysTracked int     `json:"days_tracked"`
	DaysInUse   int     `json:"days_in_use"`
	DaysReady   int     `json:"days_ready"`
	MeanHealth  float64 `json:"mean_health"`
	Utilization float64 `json:"utilization"`
}

// TemplateUsage summarises the batches created from one template.
type TemplateUsage struct {
	TemplateID   string    `json:"template_id"`
	TemplateName string    `json:"template_name"`
	Batches      int       `json:"batches"`
	Machines     int       `json:"machines"`
	LastUsed     time.Time `json:"last_used"`
}

func checkRange(from, to time.Time) error {
	if !from.Before(to) {
		return errors.InvalidInput("to", "end of range must be after start")
	}
	return nil
}

// FetchApprovalMetrics aggregates groups whose target date is in [from, to)
// and the batches they reference.
func (s *AnalyticsService) FetchApprovalMetrics(ctx context.Context, from, to time.Time) (*ApprovalMetrics, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	groups, err := s.groups.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	m := &ApprovalMetrics{
		From:           from,
		To:             to,
		Groups:         len(groups),
		GroupsByStatus: make(map[repository.GroupStatus]int),
	}

	seen := make(map[string]bool)
	var ids []string
	for _, g := range groups {
		m.GroupsByStatus[g.Status]++
		for _, id := range g.BatchIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	batches, err := s.batches.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var total time.Duration
	var timed int
	for _, b := range batches {
		m.Batches++
		switch b.Status {
		case repository.BatchApproved, repository.BatchActive, repository.BatchCompleted:
			m.Approved++
			if b.ReviewedAt != nil && !b.SubmittedAt.IsZero() {
				total += b.ReviewedAt.Sub(b.SubmittedAt)
				timed++
			}
		case repository.BatchRejected:
			m.Rejected++
		default:
			m.Pending++
		}
	}
	if m.Batches > 0 {
		m.ApprovalRate = float64(m.Approved) / float64(m.Batches)
	}
	if timed > 0 {
		m.MeanTimeToApproval = total / time.Duration(timed)
	}

	s.log.Debug().
		Int("groups", m.Groups).
		Int("batches", m.Batches).
		Float64("approval_rate", m.ApprovalRate).
		Msg("Approval metrics computed")
	return m, nil
}

// FetchMachineUtilization aggregates readiness rows in [from, to) per
// machine, ordered by machine id.
func (s *AnalyticsService) FetchMachineUtilization(ctx context.Context, from, to time.Time) ([]*MachineUtilization, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	rows, err := s.readiness.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byMachine := make(map[string]*MachineUtilization)
	health := make(map[string]float64)
	for _, st := range rows {
		u, ok := byMachine[st.MachineID]
		if !ok {
			u = &MachineUtilization{MachineID: st.MachineID}
			byMachine[st.MachineID] = u
		}
		u.DaysTracked++
		health[st.MachineID] += st.HealthScore
		switch st.Status {
		case repository.ReadinessInUse:
			u.DaysInUse++
		case repository.ReadinessReady:
			u.DaysReady++
		}
	}

	out := make([]*MachineUtilization, 0, len(byMachine))
	for id, u := range byMachine {
		u.MeanHealth = health[id] / float64(u.DaysTracked)
		u.Utilization = float64(u.DaysInUse) / float64(u.DaysTracked)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

// FetchTemplateUsageStatistics counts batches created in [from, to) per
// source template, most used first.
func (s *AnalyticsService) FetchTemplateUsageStatistics(ctx context.Context, from, to time.Time) ([]*TemplateUsage, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	batches, err := s.batches.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byTemplate := make(map[string]*TemplateUsage)
	machines := make(map[string]map[string]bool)
	for _, b := range batches {
		if b.TemplateID == nil {
			continue
		}
		id := *b.TemplateID
		u, ok := byTemplate[id]
		if !ok {
			u = &TemplateUsage{TemplateID: id}
			byTemplate[id] = u
			machines[id] = make(map[string]bool)
		}
		u.Batches++
		machines[id][b.MachineID] = true
		if b.CreatedAt.After(u.LastUsed) {
			u.LastUsed = b.CreatedAt
		}
	}

	out := make([]*TemplateUsage, 0, len(byTemplate))
	for id, u := range byTemplate {
		u.Machines = len(machines[id])
		tmpl, err := s.templates.GetByID(ctx, id)
		switch {
		case err == nil:
			u.TemplateName = tmpl.Name
		case errors.IsNotFound(err):
			s.log.Debug().Str("template_id", id).Msg("Template no longer exists")
		default:
			return nil, err
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Batches != out[j].Batches {
			return out[i].Batches > out[j].Batches
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	return out, nil
}
