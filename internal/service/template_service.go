package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// TemplateService manages batch templates and turns them into batches.
type TemplateService struct {
	templates repository.TemplateRepository
	batches   repository.BatchRepository
	audit     *auditor
	settings  Settings
	c         Collaborators
	log       *logger.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(
	templates repository.TemplateRepository,
	batches repository.BatchRepository,
	auditLog repository.AuditLog,
	settings Settings,
	c Collaborators,
) *TemplateService {
	c = c.WithDefaults()
	settings = settings.withDefaults()
	return &TemplateService{
		templates: templates,
		batches:   batches,
		audit:     newAuditor(auditLog, c),
		settings:  settings,
		c:         c,
		log:       c.Log.With("templates"),
	}
}

// ── Application ───────────────────────────────────────────────────────────────

// ApplyTemplate creates one pending single-color batch per eligible machine.
// Blank, repeated, unknown and non-applicable machine ids are skipped.
func (s *TemplateService) ApplyTemplate(
	ctx context.Context,
	tmpl *repository.BatchTemplate,
	machineIDs []string,
	targetDate time.Time,
	coordinatorID string,
) (batches []*repository.ProductionBatch, err error) {
	defer func(start time.Time) { s.c.observe("apply_template", start, err) }(time.Now())

	if tmpl == nil {
		return nil, errors.InvalidInput("template", "template is required")
	}
	if !tmpl.IsActive {
		return nil, errors.InvalidInput("template", fmt.Sprintf("template %q is inactive", tmpl.Name))
	}
	if coordinatorID == "" {
		return nil, errors.InvalidInput("coordinator_id", "coordinator id is required")
	}

	eligible, err := s.eligibleMachines(ctx, tmpl, machineIDs)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		s.log.Info().
			Str("template_id", tmpl.ID).
			Int("requested_machines", len(machineIDs)).
			Msg("No eligible machines for template")
		return []*repository.ProductionBatch{}, nil
	}

	products := append([]repository.ProductTemplate(nil), tmpl.Products...)
	sort.SliceStable(products, func(i, j int) bool { return products[i].Order < products[j].Order })

	day := repository.NormalizeDate(targetDate)
	now := s.c.Now()
	coordinatorName := s.audit.operatorName(ctx, coordinatorID)
	var templateID *string
	if tmpl.ID != "" {
		id := tmpl.ID
		templateID = &id
	}

	batches = make([]*repository.ProductionBatch, 0, len(eligible))
	for _, machineID := range eligible {
		b := &repository.ProductionBatch{
			MachineID:       machineID,
			Mode:            repository.ModeSingleColor,
			Status:          repository.BatchPending,
			SubmittedBy:     coordinatorID,
			SubmittedByName: coordinatorName,
			SubmittedAt:     now,
			TargetDate:      &day,
			TemplateID:      templateID,
			Products:        make([]repository.ProductConfig, 0, len(products)),
		}
		for _, pt := range products {
			var secondary *string
			if pt.DefaultSecondaryColorID != nil {
				v := *pt.DefaultSecondaryColorID
				secondary = &v
			}
			b.Products = append(b.Products, repository.ProductConfig{
				ProductID:        pt.ProductID,
				ProductName:      pt.ProductName,
				PrimaryColorID:   pt.DefaultPrimaryColorID,
				SecondaryColorID: secondary,
				Stations:         append([]int(nil), pt.DefaultStations...),
				ExpectedOutput:   s.settings.DefaultExpectedOutput,
				Priority:         pt.Order,
			})
		}
		batches = append(batches, b)
	}

	details := map[string]string{
		"template_name":      tmpl.Name,
		"machine_count":      strconv.Itoa(len(eligible)),
		"requested_machines": strconv.Itoa(len(machineIDs)),
		"batch_count":        strconv.Itoa(len(batches)),
		"target_date":        iso(day),
	}
	if err := s.audit.commit(ctx, func() error { return s.batches.CreateMany(ctx, batches) },
		repository.AuditCreate, repository.EntityBatchTemplate, tmpl.ID,
		fmt.Sprintf("Applied template %s to %d machines", tmpl.Name, len(eligible)), coordinatorID, details); err != nil {
		return nil, err
	}
	s.c.Metrics.BatchesCreated("template", len(batches))

	s.c.Events.PublishEvent(ctx, &client.Event{
		EventType:    client.EventTemplateApplied,
		ResourceType: repository.EntityBatchTemplate,
		ResourceID:   tmpl.ID,
		ActorID:      coordinatorID,
		TargetDate:   repository.DateKey(day),
		Payload:      map[string]any{"batch_count": len(batches), "machines": eligible},
	})

	s.log.Info().
		Str("template_id", tmpl.ID).
		Str("template_name", tmpl.Name).
		Int("batch_count", len(batches)).
		Str("target_date", repository.DateKey(day)).
		Msg("Template applied")

	return batches, nil
}

// ApplyTemplateByID loads the template then applies it.
func (s *TemplateService) ApplyTemplateByID(
	ctx context.Context,
	templateID string,
	machineIDs []string,
	targetDate time.Time,
	coordinatorID string,
) ([]*repository.ProductionBatch, error) {
	tmpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.ApplyTemplate(ctx, tmpl, machineIDs, targetDate, coordinatorID)
}

// eligibleMachines deduplicates machineIDs and drops blank, non-applicable
// and unknown ones, preserving input order.
func (s *TemplateService) eligibleMachines(ctx context.Context, tmpl *repository.BatchTemplate, machineIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(machineIDs))
	out := make([]string, 0, len(machineIDs))

	for _, raw := range machineIDs {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if !tmpl.AppliesTo(id) {
			s.log.Debug().Str("machine_id", id).Str("template_id", tmpl.ID).Msg("Template not applicable to machine; skipped")
			continue
		}

		known, err := s.machineKnown(ctx, id)
		if err != nil {
			return nil, err
		}
		if !known {
			s.log.Debug().Str("machine_id", id).Msg("Unknown machine; skipped")
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *TemplateService) machineKnown(ctx context.Context, machineID string) (bool, error) {
	if s.c.Machines == nil {
		return true, nil
	}
	valid, _, err := s.c.Machines.ValidateMachine(ctx, machineID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to validate machine "+machineID)
	}
	return valid, nil
}

// ── Template management ───────────────────────────────────────────────────────

// CreateTemplate validates and stores a new template.
func (s *TemplateService) CreateTemplate(ctx context.Context, tmpl *repository.BatchTemplate, operatorID string) (*repository.BatchTemplate, error) {
	if tmpl == nil {
		return nil, errors.InvalidInput("template", "template is required")
	}
	if err := validateStruct(tmpl); err != nil {
		return nil, err
	}
	if tmpl.Priority == "" {
		tmpl.Priority = repository.PriorityMedium
	}
	if tmpl.CreatedBy == "" {
		tmpl.CreatedBy = operatorID
	}

	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}

	details := map[string]string{
		"name":           tmpl.Name,
		"product_count":  strconv.Itoa(len(tmpl.Products)),
		"active":         strconv.FormatBool(tmpl.IsActive),
		"machine_filter": strings.Join(tmpl.ApplicableMachines, ","),
	}
	if err := s.audit.commit(ctx, func() error { return s.templates.Create(ctx, tmpl) },
		repository.AuditCreate, repository.EntityBatchTemplate, tmpl.ID,
		"Created template "+tmpl.Name, operatorID, details); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// GetTemplate returns one template.
func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*repository.BatchTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

// ListTemplates returns templates ordered by name.
func (s *TemplateService) ListTemplates(ctx context.Context, activeOnly bool) ([]*repository.BatchTemplate, error) {
	return s.templates.List(ctx, activeOnly)
}

// SetTemplateActive activates or retires a template.
func (s *TemplateService) SetTemplateActive(ctx context.Context, id string, active bool, operatorID string) (*repository.BatchTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tmpl.IsActive == active {
		return tmpl, nil
	}

	tmpl.IsActive = active
	if err := s.audit.commit(ctx, func() error { return s.templates.Update(ctx, tmpl) },
		repository.AuditUpdate, repository.EntityBatchTemplate, tmpl.ID,
		fmt.Sprintf("Template %s active=%t", tmpl.Name, active), operatorID,
		map[string]string{"active": strconv.FormatBool(active)}); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// templateFile is the YAML layout accepted by LoadTemplatesFile.
type templateFile struct {
	Templates []*repository.BatchTemplate `yaml:"templates" validate:"required,min=1,dive"`
}

// ParseTemplates decodes and validates YAML template definitions.
func ParseTemplates(data []byte) ([]*repository.BatchTemplate, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to parse template file")
	}
	if err := validateStruct(&file); err != nil {
		return nil, err
	}
	return file.Templates, nil
}

// LoadTemplatesFile reads YAML template definitions from path and stores
// each as a new template.
func (s *TemplateService) LoadTemplatesFile(ctx context.Context, path, operatorID string) ([]*repository.BatchTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read template file")
	}
	templates, err := ParseTemplates(data)
	if err != nil {
		return nil, err
	}

	created := make([]*repository.BatchTemplate, 0, len(templates))
	for _, tmpl := range templates {
		tmpl.ID = ""
		t, err := s.CreateTemplate(ctx, tmpl, operatorID)
		if err != nil {
			return created, err
		}
		created = append(created, t)
	}

	s.log.Info().Str("path", path).Int("count", len(created)).Msg("Templates loaded")
	return created, nil
}
