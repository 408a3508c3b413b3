package repository

import "time"

// ── Domain types for production batch approval ───────────────────────────────

// MaxStationNumber is the number of addressable stations on a machine.
const MaxStationNumber = 12

// ProductionMode is the colour mode a batch runs in.
type ProductionMode string

const (
	ModeSingleColor ProductionMode = "singleColor"
	ModeDualColor   ProductionMode = "dualColor"
)

// Valid reports whether m is a known mode.
func (m ProductionMode) Valid() bool {
	return m == ModeSingleColor || m == ModeDualColor
}

// Shift is the planning subdivision a batch targets alongside its date.
type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftEvening Shift = "evening"
)

// GroupPriority is the coordinator-assigned priority of a group or template.
type GroupPriority string

const (
	PriorityLow    GroupPriority = "low"
	PriorityMedium GroupPriority = "medium"
	PriorityHigh   GroupPriority = "high"
)

// ProductionBatch is a unit of scheduled work bound to one machine.
type ProductionBatch struct {
	ID              string
	MachineID       string
	Mode            ProductionMode
	Products        []ProductConfig
	Status          BatchStatus
	SubmittedBy     string
	SubmittedByName string
	SubmittedAt     time.Time
	TargetDate      *time.Time
	Shift           *Shift
	TemplateID      *string // set when created from a template
	ReviewedBy      *string
	ReviewedAt      *time.Time
	ReviewNotes     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProductConfig is one product line of a batch. Stations are 1..MaxStationNumber.
type ProductConfig struct {
	ID               string
	BatchID          string
	ProductID        string
	ProductName      string
	PrimaryColorID   string
	SecondaryColorID *string
	Stations         []int
	ExpectedOutput   int
	Priority         int // application order
}

// ApprovalGroup clusters batches submitted together for review on a date.
// Batches are referenced by id only.
type ApprovalGroup struct {
	ID            string
	Name          string
	TargetDate    time.Time
	BatchIDs      []string
	CoordinatorID string
	Priority      GroupPriority
	Status        GroupStatus
	SubmittedAt   time.Time
	ApprovedAt    *time.Time
	ApprovedBy    *string
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MachineReadinessState is the per-machine, per-date readiness row.
type MachineReadinessState struct {
	ID                  string
	MachineID           string
	TargetDate          time.Time
	Status              ReadinessStatus
	HealthScore         float64 // 0..1
	PendingBatchID      *string
	LastApprovedBatchID *string
	ActualReadyAt       *time.Time
	LastStatusUpdate    time.Time
	UpdatedBy           string
	CreatedAt           time.Time
}

// ResolutionStrategy is how a conflict was (or will be) handled.
type ResolutionStrategy string

const (
	StrategyAutomatic ResolutionStrategy = "automatic"
	StrategyManual    ResolutionStrategy = "manual"
	StrategyPostponed ResolutionStrategy = "postponed"
)

// ConflictResolution is the persisted record of an attempted fix.
type ConflictResolution struct {
	ID                  string
	ConflictType        string
	ConflictDescription string
	Strategy            ResolutionStrategy
	Detail              string
	ResolvedBy          string
	ImpactedMachineIDs  []string
	ResolvedAt          time.Time
}

// ProductTemplate is one product entry of a BatchTemplate.
type ProductTemplate struct {
	ProductID               string  `yaml:"product_id" json:"product_id" validate:"required"`
	ProductName             string  `yaml:"product_name" json:"product_name" validate:"required"`
	DefaultPrimaryColorID   string  `yaml:"primary_color_id" json:"primary_color_id" validate:"required"`
	DefaultSecondaryColorID *string `yaml:"secondary_color_id,omitempty" json:"secondary_color_id,omitempty"`
	DefaultStations         []int   `yaml:"stations" json:"stations" validate:"dive,min=1,max=12"`
	Order                   int     `yaml:"order" json:"order" validate:"gte=0"`
}

// BatchTemplate is a reusable definition of product configurations.
// An empty ApplicableMachines applies to any machine.
type BatchTemplate struct {
	ID                 string            `yaml:"id" json:"id"`
	Name               string            `yaml:"name" json:"name" validate:"required"`
	ApplicableMachines []string          `yaml:"applicable_machines" json:"applicable_machines"`
	Priority           GroupPriority     `yaml:"priority" json:"priority" validate:"omitempty,oneof=low medium high"`
	Products           []ProductTemplate `yaml:"products" json:"products" validate:"required,min=1,dive"`
	IsActive           bool              `yaml:"active" json:"active"`
	UpdatedAt          time.Time         `yaml:"-" json:"updated_at"`
	CreatedBy          string            `yaml:"created_by" json:"created_by"`
}

// AppliesTo reports whether the template may be instantiated on machineID.
func (t *BatchTemplate) AppliesTo(machineID string) bool {
	if len(t.ApplicableMachines) == 0 {
		return true
	}
	for _, id := range t.ApplicableMachines {
		if id == machineID {
			return true
		}
	}
	return false
}

// AuditOperation is the kind of mutation an audit event records.
type AuditOperation string

const (
	AuditCreate AuditOperation = "create"
	AuditUpdate AuditOperation = "update"
	AuditDelete AuditOperation = "delete"
)

// Entity type names used in audit events.
const (
	EntityProductionBatch    = "production_batch"
	EntityApprovalGroup      = "approval_group"
	EntityMachineReadiness   = "machine_readiness"
	EntityBatchTemplate      = "batch_template"
	EntityConflictResolution = "conflict_resolution"
)

// AuditEvent is one immutable entry in the audit trail.
type AuditEvent struct {
	ID           string
	Operation    AuditOperation
	EntityType   string
	EntityID     string
	Description  string
	OperatorID   string
	OperatorName string
	Details      map[string]string
	RecordedAt   time.Time
}

// NormalizeDate truncates t to midnight UTC of its calendar day.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey renders the calendar day of t as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeDate(t), nil
}
