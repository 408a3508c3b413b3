package client

import "time"

// Machine is a production machine as known to the machine registry.
type Machine struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Line     string `json:"line"`
	Stations int    `json:"stations"`
	IsActive bool   `json:"is_active"`
}

// User is an operator record from the identity service.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// ValidateMachineResponse represents the machine validation response
type ValidateMachineResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ListMachinesResponse represents the list machines response
type ListMachinesResponse struct {
	Machines []Machine `json:"machines"`
	Total    int64     `json:"total"`
}

// Event is the JSON envelope published for engine activity.
type Event struct {
	EventType    string         `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ActorID      string         `json:"actor_id,omitempty"`
	TargetDate   string         `json:"target_date,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Event types.
const (
	EventGroupCreated      = "group_created"
	EventGroupApproved     = "group_approved"
	EventGroupPartial      = "group_partially_approved"
	EventGroupRejected     = "group_rejected"
	EventConflictsDetected = "conflicts_detected"
	EventConflictsResolved = "conflicts_resolved"
	EventTemplateApplied   = "template_applied"
	EventBatchesCopied     = "batches_copied"
	EventReadinessChanged  = "readiness_changed"
)
