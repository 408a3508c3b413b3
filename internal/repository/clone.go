package repository

import "time"

// Clone returns a deep copy of the batch.
func (b *ProductionBatch) Clone() *ProductionBatch {
	if b == nil {
		return nil
	}
	c := *b
	c.Products = make([]ProductConfig, len(b.Products))
	for i, p := range b.Products {
		c.Products[i] = p.Clone()
	}
	c.TargetDate = cloneTime(b.TargetDate)
	c.ReviewedAt = cloneTime(b.ReviewedAt)
	c.Shift = clonePtr(b.Shift)
	c.TemplateID = clonePtr(b.TemplateID)
	c.ReviewedBy = clonePtr(b.ReviewedBy)
	c.ReviewNotes = clonePtr(b.ReviewNotes)
	return &c
}

// Clone returns a deep copy of the product configuration.
func (p ProductConfig) Clone() ProductConfig {
	p.Stations = append([]int(nil), p.Stations...)
	p.SecondaryColorID = clonePtr(p.SecondaryColorID)
	return p
}

func (g *ApprovalGroup) Clone() *ApprovalGroup {
	if g == nil {
		return nil
	}
	c := *g
	c.BatchIDs = append([]string(nil), g.BatchIDs...)
	c.ApprovedAt = cloneTime(g.ApprovedAt)
	c.ApprovedBy = clonePtr(g.ApprovedBy)
	c.Notes = clonePtr(g.Notes)
	return &c
}

func (r *MachineReadinessState) Clone() *MachineReadinessState {
	if r == nil {
		return nil
	}
	c := *r
	c.PendingBatchID = clonePtr(r.PendingBatchID)
	c.LastApprovedBatchID = clonePtr(r.LastApprovedBatchID)
	c.ActualReadyAt = cloneTime(r.ActualReadyAt)
	return &c
}

func (t *BatchTemplate) Clone() *BatchTemplate {
	if t == nil {
		return nil
	}
	c := *t
	c.ApplicableMachines = append([]string(nil), t.ApplicableMachines...)
	c.Products = make([]ProductTemplate, len(t.Products))
	for i, p := range t.Products {
		p.DefaultStations = append([]int(nil), p.DefaultStations...)
		p.DefaultSecondaryColorID = clonePtr(p.DefaultSecondaryColorID)
		c.Products[i] = p
	}
	return &c
}

func (r *ConflictResolution) Clone() *ConflictResolution {
	if r == nil {
		return nil
	}
	c := *r
	c.ImpactedMachineIDs = append([]string(nil), r.ImpactedMachineIDs...)
	return &c
}

func (e *AuditEvent) Clone() *AuditEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(t *time.Time) *time.Time { return clonePtr(t) }
