// Package conflict detects resource conflicts between machines, approval
// groups and batches, and proposes automatic resolutions for them.
//
// Detection is a pure computation over snapshots handed in by the caller. It
// never returns an error: irregular input degrades to fewer conflicts.
package conflict

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// Type classifies a detected conflict.
type Type string

const (
	MachineUnavailable   Type = "machineUnavailable"
	ResourceConstraint   Type = "resourceConstraint"
	ConfigurationInvalid Type = "configurationInvalid"
	StationOverlap       Type = "stationOverlap"
	TimeConflict         Type = "timeConflict"
	DependencyMissing    Type = "dependencyMissing"
)

// Severity ranks how urgent a conflict is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Conflict is a detected, unresolved problem. It is never persisted directly;
// only its resolution is.
type Conflict struct {
	Type               Type
	Severity           Severity
	Description        string
	AffectedMachineIDs []string
}

// CanAutoResolve reports whether the resolver may propose a fix.
func (c Conflict) CanAutoResolve() bool {
	return c.Type != DependencyMissing
}

// Scope selects how ValidateBatchCompatibility compares stations and colors.
type Scope string

const (
	// ScopePerMachine compares stations and colors only between batches on the same machine.
	ScopePerMachine Scope = "per_machine"
	// ScopeGlobal compares station numbers and color ids across all machines.
	ScopeGlobal Scope = "global"
)

// DetectorConfig holds detection thresholds.
type DetectorConfig struct {
	HealthThreshold        float64
	HighPriorityGroupLimit int
	CompatibilityScope     Scope
}

// DefaultDetectorConfig returns the standard thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		HealthThreshold:        0.7,
		HighPriorityGroupLimit: 3,
		CompatibilityScope:     ScopePerMachine,
	}
}

// Detector runs the conflict checks.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector. Zero thresholds fall back to the defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = def.HealthThreshold
	}
	if cfg.HighPriorityGroupLimit <= 0 {
		cfg.HighPriorityGroupLimit = def.HighPriorityGroupLimit
	}
	if cfg.CompatibilityScope == "" {
		cfg.CompatibilityScope = def.CompatibilityScope
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d *Detector) Config() DetectorConfig { return d.cfg }

// DetectMachineConflicts runs the date-scope checks over the readiness rows
// and approval groups of one date. batches holds the members of those groups;
// missing members are ignored. Every check runs on every call.
func (d *Detector) DetectMachineConflicts(
	states []*repository.MachineReadinessState,
	groups []*repository.ApprovalGroup,
	batches []*repository.ProductionBatch,
) []Conflict {
	var out []Conflict
	out = append(out, d.unavailableButAssigned(states)...)
	out = append(out, d.degradedHealth(states)...)
	out = append(out, d.duplicateAssignments(groups)...)
	out = append(out, d.overallocation(states, groups, batches)...)
	out = append(out, d.priorityCongestion(groups)...)
	return out
}

func (d *Detector) unavailableButAssigned(states []*repository.MachineReadinessState) []Conflict {
	var out []Conflict
	for _, s := range sortedStates(states) {
		if s.Status.Accepting() || s.PendingBatchID == nil {
			continue
		}
		out = append(out, Conflict{
			Type:     MachineUnavailable,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("machine %s is %s but has pending batch %s assigned",
				s.MachineID, s.Status, *s.PendingBatchID),
			AffectedMachineIDs: []string{s.MachineID},
		})
	}
	return out
}

func (d *Detector) degradedHealth(states []*repository.MachineReadinessState) []Conflict {
	var out []Conflict
	for _, s := range sortedStates(states) {
		if s.Status != repository.ReadinessReady || s.HealthScore >= d.cfg.HealthThreshold {
			continue
		}
		out = append(out, Conflict{
			Type:     MachineUnavailable,
			Severity: SeverityMedium,
			Description: fmt.Sprintf("machine %s has low health score %.2f (threshold %.2f)",
				s.MachineID, s.HealthScore, d.cfg.HealthThreshold),
			AffectedMachineIDs: []string{s.MachineID},
		})
	}
	return out
}

func (d *Detector) duplicateAssignments(groups []*repository.ApprovalGroup) []Conflict {
	owners := make(map[string]map[string]bool)
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, id := range g.BatchIDs {
			if owners[id] == nil {
				owners[id] = make(map[string]bool)
			}
			owners[id][g.ID] = true
		}
	}

	var dups []string
	for id, gs := range owners {
		if len(gs) > 1 {
			dups = append(dups, id)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)

	return []Conflict{{
		Type:        ResourceConstraint,
		Severity:    SeverityHigh,
		Description: "duplicate batch assignment across approval groups: " + strings.Join(dups, ", "),
	}}
}

// overallocation counts one assignment per readiness row that is in use or
// holds a pending batch, plus one per non-rejected group holding some other
// pending batch for the machine.
func (d *Detector) overallocation(
	states []*repository.MachineReadinessState,
	groups []*repository.ApprovalGroup,
	batches []*repository.ProductionBatch,
) []Conflict {
	counts := make(map[string]int)
	held := make(map[string]bool)
	for _, s := range sortedStates(states) {
		if s.Status == repository.ReadinessInUse || s.PendingBatchID != nil {
			counts[s.MachineID]++
		}
		if s.PendingBatchID != nil {
			held[*s.PendingBatchID] = true
		}
	}

	byID := make(map[string]*repository.ProductionBatch, len(batches))
	for _, b := range batches {
		if b != nil {
			byID[b.ID] = b
		}
	}
	for _, g := range groups {
		if g == nil || g.Status == repository.GroupRejected {
			continue
		}
		machines := make(map[string]bool)
		for _, id := range g.BatchIDs {
			b := byID[id]
			if b == nil || b.Status != repository.BatchPending || held[id] {
				continue
			}
			machines[b.MachineID] = true
		}
		for m := range machines {
			counts[m]++
		}
	}

	var out []Conflict
	for _, machineID := range sortedKeys(counts) {
		if counts[machineID] <= 1 {
			continue
		}
		out = append(out, Conflict{
			Type:     ResourceConstraint,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("machine %s has %d simultaneous assignments",
				machineID, counts[machineID]),
			AffectedMachineIDs: []string{machineID},
		})
	}
	return out
}

func (d *Detector) priorityCongestion(groups []*repository.ApprovalGroup) []Conflict {
	high := 0
	for _, g := range groups {
		if g != nil && g.Priority == repository.PriorityHigh {
			high++
		}
	}
	if high <= d.cfg.HighPriorityGroupLimit {
		return nil
	}
	return []Conflict{{
		Type:     ConfigurationInvalid,
		Severity: SeverityMedium,
		Description: fmt.Sprintf("high-priority congestion: %d high-priority groups (limit %d)",
			high, d.cfg.HighPriorityGroupLimit),
	}}
}

// DetectGroupConflicts checks the batches of one group. Batch ids the group
// references but that are absent from batches are reported as missing
// dependencies.
func (d *Detector) DetectGroupConflicts(group *repository.ApprovalGroup, batches []*repository.ProductionBatch) []Conflict {
	var out []Conflict

	present := make(map[string]bool, len(batches))
	perMachine := make(map[string]int)
	modes := make(map[repository.ProductionMode]bool)
	for _, b := range batches {
		present[b.ID] = true
		perMachine[b.MachineID]++
		modes[b.Mode] = true
	}

	for _, machineID := range sortedKeys(perMachine) {
		if perMachine[machineID] <= 1 {
			continue
		}
		out = append(out, Conflict{
			Type:     ResourceConstraint,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("machine %s is used by %d batches in group %s",
				machineID, perMachine[machineID], group.ID),
			AffectedMachineIDs: []string{machineID},
		})
	}

	if len(modes) > 1 {
		names := make([]string, 0, len(modes))
		for m := range modes {
			names = append(names, string(m))
		}
		sort.Strings(names)
		out = append(out, Conflict{
			Type:               ConfigurationInvalid,
			Severity:           SeverityMedium,
			Description:        fmt.Sprintf("mixed production modes in group %s: %s", group.ID, strings.Join(names, ", ")),
			AffectedMachineIDs: sortedKeys(perMachine),
		})
	}

	var missing []string
	for _, id := range group.BatchIDs {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		out = append(out, Conflict{
			Type:        DependencyMissing,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("group %s references missing batches: %s", group.ID, strings.Join(missing, ", ")),
		})
	}
	return out
}

// ValidateBatchCompatibility checks an arbitrary batch list for station and
// color clashes according to the configured scope.
func (d *Detector) ValidateBatchCompatibility(batches []*repository.ProductionBatch) []Conflict {
	if d.cfg.CompatibilityScope == ScopeGlobal {
		return d.globalCompatibility(batches)
	}
	return d.perMachineCompatibility(batches)
}

func (d *Detector) globalCompatibility(batches []*repository.ProductionBatch) []Conflict {
	colorMachines := make(map[string]map[string]bool)
	stationMachines := make(map[int]map[string]bool)

	for _, b := range batches {
		for _, p := range b.Products {
			addTo(colorMachines, p.PrimaryColorID, b.MachineID)
			if p.SecondaryColorID != nil {
				addTo(colorMachines, *p.SecondaryColorID, b.MachineID)
			}
			for _, st := range p.Stations {
				addTo(stationMachines, st, b.MachineID)
			}
		}
	}

	var out []Conflict
	for _, color := range sortedKeys(colorMachines) {
		if color == "" || len(colorMachines[color]) <= 1 {
			continue
		}
		out = append(out, Conflict{
			Type:               ConfigurationInvalid,
			Severity:           SeverityMedium,
			Description:        fmt.Sprintf("color %s conflicts across machines", color),
			AffectedMachineIDs: sortedKeys(colorMachines[color]),
		})
	}
	for _, station := range sortedKeys(stationMachines) {
		if len(stationMachines[station]) <= 1 {
			continue
		}
		out = append(out, Conflict{
			Type:               ResourceConstraint,
			Severity:           SeverityHigh,
			Description:        fmt.Sprintf("station %d is occupied on multiple machines", station),
			AffectedMachineIDs: sortedKeys(stationMachines[station]),
		})
	}
	return out
}

type machineStation struct {
	machineID string
	station   int
}

type machineSlot struct {
	machineID string
	date      string
	shift     string
}

func (d *Detector) perMachineCompatibility(batches []*repository.ProductionBatch) []Conflict {
	stationBatches := make(map[machineStation]map[string]bool)
	stationColors := make(map[machineStation]map[string]bool)
	slotBatches := make(map[machineSlot]map[string]bool)

	for _, b := range batches {
		for _, p := range b.Products {
			for _, st := range p.Stations {
				key := machineStation{b.MachineID, st}
				addTo(stationBatches, key, b.ID)
				if p.PrimaryColorID != "" {
					addTo(stationColors, key, p.PrimaryColorID)
				}
			}
		}
		if b.TargetDate != nil && b.Shift != nil {
			slot := machineSlot{b.MachineID, repository.DateKey(*b.TargetDate), string(*b.Shift)}
			addTo(slotBatches, slot, b.ID)
		}
	}

	stations := make([]machineStation, 0, len(stationBatches))
	for k := range stationBatches {
		stations = append(stations, k)
	}
	sort.Slice(stations, func(i, j int) bool {
		if stations[i].machineID != stations[j].machineID {
			return stations[i].machineID < stations[j].machineID
		}
		return stations[i].station < stations[j].station
	})

	var out []Conflict
	for _, k := range stations {
		if ids := stationBatches[k]; len(ids) > 1 {
			out = append(out, Conflict{
				Type:     StationOverlap,
				Severity: SeverityHigh,
				Description: fmt.Sprintf("station %d on machine %s is used by batches %s",
					k.station, k.machineID, strings.Join(sortedKeys(ids), ", ")),
				AffectedMachineIDs: []string{k.machineID},
			})
		}
		if colors := stationColors[k]; len(colors) > 1 {
			out = append(out, Conflict{
				Type:     ConfigurationInvalid,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("station %d on machine %s has conflicting colors %s",
					k.station, k.machineID, strings.Join(sortedKeys(colors), ", ")),
				AffectedMachineIDs: []string{k.machineID},
			})
		}
	}

	slots := make([]machineSlot, 0, len(slotBatches))
	for k := range slotBatches {
		slots = append(slots, k)
	}
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.machineID != b.machineID {
			return a.machineID < b.machineID
		}
		if a.date != b.date {
			return a.date < b.date
		}
		return a.shift < b.shift
	})
	for _, k := range slots {
		if ids := slotBatches[k]; len(ids) > 1 {
			out = append(out, Conflict{
				Type:     TimeConflict,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("machine %s has batches %s scheduled in the same %s shift on %s",
					k.machineID, strings.Join(sortedKeys(ids), ", "), k.shift, k.date),
				AffectedMachineIDs: []string{k.machineID},
			})
		}
	}
	return out
}

func addTo[K comparable, V comparable](m map[K]map[V]bool, k K, v V) {
	if m[k] == nil {
		m[k] = make(map[V]bool)
	}
	m[k][v] = true
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

func sortedStates(states []*repository.MachineReadinessState) []*repository.MachineReadinessState {
	out := make([]*repository.MachineReadinessState, 0, len(states))
	for _, s := range states {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out
}
