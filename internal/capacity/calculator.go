package capacity

import (
	"math"
	"sort"
	"time"

	"workload/internal/domain"
)

// DefaultNominalWeek is the work week utilization is measured against when
// neither the member nor the configuration says otherwise.
const DefaultNominalWeek = 40.0

// Mode selects how planned hours are derived.
type Mode string

const (
	// ModeAggregate sums estimates only; logged hours are reported beside them.
	ModeAggregate Mode = "aggregate"
	// ModeItemOverride replaces an item's estimate with the hours logged against
	// that item in the target week, when there are any.
	ModeItemOverride Mode = "item_override"
)

func (m Mode) Valid() bool {
	return m == ModeAggregate || m == ModeItemOverride
}

// Contribution sources reported per item.
const (
	SourceEstimate   = "estimate"
	SourceDirect     = "direct"
	SourceLogged     = "logged"
	SourceIncomplete = "incomplete"
)

// Input is everything one calculation needs. Items and Logs may contain rows
// for other members or weeks; Calculate filters them.
type Input struct {
	MemberID string
	Week     time.Time
	// AvailableHours overrides NominalWeek when set and positive.
	AvailableHours *float64
	NominalWeek    float64
	Items          []domain.WorkItem
	Logs           []domain.EffortLog
	Weights        Weights
	// IsActive decides whether an item status counts; nil means "not terminal".
	IsActive func(domain.WorkItemStatus) bool
	Mode     Mode
}

type ItemContribution struct {
	WorkItemID string   `json:"work_item_id"`
	Name       string   `json:"name"`
	Hours      float64  `json:"hours"`
	Source     string   `json:"source"`
	Missing    []string `json:"missing,omitempty"`
}

// Result is the calculation output for one member and week.
type Result struct {
	MemberID                 string                `json:"member_id"`
	WeekStart                string                `json:"week_start"`
	Mode                     Mode                  `json:"mode"`
	PlannedHours             float64               `json:"planned_hours"`
	ActualHours              float64               `json:"actual_hours"`
	Variance                 float64               `json:"variance"`
	NominalWeek              float64               `json:"nominal_week"`
	UtilizationPercent       int                   `json:"utilization_percent"`
	ActualUtilizationPercent int                   `json:"actual_utilization_percent"`
	Status                   domain.CapacityStatus `json:"status"`
	TotalAssignments         int                   `json:"total_assignments"`
	Incomplete               []string              `json:"incomplete"`
	Items                    []ItemContribution    `json:"items"`
}

// Snapshot projects the result onto its persisted form.
func (r Result) Snapshot() domain.CapacitySnapshot {
	return domain.CapacitySnapshot{
		TeamMemberID:             r.MemberID,
		WeekStart:                r.WeekStart,
		PlannedHours:             r.PlannedHours,
		ActualHours:              r.ActualHours,
		UtilizationPercent:       r.UtilizationPercent,
		ActualUtilizationPercent: r.ActualUtilizationPercent,
		Status:                   r.Status,
		TotalAssignments:         r.TotalAssignments,
	}
}

// MissingFields lists the estimation attributes an item lacks. Governance
// items do not need a phase.
func MissingFields(item domain.WorkItem) []string {
	var missing []string
	if item.Role == "" {
		missing = append(missing, "role")
	}
	if item.EffortSize == "" {
		missing = append(missing, "effort_size")
	}
	if item.WorkType == "" {
		missing = append(missing, "work_type")
	}
	if item.Phase == "" && item.WorkType != domain.WorkTypeGovernance {
		missing = append(missing, "phase")
	}
	return missing
}

// IsComplete reports whether an item can be estimated.
func IsComplete(item domain.WorkItem) bool {
	return len(MissingFields(item)) == 0
}

// Estimate is the planned weekly hours of a complete item.
func Estimate(item domain.WorkItem, w Weights) float64 {
	if item.WorkType == domain.WorkTypeGovernance {
		if item.DirectHoursPerWeek == nil {
			return 0
		}
		return *item.DirectHoursPerWeek
	}
	return w.SizeHours(item.EffortSize) *
		w.RoleWeight(item.Role) *
		w.TypeWeight(item.WorkType) *
		w.PhaseWeight(item.Phase)
}

// Calculate computes planned and actual hours for one member and week.
func Calculate(in Input) Result {
	week := WeekStart(in.Week)
	weekKey := week.Format(WeekLayout)
	mode := in.Mode
	if !mode.Valid() {
		mode = ModeAggregate
	}
	active := in.IsActive
	if active == nil {
		active = func(s domain.WorkItemStatus) bool { return !s.Terminal() }
	}

	res := Result{
		MemberID:    in.MemberID,
		WeekStart:   weekKey,
		Mode:        mode,
		NominalWeek: nominalWeek(in),
		Incomplete:  []string{},
		Items:       []ItemContribution{},
	}

	loggedByItem := map[string]float64{}
	var actual float64
	for _, l := range in.Logs {
		if l.TeamMemberID != in.MemberID || l.WeekStart != weekKey {
			continue
		}
		actual += l.HoursSpent
		loggedByItem[l.WorkItemID] += l.HoursSpent
	}

	items := make([]domain.WorkItem, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Owner() != in.MemberID || item.Status == domain.StatusDeleted || !active(item.Status) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	var planned float64
	for _, item := range items {
		res.TotalAssignments++
		contrib := ItemContribution{WorkItemID: item.ID, Name: item.Name}
		logged, hasLog := loggedByItem[item.ID]
		missing := MissingFields(item)
		if len(missing) > 0 {
			res.Incomplete = append(res.Incomplete, item.ID)
			contrib.Missing = missing
		}
		switch {
		case mode == ModeItemOverride && hasLog:
			contrib.Hours = logged
			contrib.Source = SourceLogged
		case len(missing) > 0:
			contrib.Source = SourceIncomplete
		case item.WorkType == domain.WorkTypeGovernance:
			contrib.Hours = Estimate(item, in.Weights)
			contrib.Source = SourceDirect
		default:
			contrib.Hours = Estimate(item, in.Weights)
			contrib.Source = SourceEstimate
		}
		planned += contrib.Hours
		contrib.Hours = roundHours(contrib.Hours)
		res.Items = append(res.Items, contrib)
	}

	res.PlannedHours = roundHours(planned)
	res.ActualHours = roundHours(actual)
	res.Variance = roundHours(res.ActualHours - res.PlannedHours)
	res.UtilizationPercent = percent(res.PlannedHours, res.NominalWeek)
	res.ActualUtilizationPercent = percent(res.ActualHours, res.NominalWeek)
	// Status follows the reported actual hours, not the unrounded sum.
	res.Status = Classify(res.ActualHours)
	return res
}

func nominalWeek(in Input) float64 {
	if in.AvailableHours != nil && *in.AvailableHours > 0 {
		return *in.AvailableHours
	}
	if in.NominalWeek > 0 {
		return in.NominalWeek
	}
	return DefaultNominalWeek
}

func percent(hours, nominal float64) int {
	if nominal <= 0 {
		return 0
	}
	return int(math.Round(hours / nominal * 100))
}

// roundHours keeps two decimals.
func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
