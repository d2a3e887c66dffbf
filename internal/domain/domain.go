package domain

// WorkItemStatus is the lifecycle state of a work item. Deleted is a
// tombstone: the row stays so historical effort logs keep their reference.
type WorkItemStatus string

const (
	StatusNotStarted WorkItemStatus = "Not Started"
	StatusPlanning   WorkItemStatus = "Planning"
	StatusInProgress WorkItemStatus = "In Progress"
	StatusOnHold     WorkItemStatus = "On Hold"
	StatusCompleted  WorkItemStatus = "Completed"
	StatusDeleted    WorkItemStatus = "Deleted"
)

// KnownStatuses lists every status a work item may hold.
var KnownStatuses = []WorkItemStatus{
	StatusNotStarted, StatusPlanning, StatusInProgress, StatusOnHold, StatusCompleted, StatusDeleted,
}

func (s WorkItemStatus) Valid() bool {
	for _, k := range KnownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// Terminal reports whether the status removes the item from planned hours
// regardless of configuration.
func (s WorkItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeleted
}

// Effort sizes, smallest to largest.
const (
	SizeXS = "XS"
	SizeS  = "S"
	SizeM  = "M"
	SizeL  = "L"
	SizeXL = "XL"
)

var EffortSizes = []string{SizeXS, SizeS, SizeM, SizeL, SizeXL}

func ValidEffortSize(s string) bool {
	for _, k := range EffortSizes {
		if s == k {
			return true
		}
	}
	return false
}

// WorkTypeGovernance bypasses the weighted formula and uses direct hours.
const WorkTypeGovernance = "Governance"

const (
	KindInitiative = "initiative"
	KindAdHoc      = "adhoc"
)

// WeightCategory groups weight configuration rows.
type WeightCategory string

const (
	CategoryEffortSize WeightCategory = "effort_size"
	CategoryRole       WeightCategory = "role_weight"
	CategoryWorkType   WeightCategory = "work_type_weight"
	CategoryPhase      WeightCategory = "phase_weight"
)

var WeightCategories = []WeightCategory{CategoryEffortSize, CategoryRole, CategoryWorkType, CategoryPhase}

func (c WeightCategory) Valid() bool {
	for _, k := range WeightCategories {
		if c == k {
			return true
		}
	}
	return false
}

// CapacityStatus classifies a week's logged hours.
type CapacityStatus string

const (
	CapacityUnder    CapacityStatus = "under"
	CapacityNormal   CapacityStatus = "normal"
	CapacityNear     CapacityStatus = "near"
	CapacityOver     CapacityStatus = "over"
	CapacityCritical CapacityStatus = "critical"
)

type TeamMember struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Role           string   `json:"role,omitempty"`
	AvailableHours *float64 `json:"available_hours,omitempty"`
	Active         bool     `json:"active"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type WorkItem struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Kind               string         `json:"kind" enum:"initiative,adhoc"`
	OwnerID            *string        `json:"owner_id,omitempty"`
	Role               string         `json:"role,omitempty"`
	WorkType           string         `json:"work_type,omitempty"`
	Phase              string         `json:"phase,omitempty"`
	EffortSize         string         `json:"effort_size,omitempty"`
	Status             WorkItemStatus `json:"status"`
	DirectHoursPerWeek *float64       `json:"direct_hours_per_week,omitempty"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	UpdatedAt          string         `json:"updated_at" format:"date-time"`
}

// Owner returns the owner id or "" when unassigned.
func (w WorkItem) Owner() string {
	if w.OwnerID == nil {
		return ""
	}
	return *w.OwnerID
}

type EffortLog struct {
	TeamMemberID string  `json:"team_member_id"`
	WorkItemID   string  `json:"work_item_id"`
	WeekStart    string  `json:"week_start" format:"date"`
	HoursSpent   float64 `json:"hours_spent"`
	EffortSize   string  `json:"effort_size,omitempty"`
	Note         string  `json:"note,omitempty"`
	UpdatedAt    string  `json:"updated_at,omitempty" format:"date-time"`
}

// WeightConfig is one loosely typed configuration row; Value is parsed by the
// resolver, not at write time.
type WeightConfig struct {
	Category WeightCategory `json:"category" enum:"effort_size,role_weight,work_type_weight,phase_weight"`
	Key      string         `json:"key"`
	Value    string         `json:"value"`
}

type CapacitySnapshot struct {
	TeamMemberID             string         `json:"team_member_id"`
	WeekStart                string         `json:"week_start" format:"date"`
	PlannedHours             float64        `json:"planned_hours"`
	ActualHours              float64        `json:"actual_hours"`
	UtilizationPercent       int            `json:"utilization_percent"`
	ActualUtilizationPercent int            `json:"actual_utilization_percent"`
	Status                   CapacityStatus `json:"status" enum:"under,normal,near,over,critical"`
	TotalAssignments         int            `json:"total_assignments"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
