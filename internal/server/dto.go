package server

import (
	"workload/internal/capacity"
	"workload/internal/domain"
	"workload/internal/engine"
)

// Request payloads

type CreateMemberRequest struct {
	ID             *string  `json:"id,omitempty"`
	Name           string   `json:"name"`
	Role           string   `json:"role,omitempty"`
	AvailableHours *float64 `json:"available_hours,omitempty" minimum:"0"`
}

type UpdateMemberRequest struct {
	Name                *string  `json:"name,omitempty"`
	Role                *string  `json:"role,omitempty"`
	AvailableHours      *float64 `json:"available_hours,omitempty" minimum:"0"`
	ClearAvailableHours bool     `json:"clear_available_hours,omitempty"`
	Active              *bool    `json:"active,omitempty"`
}

type CreateWorkItemRequest struct {
	ID                 *string  `json:"id,omitempty"`
	Name               string   `json:"name"`
	Kind               string   `json:"kind,omitempty" enum:"initiative,adhoc"`
	OwnerID            *string  `json:"owner_id,omitempty"`
	Role               string   `json:"role,omitempty"`
	WorkType           string   `json:"work_type,omitempty"`
	Phase              string   `json:"phase,omitempty"`
	EffortSize         string   `json:"effort_size,omitempty"`
	Status             string   `json:"status,omitempty"`
	DirectHoursPerWeek *float64 `json:"direct_hours_per_week,omitempty" minimum:"0"`
}

type UpdateWorkItemRequest struct {
	Name               *string  `json:"name,omitempty"`
	Kind               *string  `json:"kind,omitempty" enum:"initiative,adhoc"`
	OwnerID            *string  `json:"owner_id,omitempty"`
	Role               *string  `json:"role,omitempty"`
	WorkType           *string  `json:"work_type,omitempty"`
	Phase              *string  `json:"phase,omitempty"`
	EffortSize         *string  `json:"effort_size,omitempty"`
	Status             *string  `json:"status,omitempty"`
	DirectHoursPerWeek *float64 `json:"direct_hours_per_week,omitempty" minimum:"0"`
	ClearDirectHours   bool     `json:"clear_direct_hours,omitempty"`
}

type ReassignWorkItemRequest struct {
	// OwnerID "" unassigns the item.
	OwnerID string `json:"owner_id"`
}

type SaveEffortLogRequest struct {
	TeamMemberID string  `json:"team_member_id"`
	WorkItemID   string  `json:"work_item_id"`
	Week         string  `json:"week" doc:"any date inside the week, YYYY-MM-DD"`
	HoursSpent   float64 `json:"hours_spent" minimum:"0"`
	EffortSize   string  `json:"effort_size,omitempty"`
	Note         string  `json:"note,omitempty"`
}

type CopyLastWeekRequest struct {
	Week string `json:"week" doc:"target week, any date inside it"`
}

type SetWeightRequest struct {
	Category string `json:"category" enum:"effort_size,role_weight,work_type_weight,phase_weight"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type WarningResponse struct {
	MemberID string `json:"member_id"`
	Week     string `json:"week" format:"date"`
	Message  string `json:"message"`
}

type MemberMutationResponse struct {
	Member   domain.TeamMember `json:"member"`
	Warnings []WarningResponse `json:"warnings"`
}

type WorkItemMutationResponse struct {
	Item     domain.WorkItem   `json:"item"`
	Warnings []WarningResponse `json:"warnings"`
}

type EffortLogMutationResponse struct {
	Log      domain.EffortLog  `json:"log"`
	Warnings []WarningResponse `json:"warnings"`
}

type CopyLastWeekResponse struct {
	Copied   []domain.EffortLog `json:"copied"`
	Warnings []WarningResponse  `json:"warnings"`
}

type WarningsResponse struct {
	Warnings []WarningResponse `json:"warnings"`
}

type RecalculateResponse struct {
	Result capacity.Result `json:"result"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func warningResponses(in []engine.RecalcWarning) []WarningResponse {
	out := make([]WarningResponse, 0, len(in))
	for _, w := range in {
		out = append(out, WarningResponse{MemberID: w.MemberID, Week: w.Week, Message: w.Message})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
