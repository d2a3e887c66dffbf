package importer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"workload/internal/domain"
	"workload/internal/engine"
	"workload/internal/repo"
)

// Bundle is the YAML import document.
type Bundle struct {
	Members    []MemberRow    `yaml:"members"`
	Weights    []WeightRow    `yaml:"weights"`
	WorkItems  []WorkItemRow  `yaml:"work_items"`
	EffortLogs []EffortLogRow `yaml:"effort_logs"`
}

type MemberRow struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Role           string   `yaml:"role"`
	AvailableHours *float64 `yaml:"available_hours"`
}

type WeightRow struct {
	Category string `yaml:"category"`
	Key      string `yaml:"key"`
	Value    string `yaml:"value"`
}

type WorkItemRow struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Kind               string   `yaml:"kind"`
	Owner              string   `yaml:"owner"`
	Role               string   `yaml:"role"`
	WorkType           string   `yaml:"work_type"`
	Phase              string   `yaml:"phase"`
	EffortSize         string   `yaml:"effort_size"`
	Status             string   `yaml:"status"`
	DirectHoursPerWeek *float64 `yaml:"direct_hours_per_week"`
}

type EffortLogRow struct {
	Member     string  `yaml:"member"`
	WorkItem   string  `yaml:"work_item"`
	Week       string  `yaml:"week"`
	HoursSpent float64 `yaml:"hours_spent"`
	EffortSize string  `yaml:"effort_size"`
	Note       string  `yaml:"note"`
}

// SectionReport counts applied and rejected rows of one bundle section.
type SectionReport struct {
	OK     int      `json:"ok"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

func (s *SectionReport) record(row int, err error) {
	if err == nil {
		s.OK++
		return
	}
	s.Failed++
	s.Errors = append(s.Errors, fmt.Sprintf("row %d: %v", row+1, err))
}

type Report struct {
	Members    SectionReport          `json:"members"`
	Weights    SectionReport          `json:"weights"`
	WorkItems  SectionReport          `json:"work_items"`
	EffortLogs SectionReport          `json:"effort_logs"`
	Warnings   []engine.RecalcWarning `json:"warnings,omitempty"`
}

// Failed reports whether any row was rejected.
func (r Report) Failed() bool {
	return r.Members.Failed+r.Weights.Failed+r.WorkItems.Failed+r.EffortLogs.Failed > 0
}

func Parse(data []byte) (Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("invalid import yaml: %w", err)
	}
	return b, nil
}

func ParseFile(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, err
	}
	return Parse(data)
}

// Import applies the bundle row by row. A rejected row is counted and never
// stops the rest. Existing members and work items are updated in place.
// Weight rows are written first and trigger a single recalculation at the end.
func Import(ctx context.Context, e engine.Engine, b Bundle, actorID string) (Report, error) {
	var rep Report

	weightsChanged := false
	for i, w := range b.Weights {
		err := e.Repo.UpsertWeightConfig(ctx, nil, domain.WeightConfig{
			Category: domain.WeightCategory(w.Category), Key: w.Key, Value: w.Value,
		})
		rep.Weights.record(i, err)
		weightsChanged = weightsChanged || err == nil
	}

	for i, m := range b.Members {
		rep.Members.record(i, importMember(ctx, e, m, actorID))
	}

	for i, w := range b.WorkItems {
		warnings, err := importWorkItem(ctx, e, w, actorID)
		rep.WorkItems.record(i, err)
		rep.Warnings = append(rep.Warnings, warnings...)
	}

	for i, l := range b.EffortLogs {
		_, warnings, err := e.SaveEffortLog(ctx, engine.EffortLogInput{
			TeamMemberID: l.Member,
			WorkItemID:   l.WorkItem,
			Week:         l.Week,
			HoursSpent:   l.HoursSpent,
			EffortSize:   l.EffortSize,
			Note:         l.Note,
			ActorID:      actorID,
		})
		rep.EffortLogs.record(i, err)
		rep.Warnings = append(rep.Warnings, warnings...)
	}

	if weightsChanged {
		warnings, err := e.RecalculateAll(ctx, e.CurrentWeek(), actorID)
		if err != nil {
			return rep, err
		}
		rep.Warnings = append(rep.Warnings, warnings...)
	}
	return rep, nil
}

func importMember(ctx context.Context, e engine.Engine, m MemberRow, actorID string) error {
	if m.ID != "" {
		_, err := e.Repo.GetMember(ctx, m.ID)
		if err == nil {
			_, _, err = e.UpdateMember(ctx, engine.MemberUpdateOptions{
				ID: m.ID, Name: &m.Name, Role: &m.Role, AvailableHours: m.AvailableHours,
				ClearAvailableHours: m.AvailableHours == nil, ActorID: actorID,
			})
			return err
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	_, err := e.CreateMember(ctx, engine.MemberCreateOptions{
		ID: m.ID, Name: m.Name, Role: m.Role, AvailableHours: m.AvailableHours, ActorID: actorID,
	})
	return err
}

func importWorkItem(ctx context.Context, e engine.Engine, w WorkItemRow, actorID string) ([]engine.RecalcWarning, error) {
	if w.ID != "" {
		_, err := e.Repo.GetWorkItem(ctx, w.ID)
		if err == nil {
			opts := engine.WorkItemUpdateOptions{
				ID: w.ID, Name: &w.Name, Role: &w.Role, WorkType: &w.WorkType, Phase: &w.Phase,
				EffortSize: &w.EffortSize, DirectHoursPerWeek: w.DirectHoursPerWeek,
				ClearDirectHours: w.DirectHoursPerWeek == nil, Owner: &w.Owner, ActorID: actorID,
			}
			if w.Kind != "" {
				opts.Kind = &w.Kind
			}
			if w.Status != "" {
				status := domain.WorkItemStatus(w.Status)
				opts.Status = &status
			}
			_, warnings, err := e.UpdateWorkItem(ctx, opts)
			return warnings, err
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	_, warnings, err := e.CreateWorkItem(ctx, engine.WorkItemCreateOptions{
		ID:                 w.ID,
		Name:               w.Name,
		Kind:               w.Kind,
		OwnerID:            w.Owner,
		Role:               w.Role,
		WorkType:           w.WorkType,
		Phase:              w.Phase,
		EffortSize:         w.EffortSize,
		Status:             domain.WorkItemStatus(w.Status),
		DirectHoursPerWeek: w.DirectHoursPerWeek,
		ActorID:            actorID,
	})
	return warnings, err
}
