package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"workload/internal/capacity"
	"workload/internal/domain"
	"workload/internal/events"
	"workload/internal/repo"
)

// RecalcWarning reports a member whose snapshot could not be refreshed after a
// mutation that did succeed.
type RecalcWarning struct {
	MemberID string `json:"member_id"`
	Week     string `json:"week"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

func (w RecalcWarning) Error() string {
	return fmt.Sprintf("recalculate %s for week %s: %s", w.MemberID, w.Week, w.Message)
}

func (w RecalcWarning) Unwrap() error {
	return w.Err
}

type recalcTarget struct {
	memberID string
	week     time.Time
}

func target(memberID string, week time.Time) recalcTarget {
	return recalcTarget{memberID: memberID, week: capacity.WeekStart(week)}
}

func (t recalcTarget) key() string {
	return t.memberID + "|" + capacity.WeekKey(t.week)
}

// dispatch recomputes every target independently and waits for all of them.
// A target whose member no longer exists is skipped. Other failures become
// warnings and never stop the remaining targets.
func (e Engine) dispatch(ctx context.Context, actorID string, targets ...recalcTarget) []RecalcWarning {
	seen := map[string]bool{}
	var unique []recalcTarget
	for _, t := range targets {
		if t.memberID == "" || seen[t.key()] {
			continue
		}
		seen[t.key()] = true
		unique = append(unique, t)
	}
	if len(unique) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		warnings []RecalcWarning
	)
	p := pool.New()
	for _, t := range unique {
		t := t
		p.Go(func() {
			var err error
			var pc panics.Catcher
			pc.Try(func() {
				_, err = e.recalculate(ctx, t.memberID, t.week, actorID)
			})
			if r := pc.Recovered(); r != nil {
				err = fmt.Errorf("recalculation panicked: %v", r.Value)
			}
			if err == nil {
				return
			}
			week := capacity.WeekKey(t.week)
			if errors.Is(err, repo.ErrNotFound) {
				e.logger().Info("recalculation skipped", "member", t.memberID, "week", week, "reason", "member not found")
				return
			}
			e.logger().Warn("recalculation failed", "member", t.memberID, "week", week, "error", err)
			if evErr := e.events().Append(ctx, nil, events.CapacityRecalcError, "team_member", t.memberID, actorID, events.EventPayload{
				"week_start": week,
				"error":      err.Error(),
			}); evErr != nil {
				e.logger().Warn("record recalculation failure", "member", t.memberID, "error", evErr)
			}
			mu.Lock()
			warnings = append(warnings, RecalcWarning{MemberID: t.memberID, Week: week, Message: err.Error(), Err: err})
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].MemberID != warnings[j].MemberID {
			return warnings[i].MemberID < warnings[j].MemberID
		}
		return warnings[i].Week < warnings[j].Week
	})
	return warnings
}

// Recalculate computes the member's aggregate capacity for the week containing
// week and stores it as the member's snapshot. Running it twice over the same
// data writes the same row.
func (e Engine) Recalculate(ctx context.Context, memberID string, week time.Time, actorID string) (capacity.Result, error) {
	return e.recalculate(ctx, memberID, week, actorID)
}

func (e Engine) recalculate(ctx context.Context, memberID string, week time.Time, actorID string) (capacity.Result, error) {
	res, err := e.Compute(ctx, memberID, week, capacity.ModeAggregate)
	if err != nil {
		return res, err
	}
	store := e.Snapshots
	if store == nil {
		store = e.Repo
	}
	if err := store.UpsertSnapshot(ctx, res.Snapshot()); err != nil {
		return res, fmt.Errorf("store snapshot: %w", err)
	}
	if err := e.events().Append(ctx, nil, events.CapacityRecomputed, "team_member", memberID, actorID, events.EventPayload{
		"week_start":    res.WeekStart,
		"planned_hours": res.PlannedHours,
		"actual_hours":  res.ActualHours,
		"status":        res.Status,
	}); err != nil {
		e.logger().Warn("record recalculation", "member", memberID, "error", err)
	}
	return res, nil
}

// RecalculateAll refreshes every active member for one week. Failures are
// returned as warnings.
func (e Engine) RecalculateAll(ctx context.Context, week time.Time, actorID string) ([]RecalcWarning, error) {
	members, err := e.Repo.ListMembers(ctx, true)
	if err != nil {
		return nil, err
	}
	targets := make([]recalcTarget, 0, len(members))
	for _, m := range members {
		targets = append(targets, target(m.ID, week))
	}
	return e.dispatch(ctx, actorID, targets...), nil
}

// Compute runs the calculation for one member and week without storing it.
func (e Engine) Compute(ctx context.Context, memberID string, week time.Time, mode capacity.Mode) (capacity.Result, error) {
	if mode == "" {
		mode = capacity.ModeAggregate
	}
	if !mode.Valid() {
		return capacity.Result{}, fmt.Errorf("invalid mode %q", mode)
	}
	member, err := e.Repo.GetMember(ctx, memberID)
	if err != nil {
		return capacity.Result{}, fmt.Errorf("team member %s: %w", memberID, err)
	}
	rows, err := e.Repo.ListWeightConfigs(ctx)
	if err != nil {
		return capacity.Result{}, fmt.Errorf("load weights: %w", err)
	}
	items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{OwnerID: memberID})
	if err != nil {
		return capacity.Result{}, fmt.Errorf("load work items: %w", err)
	}
	weekStart := capacity.WeekStart(week)
	logs, err := e.Repo.ListEffortLogs(ctx, nil, memberID, capacity.WeekKey(weekStart))
	if err != nil {
		return capacity.Result{}, fmt.Errorf("load effort logs: %w", err)
	}
	cfg := e.config()
	return capacity.Calculate(capacity.Input{
		MemberID:       member.ID,
		Week:           weekStart,
		AvailableHours: member.AvailableHours,
		NominalWeek:    cfg.NominalWeekHours,
		Items:          items,
		Logs:           logs,
		Weights:        capacity.ResolveWeights(rows, e.logger()),
		IsActive:       cfg.IsActive,
		Mode:           mode,
	}), nil
}

// MemberCapacity is Compute for the member's current week when week is zero.
func (e Engine) MemberCapacity(ctx context.Context, memberID string, week time.Time, mode capacity.Mode) (capacity.Result, error) {
	if week.IsZero() {
		week = e.CurrentWeek()
	}
	return e.Compute(ctx, memberID, week, mode)
}

// IncompleteItem is an active item that lacks estimation attributes.
type IncompleteItem struct {
	Item    domain.WorkItem `json:"item"`
	Missing []string        `json:"missing"`
}

// IncompleteItems lists the member's active items that cannot be estimated.
func (e Engine) IncompleteItems(ctx context.Context, memberID string) ([]IncompleteItem, error) {
	if _, err := e.Repo.GetMember(ctx, memberID); err != nil {
		return nil, fmt.Errorf("team member %s: %w", memberID, err)
	}
	items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{OwnerID: memberID, Statuses: e.config().ActiveStatuses})
	if err != nil {
		return nil, err
	}
	res := []IncompleteItem{}
	for _, item := range items {
		if missing := capacity.MissingFields(item); len(missing) > 0 {
			res = append(res, IncompleteItem{Item: item, Missing: missing})
		}
	}
	return res, nil
}

// UnassignedItems lists active items without an owner.
func (e Engine) UnassignedItems(ctx context.Context) ([]domain.WorkItem, error) {
	return e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{Unassigned: true, Statuses: e.config().ActiveStatuses})
}
