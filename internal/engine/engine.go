package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"workload/internal/capacity"
	"workload/internal/config"
	"workload/internal/domain"
	"workload/internal/events"
	"workload/internal/repo"
)

// SnapshotStore persists computed capacity snapshots.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s domain.CapacitySnapshot) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Snapshots SnapshotStore
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Snapshots: r,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// CurrentWeek is the Monday of the engine clock's week.
func (e Engine) CurrentWeek() time.Time {
	return capacity.WeekStart(e.now())
}

// MemberCreateOptions are parameters for creating a team member.
type MemberCreateOptions struct {
	ID             string
	Name           string
	Role           string
	AvailableHours *float64
	ActorID        string
}

func (e Engine) CreateMember(ctx context.Context, opts MemberCreateOptions) (domain.TeamMember, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.TeamMember{}, errors.New("name is required")
	}
	if err := validateHours("available_hours", opts.AvailableHours); err != nil {
		return domain.TeamMember{}, err
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := e.stamp()
	m := domain.TeamMember{
		ID:             id,
		Name:           name,
		Role:           opts.Role,
		AvailableHours: opts.AvailableHours,
		Active:         true,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamMember{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMember(ctx, tx, m); err != nil {
		return domain.TeamMember{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.MemberCreated, "team_member", m.ID, opts.ActorID, events.EventPayload{"name": m.Name}); err != nil {
		return domain.TeamMember{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamMember{}, err
	}
	return m, nil
}

// MemberUpdateOptions encapsulates allowed member edits.
type MemberUpdateOptions struct {
	ID                  string
	Name                *string
	Role                *string
	AvailableHours      *float64
	ClearAvailableHours bool
	Active              *bool
	ActorID             string
}

// UpdateMember edits a member. A change to available hours moves the
// utilization denominator, so the current week is recomputed.
func (e Engine) UpdateMember(ctx context.Context, opts MemberUpdateOptions) (domain.TeamMember, []RecalcWarning, error) {
	m, err := e.Repo.GetMember(ctx, opts.ID)
	if err != nil {
		return m, nil, err
	}
	before := m
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return m, nil, errors.New("name is required")
		}
		m.Name = name
	}
	if opts.Role != nil {
		m.Role = *opts.Role
	}
	if opts.ClearAvailableHours {
		m.AvailableHours = nil
	} else if opts.AvailableHours != nil {
		if err := validateHours("available_hours", opts.AvailableHours); err != nil {
			return m, nil, err
		}
		m.AvailableHours = opts.AvailableHours
	}
	if opts.Active != nil {
		m.Active = *opts.Active
	}
	m.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMember(ctx, tx, m); err != nil {
		return m, nil, err
	}
	if err := e.events().Append(ctx, tx, events.MemberUpdated, "team_member", m.ID, opts.ActorID, events.EventPayload{
		"available_hours": m.AvailableHours,
		"active":          m.Active,
	}); err != nil {
		return m, nil, err
	}
	if err := tx.Commit(); err != nil {
		return m, nil, err
	}
	if floatChanged(before.AvailableHours, m.AvailableHours) {
		return m, e.dispatch(ctx, opts.ActorID, target(m.ID, e.CurrentWeek())), nil
	}
	return m, nil, nil
}

// WorkItemCreateOptions are parameters for creating a work item.
type WorkItemCreateOptions struct {
	ID                 string
	Name               string
	Kind               string
	OwnerID            string
	Role               string
	WorkType           string
	Phase              string
	EffortSize         string
	Status             domain.WorkItemStatus
	DirectHoursPerWeek *float64
	ActorID            string
}

func (e Engine) CreateWorkItem(ctx context.Context, opts WorkItemCreateOptions) (domain.WorkItem, []RecalcWarning, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.WorkItem{}, nil, errors.New("name is required")
	}
	if opts.Kind == "" {
		opts.Kind = domain.KindInitiative
	}
	if opts.Status == "" {
		opts.Status = domain.StatusNotStarted
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := e.stamp()
	w := domain.WorkItem{
		ID:                 id,
		Name:               strings.TrimSpace(opts.Name),
		Kind:               opts.Kind,
		OwnerID:            optionalString(opts.OwnerID),
		Role:               opts.Role,
		WorkType:           opts.WorkType,
		Phase:              opts.Phase,
		EffortSize:         opts.EffortSize,
		Status:             opts.Status,
		DirectHoursPerWeek: opts.DirectHoursPerWeek,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if w.Status == domain.StatusDeleted {
		return domain.WorkItem{}, nil, errors.New("cannot create a deleted work item")
	}
	if err := validateWorkItem(w); err != nil {
		return domain.WorkItem{}, nil, err
	}
	if w.OwnerID != nil {
		if _, err := e.Repo.GetMember(ctx, *w.OwnerID); err != nil {
			return domain.WorkItem{}, nil, fmt.Errorf("owner %s: %w", *w.OwnerID, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, nil, fmt.Errorf("insert work item: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.WorkItemCreated, "work_item", w.ID, opts.ActorID, events.EventPayload{
		"name":     w.Name,
		"owner_id": w.Owner(),
		"status":   w.Status,
	}); err != nil {
		return domain.WorkItem{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, nil, err
	}
	var warnings []RecalcWarning
	if owner := w.Owner(); owner != "" {
		warnings = e.dispatch(ctx, opts.ActorID, target(owner, e.CurrentWeek()))
	}
	return w, warnings, nil
}

// WorkItemUpdateOptions encapsulates allowed work item edits. Nil fields are
// left alone; Owner set to "" unassigns the item.
type WorkItemUpdateOptions struct {
	ID                 string
	Name               *string
	Kind               *string
	Role               *string
	WorkType           *string
	Phase              *string
	EffortSize         *string
	DirectHoursPerWeek *float64
	ClearDirectHours   bool
	Status             *domain.WorkItemStatus
	Owner              *string
	ActorID            string
}

// UpdateWorkItem applies edits, then recomputes every member whose planned
// hours the edit moved. Recalculation problems come back as warnings; the edit
// itself is already committed.
func (e Engine) UpdateWorkItem(ctx context.Context, opts WorkItemUpdateOptions) (domain.WorkItem, []RecalcWarning, error) {
	w, err := e.Repo.GetWorkItem(ctx, opts.ID)
	if err != nil {
		return w, nil, err
	}
	before := w
	restoring := opts.Status != nil && *opts.Status != domain.StatusDeleted
	if w.Status == domain.StatusDeleted && !restoring {
		return w, nil, fmt.Errorf("work item %s is deleted", w.ID)
	}
	if opts.Name != nil {
		w.Name = strings.TrimSpace(*opts.Name)
		if w.Name == "" {
			return before, nil, errors.New("name is required")
		}
	}
	if opts.Kind != nil {
		w.Kind = *opts.Kind
	}
	if opts.Role != nil {
		w.Role = *opts.Role
	}
	if opts.WorkType != nil {
		w.WorkType = *opts.WorkType
	}
	if opts.Phase != nil {
		w.Phase = *opts.Phase
	}
	if opts.EffortSize != nil {
		w.EffortSize = *opts.EffortSize
	}
	if opts.ClearDirectHours {
		w.DirectHoursPerWeek = nil
	} else if opts.DirectHoursPerWeek != nil {
		w.DirectHoursPerWeek = opts.DirectHoursPerWeek
	}
	if opts.Status != nil {
		w.Status = *opts.Status
	}
	if opts.Owner != nil {
		w.OwnerID = optionalString(strings.TrimSpace(*opts.Owner))
	}
	if err := validateWorkItem(w); err != nil {
		return before, nil, err
	}
	reassigned := before.Owner() != w.Owner()
	if reassigned && w.OwnerID != nil {
		if _, err := e.Repo.GetMember(ctx, *w.OwnerID); err != nil {
			return before, nil, fmt.Errorf("owner %s: %w", *w.OwnerID, err)
		}
	}
	w.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return before, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return before, nil, err
	}
	evtType := events.WorkItemUpdated
	switch {
	case w.Status == domain.StatusDeleted && before.Status != domain.StatusDeleted:
		evtType = events.WorkItemDeleted
	case reassigned:
		evtType = events.WorkItemReassigned
	}
	if err := e.events().Append(ctx, tx, evtType, "work_item", w.ID, opts.ActorID, events.EventPayload{
		"from_owner":  before.Owner(),
		"to_owner":    w.Owner(),
		"from_status": before.Status,
		"to_status":   w.Status,
	}); err != nil {
		return before, nil, err
	}
	if err := tx.Commit(); err != nil {
		return before, nil, err
	}

	week := e.CurrentWeek()
	var targets []recalcTarget
	for _, member := range AffectedMembers(before, w) {
		targets = append(targets, target(member, week))
	}
	return w, e.dispatch(ctx, opts.ActorID, targets...), nil
}

// ReassignWorkItem moves an item to newOwner; "" leaves it unassigned. Both the
// previous and the new owner are recomputed independently.
func (e Engine) ReassignWorkItem(ctx context.Context, id, newOwner, actorID string) (domain.WorkItem, []RecalcWarning, error) {
	return e.UpdateWorkItem(ctx, WorkItemUpdateOptions{ID: id, Owner: &newOwner, ActorID: actorID})
}

// DeleteWorkItem tombstones an item. Its effort logs stay in place.
func (e Engine) DeleteWorkItem(ctx context.Context, id, actorID string) (domain.WorkItem, []RecalcWarning, error) {
	status := domain.StatusDeleted
	return e.UpdateWorkItem(ctx, WorkItemUpdateOptions{ID: id, Status: &status, ActorID: actorID})
}

// AffectedMembers lists the members whose planned hours differ between two
// versions of a work item.
func AffectedMembers(before, after domain.WorkItem) []string {
	oldOwner, newOwner := before.Owner(), after.Owner()
	if oldOwner != newOwner {
		return nonEmpty(oldOwner, newOwner)
	}
	if before.Status != after.Status || estimationChanged(before, after) {
		return nonEmpty(newOwner)
	}
	return nil
}

func estimationChanged(a, b domain.WorkItem) bool {
	return a.Role != b.Role ||
		a.EffortSize != b.EffortSize ||
		a.WorkType != b.WorkType ||
		a.Phase != b.Phase ||
		floatChanged(a.DirectHoursPerWeek, b.DirectHoursPerWeek)
}

func floatChanged(a, b *float64) bool {
	if a == nil || b == nil {
		return (a == nil) != (b == nil)
	}
	return *a != *b
}

func nonEmpty(ids ...string) []string {
	var res []string
	for _, id := range ids {
		if id != "" {
			res = append(res, id)
		}
	}
	return res
}

// EffortLogInput is one weekly time entry. Week may be any date inside the
// target week.
type EffortLogInput struct {
	TeamMemberID string
	WorkItemID   string
	Week         string
	HoursSpent   float64
	EffortSize   string
	Note         string
	ActorID      string
}

// SaveEffortLog upserts the entry on (member, item, week) and recomputes the
// member for that week.
func (e Engine) SaveEffortLog(ctx context.Context, in EffortLogInput) (domain.EffortLog, []RecalcWarning, error) {
	week, err := capacity.NormalizeWeekKey(in.Week)
	if err != nil {
		return domain.EffortLog{}, nil, err
	}
	if err := validateHours("hours_spent", &in.HoursSpent); err != nil {
		return domain.EffortLog{}, nil, err
	}
	if in.EffortSize != "" && !domain.ValidEffortSize(in.EffortSize) {
		return domain.EffortLog{}, nil, fmt.Errorf("invalid effort_size %q", in.EffortSize)
	}
	if _, err := e.Repo.GetMember(ctx, in.TeamMemberID); err != nil {
		return domain.EffortLog{}, nil, fmt.Errorf("team member %s: %w", in.TeamMemberID, err)
	}
	if _, err := e.Repo.GetWorkItem(ctx, in.WorkItemID); err != nil {
		return domain.EffortLog{}, nil, fmt.Errorf("work item %s: %w", in.WorkItemID, err)
	}
	l := domain.EffortLog{
		TeamMemberID: in.TeamMemberID,
		WorkItemID:   in.WorkItemID,
		WeekStart:    week,
		HoursSpent:   in.HoursSpent,
		EffortSize:   in.EffortSize,
		Note:         in.Note,
		UpdatedAt:    e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertEffortLog(ctx, tx, l); err != nil {
		return l, nil, err
	}
	if err := e.events().Append(ctx, tx, events.EffortLogSaved, "effort_log", l.WorkItemID, in.ActorID, events.EventPayload{
		"team_member_id": l.TeamMemberID,
		"week_start":     l.WeekStart,
		"hours_spent":    l.HoursSpent,
	}); err != nil {
		return l, nil, err
	}
	if err := tx.Commit(); err != nil {
		return l, nil, err
	}
	weekStart, _ := capacity.ParseWeek(week)
	return l, e.dispatch(ctx, in.ActorID, target(l.TeamMemberID, weekStart)), nil
}

// CopyLastWeek copies the member's previous-week entries into week for every
// work item that has no entry there yet. Entries against deleted items are
// not carried forward.
func (e Engine) CopyLastWeek(ctx context.Context, memberID, week, actorID string) ([]domain.EffortLog, []RecalcWarning, error) {
	weekStart, err := capacity.ParseWeek(week)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.Repo.GetMember(ctx, memberID); err != nil {
		return nil, nil, fmt.Errorf("team member %s: %w", memberID, err)
	}
	weekKey := weekStart.Format(capacity.WeekLayout)
	prevKey := capacity.PreviousWeek(weekStart).Format(capacity.WeekLayout)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	prev, err := e.Repo.ListEffortLogs(ctx, tx, memberID, prevKey)
	if err != nil {
		return nil, nil, err
	}
	ts := e.stamp()
	var copied []domain.EffortLog
	for _, l := range prev {
		item, err := e.Repo.GetWorkItemTx(ctx, tx, l.WorkItemID)
		if err != nil {
			return nil, nil, err
		}
		if item.Status == domain.StatusDeleted {
			continue
		}
		l.WeekStart = weekKey
		l.UpdatedAt = ts
		ok, err := e.Repo.InsertEffortLogIfAbsent(ctx, tx, l)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			copied = append(copied, l)
		}
	}
	if err := e.events().Append(ctx, tx, events.EffortLogsCopied, "team_member", memberID, actorID, events.EventPayload{
		"from_week": prevKey,
		"to_week":   weekKey,
		"copied":    len(copied),
	}); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	if len(copied) == 0 {
		return copied, nil, nil
	}
	return copied, e.dispatch(ctx, actorID, target(memberID, weekStart)), nil
}

// SetWeight stores one raw weight row. Weights feed every member's planned
// hours, so all active members are recomputed for the current week.
func (e Engine) SetWeight(ctx context.Context, w domain.WeightConfig, actorID string) ([]RecalcWarning, error) {
	w.Key = strings.TrimSpace(w.Key)
	if v, err := strconv.ParseFloat(strings.TrimSpace(w.Value), 64); err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return nil, fmt.Errorf("invalid weight value %q: must be a finite number", w.Value)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertWeightConfig(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := e.events().Append(ctx, tx, events.WeightsUpdated, "weight_config", string(w.Category)+":"+w.Key, actorID, events.EventPayload{
		"value": w.Value,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.RecalculateAll(ctx, e.CurrentWeek(), actorID)
}

// SeedWeights loads rows into an empty weight table. It is a no-op when any
// weight row exists.
func (e Engine) SeedWeights(ctx context.Context, rows []domain.WeightConfig) (int, error) {
	n, err := e.Repo.CountWeightConfigs(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 || len(rows) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, w := range rows {
		if err := e.Repo.UpsertWeightConfig(ctx, tx, w); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func validateWorkItem(w domain.WorkItem) error {
	if !w.Status.Valid() {
		return fmt.Errorf("invalid status %q", w.Status)
	}
	if w.Kind != domain.KindInitiative && w.Kind != domain.KindAdHoc {
		return fmt.Errorf("invalid kind %q", w.Kind)
	}
	if w.EffortSize != "" && !domain.ValidEffortSize(w.EffortSize) {
		return fmt.Errorf("invalid effort_size %q", w.EffortSize)
	}
	return validateHours("direct_hours_per_week", w.DirectHoursPerWeek)
}

func validateHours(field string, v *float64) error {
	switch {
	case v == nil:
		return nil
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		return fmt.Errorf("invalid %s: must be a finite number", field)
	case *v < 0:
		return fmt.Errorf("invalid %s: must not be negative", field)
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
