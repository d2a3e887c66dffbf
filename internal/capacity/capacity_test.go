package capacity

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"workload/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func defaultWeights() Weights {
	return ResolveWeights([]domain.WeightConfig{
		{Category: domain.CategoryEffortSize, Key: "M", Value: "3.5"},
		{Category: domain.CategoryEffortSize, Key: "L", Value: "7"},
		{Category: domain.CategoryRole, Key: "Primary", Value: "1.2"},
		{Category: domain.CategoryRole, Key: "Secondary", Value: "0.6"},
		{Category: domain.CategoryWorkType, Key: "System Initiative", Value: "1.0"},
		{Category: domain.CategoryPhase, Key: "Design", Value: "1.0"},
		{Category: domain.CategoryPhase, Key: "Build", Value: "1.2"},
	}, nil)
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		hours float64
		want  domain.CapacityStatus
	}{
		{0, domain.CapacityUnder},
		{29.9, domain.CapacityUnder},
		{29.99, domain.CapacityUnder},
		{30, domain.CapacityNormal},
		{39.99, domain.CapacityNormal},
		{40, domain.CapacityNear},
		{44.99, domain.CapacityNear},
		{45, domain.CapacityOver},
		{49.99, domain.CapacityOver},
		{50, domain.CapacityCritical},
		{80, domain.CapacityCritical},
	}
	for _, tc := range cases {
		if got := Classify(tc.hours); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.hours, got, tc.want)
		}
	}
}

func TestWeekStartSameSpan(t *testing.T) {
	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	for d := 0; d < 7; d++ {
		day := monday.AddDate(0, 0, d).Add(13*time.Hour + 27*time.Minute)
		if got := WeekStart(day); !got.Equal(monday) {
			t.Fatalf("WeekStart(%s) = %s, want %s", day, got, monday)
		}
	}
	sunday := time.Date(2024, 3, 17, 23, 59, 0, 0, time.UTC)
	if got := WeekStart(sunday); !got.Equal(sunday.AddDate(0, 0, -6).Truncate(24 * time.Hour)) {
		t.Fatalf("sunday normalized to %s", got)
	}
	if got := WeekKey(sunday); got != "2024-03-11" {
		t.Fatalf("sunday key = %s, want 2024-03-11", got)
	}
	if got := WeekKey(monday.AddDate(0, 0, 7)); got != "2024-03-18" {
		t.Fatalf("next monday key = %s", got)
	}
}

func TestWeekStartKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2024, 1, 3, 22, 0, 0, 0, loc)
	got := WeekStart(ts)
	if got.Location() != loc || got.Hour() != 0 || got.Weekday() != time.Monday || got.Day() != 1 {
		t.Fatalf("WeekStart in zone = %s", got)
	}
}

func TestParseWeek(t *testing.T) {
	key, err := NormalizeWeekKey("2024-03-14")
	if err != nil || key != "2024-03-11" {
		t.Fatalf("NormalizeWeekKey = %q, %v", key, err)
	}
	if _, err := ParseWeek("14/03/2024"); err == nil {
		t.Fatal("expected parse error")
	}
	prev := PreviousWeek(time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC))
	if prev.Format(WeekLayout) != "2024-03-04" {
		t.Fatalf("previous week = %s", prev.Format(WeekLayout))
	}
}

func TestResolveWeightsDefaultsAndBadRows(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := ResolveWeights([]domain.WeightConfig{
		{Category: domain.CategoryRole, Key: "Primary", Value: "abc"},
		{Category: domain.CategoryEffortSize, Key: "S", Value: " 1.5 "},
		{Category: "mystery", Key: "x", Value: "2"},
		{Category: domain.CategoryEffortSize, Key: "M", Value: "NaN"},
		{Category: domain.CategoryWorkType, Key: "Epic", Value: "Inf"},
		{Category: domain.CategoryPhase, Key: "Build", Value: "-Infinity"},
	}, logger)
	if got := w.RoleWeight("Primary"); got != DefaultMultiplier {
		t.Fatalf("unparseable role weight = %v, want default", got)
	}
	if got := w.SizeHours("S"); got != 1.5 {
		t.Fatalf("S hours = %v", got)
	}
	if got := w.SizeHours("XL"); got != DefaultSizeHours {
		t.Fatalf("missing size = %v, want 0", got)
	}
	if got := w.SizeHours("M"); got != DefaultSizeHours {
		t.Fatalf("NaN size hours = %v, want default", got)
	}
	if got := w.TypeWeight("Epic"); got != DefaultMultiplier {
		t.Fatalf("Inf type weight = %v, want default", got)
	}
	if got := w.PhaseWeight("Build"); got != DefaultMultiplier {
		t.Fatalf("-Inf phase weight = %v, want default", got)
	}
	if n := strings.Count(buf.String(), "unparseable"); n != 4 {
		t.Fatalf("unparseable warnings = %d, want 4: %q", n, buf.String())
	}
	if got := w.TypeWeight("anything"); got != 1 {
		t.Fatalf("missing type = %v", got)
	}
	if got := w.PhaseWeight(""); got != 1 {
		t.Fatalf("missing phase = %v", got)
	}
	if !strings.Contains(buf.String(), "unparseable") {
		t.Fatalf("expected warning log, got %q", buf.String())
	}
	// repeat calls produce equal maps
	again := ResolveWeights([]domain.WeightConfig{{Category: domain.CategoryEffortSize, Key: "S", Value: "1.5"}}, logger)
	if !reflect.DeepEqual(again.EffortSizeHours, w.EffortSizeHours) {
		t.Fatalf("resolver not stable")
	}
}

func TestCompleteness(t *testing.T) {
	cases := []struct {
		name    string
		item    domain.WorkItem
		missing []string
	}{
		{"complete", domain.WorkItem{Role: "Primary", EffortSize: "M", WorkType: "Epic", Phase: "Build"}, nil},
		{"no phase", domain.WorkItem{Role: "Primary", EffortSize: "M", WorkType: "Epic"}, []string{"phase"}},
		{"governance without phase", domain.WorkItem{Role: "Primary", EffortSize: "S", WorkType: domain.WorkTypeGovernance}, nil},
		{"governance without size", domain.WorkItem{Role: "Primary", WorkType: domain.WorkTypeGovernance}, []string{"effort_size"}},
		{"empty", domain.WorkItem{}, []string{"role", "effort_size", "work_type", "phase"}},
	}
	for _, tc := range cases {
		got := MissingFields(tc.item)
		if !reflect.DeepEqual(got, tc.missing) {
			t.Errorf("%s: missing = %v, want %v", tc.name, got, tc.missing)
		}
		if IsComplete(tc.item) != (len(tc.missing) == 0) {
			t.Errorf("%s: IsComplete mismatch", tc.name)
		}
	}
}

func TestGovernanceIgnoresWeights(t *testing.T) {
	w := defaultWeights()
	base := domain.WorkItem{WorkType: domain.WorkTypeGovernance, DirectHoursPerWeek: ptr(2.5)}
	for _, variant := range []domain.WorkItem{
		{Role: "Primary", EffortSize: "L", Phase: "Build"},
		{Role: "Secondary", EffortSize: "M", Phase: "Design"},
		{Role: "Unknown", EffortSize: "XL"},
	} {
		item := base
		item.Role, item.EffortSize, item.Phase = variant.Role, variant.EffortSize, variant.Phase
		if got := Estimate(item, w); got != 2.5 {
			t.Fatalf("governance estimate = %v, want 2.5", got)
		}
	}
	base.DirectHoursPerWeek = nil
	if got := Estimate(base, w); got != 0 {
		t.Fatalf("governance without hours = %v, want 0", got)
	}
}

func memberX() []domain.WorkItem {
	return []domain.WorkItem{
		{ID: "wi-1", Name: "EHR upgrade", OwnerID: ptr("x"), Role: "Primary", WorkType: "System Initiative", EffortSize: "M", Phase: "Design", Status: domain.StatusInProgress},
		{ID: "wi-2", Name: "Committee", OwnerID: ptr("x"), Role: "Primary", WorkType: domain.WorkTypeGovernance, EffortSize: "S", Status: domain.StatusInProgress, DirectHoursPerWeek: ptr(2.5)},
	}
}

func TestStatusUsesReportedActualHours(t *testing.T) {
	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		logged     float64
		wantActual float64
		want       domain.CapacityStatus
	}{
		{29.996, 30, domain.CapacityNormal},
		{29.994, 29.99, domain.CapacityUnder},
		{49.996, 50, domain.CapacityCritical},
	}
	for _, tc := range cases {
		res := Calculate(Input{
			MemberID: "x", Week: week, Weights: defaultWeights(),
			Logs: []domain.EffortLog{{TeamMemberID: "x", WorkItemID: "wi-1", WeekStart: "2024-03-11", HoursSpent: tc.logged}},
		})
		if res.ActualHours != tc.wantActual || res.Status != tc.want {
			t.Errorf("logged %v: actual = %v status = %s, want %v %s", tc.logged, res.ActualHours, res.Status, tc.wantActual, tc.want)
		}
		if res.Status != Classify(res.ActualHours) {
			t.Errorf("logged %v: status %s disagrees with reported actual %v", tc.logged, res.Status, res.ActualHours)
		}
	}
}

func TestCalculateEndToEnd(t *testing.T) {
	week := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	in := Input{MemberID: "x", Week: week, Items: memberX(), Weights: defaultWeights()}
	res := Calculate(in)
	if res.PlannedHours != 6.7 {
		t.Fatalf("planned = %v, want 6.7", res.PlannedHours)
	}
	if res.ActualHours != 0 || res.Status != domain.CapacityUnder {
		t.Fatalf("actual = %v status = %s", res.ActualHours, res.Status)
	}
	if res.WeekStart != "2024-03-11" {
		t.Fatalf("week = %s", res.WeekStart)
	}
	if res.UtilizationPercent != 17 {
		t.Fatalf("utilization = %d, want 17", res.UtilizationPercent)
	}
	if res.TotalAssignments != 2 || len(res.Incomplete) != 0 {
		t.Fatalf("assignments = %d incomplete = %v", res.TotalAssignments, res.Incomplete)
	}

	in.Logs = []domain.EffortLog{
		{TeamMemberID: "x", WorkItemID: "wi-1", WeekStart: "2024-03-11", HoursSpent: 30},
		{TeamMemberID: "x", WorkItemID: "adhoc-1", WeekStart: "2024-03-11", HoursSpent: 12},
		{TeamMemberID: "x", WorkItemID: "wi-1", WeekStart: "2024-03-04", HoursSpent: 9},
		{TeamMemberID: "y", WorkItemID: "wi-1", WeekStart: "2024-03-11", HoursSpent: 9},
	}
	res = Calculate(in)
	if res.ActualHours != 42 || res.Status != domain.CapacityNear {
		t.Fatalf("actual = %v status = %s, want 42 near", res.ActualHours, res.Status)
	}
	if res.Variance != 35.3 {
		t.Fatalf("variance = %v, want 35.3", res.Variance)
	}
	if res.ActualUtilizationPercent != 105 {
		t.Fatalf("actual utilization = %d", res.ActualUtilizationPercent)
	}
}

func TestCalculateExcludesIncompleteInactiveAndUnowned(t *testing.T) {
	items := append(memberX(),
		domain.WorkItem{ID: "wi-3", Name: "Half filled", OwnerID: ptr("x"), Role: "Primary", EffortSize: "L", WorkType: "Epic", Status: domain.StatusPlanning},
		domain.WorkItem{ID: "wi-4", Name: "Finished", OwnerID: ptr("x"), Role: "Primary", EffortSize: "L", WorkType: "Epic", Phase: "Build", Status: domain.StatusCompleted},
		domain.WorkItem{ID: "wi-5", Name: "Gone", OwnerID: ptr("x"), Role: "Primary", EffortSize: "L", WorkType: "Epic", Phase: "Build", Status: domain.StatusDeleted},
		domain.WorkItem{ID: "wi-6", Name: "Nobody", Role: "Primary", EffortSize: "L", WorkType: "Epic", Phase: "Build", Status: domain.StatusInProgress},
		domain.WorkItem{ID: "wi-7", Name: "Other", OwnerID: ptr("y"), Role: "Primary", EffortSize: "L", WorkType: "Epic", Phase: "Build", Status: domain.StatusInProgress},
	)
	res := Calculate(Input{MemberID: "x", Week: time.Now(), Items: items, Weights: defaultWeights()})
	if res.PlannedHours != 6.7 {
		t.Fatalf("planned = %v, want 6.7", res.PlannedHours)
	}
	if !reflect.DeepEqual(res.Incomplete, []string{"wi-3"}) {
		t.Fatalf("incomplete = %v", res.Incomplete)
	}
	if res.TotalAssignments != 3 {
		t.Fatalf("assignments = %d, want 3", res.TotalAssignments)
	}
	for _, c := range res.Items {
		if c.WorkItemID == "wi-3" && (c.Source != SourceIncomplete || c.Hours != 0) {
			t.Fatalf("incomplete contribution = %#v", c)
		}
	}
}

func TestCalculateDeletedExcludedEvenWhenConfiguredActive(t *testing.T) {
	items := []domain.WorkItem{
		{ID: "wi-1", OwnerID: ptr("x"), Role: "Primary", WorkType: "System Initiative", EffortSize: "M", Phase: "Design", Status: domain.StatusDeleted},
	}
	res := Calculate(Input{MemberID: "x", Week: time.Now(), Items: items, Weights: defaultWeights(),
		IsActive: func(domain.WorkItemStatus) bool { return true }})
	if res.PlannedHours != 0 || res.TotalAssignments != 0 {
		t.Fatalf("deleted item counted: %#v", res)
	}
}

func TestCalculateAvailableHoursOverride(t *testing.T) {
	in := Input{MemberID: "x", Week: time.Now(), Items: memberX(), Weights: defaultWeights(), NominalWeek: 40, AvailableHours: ptr(10.0)}
	res := Calculate(in)
	if res.NominalWeek != 10 || res.UtilizationPercent != 67 {
		t.Fatalf("nominal = %v utilization = %d", res.NominalWeek, res.UtilizationPercent)
	}
	in.AvailableHours = ptr(0.0)
	if res := Calculate(in); res.NominalWeek != 40 {
		t.Fatalf("zero available hours should fall back, got %v", res.NominalWeek)
	}
}

func TestCalculateItemOverrideMode(t *testing.T) {
	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	logs := []domain.EffortLog{{TeamMemberID: "x", WorkItemID: "wi-1", WeekStart: "2024-03-11", HoursSpent: 10}}
	agg := Calculate(Input{MemberID: "x", Week: week, Items: memberX(), Logs: logs, Weights: defaultWeights()})
	over := Calculate(Input{MemberID: "x", Week: week, Items: memberX(), Logs: logs, Weights: defaultWeights(), Mode: ModeItemOverride})
	if agg.PlannedHours != 6.7 {
		t.Fatalf("aggregate planned = %v", agg.PlannedHours)
	}
	if over.PlannedHours != 12.5 {
		t.Fatalf("override planned = %v, want 12.5", over.PlannedHours)
	}
	if over.Mode != ModeItemOverride || agg.Mode != ModeAggregate {
		t.Fatalf("modes = %s / %s", agg.Mode, over.Mode)
	}
	if agg.ActualHours != over.ActualHours {
		t.Fatalf("actual hours differ between modes")
	}
}

func TestCalculateIdempotent(t *testing.T) {
	in := Input{MemberID: "x", Week: time.Now(), Items: memberX(), Weights: defaultWeights(),
		Logs: []domain.EffortLog{{TeamMemberID: "x", WorkItemID: "wi-1", WeekStart: WeekKey(time.Now()), HoursSpent: 31}}}
	a, b := Calculate(in), Calculate(in)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("calculate not idempotent:\n%#v\n%#v", a, b)
	}
	if a.Snapshot() != b.Snapshot() {
		t.Fatalf("snapshots differ")
	}
}

func TestCalculateNoItems(t *testing.T) {
	res := Calculate(Input{MemberID: "x", Week: time.Now()})
	if res.PlannedHours != 0 || res.Status != domain.CapacityUnder || res.Incomplete == nil || res.Items == nil {
		t.Fatalf("empty result = %#v", res)
	}
}
