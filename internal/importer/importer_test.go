package importer_test

import (
	"context"
	"testing"
	"time"

	"workload/internal/config"
	"workload/internal/db"
	"workload/internal/engine"
	"workload/internal/importer"
	"workload/internal/migrate"
)

const bundle = `
weights:
  - {category: effort_size, key: M, value: "3.5"}
  - {category: mood, key: happy, value: "2"}
members:
  - {id: alice, name: Alice}
  - {id: bob, name: ""}
work_items:
  - {id: wi-1, name: EHR upgrade, owner: alice, role: Primary, work_type: System Initiative, phase: Design, effort_size: M, status: In Progress}
  - {id: wi-2, name: Committee, owner: alice, role: Primary, work_type: Governance, effort_size: S, status: In Progress, direct_hours_per_week: 2.5}
  - {id: wi-3, name: Orphan, owner: ghost}
effort_logs:
  - {member: alice, work_item: wi-1, week: "2024-01-03", hours_spent: 42}
  - {member: alice, work_item: wi-1, week: "not-a-date", hours_spent: 1}
`

func TestImportCountsRowsIndependently(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.SeedWeights(ctx, cfg.Weights.Rows()); err != nil {
		t.Fatal(err)
	}

	b, err := importer.Parse([]byte(bundle))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rep, err := importer.Import(ctx, eng, b, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	check := func(name string, s importer.SectionReport, ok, failed int) {
		t.Helper()
		if s.OK != ok || s.Failed != failed || len(s.Errors) != failed {
			t.Fatalf("%s = %+v, want ok=%d failed=%d", name, s, ok, failed)
		}
	}
	check("weights", rep.Weights, 1, 1)
	check("members", rep.Members, 1, 1)
	check("work_items", rep.WorkItems, 2, 1)
	check("effort_logs", rep.EffortLogs, 1, 1)
	if !rep.Failed() {
		t.Fatalf("expected failures reported")
	}

	s, err := eng.Repo.GetSnapshot(ctx, "alice", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if s.PlannedHours != 6.7 || s.ActualHours != 42 {
		t.Fatalf("snapshot = %+v", s)
	}

	// A second run updates in place.
	rep, err = importer.Import(ctx, eng, b, "tester")
	if err != nil {
		t.Fatal(err)
	}
	check("members rerun", rep.Members, 1, 1)
	check("work_items rerun", rep.WorkItems, 2, 1)
}
