package app_test

import (
	"context"
	"os"
	"testing"

	"workload/internal/app"
	"workload/internal/config"
	"workload/internal/db"
	"workload/internal/engine"
	"workload/internal/migrate"
)

func TestResolveConfigSeedsOnce(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	yml := "nominal_week_hours: 37.5\nweights:\n  effort_size:\n    M: \"4\"\n"
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	eng := engine.New(conn, nil)
	cfg, err := app.ResolveConfig(ctx, dir, eng)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.NominalWeekHours != 37.5 {
		t.Fatalf("nominal = %v", cfg.NominalWeekHours)
	}
	rows, _ := eng.Repo.ListWeightConfigs(ctx)
	if len(rows) != 1 || rows[0].Value != "4" {
		t.Fatalf("rows = %+v", rows)
	}
	if _, err := app.ResolveConfig(ctx, dir, eng); err != nil {
		t.Fatal(err)
	}
	if n, _ := eng.Repo.CountWeightConfigs(ctx); n != 1 {
		t.Fatalf("reseeded: %d rows", n)
	}
}
