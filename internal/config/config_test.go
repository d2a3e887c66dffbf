package config

import (
	"os"
	"path/filepath"
	"testing"

	"workload/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.NominalWeekHours != 40 {
		t.Fatalf("nominal week = %v, want 40", cfg.NominalWeekHours)
	}
	if got := cfg.Weights.EffortSize["M"]; got != "3.5" {
		t.Fatalf("M size hours = %q, want 3.5", got)
	}
	if !cfg.IsActive(domain.StatusInProgress) {
		t.Fatalf("in progress should be active")
	}
	if cfg.IsActive(domain.StatusCompleted) || cfg.IsActive(domain.StatusDeleted) {
		t.Fatalf("terminal statuses should not be active")
	}
}

func TestFromYAMLKeepsDefaultsForOmittedFields(t *testing.T) {
	cfg, err := FromYAML([]byte("nominal_week_hours: 37.5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.NominalWeekHours != 37.5 {
		t.Fatalf("nominal week = %v", cfg.NominalWeekHours)
	}
	if len(cfg.ActiveStatuses) != 4 {
		t.Fatalf("active statuses = %v", cfg.ActiveStatuses)
	}
	if cfg.Weights.Role["Primary"] != "1.2" {
		t.Fatalf("default weights not kept: %#v", cfg.Weights.Role)
	}
}

func TestFromYAMLReplacesWeightSeed(t *testing.T) {
	cfg, err := FromYAML([]byte("weights:\n  effort_size:\n    M: \"4\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Weights.EffortSize) != 1 || cfg.Weights.EffortSize["M"] != "4" {
		t.Fatalf("effort sizes = %#v", cfg.Weights.EffortSize)
	}
	if cfg.Weights.Role != nil {
		t.Fatalf("role seed should be replaced, got %#v", cfg.Weights.Role)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"zero week":      "nominal_week_hours: 0\n",
		"deleted active": "active_statuses: [Deleted]\n",
		"unknown status": "active_statuses: [Paused]\n",
		"unknown size":   "weights:\n  effort_size:\n    XXL: \"20\"\n",
		"bad yaml":       "nominal_week_hours: [\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file = %v, %v; want nil, nil", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "workload.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
}

func TestSeedRowsAreOrdered(t *testing.T) {
	rows := Default().Weights.Rows()
	if len(rows) == 0 {
		t.Fatal("no rows")
	}
	if rows[0].Category != domain.CategoryEffortSize || rows[0].Key != "L" {
		t.Fatalf("first row = %#v", rows[0])
	}
	last := rows[len(rows)-1]
	if last.Category != domain.CategoryPhase {
		t.Fatalf("last row category = %s", last.Category)
	}
}
