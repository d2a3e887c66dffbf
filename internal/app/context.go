package app

import (
	"context"
	"fmt"
	"log/slog"

	"workload/internal/config"
	"workload/internal/engine"
)

// ResolveConfig loads workload.yml from the workspace, falling back to the
// defaults, and seeds the weight table from it when the table is empty.
func ResolveConfig(ctx context.Context, workspace string, eng engine.Engine) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	n, err := eng.SeedWeights(ctx, cfg.Weights.Rows())
	if err != nil {
		return nil, fmt.Errorf("seed weights: %w", err)
	}
	if n > 0 {
		logger := eng.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("seeded weight table", "rows", n)
	}
	return cfg, nil
}
