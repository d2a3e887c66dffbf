package capacity

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"workload/internal/domain"
)

const (
	// DefaultMultiplier applies to role, work type and phase keys with no row.
	DefaultMultiplier = 1.0
	// DefaultSizeHours applies to effort sizes with no row: no size, no estimate.
	DefaultSizeHours = 0.0
)

// Weights is the typed view of the weight configuration table, resolved once
// per calculation pass.
type Weights struct {
	EffortSizeHours map[string]float64
	Role            map[string]float64
	WorkType        map[string]float64
	Phase           map[string]float64
}

// ResolveWeights turns raw configuration rows into four lookup maps. Rows whose
// value does not parse to a finite number are logged and skipped so the key
// takes its default.
// Unknown categories are ignored. It has no side effects beyond logging.
func ResolveWeights(rows []domain.WeightConfig, logger *slog.Logger) Weights {
	if logger == nil {
		logger = slog.Default()
	}
	w := Weights{
		EffortSizeHours: map[string]float64{},
		Role:            map[string]float64{},
		WorkType:        map[string]float64{},
		Phase:           map[string]float64{},
	}
	for _, row := range rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(row.Value), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			logger.Warn("skipping unparseable weight", "category", row.Category, "key", row.Key, "value", row.Value)
			continue
		}
		switch row.Category {
		case domain.CategoryEffortSize:
			w.EffortSizeHours[row.Key] = v
		case domain.CategoryRole:
			w.Role[row.Key] = v
		case domain.CategoryWorkType:
			w.WorkType[row.Key] = v
		case domain.CategoryPhase:
			w.Phase[row.Key] = v
		default:
			logger.Warn("skipping weight with unknown category", "category", row.Category, "key", row.Key)
		}
	}
	return w
}

func (w Weights) SizeHours(size string) float64 {
	return lookup(w.EffortSizeHours, size, DefaultSizeHours)
}

func (w Weights) RoleWeight(role string) float64 {
	return lookup(w.Role, role, DefaultMultiplier)
}

func (w Weights) TypeWeight(workType string) float64 {
	return lookup(w.WorkType, workType, DefaultMultiplier)
}

func (w Weights) PhaseWeight(phase string) float64 {
	return lookup(w.Phase, phase, DefaultMultiplier)
}

func lookup(m map[string]float64, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
