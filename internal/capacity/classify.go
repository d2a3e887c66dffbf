package capacity

import "workload/internal/domain"

// Capacity bands on logged hours, inclusive lower bounds.
const (
	NormalFloor   = 30.0
	NearFloor     = 40.0
	OverFloor     = 45.0
	CriticalFloor = 50.0
)

// Classify maps a week's hours to a capacity status.
func Classify(hours float64) domain.CapacityStatus {
	switch {
	case hours >= CriticalFloor:
		return domain.CapacityCritical
	case hours >= OverFloor:
		return domain.CapacityOver
	case hours >= NearFloor:
		return domain.CapacityNear
	case hours >= NormalFloor:
		return domain.CapacityNormal
	default:
		return domain.CapacityUnder
	}
}
