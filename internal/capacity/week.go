package capacity

import (
	"fmt"
	"time"
)

// WeekLayout is the storage and wire format of a week start date.
const WeekLayout = "2006-01-02"

// WeekStart returns midnight of the Monday on or before t, in t's location.
// Every date inside one Monday-to-Sunday span maps to the same value.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekKey formats the normalized week of t.
func WeekKey(t time.Time) string {
	return WeekStart(t).Format(WeekLayout)
}

// ParseWeek accepts any YYYY-MM-DD date and normalizes it to its Monday.
func ParseWeek(s string) (time.Time, error) {
	t, err := time.Parse(WeekLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid week %q: %w", s, err)
	}
	return WeekStart(t), nil
}

// NormalizeWeekKey parses s and returns its Monday as a key.
func NormalizeWeekKey(s string) (string, error) {
	t, err := ParseWeek(s)
	if err != nil {
		return "", err
	}
	return t.Format(WeekLayout), nil
}

// PreviousWeek returns the Monday seven days before the week of t.
func PreviousWeek(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, -7)
}
