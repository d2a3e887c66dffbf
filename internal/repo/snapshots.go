package repo

import (
	"context"
	"database/sql"

	"workload/internal/domain"
)

const snapshotColumns = `team_member_id,week_start,planned_hours,actual_hours,utilization_percent,actual_utilization_percent,status,total_assignments`

func scanSnapshot(row rowScanner) (domain.CapacitySnapshot, error) {
	var s domain.CapacitySnapshot
	var status string
	err := row.Scan(&s.TeamMemberID, &s.WeekStart, &s.PlannedHours, &s.ActualHours, &s.UtilizationPercent, &s.ActualUtilizationPercent, &status, &s.TotalAssignments)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Status = domain.CapacityStatus(status)
	return s, err
}

// UpsertSnapshot replaces the row for (member, week).
func (r Repo) UpsertSnapshot(ctx context.Context, s domain.CapacitySnapshot) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO capacity_snapshots(`+snapshotColumns+`) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(team_member_id,week_start) DO UPDATE SET
  planned_hours=excluded.planned_hours,
  actual_hours=excluded.actual_hours,
  utilization_percent=excluded.utilization_percent,
  actual_utilization_percent=excluded.actual_utilization_percent,
  status=excluded.status,
  total_assignments=excluded.total_assignments`,
		s.TeamMemberID, s.WeekStart, s.PlannedHours, s.ActualHours, s.UtilizationPercent, s.ActualUtilizationPercent, string(s.Status), s.TotalAssignments)
	return err
}

func (r Repo) GetSnapshot(ctx context.Context, memberID, week string) (domain.CapacitySnapshot, error) {
	return scanSnapshot(r.DB.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM capacity_snapshots WHERE team_member_id=? AND week_start=?`, memberID, week))
}

type SnapshotFilters struct {
	MemberID string
	// From and To bound week_start inclusively when set.
	From  string
	To    string
	Limit int
}

// ListSnapshots returns snapshot history, newest week first.
func (r Repo) ListSnapshots(ctx context.Context, f SnapshotFilters) ([]domain.CapacitySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM capacity_snapshots WHERE 1=1`
	var args []any
	if f.MemberID != "" {
		query += ` AND team_member_id=?`
		args = append(args, f.MemberID)
	}
	if f.From != "" {
		query += ` AND week_start>=?`
		args = append(args, f.From)
	}
	if f.To != "" {
		query += ` AND week_start<=?`
		args = append(args, f.To)
	}
	query += ` ORDER BY week_start DESC, team_member_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CapacitySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
