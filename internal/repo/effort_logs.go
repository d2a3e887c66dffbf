package repo

import (
	"context"
	"database/sql"
	"errors"

	"workload/internal/domain"
)

const effortLogColumns = `team_member_id,work_item_id,week_start,hours_spent,COALESCE(effort_size,''),COALESCE(note,''),updated_at`

func scanEffortLog(row rowScanner) (domain.EffortLog, error) {
	var l domain.EffortLog
	err := row.Scan(&l.TeamMemberID, &l.WorkItemID, &l.WeekStart, &l.HoursSpent, &l.EffortSize, &l.Note, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

// UpsertEffortLog writes the row keyed by (member, work item, week). The week
// must already be normalized. Concurrent writers get last-write-wins.
func (r Repo) UpsertEffortLog(ctx context.Context, tx *sql.Tx, l domain.EffortLog) error {
	if l.TeamMemberID == "" || l.WorkItemID == "" || l.WeekStart == "" {
		return errors.New("team_member_id, work_item_id and week_start are required")
	}
	if l.UpdatedAt == "" {
		l.UpdatedAt = now()
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO effort_logs(team_member_id,work_item_id,week_start,hours_spent,effort_size,note,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(team_member_id,work_item_id,week_start) DO UPDATE SET
  hours_spent=excluded.hours_spent, effort_size=excluded.effort_size, note=excluded.note, updated_at=excluded.updated_at`,
		l.TeamMemberID, l.WorkItemID, l.WeekStart, l.HoursSpent, nullable(l.EffortSize), nullable(l.Note), l.UpdatedAt)
	return err
}

// InsertEffortLogIfAbsent writes l only when no row exists for its key and
// reports whether it did.
func (r Repo) InsertEffortLogIfAbsent(ctx context.Context, tx *sql.Tx, l domain.EffortLog) (bool, error) {
	if l.UpdatedAt == "" {
		l.UpdatedAt = now()
	}
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO effort_logs(team_member_id,work_item_id,week_start,hours_spent,effort_size,note,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(team_member_id,work_item_id,week_start) DO NOTHING`,
		l.TeamMemberID, l.WorkItemID, l.WeekStart, l.HoursSpent, nullable(l.EffortSize), nullable(l.Note), l.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetEffortLog(ctx context.Context, memberID, workItemID, week string) (domain.EffortLog, error) {
	return scanEffortLog(r.DB.QueryRowContext(ctx, `SELECT `+effortLogColumns+` FROM effort_logs WHERE team_member_id=? AND work_item_id=? AND week_start=?`,
		memberID, workItemID, week))
}

// ListEffortLogs returns a member's logs for one week, or all weeks when week is empty.
func (r Repo) ListEffortLogs(ctx context.Context, tx *sql.Tx, memberID, week string) ([]domain.EffortLog, error) {
	query := `SELECT ` + effortLogColumns + ` FROM effort_logs WHERE team_member_id=?`
	args := []any{memberID}
	if week != "" {
		query += ` AND week_start=?`
		args = append(args, week)
	}
	query += ` ORDER BY week_start DESC, work_item_id ASC`
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EffortLog
	for rows.Next() {
		l, err := scanEffortLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
