package repo

import (
	"context"
	"database/sql"
	"strings"

	"workload/internal/domain"
)

const workItemColumns = `id,name,kind,owner_id,role,work_type,phase,effort_size,status,direct_hours_per_week,created_at,updated_at`

func scanWorkItem(row rowScanner) (domain.WorkItem, error) {
	var w domain.WorkItem
	var owner, role, workType, phase, size sql.NullString
	var direct sql.NullFloat64
	var status string
	err := row.Scan(&w.ID, &w.Name, &w.Kind, &owner, &role, &workType, &phase, &size, &status, &direct, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if owner.Valid {
		w.OwnerID = &owner.String
	}
	w.Role = role.String
	w.WorkType = workType.String
	w.Phase = phase.String
	w.EffortSize = size.String
	w.Status = domain.WorkItemStatus(status)
	w.DirectHoursPerWeek = floatPtr(direct)
	return w, nil
}

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO work_items(`+workItemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, w.Kind, nullableStringPtr(w.OwnerID), nullable(w.Role), nullable(w.WorkType), nullable(w.Phase), nullable(w.EffortSize),
		string(w.Status), nullableFloatPtr(w.DirectHoursPerWeek), w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE work_items SET name=?, kind=?, owner_id=?, role=?, work_type=?, phase=?, effort_size=?, status=?, direct_hours_per_week=?, updated_at=? WHERE id=?`,
		w.Name, w.Kind, nullableStringPtr(w.OwnerID), nullable(w.Role), nullable(w.WorkType), nullable(w.Phase), nullable(w.EffortSize),
		string(w.Status), nullableFloatPtr(w.DirectHoursPerWeek), w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return r.GetWorkItemTx(ctx, nil, id)
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	return scanWorkItem(r.conn(tx).QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id))
}

type WorkItemFilters struct {
	OwnerID    string
	Unassigned bool
	Statuses   []domain.WorkItemStatus
	// IncludeDeleted keeps tombstoned rows; they are hidden by default.
	IncludeDeleted bool
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Unassigned {
		clauses = append(clauses, "owner_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		args = append(args, statusArgs(f.Statuses)...)
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "status != ?")
		args = append(args, string(domain.StatusDeleted))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workItemColumns+` FROM work_items`+where+` ORDER BY name ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
