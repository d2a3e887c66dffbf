package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"workload/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns tx when set, otherwise the pool.
func (r Repo) conn(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

const memberColumns = `id,name,COALESCE(role,''),available_hours,active,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (domain.TeamMember, error) {
	var m domain.TeamMember
	var avail sql.NullFloat64
	var active int
	err := row.Scan(&m.ID, &m.Name, &m.Role, &avail, &active, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.AvailableHours = floatPtr(avail)
	m.Active = active != 0
	return m, nil
}

func (r Repo) InsertMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	if m.CreatedAt == "" {
		m.CreatedAt = now()
	}
	if m.UpdatedAt == "" {
		m.UpdatedAt = m.CreatedAt
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO team_members(id,name,role,available_hours,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.Name, nullable(m.Role), nullableFloatPtr(m.AvailableHours), boolInt(m.Active), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) UpdateMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE team_members SET name=?, role=?, available_hours=?, active=?, updated_at=? WHERE id=?`,
		m.Name, nullable(m.Role), nullableFloatPtr(m.AvailableHours), boolInt(m.Active), m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.TeamMember, error) {
	return scanMember(r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE id=?`, id))
}

// ListMembers returns members ordered by name; activeOnly drops inactive ones.
func (r Repo) ListMembers(ctx context.Context, activeOnly bool) ([]domain.TeamMember, error) {
	query := `SELECT ` + memberColumns + ` FROM team_members`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func statusArgs(statuses []domain.WorkItemStatus) []any {
	args := make([]any, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
	}
	return args
}
