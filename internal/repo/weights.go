package repo

import (
	"context"
	"database/sql"
	"fmt"

	"workload/internal/domain"
)

// ListWeightConfigs returns every raw weight row, ordered by category and key.
func (r Repo) ListWeightConfigs(ctx context.Context) ([]domain.WeightConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT category,key,value FROM weight_configs ORDER BY category ASC, key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WeightConfig
	for rows.Next() {
		var w domain.WeightConfig
		var cat string
		if err := rows.Scan(&cat, &w.Key, &w.Value); err != nil {
			return nil, err
		}
		w.Category = domain.WeightCategory(cat)
		res = append(res, w)
	}
	return res, rows.Err()
}

// UpsertWeightConfig stores the raw value; parsing happens when weights resolve.
func (r Repo) UpsertWeightConfig(ctx context.Context, tx *sql.Tx, w domain.WeightConfig) error {
	if !w.Category.Valid() {
		return fmt.Errorf("invalid weight category %q", w.Category)
	}
	if w.Key == "" {
		return fmt.Errorf("weight key required")
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO weight_configs(category,key,value,updated_at) VALUES (?,?,?,?)
ON CONFLICT(category,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		string(w.Category), w.Key, w.Value, now())
	return err
}

func (r Repo) DeleteWeightConfig(ctx context.Context, tx *sql.Tx, category domain.WeightCategory, key string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM weight_configs WHERE category=? AND key=?`, string(category), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountWeightConfigs(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM weight_configs`).Scan(&n)
	return n, err
}
