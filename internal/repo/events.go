package repo

import (
	"context"
	"database/sql"

	"workload/internal/domain"
)

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// BeforeID pages backwards from an event id when set.
	BeforeID int64
	Limit    int
}

// LatestEvents returns the most recent events, newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		query += ` AND entity_id=?`
		args = append(args, f.EntityID)
	}
	if f.BeforeID > 0 {
		query += ` AND id<?`
		args = append(args, f.BeforeID)
	}
	query += ` ORDER BY id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
