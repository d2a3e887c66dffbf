package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	MemberCreated       = "member.created"
	MemberUpdated       = "member.updated"
	WorkItemCreated     = "work_item.created"
	WorkItemUpdated     = "work_item.updated"
	WorkItemReassigned  = "work_item.reassigned"
	WorkItemDeleted     = "work_item.deleted"
	EffortLogSaved      = "effort_log.saved"
	EffortLogsCopied    = "effort_log.copied"
	WeightsUpdated      = "weights.updated"
	CapacityRecomputed  = "capacity.recomputed"
	CapacityRecalcError = "capacity.recompute_failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx, or directly on DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "system"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	const q = `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, ts, evtType, entityKind, nullable(entityID), actorID, string(data))
		return err
	}
	if w.DB == nil {
		return fmt.Errorf("event writer has no database")
	}
	_, err = w.DB.ExecContext(ctx, q, ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
