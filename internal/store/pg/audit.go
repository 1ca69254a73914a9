package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"invitegate.dev/internal/audit"
)

// AuditStore implements audit.Store. Insert-only: the trail has no update or
// delete path at any layer.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, event *audit.Event) error {
	scopes, err := marshalStrings(event.ScopeSnapshot)
	if err != nil {
		return err
	}
	filters, err := marshalStrings(event.FilterSnapshot)
	if err != nil {
		return err
	}
	meta := []byte("{}")
	if len(event.Metadata) > 0 {
		if meta, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, action, target_type, target_id, outcome, metadata, scope_snapshot, filter_snapshot, actor_id, actor_ip, actor_user_agent, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, event.ID, event.Action, event.TargetType, nullIfEmpty(event.TargetID), event.Outcome,
		meta, scopes, filters, nullIfEmpty(event.ActorID), nullIfEmpty(event.ActorIP),
		nullIfEmpty(event.ActorUserAgent), nullIfEmpty(event.RequestID), event.OccurredAt)
	return err
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
