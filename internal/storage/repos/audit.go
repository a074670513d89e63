package repos

import (
	"context"

	"campusdesk/internal/conversation"
	"campusdesk/internal/model"
)

func (s *Store) AddAuditLog(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.nowUTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO audit_logs(id, actor_id, action, resource, resource_id, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.Resource,
		entry.ResourceID,
		toJSON(entry.Metadata),
		formatTS(entry.CreatedAt),
	)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, resource string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, actor_id, action, resource, resource_id, metadata, created_at
FROM audit_logs
WHERE (? = '' OR resource = ?)
ORDER BY created_at DESC LIMIT ?`, resource, resource, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.AuditEntry{}
	for rows.Next() {
		var (
			e         model.AuditEntry
			metadata  string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Resource, &e.ResourceID, &metadata, &createdAt); err != nil {
			return nil, err
		}
		e.Metadata = fromJSON[map[string]any](metadata)
		e.CreatedAt = parseTS(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats returns row counts per table plus the pending queue size and
// conversation counts per state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	tables := []string{
		"accounts",
		"activities",
		"conversations",
		"messages",
		"agent_requests",
		"notifications",
		"outbox_events",
		"faqs",
	}
	out := map[string]int{}
	for _, t := range tables {
		c, err := s.Count(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = c
	}
	var pending int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_requests WHERE status = 'pending'`).Scan(&pending); err != nil {
		return nil, err
	}
	out["agent_requests_pending"] = pending
	for _, st := range conversation.States() {
		var n int
		if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE state = ?`, string(st)).Scan(&n); err != nil {
			return nil, err
		}
		out["conversations_"+string(st)] = n
	}
	return out, nil
}
