package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campusdesk/internal/model"
)

var ErrLeaseLost = errors.New("outbox_lease_lost")

type ClaimedOutboxEvent struct {
	Event      model.OutboxEvent
	LeaseToken string
}

const outboxColumns = `id, kind, payload, status, attempts, last_error, available_at, created_at, delivered_at`

func insertOutbox(ctx context.Context, db execer, kind string, payload map[string]any, now time.Time) (string, error) {
	id := newID()
	ts := formatTS(now)
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := db.ExecContext(ctx, `
INSERT INTO outbox_events (id, kind, payload, status, available_at, created_at)
VALUES (?, ?, ?, 'pending', ?, ?)`, id, kind, toJSON(payload), ts, ts); err != nil {
		return "", fmt.Errorf("insert outbox event: %w", err)
	}
	return id, nil
}

func (s *Store) EnqueueOutbox(ctx context.Context, kind string, payload map[string]any) (model.OutboxEvent, error) {
	id, err := insertOutbox(ctx, s.DB, kind, payload, s.nowUTC())
	if err != nil {
		return model.OutboxEvent{}, err
	}
	return s.GetOutboxEvent(ctx, id)
}

func (s *Store) GetOutboxEvent(ctx context.Context, id string) (model.OutboxEvent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = ?`, id)
	return scanOutbox(row)
}

func (s *Store) ListOutbox(ctx context.Context, status model.OutboxStatus, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+outboxColumns+` FROM outbox_events
WHERE (? = '' OR status = ?)
ORDER BY created_at ASC LIMIT ?`, string(status), string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOutbox(rows)
}

// ClaimOutbox leases up to limit due events. Events whose lease expired
// while processing are due again. A single UPDATE takes the lease, so two
// dispatchers never hold the same event.
func (s *Store) ClaimOutbox(ctx context.Context, limit int, leaseFor time.Duration) ([]ClaimedOutboxEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	if leaseFor <= 0 {
		leaseFor = 2 * time.Minute
	}
	now := s.nowUTC()
	nowTS := formatTS(now)
	token := newID()

	_, err := s.DB.ExecContext(ctx, `
UPDATE outbox_events
SET status = 'processing', lease_token = ?, lease_expires_at = ?, attempts = attempts + 1
WHERE id IN (
  SELECT id FROM outbox_events
  WHERE (status = 'pending' AND available_at <= ?)
     OR (status = 'processing' AND lease_expires_at <= ?)
  ORDER BY available_at ASC
  LIMIT ?
)`, token, formatTS(now.Add(leaseFor)), nowTS, nowTS, limit)
	if err != nil {
		return nil, fmt.Errorf("lease outbox: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE lease_token = ? ORDER BY available_at ASC`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}
	out := make([]ClaimedOutboxEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, ClaimedOutboxEvent{Event: ev, LeaseToken: token})
	}
	return out, nil
}

func (s *Store) CompleteOutbox(ctx context.Context, id, leaseToken string) error {
	now := formatTS(s.nowUTC())
	res, err := s.DB.ExecContext(ctx, `
UPDATE outbox_events
SET status = 'delivered', delivered_at = ?, last_error = '', lease_token = NULL, lease_expires_at = NULL
WHERE id = ? AND lease_token = ?`, now, id, leaseToken)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// FailOutbox releases the lease after a failed delivery. A nil retryAt
// marks the event failed for good.
func (s *Store) FailOutbox(ctx context.Context, id, leaseToken, reason string, retryAt *time.Time) error {
	status := model.OutboxFailed
	available := sql.NullString{}
	if retryAt != nil {
		status = model.OutboxPending
		available = nullTS(retryAt)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE outbox_events
SET status = ?, last_error = ?, available_at = COALESCE(?, available_at), lease_token = NULL, lease_expires_at = NULL
WHERE id = ? AND lease_token = ?`, string(status), reason, available, id, leaseToken)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func collectOutbox(rows *sql.Rows) ([]model.OutboxEvent, error) {
	out := []model.OutboxEvent{}
	for rows.Next() {
		ev, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanOutbox(row scanner) (model.OutboxEvent, error) {
	var (
		ev          model.OutboxEvent
		payload     string
		status      string
		availableAt string
		createdAt   string
		deliveredAt sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.Kind, &payload, &status, &ev.Attempts, &ev.LastError, &availableAt, &createdAt, &deliveredAt); err != nil {
		return model.OutboxEvent{}, err
	}
	ev.Payload = fromJSON[map[string]any](payload)
	ev.Status = model.OutboxStatus(status)
	ev.AvailableAt = parseTS(availableAt)
	ev.CreatedAt = parseTS(createdAt)
	ev.DeliveredAt = parseTSPtr(deliveredAt)
	return ev, nil
}
