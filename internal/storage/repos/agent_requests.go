package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campusdesk/internal/conversation"
	"campusdesk/internal/model"
)

var (
	// ErrRequestNotPending means the request exists but someone else
	// already claimed or resolved it.
	ErrRequestNotPending = errors.New("request_not_pending")
	// ErrAgentBusy means the agent already holds an in-progress request.
	ErrAgentBusy = errors.New("agent_has_active_case")
	// ErrNotAssignee means the caller is not the agent working the request.
	ErrNotAssignee = errors.New("not_assignee")
)

const requestColumns = `r.id, r.conversation_id, r.user_id, r.status, r.agent_id, r.assigned_at, r.resolved_at, r.created_at`

// requestViewColumns adds the queue projection. The user name falls back
// from full name to display name to the email local part.
const requestViewColumns = requestColumns + `,
  COALESCE(NULLIF(a.full_name, ''), NULLIF(a.display_name, ''), NULLIF(substr(a.email, 1, instr(a.email, '@') - 1), ''), 'Usuario') AS user_name,
  COALESCE((
    SELECT m.content FROM messages m
    WHERE m.conversation_id = r.conversation_id
    ORDER BY m.created_at DESC, m.seq DESC LIMIT 1
  ), '') AS last_message,
  (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = r.conversation_id) AS message_count`

// EscalateConversation moves an active conversation to escalated_pending
// and opens its pending request in one transaction.
func (s *Store) EscalateConversation(ctx context.Context, conversationID string) (model.AgentRequest, error) {
	from := conversation.RequiredState(conversation.EventEscalate)
	to, err := conversation.Transition(from, conversation.EventEscalate)
	if err != nil {
		return model.AgentRequest{}, err
	}
	now := s.nowUTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.AgentRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Write first so sqlite takes the write lock before any read.
	if err := transitionConversation(ctx, tx, conversationID, from, to, now); err != nil {
		return model.AgentRequest{}, err
	}
	id := newID()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_requests (id, conversation_id, user_id, status, created_at)
SELECT ?, c.id, c.user_id, ?, ? FROM conversations c WHERE c.id = ?`,
		id, string(model.RequestPending), formatTS(now), conversationID); err != nil {
		if isUniqueViolation(err) {
			return model.AgentRequest{}, ErrStateChanged
		}
		return model.AgentRequest{}, fmt.Errorf("insert agent request: %w", err)
	}
	req, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM agent_requests r WHERE r.id = ?`, id))
	if err != nil {
		return model.AgentRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.AgentRequest{}, err
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.AgentRequest, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM agent_requests r WHERE r.id = ?`, id)
	return scanRequest(row)
}

// RequestForConversation returns the latest request opened for a
// conversation, whatever its status.
func (s *Store) RequestForConversation(ctx context.Context, conversationID string) (model.AgentRequest, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+requestColumns+` FROM agent_requests r
WHERE r.conversation_id = ?
ORDER BY r.created_at DESC LIMIT 1`, conversationID)
	return scanRequest(row)
}

// ListPendingRequests returns the queue, newest first.
func (s *Store) ListPendingRequests(ctx context.Context) ([]model.AgentRequestView, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+requestViewColumns+`
FROM agent_requests r
LEFT JOIN accounts a ON a.id = r.user_id
WHERE r.status = 'pending'
ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.AgentRequestView{}
	for rows.Next() {
		v, err := scanRequestView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ActiveRequestForAgent returns the agent's in-progress request, or nil.
func (s *Store) ActiveRequestForAgent(ctx context.Context, agentID string) (*model.AgentRequestView, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+requestViewColumns+`
FROM agent_requests r
LEFT JOIN accounts a ON a.id = r.user_id
WHERE r.agent_id = ? AND r.status = 'in_progress'`, agentID)
	v, err := scanRequestView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ClaimRequest assigns a pending request to agentID. The status change is
// a compare-and-swap on status='pending' guarded against the agent already
// holding a case; the conversation transition and the outbox event commit
// with it or not at all.
func (s *Store) ClaimRequest(ctx context.Context, requestID, agentID string) (model.AgentRequest, error) {
	from := conversation.RequiredState(conversation.EventClaim)
	to, err := conversation.Transition(from, conversation.EventClaim)
	if err != nil {
		return model.AgentRequest{}, err
	}
	now := s.nowUTC()
	ts := formatTS(now)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.AgentRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE agent_requests
SET status = 'in_progress', agent_id = ?, assigned_at = ?
WHERE id = ? AND status = 'pending'
  AND NOT EXISTS (
    SELECT 1 FROM agent_requests busy
    WHERE busy.agent_id = ? AND busy.status = 'in_progress'
  )`, agentID, ts, requestID, agentID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.AgentRequest{}, ErrAgentBusy
		}
		return model.AgentRequest{}, fmt.Errorf("claim request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.AgentRequest{}, s.claimMissReason(ctx, tx, requestID, agentID)
	}

	req, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM agent_requests r WHERE r.id = ?`, requestID))
	if err != nil {
		return model.AgentRequest{}, err
	}
	if err := transitionConversation(ctx, tx, req.ConversationID, from, to, now); err != nil {
		return model.AgentRequest{}, err
	}
	if _, err := insertOutbox(ctx, tx, model.OutboxKindAssignmentClaimed, map[string]any{
		"request_id":      req.ID,
		"conversation_id": req.ConversationID,
		"user_id":         req.UserID,
		"agent_id":        agentID,
	}, now); err != nil {
		return model.AgentRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.AgentRequest{}, err
	}
	return req, nil
}

func (s *Store) claimMissReason(ctx context.Context, q queryer, requestID, agentID string) error {
	var busy int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_requests WHERE agent_id = ? AND status = 'in_progress'`, agentID).Scan(&busy); err != nil {
		return err
	}
	if busy > 0 {
		return ErrAgentBusy
	}
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM agent_requests WHERE id = ?`, requestID).Scan(&status)
	if err != nil {
		return err
	}
	return ErrRequestNotPending
}

// ResolveRequest closes the agent's in-progress request and resolves its
// conversation.
func (s *Store) ResolveRequest(ctx context.Context, requestID, agentID string) (model.AgentRequest, error) {
	from := conversation.RequiredState(conversation.EventResolve)
	to, err := conversation.Transition(from, conversation.EventResolve)
	if err != nil {
		return model.AgentRequest{}, err
	}
	now := s.nowUTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.AgentRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE agent_requests
SET status = 'resolved', resolved_at = ?
WHERE id = ? AND agent_id = ? AND status = 'in_progress'`, formatTS(now), requestID, agentID)
	if err != nil {
		return model.AgentRequest{}, fmt.Errorf("resolve request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM agent_requests WHERE id = ?`, requestID).Scan(&status); err != nil {
			return model.AgentRequest{}, err
		}
		return model.AgentRequest{}, ErrNotAssignee
	}

	req, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM agent_requests r WHERE r.id = ?`, requestID))
	if err != nil {
		return model.AgentRequest{}, err
	}
	if err := transitionConversation(ctx, tx, req.ConversationID, from, to, now); err != nil {
		return model.AgentRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.AgentRequest{}, err
	}
	return req, nil
}

// CountInProgress reports how many requests the agent is working. The
// schema keeps it at most one.
func (s *Store) CountInProgress(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_requests WHERE agent_id = ? AND status = 'in_progress'`, agentID).Scan(&n)
	return n, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanRequest(row scanner) (model.AgentRequest, error) {
	return scanRequestWith(row)
}

func scanRequestWith(row scanner, extra ...any) (model.AgentRequest, error) {
	var (
		r          model.AgentRequest
		status     string
		agentID    sql.NullString
		assignedAt sql.NullString
		resolvedAt sql.NullString
		createdAt  string
	)
	dest := []any{&r.ID, &r.ConversationID, &r.UserID, &status, &agentID, &assignedAt, &resolvedAt, &createdAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.AgentRequest{}, err
	}
	r.Status = model.RequestStatus(status)
	r.AgentID = nullString(agentID)
	r.AssignedAt = parseTSPtr(assignedAt)
	r.ResolvedAt = parseTSPtr(resolvedAt)
	r.CreatedAt = parseTS(createdAt)
	return r, nil
}

func scanRequestView(row scanner) (model.AgentRequestView, error) {
	var (
		v    model.AgentRequestView
		last string
	)
	r, err := scanRequestWith(row, &v.UserName, &last, &v.MessageCount)
	if err != nil {
		return model.AgentRequestView{}, err
	}
	v.AgentRequest = r
	v.LastMessage = truncate(last, 100)
	return v, nil
}
