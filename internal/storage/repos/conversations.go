package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campusdesk/internal/model"
)

// ErrStateChanged is returned when a conditional state update finds the
// conversation in a different state than expected.
var ErrStateChanged = errors.New("conversation state changed")

const conversationColumns = `c.id, c.user_id, c.title, c.state, c.escalated_at, c.resolved_at, c.last_message_at, c.created_at, c.updated_at`

func (s *Store) CreateConversation(ctx context.Context, userID string, title *string) (model.Conversation, error) {
	id := newID()
	now := formatTS(s.nowUTC())
	var t sql.NullString
	if title != nil {
		t = sql.NullString{Valid: true, String: *title}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, title, state, last_message_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, id, userID, t, string(model.ConversationActive), now, now, now)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	return scanConversation(row)
}

// ListConversations returns the owner's conversations, most recently
// active first. The preview skips greeting messages.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+conversationColumns+`,
  (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count,
  COALESCE((
    SELECT m.content FROM messages m
    WHERE m.conversation_id = c.id AND m.response_type != 'greeting'
    ORDER BY m.created_at DESC, m.seq DESC LIMIT 1
  ), '') AS last_message
FROM conversations c
WHERE c.user_id = ?
ORDER BY c.last_message_at DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ConversationSummary{}
	for rows.Next() {
		var (
			sum  model.ConversationSummary
			last string
		)
		c, err := scanConversationWith(rows, &sum.MessageCount, &last)
		if err != nil {
			return nil, err
		}
		sum.Conversation = c
		sum.LastMessage = truncate(last, 100)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTS(s.nowUTC()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionConversation moves a conversation from one state to another
// only if it is still in from. It returns ErrStateChanged otherwise.
func (s *Store) TransitionConversation(ctx context.Context, id string, from, to model.ConversationState) error {
	return transitionConversation(ctx, s.DB, id, from, to, s.nowUTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transitionConversation(ctx context.Context, db execer, id string, from, to model.ConversationState, now time.Time) error {
	ts := formatTS(now)
	query := `UPDATE conversations SET state = ?, updated_at = ?`
	args := []any{string(to), ts}
	switch to {
	case model.ConversationEscalatedPending:
		query += `, escalated_at = ?`
		args = append(args, ts)
	case model.ConversationResolved:
		query += `, resolved_at = ?`
		args = append(args, ts)
	}
	query += ` WHERE id = ? AND state = ?`
	args = append(args, id, string(from))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStateChanged
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func scanConversation(row scanner) (model.Conversation, error) {
	return scanConversationWith(row)
}

func scanConversationWith(row scanner, extra ...any) (model.Conversation, error) {
	var (
		c             model.Conversation
		title         sql.NullString
		state         string
		escalatedAt   sql.NullString
		resolvedAt    sql.NullString
		lastMessageAt string
		createdAt     string
		updatedAt     string
	)
	dest := []any{&c.ID, &c.UserID, &title, &state, &escalatedAt, &resolvedAt, &lastMessageAt, &createdAt, &updatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Conversation{}, err
	}
	c.Title = nullString(title)
	c.State = model.ConversationState(state)
	c.EscalatedAt = parseTSPtr(escalatedAt)
	c.ResolvedAt = parseTSPtr(resolvedAt)
	c.LastMessageAt = parseTS(lastMessageAt)
	c.CreatedAt = parseTS(createdAt)
	c.UpdatedAt = parseTS(updatedAt)
	return c, nil
}
