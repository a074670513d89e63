package repos

import (
	"context"
	"database/sql"
	"fmt"

	"campusdesk/internal/model"
)

type CreateMessageInput struct {
	ID             string
	ConversationID string
	Role           model.MessageRole
	Content        string
	ResponseType   model.ResponseType
	SenderID       string
}

const messageColumns = `seq, id, conversation_id, role, content, response_type, rating, sender_id, created_at`

// AddMessage appends a message and bumps the conversation's last_message_at.
// Messages are ordered by (created_at, seq); seq is assigned by the store
// so concurrent writers with equal timestamps keep insertion order.
func (s *Store) AddMessage(ctx context.Context, in CreateMessageInput) (model.Message, error) {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.ResponseType == "" {
		in.ResponseType = model.ResponseUser
	}
	now := formatTS(s.nowUTC())

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var sender sql.NullString
	if in.SenderID != "" {
		sender = sql.NullString{Valid: true, String: in.SenderID}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, role, content, response_type, sender_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.ConversationID, string(in.Role), in.Content, string(in.ResponseType), sender, now); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		now, now, in.ConversationID); err != nil {
		return model.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}
	return s.GetMessage(ctx, in.ID)
}

func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, seq ASC
LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RateMessage sets or clears (nil) the rating of an assistant message.
func (s *Store) RateMessage(ctx context.Context, id string, rating *model.Rating) (model.Message, error) {
	var r sql.NullString
	if rating != nil {
		r = sql.NullString{Valid: true, String: string(*rating)}
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE messages SET rating = ? WHERE id = ?`, r, id)
	if err != nil {
		return model.Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, sql.ErrNoRows
	}
	return s.GetMessage(ctx, id)
}

func (s *Store) CountUserMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = 'user'`, conversationID).Scan(&n)
	return n, err
}

// RecentMessages returns up to limit of the latest messages in
// chronological order, for building chat context.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+messageColumns+` FROM (
  SELECT `+messageColumns+` FROM messages
  WHERE conversation_id = ?
  ORDER BY created_at DESC, seq DESC
  LIMIT ?
) ORDER BY created_at ASC, seq ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (model.Message, error) {
	var (
		m         model.Message
		role      string
		typ       string
		rating    sql.NullString
		sender    sql.NullString
		createdAt string
	)
	if err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &role, &m.Content, &typ, &rating, &sender, &createdAt); err != nil {
		return model.Message{}, err
	}
	m.Role = model.MessageRole(role)
	m.ResponseType = model.ResponseType(typ)
	if rating.Valid {
		r := model.Rating(rating.String)
		m.Rating = &r
	}
	m.SenderID = sender.String
	m.CreatedAt = parseTS(createdAt)
	return m, nil
}
