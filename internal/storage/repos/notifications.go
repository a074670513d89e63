package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campusdesk/internal/model"
)

type CreateNotificationInput struct {
	UserID           string
	ActivityID       *string
	Type             model.NotificationType
	Title            string
	Message          string
	ActivityTitle    string
	ActivityDate     string
	ActivityTime     string
	ActivityLocation string
	// SourceKey, when set, makes the insert a no-op if a notification with
	// the same key already exists.
	SourceKey string
}

type NotificationFilters struct {
	IsRead      *bool
	IsDismissed *bool
	Type        string
	Limit       int
}

// ReminderInput is what the ledger records for a delivered reminder.
type ReminderInput struct {
	Activity model.Activity
	Title    string
	Message  string
}

const notificationColumns = `id, user_id, activity_id, type, title, message, activity_title, activity_date, activity_time, activity_location,
  is_read, read_at, is_dismissed, dismissed_at, email_sent, email_sent_at, created_at, updated_at`

// ReminderSent reports whether a reminder email was already recorded for
// the activity.
func (s *Store) ReminderSent(ctx context.Context, activityID string) (bool, error) {
	var sent int
	err := s.DB.QueryRowContext(ctx, `
SELECT email_sent FROM notifications
WHERE activity_id = ? AND type = 'reminder'`, activityID).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sent == 1, nil
}

// ClaimReminder takes the reminder row for the activity before its email
// is sent. It returns false when the email already went out or another
// sender holds a claim younger than lease. The row is inserted unsent if
// it does not exist yet.
func (s *Store) ClaimReminder(ctx context.Context, in ReminderInput, lease time.Duration) (bool, error) {
	now := s.nowUTC()
	a := in.Activity
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO notifications (
  id, user_id, activity_id, type, title, message,
  activity_title, activity_date, activity_time, activity_location,
  email_sent, claimed_at, created_at, updated_at
) VALUES (?, ?, ?, 'reminder', ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
ON CONFLICT(activity_id, type) DO UPDATE SET
  claimed_at = excluded.claimed_at,
  updated_at = excluded.updated_at
WHERE notifications.email_sent = 0
  AND (notifications.claimed_at IS NULL OR notifications.claimed_at < ?)`,
		newID(), a.UserID, a.ID, in.Title, in.Message,
		a.Title, a.Date, a.Time, a.Location,
		formatTS(now), formatTS(now), formatTS(now),
		formatTS(now.Add(-lease)))
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseReminder drops an unsent claim so a later tick may retry.
func (s *Store) ReleaseReminder(ctx context.Context, activityID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE notifications SET claimed_at = NULL, updated_at = ?
WHERE activity_id = ? AND type = 'reminder' AND email_sent = 0`, formatTS(s.nowUTC()), activityID)
	return err
}

// MarkReminderSent upserts the reminder row for the activity with
// email_sent set. A prior unsent row is updated in place; the
// (activity_id, type) unique key keeps one row per activity.
func (s *Store) MarkReminderSent(ctx context.Context, in ReminderInput) (model.Notification, error) {
	now := formatTS(s.nowUTC())
	a := in.Activity
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO notifications (
  id, user_id, activity_id, type, title, message,
  activity_title, activity_date, activity_time, activity_location,
  email_sent, email_sent_at, created_at, updated_at
) VALUES (?, ?, ?, 'reminder', ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(activity_id, type) DO UPDATE SET
  email_sent = 1,
  email_sent_at = excluded.email_sent_at,
  claimed_at = NULL,
  updated_at = excluded.updated_at`,
		newID(), a.UserID, a.ID, in.Title, in.Message,
		a.Title, a.Date, a.Time, a.Location,
		now, now, now)
	if err != nil {
		return model.Notification{}, fmt.Errorf("upsert reminder: %w", err)
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE activity_id = ? AND type = 'reminder'`, a.ID)
	return scanNotification(row)
}

func (s *Store) CreateNotification(ctx context.Context, in CreateNotificationInput) (model.Notification, error) {
	id := newID()
	now := formatTS(s.nowUTC())
	var activityID, sourceKey sql.NullString
	if in.ActivityID != nil {
		activityID = sql.NullString{Valid: true, String: *in.ActivityID}
	}
	if in.SourceKey != "" {
		sourceKey = sql.NullString{Valid: true, String: in.SourceKey}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO notifications (
  id, user_id, activity_id, type, title, message,
  activity_title, activity_date, activity_time, activity_location,
  source_key, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_key) WHERE source_key IS NOT NULL DO NOTHING`,
		id, in.UserID, activityID, string(in.Type), in.Title, in.Message,
		in.ActivityTitle, in.ActivityDate, in.ActivityTime, in.ActivityLocation,
		sourceKey, now, now)
	if err != nil {
		return model.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	if in.SourceKey != "" {
		row := s.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE source_key = ?`, in.SourceKey)
		return scanNotification(row)
	}
	return s.GetNotification(ctx, id, in.UserID)
}

func (s *Store) GetNotification(ctx context.Context, id, userID string) (model.Notification, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	return scanNotification(row)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, f NotificationFilters) ([]model.Notification, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	where := "WHERE user_id = ?"
	args := []any{userID}
	if f.IsRead != nil {
		where += " AND is_read = ?"
		args = append(args, boolToInt(*f.IsRead))
	}
	if f.IsDismissed != nil {
		where += " AND is_dismissed = ?"
		args = append(args, boolToInt(*f.IsDismissed))
	}
	if f.Type != "" {
		where += " AND type = ?"
		args = append(args, f.Type)
	}
	args = append(args, f.Limit)
	rows, err := s.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications `+where+` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0 AND is_dismissed = 0`, userID).Scan(&n)
	return n, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string, read bool) (model.Notification, error) {
	now := s.nowUTC()
	var readAt sql.NullString
	if read {
		readAt = nullTS(&now)
	}
	return s.updateNotification(ctx, id, userID, `is_read = ?, read_at = ?`, boolToInt(read), readAt)
}

// DismissNotification hides a notification and marks it read.
func (s *Store) DismissNotification(ctx context.Context, id, userID string) (model.Notification, error) {
	now := formatTS(s.nowUTC())
	return s.updateNotification(ctx, id, userID,
		`is_dismissed = 1, dismissed_at = ?, is_read = 1, read_at = COALESCE(read_at, ?)`, now, now)
}

func (s *Store) RestoreNotification(ctx context.Context, id, userID string) (model.Notification, error) {
	return s.updateNotification(ctx, id, userID, `is_dismissed = 0, dismissed_at = NULL`)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	now := formatTS(s.nowUTC())
	res, err := s.DB.ExecContext(ctx, `
UPDATE notifications SET is_read = 1, read_at = ?, updated_at = ?
WHERE user_id = ? AND is_read = 0`, now, now, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) updateNotification(ctx context.Context, id, userID, set string, args ...any) (model.Notification, error) {
	args = append(args, formatTS(s.nowUTC()), id, userID)
	res, err := s.DB.ExecContext(ctx, `UPDATE notifications SET `+set+`, updated_at = ? WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return model.Notification{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Notification{}, sql.ErrNoRows
	}
	return s.GetNotification(ctx, id, userID)
}

func scanNotification(row scanner) (model.Notification, error) {
	var (
		n           model.Notification
		activityID  sql.NullString
		typ         string
		isRead      int
		readAt      sql.NullString
		dismissed   int
		dismissedAt sql.NullString
		emailSent   int
		emailSentAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(
		&n.ID, &n.UserID, &activityID, &typ, &n.Title, &n.Message,
		&n.ActivityTitle, &n.ActivityDate, &n.ActivityTime, &n.ActivityLocation,
		&isRead, &readAt, &dismissed, &dismissedAt, &emailSent, &emailSentAt, &createdAt, &updatedAt,
	); err != nil {
		return model.Notification{}, err
	}
	n.ActivityID = nullString(activityID)
	n.Type = model.NotificationType(typ)
	n.IsRead = isRead == 1
	n.ReadAt = parseTSPtr(readAt)
	n.IsDismissed = dismissed == 1
	n.DismissedAt = parseTSPtr(dismissedAt)
	n.EmailSent = emailSent == 1
	n.EmailSentAt = parseTSPtr(emailSentAt)
	n.CreatedAt = parseTS(createdAt)
	n.UpdatedAt = parseTS(updatedAt)
	return n, nil
}
