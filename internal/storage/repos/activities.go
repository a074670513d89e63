package repos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"campusdesk/internal/model"
)

type CreateActivityInput struct {
	ID       string
	UserID   string
	Title    string
	Date     string
	Time     string
	Location string
	Type     model.ActivityType
}

type ActivityFilters struct {
	StartDate   string
	EndDate     string
	Type        string
	IsCompleted *bool
}

// ActivityPatch carries the fields an owner may change; nil means unchanged.
type ActivityPatch struct {
	Title       *string
	Date        *string
	Time        *string
	Location    *string
	Type        *model.ActivityType
	IsCompleted *bool
}

const activityColumns = `id, user_id, title, date, time, location, type, is_completed, completed_at, created_at, updated_at`

func (s *Store) CreateActivity(ctx context.Context, in CreateActivityInput) (model.Activity, error) {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.Type == "" {
		in.Type = model.ActivityTypeOther
	}
	now := formatTS(s.nowUTC())
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO activities (id, user_id, title, date, time, location, type, is_completed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		in.ID, in.UserID, in.Title, in.Date, in.Time, in.Location, string(in.Type), now, now)
	if err != nil {
		return model.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return s.GetActivity(ctx, in.ID, in.UserID)
}

func (s *Store) GetActivity(ctx context.Context, id, userID string) (model.Activity, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ? AND user_id = ?`, id, userID)
	return scanActivity(row)
}

func (s *Store) GetActivityByID(ctx context.Context, id string) (model.Activity, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	return scanActivity(row)
}

func (s *Store) ListActivities(ctx context.Context, userID string, f ActivityFilters) ([]model.Activity, error) {
	where := "WHERE user_id = ?"
	args := []any{userID}
	if f.StartDate != "" {
		where += " AND date >= ?"
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		where += " AND date <= ?"
		args = append(args, f.EndDate)
	}
	if f.Type != "" {
		where += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.IsCompleted != nil {
		where += " AND is_completed = ?"
		args = append(args, boolToInt(*f.IsCompleted))
	}
	return s.queryActivities(ctx, `SELECT `+activityColumns+` FROM activities `+where+` ORDER BY date ASC, time ASC`, args...)
}

// ListDueActivities returns every non-completed activity dated between
// startDate and endDate inclusive. Callers narrow by time of day.
func (s *Store) ListDueActivities(ctx context.Context, startDate, endDate string) ([]model.Activity, error) {
	return s.queryActivities(ctx, `
SELECT `+activityColumns+`
FROM activities
WHERE is_completed = 0 AND date >= ? AND date <= ?
ORDER BY date ASC, time ASC`, startDate, endDate)
}

func (s *Store) UpdateActivity(ctx context.Context, id, userID string, p ActivityPatch) (model.Activity, error) {
	sets := []string{}
	args := []any{}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Date != nil {
		sets = append(sets, "date = ?")
		args = append(args, *p.Date)
	}
	if p.Time != nil {
		sets = append(sets, "time = ?")
		args = append(args, *p.Time)
	}
	if p.Location != nil {
		sets = append(sets, "location = ?")
		args = append(args, *p.Location)
	}
	if p.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, string(*p.Type))
	}
	now := s.nowUTC()
	if p.IsCompleted != nil {
		sets = append(sets, "is_completed = ?", "completed_at = ?")
		args = append(args, boolToInt(*p.IsCompleted))
		if *p.IsCompleted {
			args = append(args, formatTS(now))
		} else {
			args = append(args, nil)
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTS(now), id, userID)

	res, err := s.DB.ExecContext(ctx, `UPDATE activities SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return model.Activity{}, fmt.Errorf("update activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Activity{}, sql.ErrNoRows
	}
	return s.GetActivity(ctx, id, userID)
}

func (s *Store) SetActivityCompleted(ctx context.Context, id, userID string, completed bool) (model.Activity, error) {
	return s.UpdateActivity(ctx, id, userID, ActivityPatch{IsCompleted: &completed})
}

func (s *Store) DeleteActivity(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM activities WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) queryActivities(ctx context.Context, query string, args ...any) ([]model.Activity, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivity(row scanner) (model.Activity, error) {
	var (
		a           model.Activity
		typ         string
		completed   int
		completedAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Title, &a.Date, &a.Time, &a.Location, &typ, &completed, &completedAt, &createdAt, &updatedAt); err != nil {
		return model.Activity{}, err
	}
	a.Type = model.ActivityType(typ)
	a.IsCompleted = completed == 1
	a.CompletedAt = parseTSPtr(completedAt)
	a.CreatedAt = parseTS(createdAt)
	a.UpdatedAt = parseTS(updatedAt)
	return a, nil
}
