package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

const (
	dateLayout = "2006-01-02"
	maxTitle   = 200
)

var activityTypes = map[model.ActivityType]bool{
	model.ActivityTypeClass:      true,
	model.ActivityTypeExam:       true,
	model.ActivityTypeAssignment: true,
	model.ActivityTypeMeeting:    true,
	model.ActivityTypeOther:      true,
}

// parseActivityTime reads a naive date and time in the local zone.
func parseActivityTime(date, clock string, loc *time.Location) (time.Time, error) {
	if _, err := time.ParseInLocation(dateLayout, date, loc); err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.ParseInLocation(dateLayout+" "+layout, date+" "+clock, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time must be HH:MM or HH:MM:SS", ErrValidation)
}

func (a *App) notInPast(date, clock string) error {
	now := a.now()
	at, err := parseActivityTime(date, clock, now.Location())
	if err != nil {
		return err
	}
	if at.Before(now) {
		return fmt.Errorf("%w: activity cannot be scheduled in the past", ErrValidation)
	}
	return nil
}

func (a *App) CreateActivity(ctx context.Context, in repos.CreateActivityInput) (model.Activity, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || len(in.Title) > maxTitle {
		return model.Activity{}, fmt.Errorf("%w: title is required (max %d chars)", ErrValidation, maxTitle)
	}
	if in.Type == "" {
		in.Type = model.ActivityTypeOther
	}
	if !activityTypes[in.Type] {
		return model.Activity{}, fmt.Errorf("%w: unknown activity type %q", ErrValidation, in.Type)
	}
	if err := a.notInPast(in.Date, in.Time); err != nil {
		return model.Activity{}, err
	}
	return a.Store.CreateActivity(ctx, in)
}

func (a *App) GetActivity(ctx context.Context, userID, id string) (model.Activity, error) {
	act, err := a.Store.GetActivity(ctx, id, userID)
	return act, notFound(err, "activity")
}

func (a *App) ListActivities(ctx context.Context, userID string, f repos.ActivityFilters) ([]model.Activity, error) {
	for _, d := range []string{f.StartDate, f.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("%w: dates must be YYYY-MM-DD", ErrValidation)
		}
	}
	return a.Store.ListActivities(ctx, userID, f)
}

// UpdateActivity applies a patch. A completed activity only accepts a
// patch that un-completes it; the past-date rule is checked whenever the
// resulting date or time changes.
func (a *App) UpdateActivity(ctx context.Context, userID, id string, p repos.ActivityPatch) (model.Activity, error) {
	cur, err := a.GetActivity(ctx, userID, id)
	if err != nil {
		return model.Activity{}, err
	}
	uncompleteOnly := p.IsCompleted != nil && !*p.IsCompleted &&
		p.Title == nil && p.Date == nil && p.Time == nil && p.Location == nil && p.Type == nil
	if cur.IsCompleted && !uncompleteOnly {
		return model.Activity{}, fmt.Errorf("%w: completed activities cannot be modified", ErrValidation)
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" || len(t) > maxTitle {
			return model.Activity{}, fmt.Errorf("%w: title is required (max %d chars)", ErrValidation, maxTitle)
		}
		p.Title = &t
	}
	if p.Type != nil && !activityTypes[*p.Type] {
		return model.Activity{}, fmt.Errorf("%w: unknown activity type %q", ErrValidation, *p.Type)
	}
	if p.Date != nil || p.Time != nil {
		date, clock := cur.Date, cur.Time
		if p.Date != nil {
			date = *p.Date
		}
		if p.Time != nil {
			clock = *p.Time
		}
		if err := a.notInPast(date, clock); err != nil {
			return model.Activity{}, err
		}
	}
	act, err := a.Store.UpdateActivity(ctx, id, userID, p)
	return act, notFound(err, "activity")
}

func (a *App) CompleteActivity(ctx context.Context, userID, id string, completed bool) (model.Activity, error) {
	return a.UpdateActivity(ctx, userID, id, repos.ActivityPatch{IsCompleted: &completed})
}

func (a *App) DeleteActivity(ctx context.Context, userID, id string) error {
	return notFound(a.Store.DeleteActivity(ctx, id, userID), "activity")
}
