package service

import (
	"context"
	"fmt"

	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

func (a *App) ListNotifications(ctx context.Context, userID string, f repos.NotificationFilters) ([]model.Notification, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return a.Store.ListNotifications(ctx, userID, f)
}

func (a *App) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	return a.Store.UnreadNotificationCount(ctx, userID)
}

func (a *App) GetNotification(ctx context.Context, userID, id string) (model.Notification, error) {
	n, err := a.Store.GetNotification(ctx, id, userID)
	return n, notFound(err, "notification")
}

func (a *App) MarkNotificationRead(ctx context.Context, userID, id string, read bool) (model.Notification, error) {
	n, err := a.Store.MarkNotificationRead(ctx, id, userID, read)
	return n, notFound(err, "notification")
}

func (a *App) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	return a.Store.MarkAllNotificationsRead(ctx, userID)
}

func (a *App) DismissNotification(ctx context.Context, userID, id string) (model.Notification, error) {
	n, err := a.Store.DismissNotification(ctx, id, userID)
	return n, notFound(err, "notification")
}

func (a *App) RestoreNotification(ctx context.Context, userID, id string) (model.Notification, error) {
	n, err := a.Store.RestoreNotification(ctx, id, userID)
	return n, notFound(err, "notification")
}

func (a *App) DeleteNotification(ctx context.Context, userID, id string) error {
	return notFound(a.Store.DeleteNotification(ctx, id, userID), "notification")
}

// CompleteNotificationActivity marks the notification's activity completed
// and the notification read.
func (a *App) CompleteNotificationActivity(ctx context.Context, userID, id string) (model.Notification, model.Activity, error) {
	n, err := a.GetNotification(ctx, userID, id)
	if err != nil {
		return model.Notification{}, model.Activity{}, err
	}
	if n.ActivityID == nil {
		return model.Notification{}, model.Activity{}, fmt.Errorf("%w: notification has no activity", ErrValidation)
	}
	act, err := a.GetActivity(ctx, userID, *n.ActivityID)
	if err != nil {
		return model.Notification{}, model.Activity{}, err
	}
	if !act.IsCompleted {
		if act, err = a.CompleteActivity(ctx, userID, act.ID, true); err != nil {
			return model.Notification{}, model.Activity{}, err
		}
	}
	n, err = a.MarkNotificationRead(ctx, userID, id, true)
	if err != nil {
		return model.Notification{}, model.Activity{}, err
	}
	return n, act, nil
}
