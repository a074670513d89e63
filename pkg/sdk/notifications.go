package sdk

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type Notification struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	ActivityID  *string    `json:"activity_id,omitempty"`
	IsRead      bool       `json:"is_read"`
	IsDismissed bool       `json:"is_dismissed"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

type NotificationsService struct{ client *Client }

func (s *NotificationsService) List(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	path := "/api/v1/notifications"
	if unreadOnly {
		path += "?is_read=false"
	}
	var out struct {
		Notifications []Notification `json:"notifications"`
	}
	err := s.client.do(ctx, http.MethodGet, path, nil, &out)
	return out.Notifications, err
}

func (s *NotificationsService) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"unread_count"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/notifications/unread-count", nil, &out)
	return out.Count, err
}

func (s *NotificationsService) MarkRead(ctx context.Context, id string) error {
	return s.client.do(ctx, http.MethodPost, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}
