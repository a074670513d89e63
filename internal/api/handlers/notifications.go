package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campusdesk/internal/storage/repos"
)

func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.App.ListNotifications(r.Context(), authFrom(r).UserID(), repos.NotificationFilters{
		IsRead:      parseBoolPtr(q.Get("is_read")),
		IsDismissed: parseBoolPtr(q.Get("is_dismissed")),
		Type:        q.Get("type"),
		Limit:       parseInt(q.Get("limit"), 50),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list}, nil)
}

func (s *Server) UnreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.App.UnreadNotificationCount(r.Context(), authFrom(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread_count": n}, nil)
}

func (s *Server) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.App.GetNotification(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n}, nil)
}

func (s *Server) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	s.markNotification(w, r, true)
}

func (s *Server) MarkNotificationUnread(w http.ResponseWriter, r *http.Request) {
	s.markNotification(w, r, false)
}

func (s *Server) markNotification(w http.ResponseWriter, r *http.Request, read bool) {
	n, err := s.App.MarkNotificationRead(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), read)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n}, nil)
}

func (s *Server) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.App.MarkAllNotificationsRead(r.Context(), authFrom(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n}, nil)
}

func (s *Server) DismissNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.App.DismissNotification(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n}, nil)
}

func (s *Server) RestoreNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.App.RestoreNotification(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n}, nil)
}

func (s *Server) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.App.DeleteNotification(r.Context(), authFrom(r).UserID(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true}, nil)
}

func (s *Server) CompleteNotificationActivity(w http.ResponseWriter, r *http.Request) {
	n, act, err := s.App.CompleteNotificationActivity(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n, "activity": act}, nil)
}
