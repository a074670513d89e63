package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

func (s *Server) ListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	acts, err := s.App.ListActivities(r.Context(), authFrom(r).UserID(), repos.ActivityFilters{
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
		Type:        q.Get("type"),
		IsCompleted: parseBoolPtr(q.Get("is_completed")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": acts}, nil)
}

func (s *Server) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string             `json:"title"`
		Date     string             `json:"date"`
		Time     string             `json:"time"`
		Location string             `json:"location"`
		Type     model.ActivityType `json:"type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	act, err := s.App.CreateActivity(r.Context(), repos.CreateActivityInput{
		UserID:   authFrom(r).UserID(),
		Title:    req.Title,
		Date:     req.Date,
		Time:     req.Time,
		Location: req.Location,
		Type:     req.Type,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"activity": act}, nil)
}

func (s *Server) GetActivity(w http.ResponseWriter, r *http.Request) {
	act, err := s.App.GetActivity(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": act}, nil)
}

func (s *Server) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       *string             `json:"title"`
		Date        *string             `json:"date"`
		Time        *string             `json:"time"`
		Location    *string             `json:"location"`
		Type        *model.ActivityType `json:"type"`
		IsCompleted *bool               `json:"is_completed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	act, err := s.App.UpdateActivity(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), repos.ActivityPatch{
		Title:       req.Title,
		Date:        req.Date,
		Time:        req.Time,
		Location:    req.Location,
		Type:        req.Type,
		IsCompleted: req.IsCompleted,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": act}, nil)
}

func (s *Server) CompleteActivity(w http.ResponseWriter, r *http.Request) {
	req := struct {
		IsCompleted *bool `json:"is_completed"`
	}{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
			return
		}
	}
	completed := true
	if req.IsCompleted != nil {
		completed = *req.IsCompleted
	}
	act, err := s.App.CompleteActivity(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), completed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": act}, nil)
}

func (s *Server) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.App.DeleteActivity(r.Context(), authFrom(r).UserID(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true}, nil)
}
