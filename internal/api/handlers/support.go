package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) PendingRequests(w http.ResponseWriter, r *http.Request) {
	q, err := s.App.Assign.ListPending(r.Context(), authFrom(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q, nil)
}

func (s *Server) ActiveCase(w http.ResponseWriter, r *http.Request) {
	active, err := s.App.Assign.ActiveCase(r.Context(), authFrom(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_case": active}, nil)
}

func (s *Server) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.App.Assign.Request(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_request": req}, nil)
}

func (s *Server) TakeRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.App.Assign.Claim(r.Context(), chi.URLParam(r, "id"), authFrom(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_request": req}, nil)
}

func (s *Server) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.App.Assign.Resolve(r.Context(), chi.URLParam(r, "id"), authFrom(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_request": req}, nil)
}

func (s *Server) AgentConversationMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.App.Assign.ConversationMessages(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, nil)
}

func (s *Server) SendAgentMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	msg, err := s.App.Assign.SendAgentMessage(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg}, nil)
}
