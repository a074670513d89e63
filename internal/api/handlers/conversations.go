package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Greet bool   `json:"greet"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
			return
		}
	}
	conv, err := s.App.CreateConversation(r.Context(), authFrom(r).UserID(), req.Title)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := map[string]any{"conversation": conv}
	if req.Greet {
		greeting, err := s.App.Greet(r.Context(), conv.ID)
		if err != nil {
			s.Logger.Warn("greeting not saved", zap.String("conversation_id", conv.ID), zap.Error(err))
		} else {
			out["greeting"] = greeting
		}
	}
	writeJSON(w, http.StatusCreated, out, nil)
}

func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.App.ListConversations(r.Context(), authFrom(r).UserID(), parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list}, nil)
}

func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.App.OwnedConversation(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv}, nil)
}

func (s *Server) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.App.ConversationMessages(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, nil)
}

func (s *Server) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	turn, err := s.App.SendChatMessage(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, turn, nil)
}

func (s *Server) EscalateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
			return
		}
	}
	agentReq, err := s.App.EscalateConversation(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_request": agentReq}, nil)
}

func (s *Server) EscalationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.App.EscalationStatus(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st, nil)
}

func (s *Server) UpdateConversationTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	conv, err := s.App.UpdateConversationTitle(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv}, nil)
}

func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.App.DeleteConversation(r.Context(), authFrom(r).UserID(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true}, nil)
}

func (s *Server) RateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating string `json:"rating"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	msg, err := s.App.RateMessage(r.Context(), authFrom(r).UserID(), chi.URLParam(r, "id"), req.Rating)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg}, nil)
}
