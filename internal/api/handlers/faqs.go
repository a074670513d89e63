package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type faqBody struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s *Server) ListFAQs(w http.ResponseWriter, r *http.Request) {
	qs, err := s.App.FAQ.Questions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs}, nil)
}

func (s *Server) AnswerFAQ(w http.ResponseWriter, r *http.Request) {
	id, ok := faqID(w, r)
	if !ok {
		return
	}
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
			return
		}
	}
	out, err := s.App.AnswerFAQ(r.Context(), authFrom(r).UserID(), id, req.ConversationID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out, nil)
}

func (s *Server) CreateFAQ(w http.ResponseWriter, r *http.Request) {
	var req faqBody
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	f, err := s.App.CreateFAQ(r.Context(), authFrom(r).UserID(), req.Question, req.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"faq": f}, nil)
}

func (s *Server) UpdateFAQ(w http.ResponseWriter, r *http.Request) {
	id, ok := faqID(w, r)
	if !ok {
		return
	}
	var req faqBody
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	f, err := s.App.UpdateFAQ(r.Context(), authFrom(r).UserID(), id, req.Question, req.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"faq": f}, nil)
}

func (s *Server) DeleteFAQ(w http.ResponseWriter, r *http.Request) {
	id, ok := faqID(w, r)
	if !ok {
		return
	}
	if err := s.App.DeleteFAQ(r.Context(), authFrom(r).UserID(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true}, nil)
}

func faqID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid faq id")
		return 0, false
	}
	return id, true
}
