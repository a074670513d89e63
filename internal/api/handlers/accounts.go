package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

func (s *Server) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string     `json:"email"`
		DisplayName string     `json:"display_name"`
		FullName    string     `json:"full_name"`
		Role        model.Role `json:"role"`
		KeyKind     string     `json:"key_kind"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	acc, key, err := s.App.CreateAccount(r.Context(), repos.CreateAccountInput{
		Email:       req.Email,
		DisplayName: strings.TrimSpace(req.DisplayName),
		FullName:    strings.TrimSpace(req.FullName),
		Role:        req.Role,
	}, safeKeyKind(req.KeyKind))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"account": acc,
		"api_key": key,
	}, nil)
}

func (s *Server) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	perPage := parseInt(r.URL.Query().Get("per_page"), 50)
	accounts, total, err := s.App.Store.ListAccounts(r.Context(), r.URL.Query().Get("role"), page, perPage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts}, &pagination{
		Page: page, PerPage: perPage, Total: total,
	})
}

func (s *Server) CurrentAccount(w http.ResponseWriter, r *http.Request) {
	a := authFrom(r)
	perms := make([]string, 0, len(a.Permission))
	for p := range a.Permission {
		perms = append(perms, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":     a.Account,
		"permissions": perms,
	}, nil)
}

func (s *Server) RotateAccountKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		KeyKind string `json:"key_kind"`
	}
	_ = decodeJSON(r, &req)
	key, err := s.App.RotateAccountKey(r.Context(), id, safeKeyKind(req.KeyKind))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "api_key": key}, nil)
}

func safeKeyKind(kind string) string {
	if kind == "test" {
		return "test"
	}
	return "live"
}
