package handlers

import (
	"net/http"
	"path/filepath"

	"campusdesk/internal/model"
	"campusdesk/internal/storage"
)

func (s *Server) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.App.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats}, nil)
}

func (s *Server) AdminConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	cfg.Auth.AdminKey = ""
	cfg.Mailer.ResendAPIKey = ""
	cfg.Mailer.SMTPPass = ""
	cfg.LLM.APIKey = ""
	cfg.Directory.DSN = ""
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg}, nil)
}

func (s *Server) AdminAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.App.Audit(r.Context(), r.URL.Query().Get("resource"), parseInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries}, nil)
}

func (s *Server) AdminOutbox(w http.ResponseWriter, r *http.Request) {
	events, err := s.App.Store.ListOutbox(r.Context(), model.OutboxStatus(r.URL.Query().Get("status")), parseInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events}, nil)
}

func (s *Server) AdminBackup(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Join(filepath.Dir(s.Config.Database.Path), "backups")
	path, err := storage.Backup(r.Context(), s.DB, dir)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_path": path}, nil)
}

func (s *Server) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	if s.RunReminders == nil {
		writeErr(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "reminder scheduler is disabled")
		return
	}
	if !s.RunReminders() {
		writeErr(w, http.StatusConflict, "CONFLICT", "reminder run already in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggered": true}, nil)
}
