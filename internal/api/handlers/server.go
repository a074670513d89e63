package handlers

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"campusdesk/internal/config"
	"campusdesk/internal/service"
)

type Server struct {
	App    *service.App
	DB     *sql.DB
	Config config.Config
	Logger *zap.Logger

	// RunReminders runs the reminder job now. It reports false when a
	// run is already in flight. Nil when the scheduler is disabled.
	RunReminders func() bool
}

func New(app *service.App, db *sql.DB, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		App:    app,
		DB:     db,
		Config: cfg,
		Logger: logger,
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"mode":   s.Config.Mode,
	}, nil)
}
