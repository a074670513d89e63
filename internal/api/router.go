package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"campusdesk/internal/api/handlers"
	apimw "campusdesk/internal/api/middleware"
	ws "campusdesk/internal/api/websocket"
	"campusdesk/internal/auth"
	"campusdesk/internal/service"
)

// NewRouter wires the REST surface, the live chat socket and the
// operational endpoints. mcpHandler is mounted at the configured MCP path
// when non-nil.
func NewRouter(server *handlers.Server, app *service.App, hub *ws.Hub, mcpHandler http.Handler) http.Handler {
	cfg := app.Config

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(apimw.Logging(app.Logger, app.Metrics))

	r.Get("/healthz", server.Health)
	if app.Metrics != nil && cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, app.Metrics.Handler())
	}
	if mcpHandler != nil && cfg.MCP.HTTP.Enabled {
		r.Handle(cfg.MCP.HTTP.Path, mcpHandler)
		r.Handle(cfg.MCP.HTTP.Path+"/*", mcpHandler)
	}

	can := func(resource, action string) func(http.Handler) http.Handler {
		return apimw.RequirePermission(app, resource, action)
	}
	const (
		read  = auth.ActionRead
		write = auth.ActionWrite
	)

	r.Route("/api/v1", func(api chi.Router) {
		// The socket authenticates from its query string.
		api.Get("/ws/conversations/{id}", hub.ServeConversation)

		api.Group(func(protected chi.Router) {
			protected.Use(apimw.RequireAuth(app))
			protected.Use(apimw.NewRateLimiter(cfg.Server.RatePerMin, cfg.Server.RateBurst).Middleware)

			// Accounts
			protected.With(can(auth.ResourceAdmin, write)).Post("/accounts", server.CreateAccount)
			protected.With(can(auth.ResourceAdmin, read)).Get("/accounts", server.ListAccounts)
			protected.With(can(auth.ResourceAccounts, read)).Get("/accounts/me", server.CurrentAccount)
			protected.With(can(auth.ResourceAdmin, write)).Post("/accounts/{id}/rotate-key", server.RotateAccountKey)

			// Activities
			protected.With(can(auth.ResourceActivities, read)).Get("/activities", server.ListActivities)
			protected.With(can(auth.ResourceActivities, write)).Post("/activities", server.CreateActivity)
			protected.With(can(auth.ResourceActivities, read)).Get("/activities/{id}", server.GetActivity)
			protected.With(can(auth.ResourceActivities, write)).Patch("/activities/{id}", server.UpdateActivity)
			protected.With(can(auth.ResourceActivities, write)).Post("/activities/{id}/complete", server.CompleteActivity)
			protected.With(can(auth.ResourceActivities, write)).Delete("/activities/{id}", server.DeleteActivity)

			// Notifications
			protected.With(can(auth.ResourceNotifications, read)).Get("/notifications", server.ListNotifications)
			protected.With(can(auth.ResourceNotifications, read)).Get("/notifications/unread-count", server.UnreadNotificationCount)
			protected.With(can(auth.ResourceNotifications, write)).Post("/notifications/read-all", server.MarkAllNotificationsRead)
			protected.With(can(auth.ResourceNotifications, read)).Get("/notifications/{id}", server.GetNotification)
			protected.With(can(auth.ResourceNotifications, write)).Post("/notifications/{id}/read", server.MarkNotificationRead)
			protected.With(can(auth.ResourceNotifications, write)).Post("/notifications/{id}/unread", server.MarkNotificationUnread)
			protected.With(can(auth.ResourceNotifications, write)).Post("/notifications/{id}/dismiss", server.DismissNotification)
			protected.With(can(auth.ResourceNotifications, write)).Post("/notifications/{id}/restore", server.RestoreNotification)
			protected.With(can(auth.ResourceNotifications, write)).Delete("/notifications/{id}", server.DeleteNotification)
			protected.With(can(auth.ResourceNotifications, write), can(auth.ResourceActivities, write)).Post("/notifications/{id}/complete-activity", server.CompleteNotificationActivity)

			// Conversations
			protected.With(can(auth.ResourceConversations, write)).Post("/conversations", server.CreateConversation)
			protected.With(can(auth.ResourceConversations, read)).Get("/conversations", server.ListConversations)
			protected.With(can(auth.ResourceConversations, read)).Get("/conversations/{id}", server.GetConversation)
			protected.With(can(auth.ResourceConversations, read)).Get("/conversations/{id}/messages", server.ConversationMessages)
			protected.With(can(auth.ResourceConversations, write)).Post("/conversations/{id}/messages", server.SendChatMessage)
			protected.With(can(auth.ResourceConversations, write)).Put("/conversations/{id}/escalate", server.EscalateConversation)
			protected.With(can(auth.ResourceConversations, read)).Get("/conversations/{id}/escalation-status", server.EscalationStatus)
			protected.With(can(auth.ResourceConversations, write)).Put("/conversations/{id}/title", server.UpdateConversationTitle)
			protected.With(can(auth.ResourceConversations, write)).Delete("/conversations/{id}", server.DeleteConversation)
			protected.With(can(auth.ResourceConversations, write)).Put("/messages/{id}/rating", server.RateMessage)

			// FAQs
			protected.With(can(auth.ResourceFAQs, read)).Get("/faqs", server.ListFAQs)
			protected.With(can(auth.ResourceFAQs, read), can(auth.ResourceConversations, write)).Post("/faqs/{id}/answer", server.AnswerFAQ)
			protected.With(can(auth.ResourceFAQs, write)).Post("/faqs", server.CreateFAQ)
			protected.With(can(auth.ResourceFAQs, write)).Put("/faqs/{id}", server.UpdateFAQ)
			protected.With(can(auth.ResourceFAQs, write)).Delete("/faqs/{id}", server.DeleteFAQ)

			// Support agents
			protected.With(can(auth.ResourceAgentRequests, read)).Get("/agent/requests", server.PendingRequests)
			protected.With(can(auth.ResourceAgentRequests, read)).Get("/agent/active-case", server.ActiveCase)
			protected.With(can(auth.ResourceAgentRequests, read)).Get("/agent/requests/{id}", server.GetRequest)
			protected.With(can(auth.ResourceAgentRequests, write)).Post("/agent/requests/{id}/take", server.TakeRequest)
			protected.With(can(auth.ResourceAgentRequests, write)).Post("/agent/requests/{id}/resolve", server.ResolveRequest)
			protected.With(can(auth.ResourceAgentRequests, read)).Get("/agent/conversations/{id}/messages", server.AgentConversationMessages)
			protected.With(can(auth.ResourceAgentRequests, write)).Post("/agent/conversations/{id}/messages", server.SendAgentMessage)

			// Admin
			protected.With(can(auth.ResourceAdmin, read)).Get("/admin/stats", server.AdminStats)
			protected.With(can(auth.ResourceAdmin, read)).Get("/admin/config", server.AdminConfig)
			protected.With(can(auth.ResourceAdmin, read)).Get("/admin/audit", server.AdminAudit)
			protected.With(can(auth.ResourceAdmin, read)).Get("/admin/outbox", server.AdminOutbox)
			protected.With(can(auth.ResourceAdmin, write)).Post("/admin/backup", server.AdminBackup)
			protected.With(can(auth.ResourceAdmin, write)).Post("/admin/reminders/trigger", server.TriggerReminders)
		})
	})

	return r
}
