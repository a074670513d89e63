// Package websocket serves per-conversation live chat rooms.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campusdesk/internal/broker"
	"campusdesk/internal/model"
	"campusdesk/internal/service"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
)

type Hub struct {
	App      *service.App
	logger   *zap.Logger
	upgrader gws.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	id             string
	conn           *gws.Conn
	auth           service.AuthContext
	conversationID string
	writeMu        sync.Mutex
}

func NewHub(app *service.App) *Hub {
	logger := app.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		App:    app,
		logger: logger.With(zap.String("component", "live_chat")),
		upgrader: gws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// ServeConversation upgrades the request and joins the caller to the
// conversation's room. Only the owner and the assigned agent get in.
func (h *Hub) ServeConversation(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		apiKey = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	authCtx, err := h.App.Authenticate(r.Context(), apiKey)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID := chi.URLParam(r, "id")
	if _, err := h.App.CanJoinChat(r.Context(), authCtx, conversationID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameSize)
	c := &client{
		id:             uuid.NewString(),
		conn:           conn,
		auth:           authCtx,
		conversationID: conversationID,
	}

	topic := broker.ChatTopic(conversationID)
	events, err := h.App.Broker.Subscribe(r.Context(), c.id, topic)
	if err != nil {
		_ = c.write(map[string]any{"type": "error", "code": "SUBSCRIBE_FAILED", "message": "could not join room"})
		_ = conn.Close()
		return
	}
	h.register(c)
	defer func() {
		_ = h.App.Broker.Unsubscribe(context.Background(), c.id, topic)
		h.unregister(c)
		_ = conn.Close()
	}()

	go c.forward(events)

	_ = c.write(map[string]any{"type": "connected", "conversation_id": conversationID})
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(b, &req); err != nil {
			_ = c.write(map[string]any{"type": "error", "code": "BAD_PAYLOAD", "message": "invalid JSON"})
			continue
		}
		switch req.Type {
		case "ping":
			_ = c.write(map[string]any{"type": "pong"})
		case "message":
			msg, err := h.App.SaveLiveMessage(r.Context(), c.auth, conversationID, req.Content)
			if err != nil {
				code := "SEND_FAILED"
				if errors.Is(err, service.ErrValidation) {
					code = "VALIDATION_ERROR"
				}
				_ = c.write(map[string]any{"type": "error", "code": code, "message": err.Error()})
				continue
			}
			_ = h.App.Broker.Publish(r.Context(), model.Event{
				Topic:    topic,
				Type:     model.ChatEventMessage,
				SenderID: c.id,
				Data:     map[string]any{"message": msg},
			})
			_ = c.write(map[string]any{"type": "message_sent", "data": map[string]any{"message": msg}})
		default:
			_ = c.write(map[string]any{"type": "error", "code": "UNKNOWN_TYPE", "message": "unsupported message type"})
		}
	}
}

// forward relays room events to the socket until the subscription
// channel is closed, skipping events this connection produced.
func (c *client) forward(events <-chan model.Event) {
	for evt := range events {
		if evt.SenderID == c.id {
			continue
		}
		if err := c.write(map[string]any{"type": evt.Type, "data": evt.Data, "at": evt.At}); err != nil {
			return
		}
	}
}

// Clients reports the number of open connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.App.Metrics != nil {
		h.App.Metrics.ChatClients.Inc()
	}
	h.logger.Debug("client joined", zap.String("conversation_id", c.conversationID), zap.String("account_id", c.auth.UserID()))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if h.App.Metrics != nil {
		h.App.Metrics.ChatClients.Dec()
	}
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}
