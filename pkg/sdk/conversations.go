package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         *string    `json:"title"`
	State         string     `json:"state"`
	EscalatedAt   *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ChatTurn is the server's answer to one user message.
type ChatTurn struct {
	UserMessage Message       `json:"user_message"`
	Reply       *Message      `json:"reply,omitempty"`
	Escalated   bool          `json:"escalated"`
	Request     *AgentRequest `json:"agent_request,omitempty"`
	State       string        `json:"state"`
}

type ConversationsService struct{ client *Client }

func (s *ConversationsService) Create(ctx context.Context, title string) (Conversation, error) {
	var body any
	if title != "" {
		body = map[string]any{"title": title}
	}
	var out struct {
		Conversation Conversation `json:"conversation"`
	}
	err := s.client.do(ctx, http.MethodPost, "/api/v1/conversations", body, &out)
	return out.Conversation, err
}

func (s *ConversationsService) Send(ctx context.Context, conversationID, content string) (ChatTurn, error) {
	var out ChatTurn
	err := s.client.do(ctx, http.MethodPost, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]any{"content": content}, &out)
	return out, err
}

func (s *ConversationsService) Escalate(ctx context.Context, conversationID, note string) (AgentRequest, error) {
	var body any
	if note != "" {
		body = map[string]any{"message": note}
	}
	var out struct {
		AgentRequest AgentRequest `json:"agent_request"`
	}
	err := s.client.do(ctx, http.MethodPut, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/escalate", body, &out)
	return out.AgentRequest, err
}

func (s *ConversationsService) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out)
	return out.Messages, err
}

// ChatEvent is one frame received from a live chat room.
type ChatEvent struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

// LiveChat is an open connection to a conversation's room.
type LiveChat struct {
	conn   *websocket.Conn
	events chan ChatEvent
}

// Join opens the conversation's live chat room. Events from other members
// arrive on Events until ctx is done or the connection drops.
func (s *ConversationsService) Join(ctx context.Context, conversationID string) (*LiveChat, error) {
	wsURL := strings.Replace(s.client.BaseURL, "http", "ws", 1) +
		"/api/v1/ws/conversations/" + url.PathEscape(conversationID) + "?api_key=" + url.QueryEscape(s.client.APIKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "join refused"}
		}
		return nil, fmt.Errorf("join live chat: %w", err)
	}

	lc := &LiveChat{conn: conn, events: make(chan ChatEvent, 64)}
	go func() {
		defer close(lc.events)
		for {
			var evt ChatEvent
			if err := conn.ReadJSON(&evt); err != nil {
				_ = conn.Close()
				return
			}
			select {
			case lc.events <- evt:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()
	return lc, nil
}

func (l *LiveChat) Events() <-chan ChatEvent { return l.events }

func (l *LiveChat) Send(content string) error {
	return l.conn.WriteJSON(map[string]any{"type": "message", "content": content})
}

func (l *LiveChat) Ping() error {
	return l.conn.WriteJSON(map[string]any{"type": "ping"})
}

func (l *LiveChat) Close() error {
	return l.conn.Close()
}
