package sdk

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type AgentRequest struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Status         string     `json:"status"`
	AgentID        *string    `json:"agent_id,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	// Queue projections only.
	UserName     string `json:"user_name,omitempty"`
	LastMessage  string `json:"last_message,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
}

// Queue is the agent's view of open work.
type Queue struct {
	Pending    []AgentRequest `json:"pending"`
	ActiveCase *AgentRequest  `json:"active_case"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ResponseType   string    `json:"response_type"`
	Rating         *string   `json:"rating,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SupportService covers the endpoints used by support agents.
type SupportService struct{ client *Client }

func (s *SupportService) Pending(ctx context.Context) (Queue, error) {
	var out Queue
	err := s.client.do(ctx, http.MethodGet, "/api/v1/agent/requests", nil, &out)
	return out, err
}

func (s *SupportService) ActiveCase(ctx context.Context) (*AgentRequest, error) {
	var out struct {
		ActiveCase *AgentRequest `json:"active_case"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/agent/active-case", nil, &out)
	return out.ActiveCase, err
}

func (s *SupportService) Get(ctx context.Context, requestID string) (AgentRequest, error) {
	var out struct {
		AgentRequest AgentRequest `json:"agent_request"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/agent/requests/"+url.PathEscape(requestID), nil, &out)
	return out.AgentRequest, err
}

// Take claims a pending request. Losing a race returns an *APIError with
// status 409; holding another case returns 400 ACTIVE_CASE_EXISTS.
func (s *SupportService) Take(ctx context.Context, requestID string) (AgentRequest, error) {
	return s.transition(ctx, requestID, "take")
}

func (s *SupportService) Resolve(ctx context.Context, requestID string) (AgentRequest, error) {
	return s.transition(ctx, requestID, "resolve")
}

func (s *SupportService) transition(ctx context.Context, requestID, verb string) (AgentRequest, error) {
	var out struct {
		AgentRequest AgentRequest `json:"agent_request"`
	}
	err := s.client.do(ctx, http.MethodPost, "/api/v1/agent/requests/"+url.PathEscape(requestID)+"/"+verb, nil, &out)
	return out.AgentRequest, err
}

func (s *SupportService) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/agent/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out)
	return out.Messages, err
}

func (s *SupportService) Reply(ctx context.Context, conversationID, content string) (Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	err := s.client.do(ctx, http.MethodPost, "/api/v1/agent/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]any{"content": content}, &out)
	return out.Message, err
}
