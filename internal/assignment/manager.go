// Package assignment matches escalated conversations to support agents.
//
// An agent works at most one case at a time. The store enforces this with
// a conditional update, so several service instances can share one
// database without in-process locks.
package assignment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"campusdesk/internal/apperr"
	"campusdesk/internal/broker"
	"campusdesk/internal/metrics"
	"campusdesk/internal/model"
	"campusdesk/internal/retry"
	"campusdesk/internal/storage/repos"
)

var (
	ErrNotFound             = fmt.Errorf("%w: request not found", apperr.ErrNotFound)
	ErrAlreadyAssigned      = fmt.Errorf("%w: request already taken", apperr.ErrConflict)
	ErrAlreadyHasActiveCase = apperr.ErrAlreadyHasActiveCase
	ErrForbidden            = fmt.Errorf("%w: not the assigned agent", apperr.ErrForbidden)
	ErrNotEscalatable       = fmt.Errorf("%w: conversation cannot be escalated", apperr.ErrConflict)
	ErrConversationNotFound = fmt.Errorf("%w: conversation not found", apperr.ErrNotFound)
)

type Store interface {
	EscalateConversation(ctx context.Context, conversationID string) (model.AgentRequest, error)
	ListPendingRequests(ctx context.Context) ([]model.AgentRequestView, error)
	ActiveRequestForAgent(ctx context.Context, agentID string) (*model.AgentRequestView, error)
	GetRequest(ctx context.Context, id string) (model.AgentRequest, error)
	RequestForConversation(ctx context.Context, conversationID string) (model.AgentRequest, error)
	ClaimRequest(ctx context.Context, requestID, agentID string) (model.AgentRequest, error)
	ResolveRequest(ctx context.Context, requestID, agentID string) (model.AgentRequest, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	GetAccountByID(ctx context.Context, id string) (model.Account, error)
	AddMessage(ctx context.Context, in repos.CreateMessageInput) (model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	AddAuditLog(ctx context.Context, entry model.AuditEntry) error
}

// Queue is what an agent sees: open requests plus its own case.
type Queue struct {
	Pending    []model.AgentRequestView `json:"pending"`
	ActiveCase *model.AgentRequestView  `json:"active_case"`
}

type Manager struct {
	store   Store
	broker  broker.Broker
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewManager(store Store, b broker.Broker, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, broker: b, policy: policy, metrics: m, logger: logger}
}

// Escalate hands a conversation to human support: it moves to
// escalated_pending and a pending request is opened. A note, if given,
// is saved with the escalation origin tag.
func (m *Manager) Escalate(ctx context.Context, conversationID, note string) (model.AgentRequest, error) {
	req, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.AgentRequest, error) {
		return m.store.EscalateConversation(ctx, conversationID)
	})
	if err != nil {
		if errors.Is(err, repos.ErrStateChanged) {
			return model.AgentRequest{}, m.escalateMissReason(ctx, conversationID)
		}
		return model.AgentRequest{}, err
	}
	if note = strings.TrimSpace(note); note != "" {
		msg, err := m.store.AddMessage(ctx, repos.CreateMessageInput{
			ConversationID: conversationID,
			Role:           model.MessageRoleUser,
			Content:        note,
			ResponseType:   model.ResponseEscalation,
			SenderID:       req.UserID,
		})
		if err != nil {
			m.logger.Warn("escalation note not saved", zap.String("conversation_id", conversationID), zap.Error(err))
		} else {
			m.publish(ctx, conversationID, model.ChatEventMessage, req.UserID, map[string]any{"message": msg})
		}
	}
	m.audit(ctx, req.UserID, "escalate", req.ID, map[string]any{"conversation_id": conversationID})
	m.publish(ctx, conversationID, model.ChatEventEscalated, req.UserID, map[string]any{"request_id": req.ID})
	m.logger.Info("conversation escalated", zap.String("conversation_id", conversationID), zap.String("request_id", req.ID))
	return req, nil
}

// escalateMissReason tells a missing conversation apart from one that is
// not in a state that can be escalated.
func (m *Manager) escalateMissReason(ctx context.Context, conversationID string) error {
	_, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.Conversation, error) {
		return m.store.GetConversation(ctx, conversationID)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrConversationNotFound
	case err != nil:
		return err
	}
	return ErrNotEscalatable
}

// Request returns one request to an agent. Pending requests are visible
// to every agent; taken ones only to their assignee.
func (m *Manager) Request(ctx context.Context, agentID, requestID string) (model.AgentRequest, error) {
	req, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.AgentRequest, error) {
		return m.store.GetRequest(ctx, requestID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return model.AgentRequest{}, ErrNotFound
	}
	if err != nil {
		return model.AgentRequest{}, err
	}
	if req.Status != model.RequestPending && (req.AgentID == nil || *req.AgentID != agentID) {
		return model.AgentRequest{}, ErrForbidden
	}
	return req, nil
}

// ListPending returns every pending request, newest first, and the
// agent's own in-progress request separately.
func (m *Manager) ListPending(ctx context.Context, agentID string) (Queue, error) {
	pending, err := retry.Value(ctx, m.policy, m.store.ListPendingRequests)
	if err != nil {
		return Queue{}, err
	}
	active, err := m.ActiveCase(ctx, agentID)
	if err != nil {
		return Queue{}, err
	}
	return Queue{Pending: pending, ActiveCase: active}, nil
}

func (m *Manager) ActiveCase(ctx context.Context, agentID string) (*model.AgentRequestView, error) {
	return retry.Value(ctx, m.policy, func(ctx context.Context) (*model.AgentRequestView, error) {
		return m.store.ActiveRequestForAgent(ctx, agentID)
	})
}

// Claim assigns a pending request to agentID. The email to the student is
// queued in the outbox in the same commit and delivered later; a delivery
// failure never undoes the claim.
func (m *Manager) Claim(ctx context.Context, requestID, agentID string) (model.AgentRequest, error) {
	req, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.AgentRequest, error) {
		return m.store.ClaimRequest(ctx, requestID, agentID)
	})
	if err != nil {
		err = mapClaimErr(err)
		m.countClaim(claimResult(err))
		return model.AgentRequest{}, err
	}
	m.countClaim("ok")

	m.audit(ctx, agentID, "claim", req.ID, map[string]any{"conversation_id": req.ConversationID})
	m.wakeOutbox(ctx)
	m.publish(ctx, req.ConversationID, model.ChatEventAgentJoined, agentID, map[string]any{
		"request_id": req.ID,
		"agent_name": m.agentName(ctx, agentID),
	})
	m.logger.Info("request claimed",
		zap.String("request_id", req.ID),
		zap.String("agent_id", agentID),
		zap.String("conversation_id", req.ConversationID),
	)
	return req, nil
}

// Resolve closes the agent's in-progress request and its conversation.
func (m *Manager) Resolve(ctx context.Context, requestID, agentID string) (model.AgentRequest, error) {
	req, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.AgentRequest, error) {
		return m.store.ResolveRequest(ctx, requestID, agentID)
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return model.AgentRequest{}, ErrNotFound
		case errors.Is(err, repos.ErrNotAssignee):
			return model.AgentRequest{}, ErrForbidden
		case errors.Is(err, repos.ErrStateChanged):
			return model.AgentRequest{}, ErrAlreadyAssigned
		}
		return model.AgentRequest{}, err
	}
	m.audit(ctx, agentID, "resolve", req.ID, map[string]any{"conversation_id": req.ConversationID})
	m.publish(ctx, req.ConversationID, model.ChatEventResolved, agentID, map[string]any{"request_id": req.ID})
	m.logger.Info("request resolved", zap.String("request_id", req.ID), zap.String("agent_id", agentID))
	return req, nil
}

// SendAgentMessage posts an agent reply into the conversation of the
// agent's active case.
func (m *Manager) SendAgentMessage(ctx context.Context, agentID, conversationID, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, fmt.Errorf("%w: content is required", apperr.ErrValidation)
	}
	active, err := m.ActiveCase(ctx, agentID)
	if err != nil {
		return model.Message{}, err
	}
	if active == nil || active.ConversationID != conversationID {
		return model.Message{}, ErrForbidden
	}
	msg, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.Message, error) {
		return m.store.AddMessage(ctx, repos.CreateMessageInput{
			ConversationID: conversationID,
			Role:           model.MessageRoleAssistant,
			Content:        content,
			ResponseType:   model.ResponseAgent,
			SenderID:       agentID,
		})
	})
	if err != nil {
		return model.Message{}, err
	}
	m.publish(ctx, conversationID, model.ChatEventMessage, agentID, map[string]any{"message": msg})
	return msg, nil
}

// ConversationMessages lets an agent read a conversation that is waiting
// in the queue or that the agent has worked.
func (m *Manager) ConversationMessages(ctx context.Context, agentID, conversationID string) ([]model.Message, error) {
	if err := m.CanAccess(ctx, agentID, conversationID); err != nil {
		return nil, err
	}
	return retry.Value(ctx, m.policy, func(ctx context.Context) ([]model.Message, error) {
		return m.store.ListMessages(ctx, conversationID, 0)
	})
}

// CanAccess reports whether agentID may read or join the conversation.
func (m *Manager) CanAccess(ctx context.Context, agentID, conversationID string) error {
	req, err := retry.Value(ctx, m.policy, func(ctx context.Context) (model.AgentRequest, error) {
		return m.store.RequestForConversation(ctx, conversationID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if req.Status == model.RequestPending {
		return nil
	}
	if req.AgentID != nil && *req.AgentID == agentID {
		return nil
	}
	return ErrForbidden
}

func mapClaimErr(err error) error {
	switch {
	case errors.Is(err, repos.ErrAgentBusy):
		return ErrAlreadyHasActiveCase
	case errors.Is(err, repos.ErrRequestNotPending), errors.Is(err, repos.ErrStateChanged):
		return ErrAlreadyAssigned
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	}
	return err
}

func claimResult(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyHasActiveCase):
		return "active_case"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}

func (m *Manager) countClaim(result string) {
	if m.metrics != nil {
		m.metrics.AssignmentClaims.WithLabelValues(result).Inc()
	}
}

func (m *Manager) agentName(ctx context.Context, agentID string) string {
	acc, err := m.store.GetAccountByID(ctx, agentID)
	if err != nil {
		return "Agente de Soporte"
	}
	if acc.FullName != "" {
		return acc.FullName
	}
	if acc.DisplayName != "" {
		return acc.DisplayName
	}
	return "Agente de Soporte"
}

func (m *Manager) wakeOutbox(ctx context.Context) {
	if m.broker == nil {
		return
	}
	_ = m.broker.Publish(ctx, model.Event{Topic: broker.TopicOutbox, Type: "wake"})
}

func (m *Manager) publish(ctx context.Context, conversationID, typ, senderID string, data map[string]any) {
	if m.broker == nil {
		return
	}
	if err := m.broker.Publish(ctx, model.Event{
		Topic:    broker.ChatTopic(conversationID),
		Type:     typ,
		SenderID: senderID,
		Data:     data,
	}); err != nil {
		m.logger.Debug("chat publish failed", zap.Error(err))
	}
}

func (m *Manager) audit(ctx context.Context, actorID, action, requestID string, meta map[string]any) {
	if err := m.store.AddAuditLog(ctx, model.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		Resource:   "agent_requests",
		ResourceID: requestID,
		Metadata:   meta,
	}); err != nil {
		m.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
