package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"campusdesk/internal/auth"
	"campusdesk/internal/broker"
	"campusdesk/internal/conversation"
	"campusdesk/internal/llm"
	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

const (
	DefaultConversationTitle = "Nueva conversación"
	EscalationAck            = "He enviado tu solicitud a nuestro equipo de soporte. Un agente se unirá a la conversación en breve."

	maxConversationTitle = 100
	historyTurns         = 10
	// titleAfterUserMessages is the user message count that triggers
	// automatic titling.
	titleAfterUserMessages = 3
)

// ChatTurn is the outcome of one user message.
type ChatTurn struct {
	UserMessage model.Message           `json:"user_message"`
	Reply       *model.Message          `json:"reply,omitempty"`
	Escalated   bool                    `json:"escalated"`
	Request     *model.AgentRequest     `json:"agent_request,omitempty"`
	State       model.ConversationState `json:"state"`
}

// EscalationStatus describes where a conversation stands with support.
type EscalationStatus struct {
	ConversationID string                  `json:"conversation_id"`
	State          model.ConversationState `json:"state"`
	IsEscalated    bool                    `json:"is_escalated"`
	EscalatedAt    *time.Time              `json:"escalated_at,omitempty"`
	ResolvedAt     *time.Time              `json:"resolved_at,omitempty"`
	Request        *model.AgentRequest     `json:"agent_request,omitempty"`
	AgentName      string                  `json:"agent_name,omitempty"`
}

func (a *App) CreateConversation(ctx context.Context, userID, title string) (model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}
	if utf8.RuneCountInString(title) > maxConversationTitle {
		return model.Conversation{}, fmt.Errorf("%w: title max %d chars", ErrValidation, maxConversationTitle)
	}
	return a.Store.CreateConversation(ctx, userID, &title)
}

// OwnedConversation loads a conversation and checks that userID owns it.
// Someone else's conversation reads as not found.
func (a *App) OwnedConversation(ctx context.Context, userID, id string) (model.Conversation, error) {
	c, err := a.Store.GetConversation(ctx, id)
	if err != nil {
		return model.Conversation{}, notFound(err, "conversation")
	}
	if c.UserID != userID {
		return model.Conversation{}, fmt.Errorf("%w: conversation not found", ErrNotFound)
	}
	return c, nil
}

func (a *App) ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	return a.Store.ListConversations(ctx, userID, limit)
}

func (a *App) ConversationMessages(ctx context.Context, userID, id string) ([]model.Message, error) {
	if _, err := a.OwnedConversation(ctx, userID, id); err != nil {
		return nil, err
	}
	return a.Store.ListMessages(ctx, id, 0)
}

func (a *App) UpdateConversationTitle(ctx context.Context, userID, id, title string) (model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxConversationTitle {
		return model.Conversation{}, fmt.Errorf("%w: title must be 1-%d chars", ErrValidation, maxConversationTitle)
	}
	if _, err := a.OwnedConversation(ctx, userID, id); err != nil {
		return model.Conversation{}, err
	}
	if err := a.Store.UpdateConversationTitle(ctx, id, title); err != nil {
		return model.Conversation{}, notFound(err, "conversation")
	}
	return a.Store.GetConversation(ctx, id)
}

func (a *App) DeleteConversation(ctx context.Context, userID, id string) error {
	return notFound(a.Store.DeleteConversation(ctx, id, userID), "conversation")
}

// RateMessage rates a message in one of the caller's conversations.
func (a *App) RateMessage(ctx context.Context, userID, messageID, rating string) (model.Message, error) {
	var r *model.Rating
	switch model.Rating(rating) {
	case model.RatingUp, model.RatingDown:
		v := model.Rating(rating)
		r = &v
	default:
		return model.Message{}, fmt.Errorf("%w: rating must be up or down", ErrValidation)
	}
	msg, err := a.Store.GetMessage(ctx, messageID)
	if err != nil {
		return model.Message{}, notFound(err, "message")
	}
	if _, err := a.OwnedConversation(ctx, userID, msg.ConversationID); err != nil {
		return model.Message{}, fmt.Errorf("%w: message not found", ErrNotFound)
	}
	msg, err = a.Store.RateMessage(ctx, messageID, r)
	return msg, notFound(err, "message")
}

// SendChatMessage runs one chat turn for the conversation owner. Once a
// conversation is escalated the bot stays quiet and the message goes to
// the live chat room only.
func (a *App) SendChatMessage(ctx context.Context, userID, conversationID, content string) (ChatTurn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatTurn{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	conv, err := a.OwnedConversation(ctx, userID, conversationID)
	if err != nil {
		return ChatTurn{}, err
	}

	userMsg, err := a.Store.AddMessage(ctx, repos.CreateMessageInput{
		ConversationID: conv.ID,
		Role:           model.MessageRoleUser,
		Content:        content,
		ResponseType:   model.ResponseUser,
		SenderID:       userID,
	})
	if err != nil {
		return ChatTurn{}, err
	}
	turn := ChatTurn{UserMessage: userMsg, State: conv.State}

	switch {
	case !conversation.AcceptsBotReplies(conv.State):
		a.publishChat(ctx, conv.ID, model.ChatEventMessage, userID, map[string]any{"message": userMsg})

	case conv.State == conversation.RequiredState(conversation.EventEscalate) && a.Detector.Detect(content):
		req, err := a.Assign.Escalate(ctx, conv.ID, "")
		if err != nil {
			return ChatTurn{}, err
		}
		turn.Escalated = true
		turn.Request = &req
		turn.State = model.ConversationEscalatedPending
		reply, err := a.Store.AddMessage(ctx, repos.CreateMessageInput{
			ConversationID: conv.ID,
			Role:           model.MessageRoleAssistant,
			Content:        EscalationAck,
			ResponseType:   model.ResponseEscalation,
		})
		if err != nil {
			a.Logger.Warn("escalation reply not saved", zap.String("conversation_id", conv.ID), zap.Error(err))
		} else {
			turn.Reply = &reply
		}

	default:
		reply, err := a.botReply(ctx, conv.ID, content)
		if err != nil {
			return ChatTurn{}, err
		}
		turn.Reply = &reply
	}

	a.maybeTitle(ctx, conv)
	return turn, nil
}

func (a *App) botReply(ctx context.Context, conversationID, question string) (model.Message, error) {
	recent, err := a.Store.RecentMessages(ctx, conversationID, historyTurns+1)
	if err != nil {
		a.Logger.Warn("chat history unavailable", zap.Error(err))
	}
	history := make([]llm.Turn, 0, len(recent))
	// The newest message is the question itself.
	for i, m := range recent {
		if i == len(recent)-1 {
			break
		}
		history = append(history, llm.Turn{Role: string(m.Role), Content: m.Content})
	}

	answer, err := a.LLM.Answer(ctx, question, history)
	if err != nil || strings.TrimSpace(answer) == "" {
		a.Logger.Warn("llm answer failed, using fallback", zap.String("conversation_id", conversationID), zap.Error(err))
		answer = llm.FallbackAnswer
	}
	return a.Store.AddMessage(ctx, repos.CreateMessageInput{
		ConversationID: conversationID,
		Role:           model.MessageRoleAssistant,
		Content:        answer,
		ResponseType:   model.ResponseBot,
	})
}

// maybeTitle names an untitled conversation on its third user message.
// Failures are logged and ignored.
func (a *App) maybeTitle(ctx context.Context, conv model.Conversation) {
	if conv.Title != nil && *conv.Title != "" && *conv.Title != DefaultConversationTitle {
		return
	}
	n, err := a.Store.CountUserMessages(ctx, conv.ID)
	if err != nil || n != titleAfterUserMessages {
		return
	}
	msgs, err := a.Store.RecentMessages(ctx, conv.ID, historyTurns)
	if err != nil {
		return
	}
	transcript := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		transcript = append(transcript, llm.Turn{Role: string(m.Role), Content: m.Content})
	}
	title, err := a.LLM.Title(ctx, transcript)
	if err != nil {
		a.Logger.Debug("title generation failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	title = llm.CleanTitle(title)
	if title == "" {
		return
	}
	if err := a.Store.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
		a.Logger.Debug("title not saved", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

// EscalateConversation is the explicit escalation requested by the owner.
func (a *App) EscalateConversation(ctx context.Context, userID, conversationID, note string) (model.AgentRequest, error) {
	if _, err := a.OwnedConversation(ctx, userID, conversationID); err != nil {
		return model.AgentRequest{}, err
	}
	return a.Assign.Escalate(ctx, conversationID, note)
}

func (a *App) EscalationStatus(ctx context.Context, userID, conversationID string) (EscalationStatus, error) {
	conv, err := a.OwnedConversation(ctx, userID, conversationID)
	if err != nil {
		return EscalationStatus{}, err
	}
	st := EscalationStatus{
		ConversationID: conv.ID,
		State:          conv.State,
		IsEscalated:    conv.IsEscalated(),
		EscalatedAt:    conv.EscalatedAt,
		ResolvedAt:     conv.ResolvedAt,
	}
	req, err := a.Store.RequestForConversation(ctx, conv.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, nil
	case err != nil:
		return EscalationStatus{}, err
	}
	st.Request = &req
	if req.AgentID != nil {
		if agent, err := a.Store.GetAccountByID(ctx, *req.AgentID); err == nil {
			st.AgentName = agentDisplayName(agent)
		}
	}
	return st, nil
}

// CanJoinChat reports whether the caller may join a conversation's live
// chat room: its owner or the agent assigned to it.
func (a *App) CanJoinChat(ctx context.Context, caller AuthContext, conversationID string) (model.Conversation, error) {
	conv, err := a.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Conversation{}, notFound(err, "conversation")
	}
	if conv.UserID == caller.UserID() {
		return conv, nil
	}
	if caller.Account.Role != model.RoleSupport && caller.Account.Role != model.RoleAdmin {
		return model.Conversation{}, fmt.Errorf("%w: conversation not found", ErrNotFound)
	}
	req, err := a.Store.RequestForConversation(ctx, conversationID)
	if err != nil {
		return model.Conversation{}, ErrForbidden
	}
	if req.Status != model.RequestInProgress || req.AgentID == nil || *req.AgentID != caller.UserID() {
		return model.Conversation{}, ErrForbidden
	}
	return conv, nil
}

// SaveLiveMessage stores a live chat message. The role follows the
// caller: the owner writes as user, the agent as assistant. Broadcasting
// is left to the caller, which knows the originating connection.
func (a *App) SaveLiveMessage(ctx context.Context, caller AuthContext, conversationID, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	conv, err := a.CanJoinChat(ctx, caller, conversationID)
	if err != nil {
		return model.Message{}, err
	}
	role := model.MessageRoleUser
	if conv.UserID != caller.UserID() {
		role = model.MessageRoleAssistant
	}
	return a.Store.AddMessage(ctx, repos.CreateMessageInput{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ResponseType:   model.ResponseLiveChat,
		SenderID:       caller.UserID(),
	})
}

// Audit returns recent audit entries, optionally for one resource.
func (a *App) Audit(ctx context.Context, resource string, limit int) ([]model.AuditEntry, error) {
	if resource != "" {
		switch resource {
		case auth.ResourceAgentRequests, auth.ResourceAccounts, auth.ResourceActivities,
			auth.ResourceConversations, auth.ResourceNotifications, auth.ResourceFAQs:
		default:
			return nil, fmt.Errorf("%w: unknown resource %q", ErrValidation, resource)
		}
	}
	return a.Store.ListAuditLogs(ctx, resource, limit)
}

func (a *App) Stats(ctx context.Context) (map[string]int, error) {
	return a.Store.Stats(ctx)
}

func (a *App) publishChat(ctx context.Context, conversationID, typ, senderID string, data map[string]any) {
	if a.Broker == nil {
		return
	}
	if err := a.Broker.Publish(ctx, model.Event{
		Topic:    broker.ChatTopic(conversationID),
		Type:     typ,
		SenderID: senderID,
		Data:     data,
	}); err != nil {
		a.Logger.Debug("chat publish failed", zap.Error(err))
	}
}

func agentDisplayName(acc model.Account) string {
	if acc.FullName != "" {
		return acc.FullName
	}
	if acc.DisplayName != "" {
		return acc.DisplayName
	}
	return "Agente de Soporte"
}
