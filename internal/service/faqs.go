package service

import (
	"context"
	"fmt"

	"campusdesk/internal/auth"
	"campusdesk/internal/conversation"
	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

// FAQAnswer is the outcome of picking a FAQ in chat.
type FAQAnswer struct {
	ConversationID string        `json:"conversation_id"`
	UserMessage    model.Message `json:"user_message"`
	Reply          model.Message `json:"reply"`
}

// AnswerFAQ posts a FAQ question and its canned answer into a
// conversation, creating one when conversationID is empty.
func (a *App) AnswerFAQ(ctx context.Context, userID string, faqID int64, conversationID string) (FAQAnswer, error) {
	f, err := a.FAQ.Get(ctx, faqID)
	if err != nil {
		return FAQAnswer{}, err
	}

	var conv model.Conversation
	if conversationID == "" {
		conv, err = a.CreateConversation(ctx, userID, "")
	} else {
		conv, err = a.OwnedConversation(ctx, userID, conversationID)
	}
	if err != nil {
		return FAQAnswer{}, err
	}
	if !conversation.AcceptsBotReplies(conv.State) {
		return FAQAnswer{}, fmt.Errorf("%w: conversation is with support", ErrConflict)
	}

	userMsg, err := a.Store.AddMessage(ctx, repos.CreateMessageInput{
		ConversationID: conv.ID,
		Role:           model.MessageRoleUser,
		Content:        f.Question,
		ResponseType:   model.ResponseFAQ,
		SenderID:       userID,
	})
	if err != nil {
		return FAQAnswer{}, err
	}
	reply, err := a.Store.AddMessage(ctx, repos.CreateMessageInput{
		ConversationID: conv.ID,
		Role:           model.MessageRoleAssistant,
		Content:        f.Answer,
		ResponseType:   model.ResponseFAQ,
	})
	if err != nil {
		return FAQAnswer{}, err
	}
	a.maybeTitle(ctx, conv)
	return FAQAnswer{ConversationID: conv.ID, UserMessage: userMsg, Reply: reply}, nil
}

// Greet stores the bot's opening message in a fresh conversation.
func (a *App) Greet(ctx context.Context, conversationID string) (model.Message, error) {
	text, err := a.FAQ.Greeting(ctx)
	if err != nil {
		return model.Message{}, err
	}
	return a.Store.AddMessage(ctx, repos.CreateMessageInput{
		ConversationID: conversationID,
		Role:           model.MessageRoleAssistant,
		Content:        text,
		ResponseType:   model.ResponseGreeting,
	})
}

func (a *App) CreateFAQ(ctx context.Context, actorID, question, answer string) (model.FAQ, error) {
	f, err := a.FAQ.Create(ctx, question, answer, actorID)
	if err != nil {
		return model.FAQ{}, err
	}
	a.audit(ctx, actorID, "create", auth.ResourceFAQs, fmt.Sprint(f.ID), nil)
	return f, nil
}

func (a *App) UpdateFAQ(ctx context.Context, actorID string, id int64, question, answer string) (model.FAQ, error) {
	f, err := a.FAQ.Update(ctx, id, question, answer)
	if err != nil {
		return model.FAQ{}, err
	}
	a.audit(ctx, actorID, "update", auth.ResourceFAQs, fmt.Sprint(id), nil)
	return f, nil
}

func (a *App) DeleteFAQ(ctx context.Context, actorID string, id int64) error {
	if err := a.FAQ.Delete(ctx, id); err != nil {
		return err
	}
	a.audit(ctx, actorID, "delete", auth.ResourceFAQs, fmt.Sprint(id), nil)
	return nil
}
