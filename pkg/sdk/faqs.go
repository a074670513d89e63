package sdk

import (
	"context"
	"net/http"
	"strconv"
)

type FAQ struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// FAQAnswer is the exchange stored when a FAQ is picked in chat.
type FAQAnswer struct {
	ConversationID string  `json:"conversation_id"`
	UserMessage    Message `json:"user_message"`
	Reply          Message `json:"reply"`
}

type FAQsService struct{ client *Client }

// List returns the questions without their answers.
func (s *FAQsService) List(ctx context.Context) ([]FAQ, error) {
	var out struct {
		Questions []FAQ `json:"questions"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/faqs", nil, &out)
	return out.Questions, err
}

// Answer asks a FAQ in conversationID, or in a new conversation when it
// is empty.
func (s *FAQsService) Answer(ctx context.Context, id int64, conversationID string) (FAQAnswer, error) {
	var body any
	if conversationID != "" {
		body = map[string]any{"conversation_id": conversationID}
	}
	var out FAQAnswer
	err := s.client.do(ctx, http.MethodPost, "/api/v1/faqs/"+strconv.FormatInt(id, 10)+"/answer", body, &out)
	return out, err
}
