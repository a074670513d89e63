package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, apiErr map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    status < 300,
		"data":  data,
		"error": apiErr,
	})
}

func TestSupportTakeAndConflict(t *testing.T) {
	taken := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cdk_live_key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/agent/requests/r1/take" && !taken:
			taken = true
			writeEnvelope(w, http.StatusOK, map[string]any{"agent_request": map[string]any{
				"id": "r1", "conversation_id": "c1", "status": "in_progress",
			}}, nil)
		case r.URL.Path == "/api/v1/agent/requests/r1/take":
			writeEnvelope(w, http.StatusConflict, nil, map[string]string{"code": "CONFLICT", "message": "request already taken"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, APIKey: "cdk_live_key"})
	req, err := c.Support.Take(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", req.Status)
	assert.Equal(t, "c1", req.ConversationID)

	_, err = c.Support.Take(context.Background(), "r1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "CONFLICT", apiErr.Code)
}

func TestPendingQueue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{
			"pending":     []map[string]any{{"id": "r2", "user_name": "Ana", "message_count": 3}},
			"active_case": nil,
		}, nil)
	}))
	defer ts.Close()

	q, err := New(Config{BaseURL: ts.URL}).Support.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, q.Pending, 1)
	assert.Equal(t, "Ana", q.Pending[0].UserName)
	assert.Nil(t, q.ActiveCase)
}

func TestResolveURLFromEnv(t *testing.T) {
	t.Setenv("CAMPUSDESK_URL", "http://desk.example.edu/")
	assert.Equal(t, "http://desk.example.edu", New(Config{}).BaseURL)
	assert.Equal(t, "http://other:9000", New(Config{BaseURL: "http://other:9000/"}).BaseURL)
}

func TestFAQAnswerSendsConversation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/faqs/7/answer", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c9", body["conversation_id"])
		writeEnvelope(w, http.StatusCreated, map[string]any{
			"conversation_id": "c9",
			"user_message":    map[string]any{"id": "m1", "response_type": "faq"},
			"reply":           map[string]any{"id": "m2", "content": "Bloque C", "response_type": "faq"},
		}, nil)
	}))
	defer ts.Close()

	out, err := New(Config{BaseURL: ts.URL}).FAQs.Answer(context.Background(), 7, "c9")
	require.NoError(t, err)
	assert.Equal(t, "c9", out.ConversationID)
	assert.Equal(t, "Bloque C", out.Reply.Content)
}
