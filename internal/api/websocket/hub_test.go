package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campusdesk/internal/api"
	"campusdesk/internal/api/handlers"
	ws "campusdesk/internal/api/websocket"
	"campusdesk/internal/broker"
	"campusdesk/internal/config"
	"campusdesk/internal/model"
	"campusdesk/internal/retry"
	"campusdesk/internal/service"
	"campusdesk/internal/storage"
	"campusdesk/internal/storage/repos"
)

func TestOwnerAndAgentChatLive(t *testing.T) {
	env := setupHubTestEnv(t)
	ctx := context.Background()

	student := env.connectWS(t, env.studentKey)
	defer student.Close()
	_ = readType(t, student, "connected")

	agent := env.connectWS(t, env.agentKey)
	defer agent.Close()
	_ = readType(t, agent, "connected")

	require.NoError(t, student.WriteJSON(map[string]any{"type": "message", "content": "hola, ¿me ayudas?"}))
	sent := readType(t, student, "message_sent")
	assert.Equal(t, "hola, ¿me ayudas?", nestedString(sent, "data", "message", "content"))
	assert.Equal(t, string(model.MessageRoleUser), nestedString(sent, "data", "message", "role"))

	got := readType(t, agent, "message")
	assert.Equal(t, "hola, ¿me ayudas?", nestedString(got, "data", "message", "content"))

	// Agent replies over REST; the room still sees it.
	_, err := env.app.Assign.SendAgentMessage(ctx, env.agentID, env.conversationID, "claro, dime")
	require.NoError(t, err)
	got = readType(t, student, "message")
	assert.Equal(t, "claro, dime", nestedString(got, "data", "message", "content"))
	assert.Equal(t, string(model.ResponseAgent), nestedString(got, "data", "message", "response_type"))

	msgs, err := env.app.ConversationMessages(ctx, env.studentID, env.conversationID)
	require.NoError(t, err)
	var live int
	for _, m := range msgs {
		if m.ResponseType == model.ResponseLiveChat {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestSenderDoesNotReceiveOwnMessage(t *testing.T) {
	env := setupHubTestEnv(t)

	conn := env.connectWS(t, env.studentKey)
	defer conn.Close()
	_ = readType(t, conn, "connected")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "content": "primero"}))
	_ = readType(t, conn, "message_sent")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	// The next frame is the pong, not an echo of the message.
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
}

func TestEmptyMessageRejected(t *testing.T) {
	env := setupHubTestEnv(t)

	conn := env.connectWS(t, env.studentKey)
	defer conn.Close()
	_ = readType(t, conn, "connected")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "content": "   "}))
	frame := readType(t, conn, "error")
	assert.Equal(t, "VALIDATION_ERROR", frame["code"])
}

func TestJoinRejectsStrangers(t *testing.T) {
	env := setupHubTestEnv(t)
	ctx := context.Background()

	_, otherKey, err := env.app.CreateAccount(ctx, repos.CreateAccountInput{
		Email:       "diana@campus.test",
		DisplayName: "diana",
		Role:        model.RoleSupport,
	}, "test")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(env.roomURL(otherKey), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.roomURL("cdk_test_bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type hubTestEnv struct {
	app            *service.App
	hub            *ws.Hub
	studentID      string
	studentKey     string
	agentID        string
	agentKey       string
	conversationID string
	baseURL        string
}

// setupHubTestEnv builds an escalated conversation already claimed by an
// agent, so both sides may join its room.
func setupHubTestEnv(t *testing.T) hubTestEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "hub-test.db")

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	policy := retry.Default()
	policy.Backoff = func(int) time.Duration { return 0 }
	app := service.New(cfg, repos.New(db), broker.NewMemory(64), service.Options{
		Policy: &policy,
		Logger: zap.NewNop(),
	})

	student, studentKey, err := app.CreateAccount(ctx, repos.CreateAccountInput{
		Email: "ana@campus.test", DisplayName: "ana", Role: model.RoleStudent,
	}, "test")
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	agent, agentKey, err := app.CreateAccount(ctx, repos.CreateAccountInput{
		Email: "carlos@campus.test", DisplayName: "carlos", Role: model.RoleSupport,
	}, "test")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	conv, err := app.CreateConversation(ctx, student.ID, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	req, err := app.EscalateConversation(ctx, student.ID, conv.ID, "")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if _, err := app.Assign.Claim(ctx, req.ID, agent.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	hub := ws.NewHub(app)
	server := handlers.New(app, db, cfg, zap.NewNop())
	ts := httptest.NewServer(api.NewRouter(server, app, hub, nil))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	return hubTestEnv{
		app:            app,
		hub:            hub,
		studentID:      student.ID,
		studentKey:     studentKey,
		agentID:        agent.ID,
		agentKey:       agentKey,
		conversationID: conv.ID,
		baseURL:        "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (e hubTestEnv) roomURL(key string) string {
	return e.baseURL + "/api/v1/ws/conversations/" + e.conversationID + "?api_key=" + url.QueryEscape(key)
}

func (e hubTestEnv) connectWS(t *testing.T, key string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.roomURL(key), nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if got, _ := frame["type"].(string); got == want {
			return frame
		}
	}
	t.Fatalf("did not receive frame type %s", want)
	return nil
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read ws frame: %v", err)
	}
	return frame
}

func nestedString(m map[string]any, path ...string) string {
	cur := any(m)
	for _, part := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = node[part]
	}
	if s, ok := cur.(string); ok {
		return s
	}
	return ""
}
