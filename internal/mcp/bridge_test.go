package mcpbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
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

func TestMCPInProcessSupportFlow(t *testing.T) {
	env := setupMCPTestEnv(t)
	ctx := context.Background()

	conv, err := env.app.CreateConversation(ctx, env.studentID, "")
	require.NoError(t, err)
	req, err := env.app.EscalateConversation(ctx, env.studentID, conv.ID, "no puedo inscribirme")
	require.NoError(t, err)

	bridge := New(Options{
		App:           env.app,
		Config:        env.cfg,
		Router:        env.router,
		DefaultAPIKey: env.agentKey,
	})

	client, err := mcpclient.NewInProcessClient(bridge.MCPServer())
	if err != nil {
		t.Fatalf("new in-process client: %v", err)
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	if _, err := client.Initialize(ctx, initializeRequest()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tools, err := client.ListTools(ctx, mcptypes.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, tools.Tools, len(ToolSpecs()))
	assert.True(t, hasTool(tools.Tools, "agent_requests_take"))

	list := callTool(t, client, "agent_requests_list", nil)
	require.False(t, list.IsError)

	took := callTool(t, client, "agent_requests_take", map[string]any{"id": req.ID})
	require.False(t, took.IsError, "take: %#v", took)

	again := callTool(t, client, "agent_requests_take", map[string]any{"id": req.ID})
	assert.True(t, again.IsError)

	reply := callTool(t, client, "agent_conversation_reply", map[string]any{
		"id":      conv.ID,
		"payload": map[string]any{"content": "Te ayudo con la inscripción"},
	})
	require.False(t, reply.IsError, "reply: %#v", reply)

	resolved := callTool(t, client, "agent_requests_resolve", map[string]any{"id": req.ID})
	require.False(t, resolved.IsError)

	msgs, err := env.app.ConversationMessages(ctx, env.studentID, conv.ID)
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	assert.Equal(t, model.ResponseAgent, last.ResponseType)
	assert.Equal(t, "Te ayudo con la inscripción", last.Content)
}

func TestMCPMissingPathArgument(t *testing.T) {
	env := setupMCPTestEnv(t)
	ctx := context.Background()
	bridge := New(Options{App: env.app, Config: env.cfg, Router: env.router, DefaultAPIKey: env.agentKey})

	client, err := mcpclient.NewInProcessClient(bridge.MCPServer())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Start(ctx))
	_, err = client.Initialize(ctx, initializeRequest())
	require.NoError(t, err)

	res := callTool(t, client, "agent_requests_take", nil)
	assert.True(t, res.IsError)
}

func TestMCPHTTPAuthAndRBAC(t *testing.T) {
	env := setupMCPTestEnv(t)

	bridge := New(Options{
		App:    env.app,
		Config: env.cfg,
		Router: env.router,
	})

	ts := httptest.NewServer(bridge.HTTPHandler())
	defer ts.Close()

	ctx := context.Background()

	adminClient, err := mcpclient.NewStreamableHttpClient(
		ts.URL+env.cfg.MCP.HTTP.Path,
		transport.WithHTTPHeaders(map[string]string{"Authorization": "Bearer " + env.adminKey}),
	)
	if err != nil {
		t.Fatalf("new admin http client: %v", err)
	}
	defer adminClient.Close()

	if err := adminClient.Start(ctx); err != nil {
		t.Fatalf("start admin client: %v", err)
	}
	if _, err := adminClient.Initialize(ctx, initializeRequest()); err != nil {
		t.Fatalf("init admin client: %v", err)
	}

	okResult := callTool(t, adminClient, "admin_stats", nil)
	if okResult.IsError {
		t.Fatalf("expected admin_stats success, got error result")
	}

	agentClient, err := mcpclient.NewStreamableHttpClient(
		ts.URL+env.cfg.MCP.HTTP.Path,
		transport.WithHTTPHeaders(map[string]string{"Authorization": "Bearer " + env.agentKey}),
	)
	if err != nil {
		t.Fatalf("new agent http client: %v", err)
	}
	defer agentClient.Close()

	if err := agentClient.Start(ctx); err != nil {
		t.Fatalf("start agent client: %v", err)
	}
	if _, err := agentClient.Initialize(ctx, initializeRequest()); err != nil {
		t.Fatalf("init agent client: %v", err)
	}

	denied := callTool(t, agentClient, "admin_stats", nil)
	if !denied.IsError {
		t.Fatalf("expected RBAC denial for agent on admin_stats")
	}
}

func TestMCPFAQTools(t *testing.T) {
	env := setupMCPTestEnv(t)
	ctx := context.Background()

	connect := func(key string) *mcpclient.Client {
		bridge := New(Options{App: env.app, Config: env.cfg, Router: env.router, DefaultAPIKey: key})
		c, err := mcpclient.NewInProcessClient(bridge.MCPServer())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		require.NoError(t, c.Start(ctx))
		_, err = c.Initialize(ctx, initializeRequest())
		require.NoError(t, err)
		return c
	}
	admin := connect(env.adminKey)
	agent := connect(env.agentKey)

	created := callTool(t, admin, "faqs_create", map[string]any{
		"payload": map[string]any{"question": "¿Cuándo son los exámenes finales?", "answer": "La última semana del ciclo."},
	})
	require.False(t, created.IsError, "create: %#v", created)

	denied := callTool(t, agent, "faqs_create", map[string]any{
		"payload": map[string]any{"question": "q", "answer": "a"},
	})
	assert.True(t, denied.IsError)

	list := callTool(t, agent, "faqs_list", nil)
	require.False(t, list.IsError)

	qs, err := env.app.FAQ.Questions(ctx)
	require.NoError(t, err)
	require.Len(t, qs, 1)

	// No scheduler is attached to this router.
	trig := callTool(t, admin, "admin_reminders_trigger", nil)
	assert.True(t, trig.IsError)
}

func TestFillPath(t *testing.T) {
	out, err := fillPath("/api/v1/agent/requests/{id}/take", map[string]any{"id": "a b"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/agent/requests/a%20b/take", out)

	_, err = fillPath("/api/v1/agent/requests/{id}/take", map[string]any{})
	assert.Error(t, err)
}

type mcpTestEnv struct {
	cfg       config.Config
	app       *service.App
	router    http.Handler
	studentID string
	adminKey  string
	agentKey  string
}

func setupMCPTestEnv(t *testing.T) mcpTestEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "mcp-test.db")
	cfg.MCP.Enabled = true
	cfg.MCP.HTTP.Enabled = true
	cfg.MCP.HTTP.Path = "/mcp"

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
	app := service.New(cfg, repos.New(db), broker.NewMemory(64), service.Options{Policy: &policy, Logger: zap.NewNop()})
	_, adminKey, err := app.BootstrapInit(ctx, "", "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	student, _, err := app.CreateAccount(ctx, repos.CreateAccountInput{
		Email: "ana@campus.test", DisplayName: "ana", Role: model.RoleStudent,
	}, "test")
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	_, agentKey, err := app.CreateAccount(ctx, repos.CreateAccountInput{
		Email: "carlos@campus.test", DisplayName: "carlos", Role: model.RoleSupport,
	}, "test")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	handler := handlers.New(app, db, cfg, zap.NewNop())
	router := api.NewRouter(handler, app, ws.NewHub(app), nil)

	return mcpTestEnv{
		cfg:       cfg,
		app:       app,
		router:    router,
		studentID: student.ID,
		adminKey:  adminKey,
		agentKey:  agentKey,
	}
}

func callTool(t *testing.T, c *mcpclient.Client, name string, args map[string]any) *mcptypes.CallToolResult {
	t.Helper()
	req := mcptypes.CallToolRequest{}
	req.Params.Name = name
	if args != nil {
		req.Params.Arguments = args
	}
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return res
}

func initializeRequest() mcptypes.InitializeRequest {
	return mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcptypes.Implementation{
				Name:    "campusdesk-test-client",
				Version: "0.0.1",
			},
			Capabilities: mcptypes.ClientCapabilities{},
		},
	}
}

func hasTool(tools []mcptypes.Tool, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
