// Package mcpbridge exposes the campusdesk REST surface as MCP tools, so
// support agents can work their queue from an MCP client.
package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"campusdesk/internal/auth"
	"campusdesk/internal/config"
	"campusdesk/internal/service"
)

type Options struct {
	App    *service.App
	Config config.Config
	// Router serves the REST calls behind each tool. It may be attached
	// later with Attach when the router itself mounts the bridge.
	Router           http.Handler
	DefaultAPIKey    string
	DefaultAccountID string
	Version          string
}

type Bridge struct {
	app              *service.App
	cfg              config.Config
	router           http.Handler
	defaultAPIKey    string
	defaultAccountID string
	server           *mcpserver.MCPServer
}

type ToolSpec struct {
	Name        string
	Description string
	Method      string
	Path        string
	Resource    string
	Action      string
	HasPayload  bool
	HasQuery    bool
}

type apiEnvelope struct {
	OK         bool `json:"ok"`
	Data       any  `json:"data"`
	Error      any  `json:"error"`
	Pagination any  `json:"pagination"`
}

var routeParamPattern = regexp.MustCompile(`\{([^{}]+)\}`)

func New(opts Options) *Bridge {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	b := &Bridge{
		app:              opts.App,
		cfg:              opts.Config,
		router:           opts.Router,
		defaultAPIKey:    strings.TrimSpace(opts.DefaultAPIKey),
		defaultAccountID: strings.TrimSpace(opts.DefaultAccountID),
	}
	b.server = mcpserver.NewMCPServer(
		"campusdesk",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions("Use campusdesk tools to work the support queue: list pending requests, take one, read and answer the conversation, then resolve it."),
	)
	b.registerTools()
	return b
}

// Attach sets the REST router the tools call into.
func (b *Bridge) Attach(router http.Handler) {
	b.router = router
}

func (b *Bridge) MCPServer() *mcpserver.MCPServer {
	return b.server
}

func (b *Bridge) ServeStdio() error {
	return mcpserver.ServeStdio(b.server)
}

func (b *Bridge) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(
		b.server,
		mcpserver.WithEndpointPath(b.cfg.MCP.HTTP.Path),
	)
}

func (b *Bridge) registerTools() {
	for _, spec := range ToolSpecs() {
		b.server.AddTool(spec.toTool(), b.makeToolHandler(spec))
	}
}

// ToolSpecs lists every exposed tool, grouped by resource.
func ToolSpecs() []ToolSpec {
	const (
		read  = auth.ActionRead
		write = auth.ActionWrite
	)
	return []ToolSpec{
		// Accounts
		{Name: "accounts_me", Description: "Get the authenticated account", Method: http.MethodGet, Path: "/api/v1/accounts/me", Resource: auth.ResourceAccounts, Action: read},

		// Support queue
		{Name: "agent_requests_list", Description: "List pending support requests and the caller's active case", Method: http.MethodGet, Path: "/api/v1/agent/requests", Resource: auth.ResourceAgentRequests, Action: read},
		{Name: "agent_active_case", Description: "Get the caller's in-progress case", Method: http.MethodGet, Path: "/api/v1/agent/active-case", Resource: auth.ResourceAgentRequests, Action: read},
		{Name: "agent_requests_get", Description: "Get one support request", Method: http.MethodGet, Path: "/api/v1/agent/requests/{id}", Resource: auth.ResourceAgentRequests, Action: read},
		{Name: "agent_requests_take", Description: "Take a pending support request", Method: http.MethodPost, Path: "/api/v1/agent/requests/{id}/take", Resource: auth.ResourceAgentRequests, Action: write},
		{Name: "agent_requests_resolve", Description: "Resolve the caller's in-progress request", Method: http.MethodPost, Path: "/api/v1/agent/requests/{id}/resolve", Resource: auth.ResourceAgentRequests, Action: write},
		{Name: "agent_conversation_messages", Description: "Read the messages of a queued or assigned conversation", Method: http.MethodGet, Path: "/api/v1/agent/conversations/{id}/messages", Resource: auth.ResourceAgentRequests, Action: read},
		{Name: "agent_conversation_reply", Description: "Reply in the conversation of the caller's active case", Method: http.MethodPost, Path: "/api/v1/agent/conversations/{id}/messages", Resource: auth.ResourceAgentRequests, Action: write, HasPayload: true},

		// FAQs
		{Name: "faqs_list", Description: "List the frequently asked questions", Method: http.MethodGet, Path: "/api/v1/faqs", Resource: auth.ResourceFAQs, Action: read},
		{Name: "faqs_create", Description: "Add a frequently asked question with its answer", Method: http.MethodPost, Path: "/api/v1/faqs", Resource: auth.ResourceFAQs, Action: write, HasPayload: true},

		// Notifications
		{Name: "notifications_list", Description: "List the caller's notifications", Method: http.MethodGet, Path: "/api/v1/notifications", Resource: auth.ResourceNotifications, Action: read, HasQuery: true},
		{Name: "notifications_unread_count", Description: "Count unread notifications", Method: http.MethodGet, Path: "/api/v1/notifications/unread-count", Resource: auth.ResourceNotifications, Action: read},
		{Name: "notifications_read", Description: "Mark a notification read", Method: http.MethodPost, Path: "/api/v1/notifications/{id}/read", Resource: auth.ResourceNotifications, Action: write},
		{Name: "notifications_read_all", Description: "Mark every notification read", Method: http.MethodPost, Path: "/api/v1/notifications/read-all", Resource: auth.ResourceNotifications, Action: write},

		// Admin
		{Name: "admin_stats", Description: "Get row counts per table", Method: http.MethodGet, Path: "/api/v1/admin/stats", Resource: auth.ResourceAdmin, Action: read},
		{Name: "admin_audit", Description: "List recent audit entries", Method: http.MethodGet, Path: "/api/v1/admin/audit", Resource: auth.ResourceAdmin, Action: read, HasQuery: true},
		{Name: "admin_reminders_trigger", Description: "Run the reminder job now", Method: http.MethodPost, Path: "/api/v1/admin/reminders/trigger", Resource: auth.ResourceAdmin, Action: write},
		{Name: "admin_outbox", Description: "List outbox events by status", Method: http.MethodGet, Path: "/api/v1/admin/outbox", Resource: auth.ResourceAdmin, Action: read, HasQuery: true},
	}
}

func (s ToolSpec) toTool() mcptypes.Tool {
	opts := []mcptypes.ToolOption{
		mcptypes.WithDescription(s.Description),
	}
	for _, param := range pathParams(s.Path) {
		opts = append(opts, mcptypes.WithString(param, mcptypes.Required(), mcptypes.Description("Path parameter: "+param)))
	}
	if s.HasQuery {
		opts = append(opts, mcptypes.WithObject("query", mcptypes.Description("Query string parameters")))
	}
	if s.HasPayload || methodHasBody(s.Method) {
		opts = append(opts, mcptypes.WithObject("payload", mcptypes.Description("JSON request payload")))
	}
	return mcptypes.NewTool(s.Name, opts...)
}

func (b *Bridge) makeToolHandler(spec ToolSpec) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
		token := extractBearer(request.Header.Get("Authorization"))
		if token == "" {
			token = b.defaultAPIKey
		}
		if token == "" {
			return mcptypes.NewToolResultError("missing API key: provide Authorization header or --api-key for stdio mode"), nil
		}

		authCtx, err := b.app.Authenticate(ctx, token)
		if err != nil {
			return mcptypes.NewToolResultError("authentication failed"), nil
		}
		if b.defaultAccountID != "" && authCtx.UserID() != b.defaultAccountID {
			return mcptypes.NewToolResultError("default account mismatch for provided api key"), nil
		}
		if err := b.app.Authorize(authCtx, spec.Resource, spec.Action); err != nil {
			return mcptypes.NewToolResultError("forbidden: insufficient permissions"), nil
		}

		if b.router == nil {
			return mcptypes.NewToolResultError("bridge has no REST router attached"), nil
		}

		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		path, err := fillPath(spec.Path, args)
		if err != nil {
			return mcptypes.NewToolResultError(err.Error()), nil
		}

		var query map[string]any
		if spec.HasQuery {
			query = getArgMap(args, "query")
		}

		payload := getArgMap(args, "payload")
		if (spec.HasPayload || methodHasBody(spec.Method)) && payload == nil {
			payload = map[string]any{}
		}

		env, status, err := b.invokeREST(ctx, token, spec.Method, path, query, payload)
		if err != nil {
			return mcptypes.NewToolResultError(err.Error()), nil
		}
		if !env.OK {
			return mcptypes.NewToolResultError(apiErrorText(env.Error, status)), nil
		}

		out := map[string]any{
			"status_code": status,
			"data":        env.Data,
		}
		if env.Pagination != nil {
			out["pagination"] = env.Pagination
		}
		return mcptypes.NewToolResultJSON(out)
	}
}

func (b *Bridge) invokeREST(ctx context.Context, apiKey, method, path string, query map[string]any, payload map[string]any) (apiEnvelope, int, error) {
	target := path
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			appendQueryValue(q, k, v)
		}
		qs := q.Encode()
		if qs != "" {
			target += "?" + qs
		}
	}

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apiEnvelope{}, 0, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, body).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	rr := httptest.NewRecorder()
	b.router.ServeHTTP(rr, req)

	var env apiEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		return apiEnvelope{}, rr.Code, fmt.Errorf("invalid API response: %w", err)
	}
	return env, rr.Code, nil
}

func fillPath(path string, args map[string]any) (string, error) {
	out := path
	for _, key := range pathParams(path) {
		value := strings.TrimSpace(argString(args, key))
		if value == "" {
			return "", fmt.Errorf("missing required path argument: %s", key)
		}
		out = strings.ReplaceAll(out, "{"+key+"}", url.PathEscape(value))
	}
	return out, nil
}

func pathParams(path string) []string {
	matches := routeParamPattern.FindAllStringSubmatch(path, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) == 2 {
			out = append(out, m[1])
		}
	}
	return out
}

func getArgMap(args map[string]any, key string) map[string]any {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil
		}
		return out
	}
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		return fmt.Sprint(v)
	}
	if pm := getArgMap(args, "path"); pm != nil {
		if v, ok := pm[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func appendQueryValue(q url.Values, key string, raw any) {
	switch v := raw.(type) {
	case nil:
		return
	case []string:
		for _, it := range v {
			q.Add(key, it)
		}
	case []any:
		for _, it := range v {
			q.Add(key, fmt.Sprint(it))
		}
	default:
		q.Add(key, fmt.Sprint(v))
	}
}

func apiErrorText(apiErr any, status int) string {
	if m, ok := apiErr.(map[string]any); ok {
		code := fmt.Sprint(m["code"])
		msg := fmt.Sprint(m["message"])
		if code != "" && msg != "" {
			return code + ": " + msg
		}
		if msg != "" {
			return msg
		}
	}
	if apiErr != nil {
		return fmt.Sprint(apiErr)
	}
	return fmt.Sprintf("request failed with status %d", status)
}

func extractBearer(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if strings.HasPrefix(strings.ToLower(h), strings.ToLower(prefix)) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return h
}
