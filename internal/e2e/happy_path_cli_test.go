package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"campusdesk/internal/config"
)

var testBinaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "campusdesk-e2e-bin-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e setup failed: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	binName := "campusdesk"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	testBinaryPath = filepath.Join(tmpDir, binName)

	buildCmd := exec.Command("go", "build", "-o", testBinaryPath, "./cmd/campusdesk")
	buildCmd.Dir = repoRoot()
	buildCmd.Env = os.Environ()
	if out, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "e2e binary build failed: %v\n%s\n", err, string(out))
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type serverHandle struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan error
	baseURL  string
	cfgPath  string
	adminKey string
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

type identity struct {
	Email string
	ID    string
	Key   string
}

type happySummary struct {
	Started         bool
	CreatedAccounts int
	Escalations     int
	PendingSeen     int
	Taken           int
	Replies         int
	Resolved        int
	StatsRequests   int
	StatsPending    int
	ErrorCount      int
}

type teardownSummary struct {
	Started    bool
	CLIReady   bool
	Stopped    bool
	HealthDown bool
	ErrorCount int
}

// TestE2E_HappyPath_SupportHandoff escalates several student conversations
// over HTTP and works them through the agent CLI, one agent per case.
func TestE2E_HappyPath_SupportHandoff(t *testing.T) {
	t.Parallel()

	summary := happySummary{}
	var errs []string
	addErr := func(err error) {
		if err == nil {
			return
		}
		errs = append(errs, err.Error())
		summary.ErrorCount++
	}

	homeDir := t.TempDir()
	port, err := freePort()
	if err != nil {
		addErr(fmt.Errorf("reserve port: %w", err))
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	env := isolatedEnv(baseURL)

	var h *serverHandle
	if summary.ErrorCount == 0 {
		h, err = startServer(homeDir, port, env)
		if err != nil {
			addErr(err)
		} else {
			summary.Started = true
		}
	}

	if h != nil {
		defer func() {
			addErr(stopServer(h, 6*time.Second))
		}()
	}

	const pairs = 3
	students := make([]identity, pairs)
	agents := make([]identity, pairs)
	var mu sync.Mutex

	if h != nil {
		runID := time.Now().UnixNano()
		var wg sync.WaitGroup
		for i := 0; i < pairs; i++ {
			i := i
			for _, role := range []string{"student", "support"} {
				role := role
				wg.Add(1)
				go func() {
					defer wg.Done()
					email := fmt.Sprintf("e2e-%d-%s%d@campus.test", runID, role, i+1)
					ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					defer cancel()
					out, _, runErr := runCLIJSON(ctx, env,
						"--config", h.cfgPath,
						"--json",
						"accounts", "create",
						"--email", email,
						"--name", fmt.Sprintf("%s %d", role, i+1),
						"--role", role,
					)
					mu.Lock()
					defer mu.Unlock()
					if runErr != nil {
						addErr(fmt.Errorf("create account %s: %w", email, runErr))
						return
					}
					id := nestedString(out, "account", "id")
					key := nestedString(out, "api_key")
					if id == "" || key == "" {
						addErr(fmt.Errorf("create account %s missing id/key", email))
						return
					}
					if role == "student" {
						students[i] = identity{Email: email, ID: id, Key: key}
					} else {
						agents[i] = identity{Email: email, ID: id, Key: key}
					}
					summary.CreatedAccounts++
				}()
			}
		}
		wg.Wait()
	}

	conversations := make([]string, pairs)
	if summary.CreatedAccounts == 2*pairs {
		for i, s := range students {
			convID, escErr := escalateOverHTTP(h.baseURL, s.Key)
			if escErr != nil {
				addErr(fmt.Errorf("escalate for %s: %w", s.Email, escErr))
				continue
			}
			conversations[i] = convID
			summary.Escalations++
		}
	}

	requests := map[string]string{}
	if summary.Escalations == pairs {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		out, _, runErr := runCLIJSON(ctx, env,
			"--base-url", h.baseURL,
			"--api-key", agents[0].Key,
			"--json",
			"agent", "requests",
		)
		cancel()
		if runErr != nil {
			addErr(fmt.Errorf("agent requests: %w", runErr))
		}
		for _, p := range nestedSlice(out, "pending") {
			entry, ok := p.(map[string]any)
			if !ok {
				continue
			}
			requests[stringOrEmpty(entry["conversation_id"])] = stringOrEmpty(entry["id"])
		}
		summary.PendingSeen = len(requests)
	}

	if summary.PendingSeen == pairs {
		var wg sync.WaitGroup
		for i := range agents {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				a := agents[i]
				convID := conversations[i]
				requestID := requests[convID]
				run := func(args ...string) (map[string]any, error) {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					full := append([]string{"--base-url", h.baseURL, "--api-key", a.Key, "--json", "agent"}, args...)
					out, _, err := runCLIJSON(ctx, env, full...)
					return out, err
				}

				out, runErr := run("take", requestID)
				mu.Lock()
				if runErr != nil || nestedString(out, "agent_request", "status") != "in_progress" {
					addErr(fmt.Errorf("take %s by %s: %v", requestID, a.Email, runErr))
					mu.Unlock()
					return
				}
				summary.Taken++
				mu.Unlock()

				_, runErr = run("reply", convID, "Hola, soy tu agente de soporte")
				mu.Lock()
				if runErr != nil {
					addErr(fmt.Errorf("reply in %s: %w", convID, runErr))
					mu.Unlock()
					return
				}
				summary.Replies++
				mu.Unlock()

				out, runErr = run("resolve", requestID)
				mu.Lock()
				defer mu.Unlock()
				if runErr != nil || nestedString(out, "agent_request", "status") != "resolved" {
					addErr(fmt.Errorf("resolve %s: %v", requestID, runErr))
					return
				}
				summary.Resolved++
			}()
		}
		wg.Wait()
	}

	if h != nil {
		status, data, getErr := apiCall(http.MethodGet, h.baseURL+"/api/v1/admin/stats", h.adminKey, nil)
		if getErr != nil || status != http.StatusOK {
			addErr(fmt.Errorf("admin stats: status=%d err=%v", status, getErr))
		} else {
			summary.StatsRequests = nestedInt(data, "stats", "agent_requests")
			summary.StatsPending = nestedInt(data, "stats", "agent_requests_pending")
		}
	}

	pass := summary.Started &&
		summary.CreatedAccounts == 2*pairs &&
		summary.Escalations == pairs &&
		summary.PendingSeen == pairs &&
		summary.Taken == pairs &&
		summary.Replies == pairs &&
		summary.Resolved == pairs &&
		summary.StatsRequests == pairs &&
		summary.StatsPending == 0 &&
		summary.ErrorCount == 0

	if !pass {
		t.Fatalf("happy-path e2e failed: summary=%+v errors=%v", summary, errs)
	}
}

func TestE2E_ServerTeardown_IsClean(t *testing.T) {
	t.Parallel()

	summary := teardownSummary{}
	var errs []string
	addErr := func(err error) {
		if err == nil {
			return
		}
		errs = append(errs, err.Error())
		summary.ErrorCount++
	}

	homeDir := t.TempDir()
	port, err := freePort()
	if err != nil {
		addErr(fmt.Errorf("reserve port: %w", err))
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	env := isolatedEnv(baseURL)

	var h *serverHandle
	if summary.ErrorCount == 0 {
		h, err = startServer(homeDir, port, env)
		if err != nil {
			addErr(err)
		} else {
			summary.Started = true
		}
	}

	if h != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		_, _, runErr := runCLI(ctx, env,
			"--config", h.cfgPath,
			"accounts", "list",
		)
		cancel()
		if runErr != nil {
			addErr(fmt.Errorf("accounts list before teardown: %w", runErr))
		} else {
			summary.CLIReady = true
		}
		stopErr := stopServer(h, 6*time.Second)
		if stopErr != nil {
			addErr(stopErr)
		} else {
			summary.Stopped = true
		}
	}

	summary.HealthDown = waitForHealthDown(baseURL, 4*time.Second)
	if !summary.HealthDown {
		addErr(errors.New("health endpoint still reachable after teardown"))
	}

	pass := summary.Started &&
		summary.CLIReady &&
		summary.Stopped &&
		summary.HealthDown &&
		summary.ErrorCount == 0

	if !pass {
		t.Fatalf("teardown e2e failed: summary=%+v errors=%v", summary, errs)
	}
}

func startServer(homeDir string, port int, env []string) (*serverHandle, error) {
	cfgPath, err := writeIsolatedConfig(homeDir, port)
	if err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	out, stderr, err := runCLIJSON(initCtx, env, "--config", cfgPath, "--json", "init", "--admin-email", "admin@campus.test")
	initCancel()
	if err != nil {
		return nil, fmt.Errorf("init: %w stderr=%s", err, stderr)
	}
	adminKey := nestedString(out, "api_key")
	if adminKey == "" {
		return nil, errors.New("init printed no admin key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, testBinaryPath, "--config", cfgPath, "server")
	cmd.Env = env
	stdout := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start server: %w", err)
	}

	h := &serverHandle{
		cmd:      cmd,
		cancel:   cancel,
		done:     make(chan error, 1),
		baseURL:  baseURL,
		cfgPath:  cfgPath,
		adminKey: adminKey,
		stdout:   stdout,
		stderr:   stderrBuf,
	}
	go func() {
		h.done <- cmd.Wait()
	}()

	if waitErr := waitForReady(h, 25*time.Second); waitErr != nil {
		_ = stopServer(h, 3*time.Second)
		return nil, waitErr
	}
	return h, nil
}

func stopServer(h *serverHandle, timeout time.Duration) error {
	if h == nil {
		return nil
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(os.Interrupt)
	}

	waitAndClassify := func(err error) error {
		if err == nil {
			return nil
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "killed") || strings.Contains(msg, "signal") || strings.Contains(msg, "interrupted") || strings.Contains(msg, "exit status") {
			return nil
		}
		return err
	}

	select {
	case err := <-h.done:
		h.cancel()
		return waitAndClassify(err)
	case <-time.After(timeout):
		h.cancel()
		select {
		case err := <-h.done:
			return waitAndClassify(err)
		case <-time.After(2 * time.Second):
			return errors.New("server did not exit after kill")
		}
	}
}

func waitForReady(h *serverHandle, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		select {
		case err := <-h.done:
			return fmt.Errorf("server exited early: %v stderr=%s stdout=%s", err, h.stderr.String(), h.stdout.String())
		default:
		}

		status, _, err := apiCall(http.MethodGet, h.baseURL+"/api/v1/accounts/me", h.adminKey, nil)
		if err == nil && status == http.StatusOK {
			return nil
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for readiness: %v stderr=%s stdout=%s", lastErr, h.stderr.String(), h.stdout.String())
}

func escalateOverHTTP(baseURL, key string) (string, error) {
	status, data, err := apiCall(http.MethodPost, baseURL+"/api/v1/conversations", key, nil)
	if err != nil || status != http.StatusCreated {
		return "", fmt.Errorf("create conversation: status=%d err=%v", status, err)
	}
	convID := nestedString(data, "conversation", "id")
	status, data, err = apiCall(http.MethodPut, baseURL+"/api/v1/conversations/"+convID+"/escalate", key,
		map[string]any{"message": "no puedo ver mis notas"})
	if err != nil || status != http.StatusOK {
		return "", fmt.Errorf("escalate: status=%d err=%v", status, err)
	}
	if got := nestedString(data, "agent_request", "status"); got != "pending" {
		return "", fmt.Errorf("escalate: request status %q", got)
	}
	return convID, nil
}

// apiCall sends one JSON request and returns the status and the envelope's data.
func apiCall(method, url, key string, body any) (int, map[string]any, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode envelope: %w", err)
	}
	return resp.StatusCode, env.Data, nil
}

func runCLI(ctx context.Context, env []string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, testBinaryPath, args...)
	cmd.Env = env
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

func runCLIJSON(ctx context.Context, env []string, args ...string) (map[string]any, string, error) {
	stdout, stderr, err := runCLI(ctx, env, args...)
	if err != nil {
		return nil, stderr, fmt.Errorf("%w stderr=%s", err, stderr)
	}
	var out map[string]any
	if uErr := json.Unmarshal([]byte(stdout), &out); uErr != nil {
		return nil, stderr, fmt.Errorf("decode json output: %w stdout=%s", uErr, stdout)
	}
	return out, stderr, nil
}

func isolatedEnv(baseURL string) []string {
	out := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CAMPUSDESK_") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "CAMPUSDESK_URL="+baseURL)
}

func writeIsolatedConfig(homeDir string, port int) (string, error) {
	cfgPath := filepath.Join(homeDir, "config.yaml")
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Database.Path = filepath.Join(homeDir, "campusdesk.db")
	cfg.Outbox.Schedule = "@every 1s"
	cfg.Logging.Level = "warn"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, b, 0o600); err != nil {
		return "", err
	}
	return cfgPath, nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener addr type")
	}
	return addr.Port, nil
}

func waitForHealthDown(baseURL string, timeout time.Duration) bool {
	client := &http.Client{Timeout: 350 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/healthz")
		if err != nil {
			return true
		}
		io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		time.Sleep(120 * time.Millisecond)
	}
	return false
}

func nestedString(m map[string]any, path ...string) string {
	var current any = m
	for _, p := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = obj[p]
	}
	return stringOrEmpty(current)
}

func nestedInt(m map[string]any, path ...string) int {
	var current any = m
	for _, p := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return 0
		}
		current = obj[p]
	}
	switch v := current.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func nestedSlice(m map[string]any, path ...string) []any {
	var current any = m
	for _, p := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[p]
	}
	v, _ := current.([]any)
	return v
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

func repoRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
