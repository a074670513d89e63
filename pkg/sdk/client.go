// Package sdk is a small Go client for the campusdesk REST API and its
// live chat socket.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type Config struct {
	// BaseURL is the server URL. Empty means CAMPUSDESK_URL, then
	// http://localhost:8080.
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	Accounts      *AccountsService
	Support       *SupportService
	Conversations *ConversationsService
	Notifications *NotificationsService
	FAQs          *FAQsService
	Admin         *AdminService
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		BaseURL: resolveURL(cfg.BaseURL),
		APIKey:  cfg.APIKey,
		HTTP:    &http.Client{Timeout: cfg.Timeout},
	}
	c.Accounts = &AccountsService{client: c}
	c.Support = &SupportService{client: c}
	c.Conversations = &ConversationsService{client: c}
	c.Notifications = &NotificationsService{client: c}
	c.FAQs = &FAQsService{client: c}
	c.Admin = &AdminService{client: c}
	return c
}

func resolveURL(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("CAMPUSDESK_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8080"
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("campusdesk: status %d", e.Status)
	}
	return fmt.Sprintf("campusdesk: %s (%d): %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var raw envelope
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !raw.OK || resp.StatusCode >= 300 {
		apiErr := raw.Error
		if apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out != nil && len(raw.Data) > 0 {
		return json.Unmarshal(raw.Data, out)
	}
	return nil
}

type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	FullName    string    `json:"full_name"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type AccountsService struct{ client *Client }

func (s *AccountsService) Me(ctx context.Context) (Account, error) {
	var out struct {
		Account Account `json:"account"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/accounts/me", nil, &out)
	return out.Account, err
}

type AdminService struct{ client *Client }

func (s *AdminService) Stats(ctx context.Context) (map[string]int, error) {
	var out struct {
		Stats map[string]int `json:"stats"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &out)
	return out.Stats, err
}

// TriggerReminders runs the reminder job on the server now.
func (s *AdminService) TriggerReminders(ctx context.Context) error {
	return s.client.do(ctx, http.MethodPost, "/api/v1/admin/reminders/trigger", nil, nil)
}
