package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/smtp"
	"net/textproto"
	"time"

	"go.uber.org/zap"
)

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

// ResendTransport posts emails to the Resend HTTP API.
type ResendTransport struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

func NewResendTransport(url, apiKey, from string, client *http.Client) *ResendTransport {
	if url == "" {
		url = "https://api.resend.com/emails"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ResendTransport{url: url, apiKey: apiKey, from: from, client: client}
}

func (t *ResendTransport) Send(ctx context.Context, e Email) error {
	body, err := json.Marshal(resendRequest{
		From:    t.from,
		To:      []string{e.To},
		Subject: e.Subject,
		HTML:    e.HTML,
		Text:    e.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("resend API error: status %d", resp.StatusCode)
	}
	return nil
}

// SMTPTransport sends multipart/alternative mail through an SMTP relay.
// net/smtp negotiates STARTTLS when the server offers it.
type SMTPTransport struct {
	host, port string
	user, pass string
	fromEmail  string
	fromName   string
	send       func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPTransport(host, port, user, pass, fromEmail, fromName string) *SMTPTransport {
	return &SMTPTransport{
		host: host, port: port,
		user: user, pass: pass,
		fromEmail: fromEmail, fromName: fromName,
		send: smtp.SendMail,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, e Email) error {
	msg, err := buildMIME(formatFrom(t.fromName, t.fromEmail), e)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if t.user != "" {
		auth = smtp.PlainAuth("", t.user, t.pass, t.host)
	}
	done := make(chan error, 1)
	go func() {
		done <- t.send(t.host+":"+t.port, auth, t.fromEmail, []string{e.To}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func buildMIME(from string, e Email) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=\"UTF-8\"", e.Text},
		{"text/html; charset=\"UTF-8\"", e.HTML},
	} {
		if part.content == "" {
			continue
		}
		pw, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + e.To + "\r\n")
	msg.WriteString("Subject: " + mimeSubject(e.Subject) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: multipart/alternative; boundary=" + w.Boundary() + "\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func mimeSubject(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}

// LogTransport only logs. It is the default for local runs.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, e Email) error {
	t.logger.Info("email (log transport)",
		zap.String("to", e.To),
		zap.String("subject", e.Subject),
		zap.Int("html_bytes", len(e.HTML)),
	)
	return nil
}
