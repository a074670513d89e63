// Package mailer renders and sends the reminder and assignment emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusdesk/internal/config"
)

// ActivitySummary is what a reminder email shows about an activity.
type ActivitySummary struct {
	Title    string
	Date     string
	Time     string
	Location string
	Type     string
}

type Mailer interface {
	SendReminder(ctx context.Context, to, displayName string, activity ActivitySummary) error
	SendAssignmentNotice(ctx context.Context, to, displayName, agentName, conversationID string) error
}

// Email is a rendered message handed to a Transport.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Transport interface {
	Send(ctx context.Context, e Email) error
}

// TemplateMailer renders emails and delivers them through a Transport.
type TemplateMailer struct {
	transport Transport
	fromName  string
	appURL    string
}

func NewTemplateMailer(t Transport, fromName, appURL string) *TemplateMailer {
	return &TemplateMailer{transport: t, fromName: fromName, appURL: strings.TrimRight(appURL, "/")}
}

// New builds the mailer selected by cfg.Mailer.Driver.
func New(cfg config.Config, logger *zap.Logger) (*TemplateMailer, error) {
	m := cfg.Mailer
	var t Transport
	switch m.Driver {
	case "", "log":
		t = NewLogTransport(logger)
	case "resend":
		t = NewResendTransport(m.ResendURL, m.ResendAPIKey, formatFrom(m.FromName, m.FromEmail), nil)
	case "smtp":
		t = NewSMTPTransport(m.SMTPHost, m.SMTPPort, m.SMTPUser, m.SMTPPass, m.FromEmail, m.FromName)
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", m.Driver)
	}
	return NewTemplateMailer(t, m.FromName, m.AppURL), nil
}

func (m *TemplateMailer) SendReminder(ctx context.Context, to, displayName string, a ActivitySummary) error {
	data := reminderData{
		Name:     displayName,
		Title:    a.Title,
		Date:     displayDate(a.Date),
		Time:     displayTime(a.Time),
		Location: a.Location,
		Type:     typeLabel(a.Type),
		From:     m.fromName,
	}
	if data.Title == "" {
		data.Title = "Actividad"
	}
	if data.Location == "" {
		data.Location = "No especificada"
	}
	html, err := render(reminderHTML, data)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Recordatorio: %s\n\nHola %s,\n\nTe recordamos que mañana tienes programada la siguiente actividad:\n\nActividad: %s\nFecha: %s\nHora: %s\nUbicación: %s\nTipo: %s\n\nSaludos,\n%s\n",
		data.Title, data.Name, data.Title, data.Date, data.Time, data.Location, data.Type, data.From)
	return m.transport.Send(ctx, Email{
		To:      to,
		Subject: ReminderSubject(data.Title),
		HTML:    html,
		Text:    text,
	})
}

func (m *TemplateMailer) SendAssignmentNotice(ctx context.Context, to, displayName, agentName, conversationID string) error {
	data := assignmentData{
		Name:      displayName,
		AgentName: agentName,
		Link:      m.appURL + "/chat/" + conversationID,
		From:      m.fromName,
	}
	html, err := render(assignmentHTML, data)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Hola %s,\n\n%s está atendiendo tu caso. Puedes continuar la conversación en %s\n\nSaludos,\n%s\n",
		data.Name, data.AgentName, data.Link, data.From)
	return m.transport.Send(ctx, Email{
		To:      to,
		Subject: AssignmentSubject,
		HTML:    html,
		Text:    text,
	})
}

const AssignmentSubject = "Un agente está atendiendo tu caso"

func ReminderSubject(title string) string {
	return "🔔 Recordatorio: " + title + " mañana"
}

type reminderData struct {
	Name, Title, Date, Time, Location, Type, From string
}

type assignmentData struct {
	Name, AgentName, Link, From string
}

var reminderHTML = template.Must(template.New("reminder").Parse(`<html><body>
<h1>¡Recordatorio de Actividad!</h1>
<p>Hola <strong>{{.Name}}</strong>,</p>
<p>Te recordamos que <strong>mañana</strong> tienes programada la siguiente actividad:</p>
<ul>
<li>📋 Actividad: {{.Title}}</li>
<li>📅 Fecha: {{.Date}}</li>
<li>🕐 Hora: {{.Time}}</li>
<li>📍 Ubicación: {{.Location}}</li>
<li>📝 Tipo: {{.Type}}</li>
</ul>
<p>¡No la olvides! Prepárate con anticipación.</p>
<p>Saludos,<br><strong>{{.From}}</strong></p>
<p><em>Este es un correo automático, por favor no respondas a este mensaje.</em></p>
</body></html>`))

var assignmentHTML = template.Must(template.New("assignment").Parse(`<html><body>
<p>Hola <strong>{{.Name}}</strong>,</p>
<p><strong>{{.AgentName}}</strong> está atendiendo tu caso.</p>
<p><a href="{{.Link}}">Continuar la conversación</a></p>
<p>Saludos,<br><strong>{{.From}}</strong></p>
</body></html>`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func displayDate(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return d.Format("02/01/2006")
}

func displayTime(clock string) string {
	if len(clock) >= 5 {
		return clock[:5]
	}
	return clock
}

var typeLabels = map[string]string{
	"class":      "Clase",
	"exam":       "Examen",
	"assignment": "Tarea",
	"meeting":    "Reunión",
	"other":      "Otro",
}

func typeLabel(t string) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "Actividad"
}

func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}
