// Package mailer sends transactional email through the Resend HTTP API.
package mailer

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/lib/sl"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var invitationTemplate = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>{{.SchoolName}}</h1>
    <p>You have been invited to join <strong>{{.SchoolName}}</strong> as <strong>{{.Role}}</strong>.</p>
    {{if .Message}}<blockquote>{{.Message}}</blockquote>{{end}}
    <p><a href="{{.AcceptURL}}" style="display: inline-block; background: #2563eb; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Accept invitation</a></p>
    <p style="color: #6b7280;">This link expires on {{.ExpiresAt}}.</p>
  </div>
</body>
</html>`))

var notificationTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>{{.Title}}</h2>
    <p>{{.Message}}</p>
    <p><a href="{{.URL}}">Open Aprende Comigo</a></p>
  </div>
</body>
</html>`))

type Resend struct {
	apiKey      string
	baseURL     string
	from        string
	frontendURL string
	client      *http.Client
	log         *slog.Logger
}

func NewResend(conf config.MailConfig, log *slog.Logger) *Resend {
	return &Resend{
		apiKey:      conf.APIKey,
		baseURL:     strings.TrimRight(conf.BaseURL, "/"),
		from:        conf.From,
		frontendURL: strings.TrimRight(conf.FrontendURL, "/"),
		client:      &http.Client{Timeout: 15 * time.Second},
		log:         log.With(sl.Module("mailer")),
	}
}

// AcceptURL is the frontend page that carries the invitation token.
func (r *Resend) AcceptURL(token string) string {
	return fmt.Sprintf("%s/accept-invitation/%s", r.frontendURL, token)
}

func (r *Resend) SendInvitationEmail(ctx context.Context, inv *entity.Invitation, school *entity.School) error {
	schoolName := "Aprende Comigo"
	if school != nil && school.Name != "" {
		schoolName = school.Name
	}
	var body bytes.Buffer
	err := invitationTemplate.Execute(&body, map[string]string{
		"SchoolName": schoolName,
		"Role":       strings.ReplaceAll(string(inv.Role), "_", " "),
		"Message":    inv.CustomMessage,
		"AcceptURL":  r.AcceptURL(inv.Token),
		"ExpiresAt":  inv.ExpiresAt.Format("2 January 2006"),
	})
	if err != nil {
		return fmt.Errorf("render invitation: %w", err)
	}
	subject := fmt.Sprintf("Invitation to join %s", schoolName)
	return r.send(ctx, inv.Email, subject, body.String())
}

func (r *Resend) SendNotificationEmail(ctx context.Context, to string, n *entity.Notification) error {
	var body bytes.Buffer
	err := notificationTemplate.Execute(&body, map[string]string{
		"Title":   n.Title,
		"Message": n.Message,
		"URL":     r.frontendURL,
	})
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}
	return r.send(ctx, to, n.Title, body.String())
}

type emailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (r *Resend) send(ctx context.Context, to, subject, html string) error {
	if r.apiKey == "" {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}
	data, err := json.Marshal(emailPayload{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	r.log.With(slog.String("subject", subject)).Debug("email sent")
	return nil
}

// Log stands in for Resend when mail is disabled: every message is logged
// and reported as delivered.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	return &Log{log: log.With(sl.Module("mailer"))}
}

func (l *Log) SendInvitationEmail(_ context.Context, inv *entity.Invitation, _ *entity.School) error {
	l.log.With(
		slog.String("invitation_id", inv.ID),
		sl.Secret("token", inv.Token),
	).Info("invitation email (mail disabled)")
	return nil
}

func (l *Log) SendNotificationEmail(_ context.Context, _ string, n *entity.Notification) error {
	l.log.With(slog.String("type", string(n.Type))).Debug("notification email (mail disabled)")
	return nil
}
