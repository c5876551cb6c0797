package mailer

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendInvitationEmail(t *testing.T) {
	var got emailPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	m := NewResend(config.MailConfig{
		APIKey:      "re_test",
		BaseURL:     srv.URL,
		From:        "School <noreply@example.com>",
		FrontendURL: "https://app.example.com/",
	}, discard())

	inv := &entity.Invitation{
		ID:            "inv-1",
		Email:         "teacher@example.com",
		Role:          entity.RoleSchoolAdmin,
		Token:         strings.Repeat("ab", 32),
		CustomMessage: "<b>welcome</b>",
		ExpiresAt:     time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
	}
	if err := m.SendInvitationEmail(context.Background(), inv, &entity.School{Name: "Escola Azul"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer re_test" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
	if len(got.To) != 1 || got.To[0] != "teacher@example.com" {
		t.Fatalf("unexpected recipients %v", got.To)
	}
	if got.Subject != "Invitation to join Escola Azul" {
		t.Fatalf("unexpected subject %q", got.Subject)
	}
	if !strings.Contains(got.HTML, "https://app.example.com/accept-invitation/"+inv.Token) {
		t.Fatal("expected accept link in body")
	}
	if strings.Contains(got.HTML, "<b>welcome</b>") {
		t.Fatal("expected custom message to be escaped")
	}
	if !strings.Contains(got.HTML, "school admin") {
		t.Fatal("expected readable role in body")
	}
}

func TestSendFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	m := NewResend(config.MailConfig{APIKey: "re_test", BaseURL: srv.URL}, discard())
	err := m.SendNotificationEmail(context.Background(), "a@example.com", &entity.Notification{Title: "t", Message: "m"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSendWithoutKey(t *testing.T) {
	m := NewResend(config.MailConfig{BaseURL: "http://127.0.0.1:1"}, discard())
	if err := m.SendNotificationEmail(context.Background(), "a@example.com", &entity.Notification{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
