package notify

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/internal/database"
	"aprendecomigo/internal/events"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeMailer struct {
	to []string
}

func (m *fakeMailer) SendNotificationEmail(_ context.Context, to string, _ *entity.Notification) error {
	m.to = append(m.to, to)
	return nil
}

func newService(t *testing.T) (*Service, *database.Memory, *fakeMailer, *time.Time) {
	t.Helper()
	db := database.NewMemory()
	mailer := &fakeMailer{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s := New(&config.Config{}, db, mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetClock(func() time.Time { return now })
	err := db.SaveUser(context.Background(), &entity.User{ID: "parent-1", Username: "ana", Email: "ana@example.com", Token: "t1"})
	if err != nil {
		t.Fatalf("save user: %v", err)
	}
	return s, db, mailer, &now
}

func TestNotifyDedup(t *testing.T) {
	s, db, mailer, now := newService(t)
	ctx := context.Background()
	n := func(tp entity.NotificationType) *entity.Notification {
		return &entity.Notification{UserID: "parent-1", Type: tp, Title: "t", Message: "m"}
	}

	sent, err := s.Notify(ctx, n(entity.NotificationLowBalance))
	if err != nil || !sent {
		t.Fatalf("expected first notification sent, got %v %v", sent, err)
	}
	*now = now.Add(23 * time.Hour)
	if sent, _ = s.Notify(ctx, n(entity.NotificationLowBalance)); sent {
		t.Fatal("expected duplicate within 24h to be suppressed")
	}
	if sent, _ = s.Notify(ctx, n(entity.NotificationPackageExpiring)); !sent {
		t.Fatal("expected other type to be sent")
	}
	*now = now.Add(2 * time.Hour)
	if sent, _ = s.Notify(ctx, n(entity.NotificationLowBalance)); !sent {
		t.Fatal("expected notification after the window to be sent")
	}

	list, _ := db.GetNotifications(ctx, "parent-1", 0)
	if len(list) != 3 {
		t.Fatalf("expected 3 stored notifications, got %d", len(list))
	}
	if len(mailer.to) != 3 || mailer.to[0] != "ana@example.com" {
		t.Fatalf("expected 3 emails to ana, got %v", mailer.to)
	}
}

func TestNotifyUnknownUserStillStores(t *testing.T) {
	s, _, mailer, _ := newService(t)
	sent, err := s.Notify(context.Background(), &entity.Notification{UserID: "ghost", Type: entity.NotificationLowBalance})
	if err != nil || !sent {
		t.Fatalf("expected notification stored, got %v %v", sent, err)
	}
	if len(mailer.to) != 0 {
		t.Fatal("expected no email without a user")
	}
}

func TestHandleEvent(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()
	req := &entity.PurchaseApprovalRequest{
		ID:          "r1",
		StudentID:   "student-1",
		ParentID:    "parent-1",
		Amount:      decimal.RequireFromString("45"),
		Description: "lessons",
		Status:      entity.ApprovalPending,
	}
	s.HandleEvent(ctx, events.Event{Type: events.ApprovalRequested, Request: req})

	list, _ := s.ForUser(ctx, "parent-1", 10)
	if len(list) != 1 || list[0].Type != entity.NotificationApprovalRequested || list[0].RelatedID != "r1" {
		t.Fatalf("unexpected parent notifications %+v", list)
	}
	if !strings.Contains(list[0].Message, "45.00") {
		t.Fatalf("expected amount in message, got %q", list[0].Message)
	}

	req.Status = entity.ApprovalApproved
	s.HandleEvent(ctx, events.Event{Type: events.ApprovalApproved, Request: req})
	list, _ = s.ForUser(ctx, "student-1", 10)
	if len(list) != 1 || list[0].Type != entity.NotificationApprovalResolved {
		t.Fatalf("unexpected student notifications %+v", list)
	}

	s.HandleEvent(ctx, events.Event{Type: events.InvitationViewed, Invitation: &entity.Invitation{ID: "i1", InvitedBy: "parent-1"}})
	list, _ = s.ForUser(ctx, "parent-1", 10)
	if len(list) != 1 {
		t.Fatalf("expected viewed event to be ignored, got %d notifications", len(list))
	}
}

func TestRecordActivity(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()
	inv := &entity.Invitation{ID: "i1", SchoolID: "school-1", Email: "t@example.com", Role: entity.RoleTeacher, Status: entity.InvitationAccepted}
	s.RecordActivity(ctx, events.Event{Type: events.InvitationAccepted, SchoolID: "school-1", ActorID: "u1", Invitation: inv})
	s.RecordActivity(ctx, events.Event{Type: events.InvitationAccepted, Invitation: inv})

	list, err := s.Activities(ctx, "school-1", 0)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one activity, got %d", len(list))
	}
	if list[0].TargetID != "i1" || list[0].Type != string(events.InvitationAccepted) || list[0].ActorID != "u1" {
		t.Fatalf("unexpected activity %+v", list[0])
	}
}
