// Package notify turns domain events into in-app notifications, emails and
// school activity records.
package notify

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/internal/events"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultDedupWindow = 24 * time.Hour

type Repository interface {
	GetUserByID(ctx context.Context, id string) (*entity.User, error)
	SaveNotification(ctx context.Context, n *entity.Notification) error
	LastNotification(ctx context.Context, userID string, t entity.NotificationType) (*entity.Notification, error)
	GetNotifications(ctx context.Context, userID string, limit int) ([]*entity.Notification, error)
	SaveActivity(ctx context.Context, a *entity.Activity) error
	GetActivities(ctx context.Context, schoolID string, limit int) ([]*entity.Activity, error)
}

type Mailer interface {
	SendNotificationEmail(ctx context.Context, to string, n *entity.Notification) error
}

type Service struct {
	repo   Repository
	mailer Mailer
	log    *slog.Logger
	now    func() time.Time
	dedup  time.Duration
}

func New(conf *config.Config, repo Repository, mailer Mailer, log *slog.Logger) *Service {
	s := &Service{
		repo:   repo,
		mailer: mailer,
		log:    log.With(sl.Module("notify")),
		now:    time.Now,
		dedup:  DefaultDedupWindow,
	}
	if conf != nil && conf.Notification.DedupHours > 0 {
		s.dedup = time.Duration(conf.Notification.DedupHours) * time.Hour
	}
	return s
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Notify stores a notification and emails the user unless one of the same
// type was created for them within the dedup window. The boolean reports
// whether anything was sent.
func (s *Service) Notify(ctx context.Context, n *entity.Notification) (bool, error) {
	if n.UserID == "" {
		return false, nil
	}
	now := s.now()
	last, err := s.repo.LastNotification(ctx, n.UserID, n.Type)
	if err != nil {
		return false, fmt.Errorf("last notification: %w", err)
	}
	if last != nil && now.Sub(last.CreatedAt) < s.dedup {
		s.log.With(
			slog.String("user_id", n.UserID),
			slog.String("type", string(n.Type)),
		).Debug("notification suppressed")
		return false, nil
	}

	n.ID = uuid.NewString()
	n.CreatedAt = now
	if err = s.repo.SaveNotification(ctx, n); err != nil {
		return false, fmt.Errorf("save notification: %w", err)
	}

	if s.mailer != nil {
		user, err := s.repo.GetUserByID(ctx, n.UserID)
		switch {
		case err != nil:
			s.log.With(slog.String("user_id", n.UserID), sl.Err(err)).Debug("notification email skipped")
		case user.Email != "":
			if err = s.mailer.SendNotificationEmail(ctx, user.Email, n); err != nil {
				s.log.With(slog.String("user_id", n.UserID), sl.Err(err)).Warn("notification email failed")
			}
		}
	}
	return true, nil
}

func (s *Service) ForUser(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.GetNotifications(ctx, userID, limit)
}

// HandleEvent is an events.Handler that notifies the party waiting on the
// outcome of the event.
func (s *Service) HandleEvent(ctx context.Context, evt events.Event) {
	n := notificationFor(evt)
	if n == nil {
		return
	}
	if _, err := s.Notify(ctx, n); err != nil {
		s.log.With(
			slog.String("event", string(evt.Type)),
			slog.String("subject_id", evt.SubjectID()),
			sl.Err(err),
		).Error("notify")
	}
}

func notificationFor(evt events.Event) *entity.Notification {
	switch evt.Type {
	case events.InvitationAccepted:
		inv := evt.Invitation
		return &entity.Notification{
			UserID:    inv.InvitedBy,
			Type:      entity.NotificationInvitationAccepted,
			Title:     "Invitation accepted",
			Message:   fmt.Sprintf("%s accepted the invitation to join as %s.", inv.Email, inv.Role),
			RelatedID: inv.ID,
		}
	case events.InvitationDeclined:
		inv := evt.Invitation
		return &entity.Notification{
			UserID:    inv.InvitedBy,
			Type:      entity.NotificationInvitationDeclined,
			Title:     "Invitation declined",
			Message:   fmt.Sprintf("%s declined the invitation to join as %s.", inv.Email, inv.Role),
			RelatedID: inv.ID,
		}
	case events.ApprovalRequested:
		req := evt.Request
		return &entity.Notification{
			UserID:    req.ParentID,
			Type:      entity.NotificationApprovalRequested,
			Title:     "Purchase approval requested",
			Message:   fmt.Sprintf("A purchase of %s for \"%s\" is waiting for your approval.", req.Amount.StringFixed(2), req.Description),
			RelatedID: req.ID,
		}
	case events.ApprovalApproved, events.ApprovalDenied:
		req := evt.Request
		if req.AutoApproved {
			return nil
		}
		return &entity.Notification{
			UserID:    req.StudentID,
			Type:      entity.NotificationApprovalResolved,
			Title:     "Purchase request " + string(req.Status),
			Message:   fmt.Sprintf("Your purchase of %s for \"%s\" was %s.", req.Amount.StringFixed(2), req.Description, req.Status),
			RelatedID: req.ID,
		}
	case events.BudgetExceeded:
		req := evt.Request
		return &entity.Notification{
			UserID:    req.ParentID,
			Type:      entity.NotificationBudgetExceeded,
			Title:     "Budget limit reached",
			Message:   fmt.Sprintf("A purchase of %s was blocked: %s", req.Amount.StringFixed(2), strings.Join(evt.Reasons, "; ")),
			RelatedID: req.ID,
		}
	}
	return nil
}
