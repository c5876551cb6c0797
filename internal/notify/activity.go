package notify

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/events"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RecordActivity is an events.Handler writing the school activity feed.
func (s *Service) RecordActivity(ctx context.Context, evt events.Event) {
	if evt.SchoolID == "" {
		return
	}
	a := &entity.Activity{
		ID:          uuid.NewString(),
		SchoolID:    evt.SchoolID,
		Type:        string(evt.Type),
		ActorID:     evt.ActorID,
		TargetID:    evt.SubjectID(),
		Description: describe(evt),
		CreatedAt:   evt.OccurredAt,
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if err := s.repo.SaveActivity(ctx, a); err != nil {
		s.log.With(slog.String("event", string(evt.Type)), sl.Err(err)).Error("save activity")
	}
}

func (s *Service) Activities(ctx context.Context, schoolID string, limit int) ([]*entity.Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.GetActivities(ctx, schoolID, limit)
}

func describe(evt events.Event) string {
	if inv := evt.Invitation; inv != nil {
		switch evt.Type {
		case events.InvitationCreated:
			return fmt.Sprintf("%s invited as %s", inv.Email, inv.Role)
		case events.InvitationDeliveryFailed:
			return fmt.Sprintf("invitation email to %s failed: %s", inv.Email, inv.FailureReason)
		default:
			return fmt.Sprintf("invitation for %s is %s", inv.Email, inv.Status)
		}
	}
	if req := evt.Request; req != nil {
		if evt.Type == events.TransactionCompleted {
			return fmt.Sprintf("payment of %s completed", req.Amount.StringFixed(2))
		}
		if evt.Type == events.BudgetExceeded {
			return fmt.Sprintf("purchase of %s blocked by budget", req.Amount.StringFixed(2))
		}
		return fmt.Sprintf("purchase request of %s is %s", req.Amount.StringFixed(2), req.Status)
	}
	return string(evt.Type)
}
