// Package events carries domain events from the engines to subscribers.
//
// Engines publish after a state change is persisted; Publish runs every
// subscriber synchronously in subscription order, so side effects such as
// activity records and notifications happen within the same call.
package events

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Type string

const (
	InvitationCreated        Type = "invitation.created"
	InvitationSent           Type = "invitation.sent"
	InvitationDeliveryFailed Type = "invitation.delivery_failed"
	InvitationDelivered      Type = "invitation.delivered"
	InvitationViewed         Type = "invitation.viewed"
	InvitationAccepted       Type = "invitation.accepted"
	InvitationDeclined       Type = "invitation.declined"
	InvitationCancelled      Type = "invitation.cancelled"
	InvitationExpired        Type = "invitation.expired"

	ApprovalRequested Type = "approval.requested"
	ApprovalApproved  Type = "approval.approved"
	ApprovalDenied    Type = "approval.denied"
	ApprovalCancelled Type = "approval.cancelled"
	ApprovalExpired   Type = "approval.expired"
	BudgetExceeded    Type = "approval.budget_exceeded"

	TransactionCompleted Type = "transaction.completed"
)

type Event struct {
	Type       Type
	SchoolID   string
	ActorID    string
	OccurredAt time.Time
	Invitation *entity.Invitation
	Request    *entity.PurchaseApprovalRequest
	// Reasons lists budget-check reasons for BudgetExceeded
	Reasons []string
}

// SubjectID returns the id of the entity the event is about.
func (e Event) SubjectID() string {
	switch {
	case e.Invitation != nil:
		return e.Invitation.ID
	case e.Request != nil:
		return e.Request.ID
	}
	return ""
}

type Handler func(ctx context.Context, evt Event)

type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log: log.With(sl.Module("events")),
	}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to all subscribers. A panicking subscriber is
// logged and does not prevent the others from running.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.With(
				slog.String("event", string(evt.Type)),
				slog.String("subject_id", evt.SubjectID()),
				sl.Err(fmt.Errorf("panic: %v", r)),
			).Error("event subscriber")
		}
	}()
	h(ctx, evt)
}
