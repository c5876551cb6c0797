package entity

import "time"

type NotificationType string

const (
	NotificationInvitationAccepted NotificationType = "invitation_accepted"
	NotificationInvitationDeclined NotificationType = "invitation_declined"
	NotificationApprovalRequested  NotificationType = "purchase_approval_requested"
	NotificationApprovalResolved   NotificationType = "purchase_approval_resolved"
	NotificationBudgetExceeded     NotificationType = "budget_limit_exceeded"
	NotificationLowBalance         NotificationType = "low_balance"
	NotificationPackageExpiring    NotificationType = "package_expiring"
)

// Notification is an in-app message for a user.
type Notification struct {
	ID        string           `json:"id" bson:"_id"`
	UserID    string           `json:"user_id" bson:"user_id"`
	Type      NotificationType `json:"notification_type" bson:"type"`
	Title     string           `json:"title" bson:"title"`
	Message   string           `json:"message" bson:"message"`
	RelatedID string           `json:"related_id,omitempty" bson:"related_id,omitempty"`
	IsRead    bool             `json:"is_read" bson:"is_read"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// Activity is an entry of a school's activity feed.
type Activity struct {
	ID          string    `json:"id" bson:"_id"`
	SchoolID    string    `json:"school_id" bson:"school_id"`
	Type        string    `json:"activity_type" bson:"type"`
	ActorID     string    `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	TargetID    string    `json:"target_id" bson:"target_id"`
	Description string    `json:"description" bson:"description"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}
