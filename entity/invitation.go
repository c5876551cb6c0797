package entity

import (
	"aprendecomigo/lib/validate"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// InvitationStatus follows pending → sent → delivered → viewed → accepted|declined;
// any non-terminal status may move to expired or cancelled.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationSent      InvitationStatus = "sent"
	InvitationDelivered InvitationStatus = "delivered"
	InvitationViewed    InvitationStatus = "viewed"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted.
func (s InvitationStatus) IsTerminal() bool {
	switch s {
	case InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
		return true
	}
	return false
}

func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationSent, InvitationDelivered, InvitationViewed,
		InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryNotSent   DeliveryStatus = "not_sent"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

const (
	InvitationTokenBytes    = 32
	DefaultInvitationExpiry = 7 * 24 * time.Hour
	DefaultMaxRetries       = 3
)

type Invitation struct {
	ID                  string           `json:"id" bson:"_id"`
	SchoolID            string           `json:"school_id" bson:"school_id"`
	Email               string           `json:"email" bson:"email"`
	Role                Role             `json:"role" bson:"role"`
	InvitedBy           string           `json:"invited_by" bson:"invited_by"`
	Token               string           `json:"-" bson:"token"`
	Status              InvitationStatus `json:"status" bson:"status"`
	EmailDeliveryStatus DeliveryStatus   `json:"email_delivery_status" bson:"email_delivery_status"`
	EmailSentAt         *time.Time       `json:"email_sent_at,omitempty" bson:"email_sent_at,omitempty"`
	FailureReason       string           `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	RetryCount          int              `json:"retry_count" bson:"retry_count"`
	MaxRetries          int              `json:"max_retries" bson:"max_retries"`
	ExpiresAt           time.Time        `json:"expires_at" bson:"expires_at"`
	DeliveredAt         *time.Time       `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
	ViewedAt            *time.Time       `json:"viewed_at,omitempty" bson:"viewed_at,omitempty"`
	IsAccepted          bool             `json:"is_accepted" bson:"is_accepted"`
	AcceptedAt          *time.Time       `json:"accepted_at,omitempty" bson:"accepted_at,omitempty"`
	DeclinedAt          *time.Time       `json:"declined_at,omitempty" bson:"declined_at,omitempty"`
	CancelledAt         *time.Time       `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CustomMessage       string           `json:"custom_message,omitempty" bson:"custom_message,omitempty"`
	BatchID             string           `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	// Active mirrors !Status.IsTerminal() so the store can enforce
	// one active invitation per (school, email) with a partial unique index.
	Active    bool      `json:"-" bson:"active"`
	Version   int64     `json:"-" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// IsExpired compares against the expiry time only; the status may still be
// non-terminal until the sweep or the next action records it.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IsActive is true for non-terminal, non-expired invitations.
func (i *Invitation) IsActive(now time.Time) bool {
	return !i.Status.IsTerminal() && !i.IsExpired(now)
}

func (i *Invitation) CanAccept(now time.Time) bool {
	return i.IsActive(now)
}

// SetStatus keeps the Active flag consistent with the status.
func (i *Invitation) SetStatus(status InvitationStatus, now time.Time) {
	i.Status = status
	i.Active = !status.IsTerminal()
	i.UpdatedAt = now
}

// NewInvitationToken returns a 64-character hex string carrying 256 bits
// from the system CSPRNG.
func NewInvitationToken() (string, error) {
	buf := make([]byte, InvitationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NormalizeEmail lower-cases and trims an address so (school, email)
// uniqueness is not defeated by casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type InvitationRequest struct {
	SchoolID      string `json:"school_id" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Role          Role   `json:"role" validate:"required,oneof=teacher guardian school_admin student"`
	CustomMessage string `json:"custom_message" validate:"max=1000"`
	BatchID       string `json:"batch_id"`
}

func (r *InvitationRequest) Bind(_ *http.Request) error {
	r.Email = NormalizeEmail(r.Email)
	return validate.Struct(r)
}

type BulkInvitationRequest struct {
	SchoolID      string   `json:"school_id" validate:"required"`
	Emails        []string `json:"emails" validate:"required,min=1,max=100"`
	Role          Role     `json:"role" validate:"required,oneof=teacher guardian school_admin student"`
	CustomMessage string   `json:"custom_message" validate:"max=1000"`
}

func (r *BulkInvitationRequest) Bind(_ *http.Request) error {
	for i := range r.Emails {
		r.Emails[i] = NormalizeEmail(r.Emails[i])
	}
	return validate.Struct(r)
}

// DeliveryResult is the outcome of a single email delivery attempt.
type DeliveryResult struct {
	InvitationID string         `json:"invitation_id"`
	Email        string         `json:"email"`
	Success      bool           `json:"success"`
	Status       DeliveryStatus `json:"email_delivery_status"`
	RetryCount   int            `json:"retry_count"`
	Error        string         `json:"error,omitempty"`
}

type BulkFailure struct {
	Email        string `json:"email"`
	InvitationID string `json:"invitation_id,omitempty"`
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
}

type BulkResult struct {
	BatchID      string            `json:"batch_id,omitempty"`
	Successful   []*DeliveryResult `json:"successful"`
	Failed       []*BulkFailure    `json:"failed"`
	Total        int               `json:"total"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
}

// InvitationStatusView is the guest-facing projection returned for a token.
type InvitationStatusView struct {
	Email      string           `json:"email"`
	Role       Role             `json:"role"`
	SchoolID   string           `json:"school_id"`
	SchoolName string           `json:"school_name,omitempty"`
	Status     InvitationStatus `json:"status"`
	ExpiresAt  time.Time        `json:"expires_at"`
	IsExpired  bool             `json:"is_expired"`
	CanAccept  bool             `json:"can_accept"`
	Message    string           `json:"custom_message,omitempty"`
}

type BatchStatus struct {
	BatchID  string                   `json:"batch_id"`
	SchoolID string                   `json:"school_id"`
	Total    int                      `json:"total"`
	Status   map[InvitationStatus]int `json:"status"`
	Email    map[DeliveryStatus]int   `json:"email_delivery_status"`
}
