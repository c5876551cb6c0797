package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction is a purchase recorded in the ledger. Only completed
// transactions count towards the family budget windows.
type Transaction struct {
	ID                string            `json:"id" bson:"_id"`
	StudentID         string            `json:"student_id" bson:"student_id"`
	SchoolID          string            `json:"school_id" bson:"school_id"`
	ApprovalRequestID string            `json:"approval_request_id,omitempty" bson:"approval_request_id,omitempty"`
	Amount            decimal.Decimal   `json:"amount" bson:"amount"`
	Currency          string            `json:"currency" bson:"currency"`
	Type              PurchaseType      `json:"type" bson:"type"`
	Status            TransactionStatus `json:"status" bson:"status"`
	StripeSessionID   string            `json:"stripe_session_id,omitempty" bson:"stripe_session_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at" bson:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}
