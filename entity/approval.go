package entity

import (
	"aprendecomigo/lib/validate"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalDenied    ApprovalStatus = "denied"
	ApprovalCancelled ApprovalStatus = "cancelled"
	ApprovalExpired   ApprovalStatus = "expired"
)

func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending
}

type PurchaseType string

const (
	PurchaseSession      PurchaseType = "session"
	PurchasePackage      PurchaseType = "package"
	PurchaseSubscription PurchaseType = "subscription"
)

const DefaultApprovalExpiry = 24 * time.Hour

type PurchaseApprovalRequest struct {
	ID             string          `json:"id" bson:"_id"`
	StudentID      string          `json:"student_id" bson:"student_id"`
	ParentID       string          `json:"parent_id" bson:"parent_id"`
	RelationshipID string          `json:"parent_child_relationship_id" bson:"relationship_id"`
	SchoolID       string          `json:"school_id" bson:"school_id"`
	Amount         decimal.Decimal `json:"amount" bson:"amount"`
	Description    string          `json:"description" bson:"description"`
	RequestType    PurchaseType    `json:"request_type" bson:"request_type"`
	PricingPlanID  string          `json:"pricing_plan_id,omitempty" bson:"pricing_plan_id,omitempty"`
	Status         ApprovalStatus  `json:"status" bson:"status"`
	AutoApproved   bool            `json:"auto_approved" bson:"auto_approved"`
	ExpiresAt      time.Time       `json:"expires_at" bson:"expires_at"`
	RespondedAt    *time.Time      `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
	ParentNotes    string          `json:"parent_notes,omitempty" bson:"parent_notes,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Version        int64           `json:"-" bson:"version"`
	CreatedAt      time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" bson:"updated_at"`
}

func (r *PurchaseApprovalRequest) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Validate checks the request against its relationship; rel may be nil when
// the caller has not resolved it yet.
func (r *PurchaseApprovalRequest) Validate(rel *ParentChildRelationship) Violations {
	var v Violations
	if r.StudentID == "" {
		v = v.Add("student_id", "student is required")
	}
	if r.ParentID == "" {
		v = v.Add("parent_id", "parent is required")
	}
	if r.StudentID != "" && r.StudentID == r.ParentID {
		v = v.Add("parent_id", "student and parent cannot be the same user")
	}
	if !r.Amount.IsPositive() {
		v = v.Add("amount", "amount must be greater than zero")
	}
	if strings.TrimSpace(r.Description) == "" {
		v = v.Add("description", "description is required")
	}
	switch r.RequestType {
	case PurchaseSession, PurchasePackage, PurchaseSubscription:
	default:
		v = v.Add("request_type", "unknown request type")
	}
	if rel != nil {
		if rel.ParentID != r.ParentID || rel.ChildID != r.StudentID {
			v = v.Add("parent_child_relationship", "relationship does not match student and parent")
		}
		if !rel.IsActive {
			v = v.Add("parent_child_relationship", "relationship is not active")
		}
	}
	return v
}

// PurchaseRequest is the student-facing payload for a purchase that may
// need parental approval.
type PurchaseRequest struct {
	RelationshipID string          `json:"parent_child_relationship_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description" validate:"required,max=500"`
	RequestType    PurchaseType    `json:"request_type" validate:"required,oneof=session package subscription"`
	PricingPlanID  string          `json:"pricing_plan_id"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
}

func (r *PurchaseRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

type ApprovalDecision struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func (d *ApprovalDecision) Bind(_ *http.Request) error {
	return validate.Struct(d)
}

// PurchaseOutcome is returned after submitting a purchase request.
type PurchaseOutcome struct {
	Request *PurchaseApprovalRequest `json:"request"`
	Check   *BudgetCheck             `json:"budget_check"`
	Payment *Payment                 `json:"payment,omitempty"`
}
