package entity

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type RelationshipType string

const (
	RelationshipParent   RelationshipType = "parent"
	RelationshipGuardian RelationshipType = "guardian"
	RelationshipOther    RelationshipType = "other"
)

type ParentChildRelationship struct {
	ID               string           `json:"id" bson:"_id"`
	ParentID         string           `json:"parent_id" bson:"parent_id"`
	ChildID          string           `json:"child_id" bson:"child_id"`
	SchoolID         string           `json:"school_id" bson:"school_id"`
	RelationshipType RelationshipType `json:"relationship_type" bson:"relationship_type"`
	IsActive         bool             `json:"is_active" bson:"is_active"`
	CreatedAt        time.Time        `json:"created_at" bson:"created_at"`
}

func (r *ParentChildRelationship) Validate() Violations {
	var v Violations
	if r.ParentID == "" {
		v = v.Add("parent_id", "parent is required")
	}
	if r.ChildID == "" {
		v = v.Add("child_id", "child is required")
	}
	if r.SchoolID == "" {
		v = v.Add("school_id", "school is required")
	}
	if r.ParentID != "" && r.ParentID == r.ChildID {
		v = v.Add("child_id", "parent and child cannot be the same user")
	}
	switch r.RelationshipType {
	case RelationshipParent, RelationshipGuardian, RelationshipOther:
	default:
		v = v.Add("relationship_type", "unknown relationship type")
	}
	return v
}

type RelationshipRequest struct {
	ParentID         string           `json:"parent_id" validate:"required"`
	ChildID          string           `json:"child_id" validate:"required"`
	SchoolID         string           `json:"school_id" validate:"required"`
	RelationshipType RelationshipType `json:"relationship_type"`
}

func (r *RelationshipRequest) Bind(_ *http.Request) error {
	if r.RelationshipType == "" {
		r.RelationshipType = RelationshipParent
	}
	rel := ParentChildRelationship{
		ParentID:         r.ParentID,
		ChildID:          r.ChildID,
		SchoolID:         r.SchoolID,
		RelationshipType: r.RelationshipType,
	}
	return rel.Validate().Err()
}

// FamilyBudgetControl holds the spending rules a parent sets for a child.
// Nil limits mean "no limit" for that window.
type FamilyBudgetControl struct {
	ID                         string           `json:"id" bson:"_id"`
	RelationshipID             string           `json:"relationship_id" bson:"relationship_id"`
	MonthlyBudgetLimit         *decimal.Decimal `json:"monthly_budget_limit" bson:"monthly_budget_limit"`
	WeeklyBudgetLimit          *decimal.Decimal `json:"weekly_budget_limit" bson:"weekly_budget_limit"`
	AutoApprovalThreshold      decimal.Decimal  `json:"auto_approval_threshold" bson:"auto_approval_threshold"`
	RequireApprovalForSessions bool             `json:"require_approval_for_sessions" bson:"require_approval_for_sessions"`
	RequireApprovalForPackages bool             `json:"require_approval_for_packages" bson:"require_approval_for_packages"`
	IsActive                   bool             `json:"is_active" bson:"is_active"`
	CreatedAt                  time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt                  time.Time        `json:"updated_at" bson:"updated_at"`
}

// NewFamilyBudgetControl builds an active control with approval required for
// every purchase type, failing when the limits are inconsistent.
func NewFamilyBudgetControl(relationshipID string, monthly, weekly *decimal.Decimal, threshold decimal.Decimal) (*FamilyBudgetControl, error) {
	bc := &FamilyBudgetControl{
		RelationshipID:             relationshipID,
		MonthlyBudgetLimit:         monthly,
		WeeklyBudgetLimit:          weekly,
		AutoApprovalThreshold:      threshold,
		RequireApprovalForSessions: true,
		RequireApprovalForPackages: true,
		IsActive:                   true,
	}
	if err := bc.Validate().Err(); err != nil {
		return nil, err
	}
	return bc, nil
}

func (b *FamilyBudgetControl) Validate() Violations {
	var v Violations
	if b.RelationshipID == "" {
		v = v.Add("relationship_id", "relationship is required")
	}
	if b.AutoApprovalThreshold.IsNegative() {
		v = v.Add("auto_approval_threshold", "auto-approval threshold cannot be negative")
	}
	if b.MonthlyBudgetLimit != nil {
		if b.MonthlyBudgetLimit.IsNegative() {
			v = v.Add("monthly_budget_limit", "monthly budget limit cannot be negative")
		}
		if b.AutoApprovalThreshold.GreaterThan(*b.MonthlyBudgetLimit) {
			v = v.Add("auto_approval_threshold", "auto-approval threshold cannot exceed monthly budget limit")
		}
	}
	if b.WeeklyBudgetLimit != nil {
		if b.WeeklyBudgetLimit.IsNegative() {
			v = v.Add("weekly_budget_limit", "weekly budget limit cannot be negative")
		}
		if b.AutoApprovalThreshold.GreaterThan(*b.WeeklyBudgetLimit) {
			v = v.Add("auto_approval_threshold", "auto-approval threshold cannot exceed weekly budget limit")
		}
	}
	return v
}

// RequiresApprovalFor reports whether purchases of the given type fall under
// the auto-approval threshold rule. When false, any allowed purchase of that
// type is approved without parent action.
func (b *FamilyBudgetControl) RequiresApprovalFor(t PurchaseType) bool {
	switch t {
	case PurchaseSession:
		return b.RequireApprovalForSessions
	default:
		return b.RequireApprovalForPackages
	}
}

type BudgetControlRequest struct {
	MonthlyBudgetLimit         *decimal.Decimal `json:"monthly_budget_limit"`
	WeeklyBudgetLimit          *decimal.Decimal `json:"weekly_budget_limit"`
	AutoApprovalThreshold      decimal.Decimal  `json:"auto_approval_threshold"`
	RequireApprovalForSessions *bool            `json:"require_approval_for_sessions"`
	RequireApprovalForPackages *bool            `json:"require_approval_for_packages"`
	IsActive                   *bool            `json:"is_active"`
}

func (r *BudgetControlRequest) Bind(_ *http.Request) error {
	return nil
}

// Apply copies the request onto a control; unset flags keep their current value.
func (r *BudgetControlRequest) Apply(b *FamilyBudgetControl) {
	b.MonthlyBudgetLimit = r.MonthlyBudgetLimit
	b.WeeklyBudgetLimit = r.WeeklyBudgetLimit
	b.AutoApprovalThreshold = r.AutoApprovalThreshold
	if r.RequireApprovalForSessions != nil {
		b.RequireApprovalForSessions = *r.RequireApprovalForSessions
	}
	if r.RequireApprovalForPackages != nil {
		b.RequireApprovalForPackages = *r.RequireApprovalForPackages
	}
	if r.IsActive != nil {
		b.IsActive = *r.IsActive
	}
}

// BudgetCheck is the result of evaluating an amount against a budget control.
type BudgetCheck struct {
	Allowed                bool            `json:"allowed"`
	CanAutoApprove         bool            `json:"can_auto_approve"`
	ApprovalWaived         bool            `json:"approval_waived,omitempty"`
	Reasons                []string        `json:"reasons"`
	CurrentMonthlySpending decimal.Decimal `json:"current_monthly_spending"`
	CurrentWeeklySpending  decimal.Decimal `json:"current_weekly_spending"`
}
