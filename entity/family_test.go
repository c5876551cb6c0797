package entity

import (
	"aprendecomigo/lib/errs"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestNewFamilyBudgetControlRejectsThresholdAboveMonthly(t *testing.T) {
	_, err := NewFamilyBudgetControl("rel-1", dec("100.00"), nil, decimal.RequireFromString("100.01"))
	if err == nil {
		t.Fatal("expected threshold above monthly limit to fail")
	}
	if !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
	if !strings.Contains(err.Error(), "monthly budget limit") {
		t.Fatalf("expected message to mention monthly limit, got %q", err.Error())
	}
}

func TestNewFamilyBudgetControlRejectsThresholdAboveWeekly(t *testing.T) {
	_, err := NewFamilyBudgetControl("rel-1", dec("500"), dec("20"), decimal.RequireFromString("25"))
	if err == nil {
		t.Fatal("expected threshold above weekly limit to fail")
	}
}

func TestNewFamilyBudgetControlAcceptsEqualThreshold(t *testing.T) {
	bc, err := NewFamilyBudgetControl("rel-1", dec("50"), dec("50"), decimal.RequireFromString("50"))
	if err != nil {
		t.Fatalf("expected valid control, got %v", err)
	}
	if !bc.IsActive || !bc.RequireApprovalForSessions || !bc.RequireApprovalForPackages {
		t.Fatal("expected defaults to be active and require approval")
	}
}

func TestFamilyBudgetControlNoLimits(t *testing.T) {
	bc := FamilyBudgetControl{RelationshipID: "rel-1", AutoApprovalThreshold: decimal.RequireFromString("1000")}
	if v := bc.Validate(); len(v) != 0 {
		t.Fatalf("expected no violations without limits, got %v", v)
	}
}

func TestFamilyBudgetControlNegativeValues(t *testing.T) {
	bc := FamilyBudgetControl{
		RelationshipID:        "rel-1",
		MonthlyBudgetLimit:    dec("-1"),
		AutoApprovalThreshold: decimal.RequireFromString("-5"),
	}
	v := bc.Validate()
	if len(v) < 2 {
		t.Fatalf("expected negative values to be reported, got %v", v)
	}
}

func TestParentChildRelationshipSameUser(t *testing.T) {
	rel := ParentChildRelationship{ParentID: "u1", ChildID: "u1", SchoolID: "s1", RelationshipType: RelationshipParent}
	v := rel.Validate()
	if len(v) != 1 || v[0].Field != "child_id" {
		t.Fatalf("expected single child_id violation, got %v", v)
	}
}

func TestRequiresApprovalFor(t *testing.T) {
	bc := FamilyBudgetControl{RequireApprovalForSessions: false, RequireApprovalForPackages: true}
	if bc.RequiresApprovalFor(PurchaseSession) {
		t.Fatal("expected sessions not to require approval")
	}
	if !bc.RequiresApprovalFor(PurchasePackage) || !bc.RequiresApprovalFor(PurchaseSubscription) {
		t.Fatal("expected packages and subscriptions to require approval")
	}
}
