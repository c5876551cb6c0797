package entity

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPurchaseApprovalRequestValidate(t *testing.T) {
	rel := &ParentChildRelationship{ID: "rel", ParentID: "parent", ChildID: "student", IsActive: true}
	base := PurchaseApprovalRequest{
		StudentID:   "student",
		ParentID:    "parent",
		Amount:      decimal.RequireFromString("10.00"),
		Description: "1h maths",
		RequestType: PurchaseSession,
	}
	if v := base.Validate(rel); len(v) != 0 {
		t.Fatalf("expected valid request, got %v", v)
	}

	same := base
	same.ParentID = "student"
	if v := same.Validate(nil); len(v) == 0 {
		t.Fatal("expected same student and parent to fail")
	}

	mismatch := base
	mismatch.ParentID = "other-parent"
	if v := mismatch.Validate(rel); len(v) == 0 {
		t.Fatal("expected relationship mismatch to fail")
	}

	zero := base
	zero.Amount = decimal.Zero
	if v := zero.Validate(rel); len(v) == 0 {
		t.Fatal("expected zero amount to fail")
	}

	inactive := *rel
	inactive.IsActive = false
	if v := base.Validate(&inactive); len(v) == 0 {
		t.Fatal("expected inactive relationship to fail")
	}
}

func TestSchoolCountryCode(t *testing.T) {
	s := School{Country: "pt"}
	if got := s.CountryCode(); got != "PT" {
		t.Fatalf("expected PT, got %s", got)
	}
	s.Country = "Portugal"
	if got := s.CountryCode(); got != "PT" {
		t.Fatalf("expected PT for Portugal, got %s", got)
	}
	s.Country = "Atlantis"
	if got := s.CountryCode(); got != "" {
		t.Fatalf("expected empty code, got %s", got)
	}
}
