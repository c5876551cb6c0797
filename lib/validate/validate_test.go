package validate

import (
	"aprendecomigo/lib/errs"
	"strings"
	"testing"
)

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=teacher guardian"`
	Note  string `json:"-" validate:"max=3"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(&sample{Email: "not-an-email"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
	if !strings.Contains(err.Error(), "email email") {
		t.Fatalf("expected email violation, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "role required") {
		t.Fatalf("expected role violation, got %q", err.Error())
	}
}

func TestStructValid(t *testing.T) {
	if err := Struct(sample{Email: "a@b.co", Role: "teacher"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestStructRejectsNonStruct(t *testing.T) {
	if err := Struct("text"); err == nil {
		t.Fatal("expected error for non-struct")
	}
}

func TestVar(t *testing.T) {
	if err := Var("x@y.org", "required,email"); err != nil {
		t.Fatalf("expected valid email, got %v", err)
	}
	if err := Var("x@", "required,email"); err == nil {
		t.Fatal("expected invalid email")
	}
}
