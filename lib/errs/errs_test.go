package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	base := New(CodeInvitationExpired, "invitation has expired")
	wrapped := fmt.Errorf("accept: %w", base)
	if !HasCode(wrapped, CodeInvitationExpired) {
		t.Fatal("expected wrapped error to carry expired code")
	}
	if HasCode(wrapped, CodeInvitationCancelled) {
		t.Fatal("did not expect cancelled code")
	}
}

func TestCodeOf(t *testing.T) {
	if code := CodeOf(errors.New("boom")); code != CodeInternal {
		t.Fatalf("expected internal code, got %s", code)
	}
	if code := CodeOf(New(CodeBudgetExceeded, "over")); code != CodeBudgetExceeded {
		t.Fatalf("expected budget exceeded code, got %s", code)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		CodeNotFound:                  http.StatusNotFound,
		CodeForbidden:                 http.StatusForbidden,
		CodeConflict:                  http.StatusConflict,
		CodeInternal:                  http.StatusInternalServerError,
		CodeInvitationExpired:         http.StatusBadRequest,
		CodeDuplicateActiveInvitation: http.StatusBadRequest,
	}
	for code, want := range tests {
		if got := code.HTTPStatus(); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}
