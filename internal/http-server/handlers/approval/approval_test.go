package approval

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/api/cont"
	"aprendecomigo/lib/errs"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type fakeCore struct {
	notes string
}

func (f *fakeCore) SubmitPurchase(_ context.Context, user *entity.User, req *entity.PurchaseRequest) (*entity.PurchaseOutcome, error) {
	if req.Amount.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errs.WithDetails(errs.CodeBudgetExceeded, "Would exceed monthly budget limit of 100.00 (current spending: 0.00)", []string{"Would exceed monthly budget limit of 100.00 (current spending: 0.00)"})
	}
	auto := req.Amount.LessThanOrEqual(decimal.NewFromInt(10))
	status := entity.ApprovalPending
	if auto {
		status = entity.ApprovalApproved
	}
	return &entity.PurchaseOutcome{
		Request: &entity.PurchaseApprovalRequest{ID: "req-1", StudentID: user.ID, Amount: req.Amount, Status: status, AutoApproved: auto},
		Check:   &entity.BudgetCheck{Allowed: true, CanAutoApprove: auto},
	}, nil
}

func (f *fakeCore) PendingApprovals(_ context.Context, _ *entity.User) ([]*entity.PurchaseApprovalRequest, error) {
	return nil, nil
}

func (f *fakeCore) ApprovalRequest(_ context.Context, _ *entity.User, id string) (*entity.PurchaseApprovalRequest, error) {
	return &entity.PurchaseApprovalRequest{ID: id, Status: entity.ApprovalPending}, nil
}

func (f *fakeCore) ApproveRequest(_ context.Context, _ *entity.User, id, notes string) (*entity.PurchaseOutcome, error) {
	if id == "late" {
		return nil, errs.New(errs.CodeRequestExpired, "request has expired")
	}
	f.notes = notes
	return &entity.PurchaseOutcome{Request: &entity.PurchaseApprovalRequest{ID: id, Status: entity.ApprovalApproved, TransactionID: "tx-1"}}, nil
}

func (f *fakeCore) DenyRequest(_ context.Context, _ *entity.User, id, notes string) (*entity.PurchaseApprovalRequest, error) {
	if id == "done" {
		return nil, errs.New(errs.CodeRequestNotPending, "request is already approved")
	}
	f.notes = notes
	return &entity.PurchaseApprovalRequest{ID: id, Status: entity.ApprovalDenied}, nil
}

func (f *fakeCore) CancelRequest(_ context.Context, _ *entity.User, id string) (*entity.PurchaseApprovalRequest, error) {
	if id == "other" {
		return nil, errs.New(errs.CodeForbidden, "only the student can cancel this request")
	}
	return &entity.PurchaseApprovalRequest{ID: id, Status: entity.ApprovalCancelled}, nil
}

func newRouter(core *fakeCore) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(cont.PutUser(r.Context(), &entity.User{ID: "student-1", Username: "rui"})))
		})
	})
	router.Post("/student-purchase-request", Submit(log, core))
	router.Get("/approval-requests", Pending(log, core))
	router.Get("/approval-requests/{id}", Get(log, core))
	router.Post("/approval-requests/{id}/approve", Approve(log, core))
	router.Post("/approval-requests/{id}/deny", Deny(log, core))
	router.Post("/approval-requests/{id}/cancel", Cancel(log, core))
	return router
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmit(t *testing.T) {
	h := newRouter(&fakeCore{})
	tests := []struct {
		body   string
		status int
		want   string
	}{
		{`{"parent_child_relationship_id":"rel-1","amount":"40.00","description":"Maths","request_type":"session"}`, http.StatusCreated, `"message":"Purchase request sent to parent for approval"`},
		{`{"parent_child_relationship_id":"rel-1","amount":"5.00","description":"Maths","request_type":"session"}`, http.StatusCreated, `"message":"Purchase approved automatically"`},
		{`{"parent_child_relationship_id":"rel-1","amount":"130.00","description":"Maths","request_type":"package"}`, http.StatusBadRequest, `"code":"BUDGET_EXCEEDED"`},
		{`{"parent_child_relationship_id":"rel-1","amount":"5.00","description":"Maths","request_type":"gift"}`, http.StatusBadRequest, `"code":"VALIDATION_ERROR"`},
		{`{"amount":"5.00","description":"Maths","request_type":"session"}`, http.StatusBadRequest, `"code":"VALIDATION_ERROR"`},
	}
	for _, tt := range tests {
		rec := do(h, http.MethodPost, "/student-purchase-request", tt.body)
		if rec.Code != tt.status {
			t.Fatalf("%s: expected %d, got %d", tt.body, tt.status, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tt.want) {
			t.Fatalf("%s: expected %s in %s", tt.body, tt.want, rec.Body.String())
		}
	}
}

func TestDecisions(t *testing.T) {
	core := &fakeCore{}
	h := newRouter(core)

	rec := do(h, http.MethodPost, "/approval-requests/req-1/approve", `{"notes":"enjoy"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"transaction_id":"tx-1"`) {
		t.Fatalf("approve: unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if core.notes != "enjoy" {
		t.Fatalf("expected notes to be passed, got %q", core.notes)
	}
	rec = do(h, http.MethodPost, "/approval-requests/req-1/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve without body: expected 200, got %d", rec.Code)
	}
	rec = do(h, http.MethodPost, "/approval-requests/late/approve", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"code":"REQUEST_EXPIRED"`) {
		t.Fatalf("approve expired: unexpected response %d %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodPost, "/approval-requests/done/deny", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"code":"REQUEST_NOT_PENDING"`) {
		t.Fatalf("deny: unexpected response %d %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodPost, "/approval-requests/other/cancel", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cancel: expected 403, got %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/approval-requests", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Fatalf("pending: unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
