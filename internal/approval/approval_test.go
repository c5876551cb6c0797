package approval

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/internal/database"
	"aprendecomigo/lib/errs"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeCheckout struct {
	fail bool
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, tx *entity.Transaction, _ string) (*entity.Payment, error) {
	if f.fail {
		return nil, errors.New("stripe unavailable")
	}
	return &entity.Payment{
		Id:            "cs_test_" + tx.ID,
		TransactionId: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Link:          "https://checkout.stripe.com/pay/" + tx.ID,
	}, nil
}

type fixture struct {
	svc *Service
	db  *database.Memory
	now time.Time
	rel *entity.ParentChildRelationship
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		db: database.NewMemory(),
		// Wednesday; the week started on Monday 10 March
		now: time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(&config.Config{Location: "Europe/Lisbon"}, f.db, f.db, nil, log)
	f.svc.SetClock(func() time.Time { return f.now })

	if err := f.db.SaveSchool(ctx, &entity.School{ID: "school-1", Name: "Escola", Timezone: "Europe/Lisbon"}); err != nil {
		t.Fatalf("save school: %v", err)
	}
	rel, err := f.svc.CreateRelationship(ctx, &entity.RelationshipRequest{
		ParentID: "parent-1",
		ChildID:  "student-1",
		SchoolID: "school-1",
	})
	if err != nil {
		t.Fatalf("create relationship: %v", err)
	}
	f.rel = rel
	return f
}

func (f *fixture) control(t *testing.T, req *entity.BudgetControlRequest) *entity.FamilyBudgetControl {
	t.Helper()
	bc, err := f.svc.SetBudgetControl(context.Background(), f.rel.ID, req)
	if err != nil {
		t.Fatalf("set budget control: %v", err)
	}
	return bc
}

func (f *fixture) spent(t *testing.T, amount string, at time.Time) {
	t.Helper()
	err := f.db.CreateTransaction(context.Background(), &entity.Transaction{
		ID:          uuid.NewString(),
		StudentID:   f.rel.ChildID,
		Amount:      dec(amount),
		Currency:    "EUR",
		Type:        entity.PurchasePackage,
		Status:      entity.TransactionCompleted,
		CreatedAt:   at,
		CompletedAt: &at,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
}

func (f *fixture) submit(amount string) (*entity.PurchaseOutcome, error) {
	return f.svc.SubmitRequest(context.Background(), "student-1", &entity.PurchaseRequest{
		RelationshipID: f.rel.ID,
		Amount:         dec(amount),
		Description:    "10 lesson package",
		RequestType:    entity.PurchasePackage,
	})
}

func TestCheckBudgetMonthlyScenario(t *testing.T) {
	f := newFixture(t)
	bc := f.control(t, &entity.BudgetControlRequest{
		MonthlyBudgetLimit:    decPtr("200.00"),
		AutoApprovalThreshold: dec("50.00"),
	})
	f.spent(t, "80.00", time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC))
	// last month does not count
	f.spent(t, "500.00", time.Date(2025, 2, 27, 12, 0, 0, 0, time.UTC))

	check, err := f.svc.CheckBudgetLimits(context.Background(), bc, dec("30.00"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.Allowed || !check.CanAutoApprove {
		t.Fatalf("expected allowed and auto-approvable, got %+v", check)
	}
	if !check.CurrentMonthlySpending.Equal(dec("80")) {
		t.Fatalf("expected monthly spending 80, got %s", check.CurrentMonthlySpending)
	}

	check, err = f.svc.CheckBudgetLimits(context.Background(), bc, dec("130.00"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Allowed || check.CanAutoApprove {
		t.Fatalf("expected not allowed, got %+v", check)
	}
	if len(check.Reasons) != 1 || !strings.Contains(check.Reasons[0], "monthly budget limit") {
		t.Fatalf("expected monthly budget reason, got %v", check.Reasons)
	}

	// exactly reaching the limit is allowed
	check, _ = f.svc.CheckBudgetLimits(context.Background(), bc, dec("120.00"))
	if !check.Allowed {
		t.Fatal("expected spending up to the limit to be allowed")
	}
}

func TestCheckBudgetWeekly(t *testing.T) {
	f := newFixture(t)
	bc := f.control(t, &entity.BudgetControlRequest{
		WeeklyBudgetLimit:     decPtr("50.00"),
		AutoApprovalThreshold: dec("10.00"),
	})
	f.spent(t, "40.00", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	// previous week
	f.spent(t, "40.00", time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC))

	check, err := f.svc.CheckBudgetLimits(context.Background(), bc, dec("20.00"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Allowed {
		t.Fatal("expected weekly limit to block")
	}
	if !strings.Contains(check.Reasons[0], "weekly budget limit") {
		t.Fatalf("expected weekly reason, got %v", check.Reasons)
	}
	if !check.CurrentWeeklySpending.Equal(dec("40")) {
		t.Fatalf("expected weekly spending 40, got %s", check.CurrentWeeklySpending)
	}
}

func TestCheckBudgetMonotonic(t *testing.T) {
	f := newFixture(t)
	bc := f.control(t, &entity.BudgetControlRequest{
		MonthlyBudgetLimit:    decPtr("200.00"),
		WeeklyBudgetLimit:     decPtr("150.00"),
		AutoApprovalThreshold: dec("40.00"),
	})
	f.spent(t, "80.00", time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC))

	prevAllowed, prevAuto := true, true
	for cents := int64(100); cents <= 30000; cents += 250 {
		check, err := f.svc.CheckBudgetLimits(context.Background(), bc, decimal.New(cents, -2))
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if check.Allowed && !prevAllowed {
			t.Fatalf("allowed flipped back to true at %d cents", cents)
		}
		if check.CanAutoApprove && !prevAuto {
			t.Fatalf("can_auto_approve flipped back to true at %d cents", cents)
		}
		prevAllowed, prevAuto = check.Allowed, check.CanAutoApprove
	}
}

func TestCheckWithoutControl(t *testing.T) {
	f := newFixture(t)
	check, err := f.svc.CheckRelationship(context.Background(), f.rel.ID, dec("1000"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.Allowed || check.CanAutoApprove {
		t.Fatalf("expected allowed without auto-approval, got %+v", check)
	}
}

func TestCheckInactiveControl(t *testing.T) {
	f := newFixture(t)
	inactive := false
	f.control(t, &entity.BudgetControlRequest{
		MonthlyBudgetLimit: decPtr("10.00"),
		IsActive:           &inactive,
	})
	check, err := f.svc.CheckRelationship(context.Background(), f.rel.ID, dec("100"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.Allowed || !check.CanAutoApprove {
		t.Fatalf("expected inactive control to allow everything, got %+v", check)
	}
}

func TestSetBudgetControlThresholdAboveLimit(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetBudgetControl(context.Background(), f.rel.ID, &entity.BudgetControlRequest{
		MonthlyBudgetLimit:    decPtr("100.00"),
		AutoApprovalThreshold: dec("150.00"),
	})
	if !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRelationshipSameUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRelationship(context.Background(), &entity.RelationshipRequest{
		ParentID: "u1",
		ChildID:  "u1",
		SchoolID: "school-1",
	})
	if !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitAutoApproved(t *testing.T) {
	f := newFixture(t)
	f.svc.SetCheckout(&fakeCheckout{})
	f.control(t, &entity.BudgetControlRequest{
		MonthlyBudgetLimit:    decPtr("200.00"),
		AutoApprovalThreshold: dec("50.00"),
	})

	out, err := f.submit("30.00")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Request.Status != entity.ApprovalApproved || !out.Request.AutoApproved || out.Request.RespondedAt == nil {
		t.Fatalf("expected auto-approved request, got %+v", out.Request)
	}
	if out.Payment == nil || out.Payment.Link == "" {
		t.Fatalf("expected checkout link, got %+v", out.Payment)
	}
	tx, err := f.db.GetTransaction(context.Background(), out.Request.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Status != entity.TransactionPending || tx.StripeSessionID == "" {
		t.Fatalf("expected pending transaction with session, got %+v", tx)
	}
}

func TestSubmitPending(t *testing.T) {
	f := newFixture(t)
	f.control(t, &entity.BudgetControlRequest{
		MonthlyBudgetLimit:    decPtr("200.00"),
		AutoApprovalThreshold: dec("50.00"),
	})

	out, err := f.submit("100.00")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Request.Status != entity.ApprovalPending || out.Payment != nil {
		t.Fatalf("expected pending request without payment, got %s", out.Request.Status)
	}
	if !out.Request.ExpiresAt.Equal(f.now.Add(24 * time.Hour)) {
		t.Fatalf("expected 24h expiry, got %v", out.Request.ExpiresAt)
	}
	pending, _ := f.svc.PendingForParent(context.Background(), "parent-1")
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}
}

func TestSubmitPackagesWithoutApproval(t *testing.T) {
	f := newFixture(t)
	no := false
	f.control(t, &entity.BudgetControlRequest{
		MonthlyBudgetLimit:         decPtr("200.00"),
		RequireApprovalForPackages: &no,
	})
	out, err := f.submit("150.00")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Request.Status != entity.ApprovalApproved {
		t.Fatalf("expected approval without parent, got %s", out.Request.Status)
	}
	// 150 is over the zero threshold; the exemption is reported on its own
	if out.Check.CanAutoApprove || !out.Check.ApprovalWaived {
		t.Fatalf("expected waived approval above threshold, got %+v", out.Check)
	}
}

func TestSubmitOverBudget(t *testing.T) {
	f := newFixture(t)
	f.control(t, &entity.BudgetControlRequest{MonthlyBudgetLimit: decPtr("200.00")})
	f.spent(t, "80.00", time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC))

	_, err := f.submit("130.00")
	if !errs.HasCode(err, errs.CodeBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	var e *errs.Error
	if !errors.As(err, &e) || len(e.Details) == 0 || !strings.Contains(e.Details[0], "monthly budget limit") {
		t.Fatalf("expected reasons in error details, got %v", err)
	}
	pending, _ := f.svc.PendingForParent(context.Background(), "parent-1")
	if len(pending) != 0 {
		t.Fatal("expected no request to be stored")
	}
}

func TestSubmitRelationshipMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitRequest(context.Background(), "someone-else", &entity.PurchaseRequest{
		RelationshipID: f.rel.ID,
		Amount:         dec("10"),
		Description:    "lesson",
		RequestType:    entity.PurchaseSession,
	})
	if !errs.HasCode(err, errs.CodeRelationshipMismatch) {
		t.Fatalf("expected relationship mismatch, got %v", err)
	}
}

func TestSubmitInvalidAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.submit("0")
	if !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApproveThenDeny(t *testing.T) {
	f := newFixture(t)
	out, err := f.submit("100.00")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	approved, err := f.svc.Approve(context.Background(), out.Request.ID, "parent-1", "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Request.Status != entity.ApprovalApproved || approved.Request.ParentNotes != "ok" {
		t.Fatalf("unexpected approved request %+v", approved.Request)
	}
	if approved.Payment == nil || approved.Payment.TransactionId == "" {
		t.Fatal("expected a payment for the approved request")
	}

	f.now = f.now.Add(time.Hour)
	if _, err = f.svc.Deny(context.Background(), out.Request.ID, "parent-1", "no"); !errs.HasCode(err, errs.CodeRequestNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestApproveDeniedKeepsRespondedAt(t *testing.T) {
	f := newFixture(t)
	out, err := f.submit("100.00")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	denied, err := f.svc.Deny(context.Background(), out.Request.ID, "parent-1", "not now")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	if _, err = f.svc.Approve(context.Background(), out.Request.ID, "parent-1", ""); !errs.HasCode(err, errs.CodeRequestNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
	stored, _ := f.svc.Get(context.Background(), out.Request.ID)
	if stored.Status != entity.ApprovalDenied || !stored.RespondedAt.Equal(*denied.RespondedAt) {
		t.Fatalf("expected denied request unchanged, got %s %v", stored.Status, stored.RespondedAt)
	}
}

func TestApproveByOtherUser(t *testing.T) {
	f := newFixture(t)
	out, _ := f.submit("100.00")
	if _, err := f.svc.Approve(context.Background(), out.Request.ID, "student-1", ""); !errs.HasCode(err, errs.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestApproveExpired(t *testing.T) {
	f := newFixture(t)
	out, _ := f.submit("100.00")
	f.now = out.Request.ExpiresAt.Add(time.Minute)

	if _, err := f.svc.Approve(context.Background(), out.Request.ID, "parent-1", ""); !errs.HasCode(err, errs.CodeRequestExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	stored, _ := f.svc.Get(context.Background(), out.Request.ID)
	if stored.Status != entity.ApprovalPending || stored.RespondedAt != nil {
		t.Fatalf("expected request untouched, got %s", stored.Status)
	}
	pending, _ := f.svc.PendingForParent(context.Background(), "parent-1")
	if len(pending) != 0 {
		t.Fatal("expected expired request hidden from pending list")
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	out, _ := f.submit("100.00")

	if _, err := f.svc.Cancel(context.Background(), out.Request.ID, "parent-1"); !errs.HasCode(err, errs.CodeForbidden) {
		t.Fatalf("expected forbidden for parent, got %v", err)
	}
	req, err := f.svc.Cancel(context.Background(), out.Request.ID, "student-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if req.Status != entity.ApprovalCancelled {
		t.Fatalf("expected cancelled, got %s", req.Status)
	}
	if _, err = f.svc.Cancel(context.Background(), out.Request.ID, "student-1"); !errs.HasCode(err, errs.CodeRequestNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	out, _ := f.submit("100.00")

	req, err := f.svc.Expire(context.Background(), out.Request.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if req.Status != entity.ApprovalExpired {
		t.Fatalf("expected expired, got %s", req.Status)
	}
	if _, err = f.svc.Expire(context.Background(), out.Request.ID); err != nil {
		t.Fatalf("expected idempotent expire, got %v", err)
	}

	other, _ := f.submit("90.00")
	if _, err = f.svc.Deny(context.Background(), other.Request.ID, "parent-1", ""); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if _, err = f.svc.Expire(context.Background(), other.Request.ID); !errs.HasCode(err, errs.CodeRequestNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	old, _ := f.submit("100.00")
	f.now = f.now.Add(20 * time.Hour)
	fresh, _ := f.submit("90.00")
	f.now = old.Request.ExpiresAt.Add(time.Minute)

	n, err := f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired request, got %d", n)
	}
	got, _ := f.svc.Get(context.Background(), fresh.Request.ID)
	if got.Status != entity.ApprovalPending {
		t.Fatalf("expected fresh request pending, got %s", got.Status)
	}
}

func TestCompleteTransactionFeedsSpending(t *testing.T) {
	f := newFixture(t)
	f.control(t, &entity.BudgetControlRequest{MonthlyBudgetLimit: decPtr("200.00")})
	out, _ := f.submit("150.00")
	approved, err := f.svc.Approve(context.Background(), out.Request.ID, "parent-1", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	// pending transactions do not count
	check, _ := f.svc.CheckRelationship(context.Background(), f.rel.ID, dec("60"))
	if !check.Allowed {
		t.Fatal("expected pending transaction to be ignored")
	}

	if err = f.svc.CompleteTransaction(context.Background(), approved.Payment.TransactionId); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err = f.svc.CompleteTransaction(context.Background(), approved.Payment.TransactionId); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	check, _ = f.svc.CheckRelationship(context.Background(), f.rel.ID, dec("60"))
	if check.Allowed || !check.CurrentMonthlySpending.Equal(dec("150")) {
		t.Fatalf("expected completed spending to block, got %+v", check)
	}
}
