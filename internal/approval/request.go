package approval

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/events"
	"aprendecomigo/lib/errs"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubmitRequest records a student's purchase. A purchase over budget is
// rejected and nothing is stored; one under the auto-approval rule is
// approved immediately; anything else waits for the parent.
func (s *Service) SubmitRequest(ctx context.Context, studentID string, in *entity.PurchaseRequest) (*entity.PurchaseOutcome, error) {
	rel, err := s.repo.GetRelationship(ctx, in.RelationshipID)
	if err != nil {
		return nil, err
	}
	if rel.ChildID != studentID {
		return nil, errs.New(errs.CodeRelationshipMismatch, "relationship does not belong to this student")
	}

	now := s.now()
	req := &entity.PurchaseApprovalRequest{
		ID:             uuid.NewString(),
		StudentID:      studentID,
		ParentID:       rel.ParentID,
		RelationshipID: rel.ID,
		SchoolID:       rel.SchoolID,
		Amount:         in.Amount,
		Description:    strings.TrimSpace(in.Description),
		RequestType:    in.RequestType,
		PricingPlanID:  in.PricingPlanID,
		Status:         entity.ApprovalPending,
		ExpiresAt:      now.Add(s.expiry),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = req.Validate(rel).Err(); err != nil {
		return nil, err
	}

	bc, err := s.repo.GetBudgetControl(ctx, rel.ID)
	if err != nil {
		return nil, fmt.Errorf("get budget control: %w", err)
	}
	check, err := s.check(ctx, rel, bc, req.Amount, req.RequestType)
	if err != nil {
		return nil, err
	}

	log := s.log.With(
		slog.String("student_id", studentID),
		slog.String("relationship_id", rel.ID),
		sl.Amount("amount", req.Amount),
	)
	if !check.Allowed {
		log.With(slog.Any("reasons", check.Reasons)).Info("purchase over budget")
		s.publish(ctx, events.BudgetExceeded, req, studentID, check.Reasons)
		return nil, errs.WithDetails(errs.CodeBudgetExceeded, check.Reasons[0], check.Reasons)
	}

	outcome := &entity.PurchaseOutcome{Request: req, Check: check}
	if check.CanAutoApprove || check.ApprovalWaived {
		req.Status = entity.ApprovalApproved
		req.AutoApproved = true
		req.RespondedAt = &now
		req.TransactionID = uuid.NewString()
		tx, err := s.openTransaction(ctx, req, in.Currency)
		if err != nil {
			return nil, err
		}
		if err = s.repo.SaveApprovalRequest(ctx, req); err != nil {
			s.voidTransaction(ctx, tx.ID)
			return nil, err
		}
		log.Info("purchase auto-approved")
		s.publish(ctx, events.ApprovalApproved, req, studentID, nil)
		outcome.Payment = s.payFor(ctx, req, tx)
		return outcome, nil
	}

	if err = s.repo.SaveApprovalRequest(ctx, req); err != nil {
		return nil, err
	}
	log.With(slog.String("request_id", req.ID)).Info("purchase waiting for approval")
	s.publish(ctx, events.ApprovalRequested, req, studentID, nil)
	return outcome, nil
}

// openTransaction records the pending ledger transaction of a request
// about to be approved. It must exist before the request is stored as
// approved so an approved request always has something to pay.
func (s *Service) openTransaction(ctx context.Context, req *entity.PurchaseApprovalRequest, currency string) (*entity.Transaction, error) {
	if currency == "" {
		currency = s.currency
	}
	tx := &entity.Transaction{
		ID:                req.TransactionID,
		StudentID:         req.StudentID,
		SchoolID:          req.SchoolID,
		ApprovalRequestID: req.ID,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(currency),
		Type:              req.RequestType,
		Status:            entity.TransactionPending,
		CreatedAt:         s.now(),
	}
	if err := s.ledger.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

// voidTransaction cancels a transaction whose request was never stored as
// approved.
func (s *Service) voidTransaction(ctx context.Context, id string) {
	if err := s.ledger.CancelTransaction(ctx, id); err != nil {
		s.log.With(slog.String("transaction_id", id), sl.Err(err)).Error("cancel transaction")
	}
}

// payFor opens a checkout when payments are enabled. A checkout failure is
// logged; the purchase stays approved and can be paid later.
func (s *Service) payFor(ctx context.Context, req *entity.PurchaseApprovalRequest, tx *entity.Transaction) *entity.Payment {
	payment := &entity.Payment{TransactionId: tx.ID, Amount: tx.Amount, Currency: tx.Currency}
	if s.checkout == nil {
		return payment
	}
	p, err := s.checkout.CreateCheckout(ctx, tx, req.Description)
	if err != nil {
		s.log.With(slog.String("transaction_id", tx.ID), sl.Err(err)).Error("create checkout")
		return payment
	}
	if err = s.ledger.SetTransactionSession(ctx, tx.ID, p.Id); err != nil {
		s.log.With(slog.String("transaction_id", tx.ID), sl.Err(err)).Error("save checkout session")
	}
	return p
}

func respondable(req *entity.PurchaseApprovalRequest, parentID string, now time.Time) error {
	if req.ParentID != parentID {
		return errs.New(errs.CodeForbidden, "only the parent can respond to this request")
	}
	if req.Status != entity.ApprovalPending {
		return errs.New(errs.CodeRequestNotPending, fmt.Sprintf("request is already %s", req.Status))
	}
	if req.IsExpired(now) {
		return errs.New(errs.CodeRequestExpired, "request has expired")
	}
	return nil
}

func (s *Service) respond(ctx context.Context, id, parentID string, status entity.ApprovalStatus, notes, transactionID string) (*entity.PurchaseApprovalRequest, error) {
	req, _, err := s.update(ctx, id, func(req *entity.PurchaseApprovalRequest) error {
		now := s.now()
		if err := respondable(req, parentID, now); err != nil {
			return err
		}
		req.Status = status
		req.RespondedAt = &now
		req.ParentNotes = notes
		req.UpdatedAt = now
		req.TransactionID = transactionID
		return nil
	})
	return req, err
}

// Approve resolves a pending request in favour of the student. The pending
// transaction is recorded first and cancelled if the request cannot be
// stored as approved.
func (s *Service) Approve(ctx context.Context, id, parentID, notes string) (*entity.PurchaseOutcome, error) {
	current, err := s.repo.GetApprovalRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = respondable(current, parentID, s.now()); err != nil {
		return nil, err
	}
	current.TransactionID = uuid.NewString()
	tx, err := s.openTransaction(ctx, current, "")
	if err != nil {
		return nil, err
	}
	req, err := s.respond(ctx, id, parentID, entity.ApprovalApproved, notes, tx.ID)
	if err != nil {
		s.voidTransaction(ctx, tx.ID)
		return nil, err
	}
	s.log.With(slog.String("request_id", req.ID), sl.Amount("amount", req.Amount)).Info("purchase approved")
	s.publish(ctx, events.ApprovalApproved, req, parentID, nil)
	return &entity.PurchaseOutcome{Request: req, Payment: s.payFor(ctx, req, tx)}, nil
}

func (s *Service) Deny(ctx context.Context, id, parentID, notes string) (*entity.PurchaseApprovalRequest, error) {
	req, err := s.respond(ctx, id, parentID, entity.ApprovalDenied, notes, "")
	if err != nil {
		return nil, err
	}
	s.log.With(slog.String("request_id", req.ID)).Info("purchase denied")
	s.publish(ctx, events.ApprovalDenied, req, parentID, nil)
	return req, nil
}

// Cancel withdraws a pending request; only the student who made it may do so.
func (s *Service) Cancel(ctx context.Context, id, studentID string) (*entity.PurchaseApprovalRequest, error) {
	req, _, err := s.update(ctx, id, func(req *entity.PurchaseApprovalRequest) error {
		if req.StudentID != studentID {
			return errs.New(errs.CodeForbidden, "only the student can cancel this request")
		}
		if req.Status != entity.ApprovalPending {
			return errs.New(errs.CodeRequestNotPending, fmt.Sprintf("request is already %s", req.Status))
		}
		now := s.now()
		if req.IsExpired(now) {
			return errs.New(errs.CodeRequestExpired, "request has expired")
		}
		req.Status = entity.ApprovalCancelled
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.ApprovalCancelled, req, studentID, nil)
	return req, nil
}

// Expire marks a pending request expired. Expiring an expired request is a
// no-op; any other resolved request is left alone with an error.
func (s *Service) Expire(ctx context.Context, id string) (*entity.PurchaseApprovalRequest, error) {
	req, _, err := s.expireRequest(ctx, id)
	return req, err
}

func (s *Service) expireRequest(ctx context.Context, id string) (*entity.PurchaseApprovalRequest, bool, error) {
	req, changed, err := s.update(ctx, id, func(req *entity.PurchaseApprovalRequest) error {
		switch req.Status {
		case entity.ApprovalExpired:
			return errUnchanged
		case entity.ApprovalPending:
		default:
			return errs.New(errs.CodeRequestNotPending, fmt.Sprintf("request is already %s", req.Status))
		}
		req.Status = entity.ApprovalExpired
		req.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.publish(ctx, events.ApprovalExpired, req, "", nil)
	}
	return req, changed, nil
}

// ExpireStale expires every pending request past its deadline.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.GetStaleApprovalRequests(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("get stale requests: %w", err)
	}
	count := 0
	for _, req := range stale {
		_, changed, err := s.expireRequest(ctx, req.ID)
		if err != nil {
			s.log.With(slog.String("request_id", req.ID), sl.Err(err)).Error("expire request")
			continue
		}
		if changed {
			count++
		}
	}
	return count, nil
}

// PendingForParent lists requests still awaiting the parent; requests past
// their deadline are left out even before the sweep records them.
func (s *Service) PendingForParent(ctx context.Context, parentID string) ([]*entity.PurchaseApprovalRequest, error) {
	list, err := s.repo.GetPendingApprovalRequests(ctx, parentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := make([]*entity.PurchaseApprovalRequest, 0, len(list))
	for _, req := range list {
		if !req.IsExpired(now) {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, id string) (*entity.PurchaseApprovalRequest, error) {
	return s.repo.GetApprovalRequest(ctx, id)
}

// CompleteTransaction records a payment confirmation. Repeated
// confirmations are ignored.
func (s *Service) CompleteTransaction(ctx context.Context, transactionID string) error {
	tx, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	changed, err := s.ledger.CompleteTransaction(ctx, tx.ID, s.now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.log.With(
		slog.String("transaction_id", tx.ID),
		slog.String("student_id", tx.StudentID),
		sl.Amount("amount", tx.Amount),
	).Info("transaction completed")
	if tx.ApprovalRequestID == "" || s.bus == nil {
		return nil
	}
	req, err := s.repo.GetApprovalRequest(ctx, tx.ApprovalRequestID)
	if err != nil {
		s.log.With(slog.String("request_id", tx.ApprovalRequestID), sl.Err(err)).Warn("transaction request lookup")
		return nil
	}
	s.publish(ctx, events.TransactionCompleted, req, "", nil)
	return nil
}
