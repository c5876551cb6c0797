// Package approval decides whether a child's purchase is auto-approved,
// waits for a parent, or is rejected for exceeding the family budget.
package approval

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/internal/events"
	"aprendecomigo/lib/errs"
	"aprendecomigo/lib/sl"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxUpdateAttempts = 3

type Repository interface {
	GetSchool(ctx context.Context, id string) (*entity.School, error)
	SaveRelationship(ctx context.Context, rel *entity.ParentChildRelationship) error
	GetRelationship(ctx context.Context, id string) (*entity.ParentChildRelationship, error)
	SaveBudgetControl(ctx context.Context, bc *entity.FamilyBudgetControl) error
	GetBudgetControl(ctx context.Context, relationshipID string) (*entity.FamilyBudgetControl, error)
	SaveApprovalRequest(ctx context.Context, req *entity.PurchaseApprovalRequest) error
	UpdateApprovalRequest(ctx context.Context, req *entity.PurchaseApprovalRequest) error
	GetApprovalRequest(ctx context.Context, id string) (*entity.PurchaseApprovalRequest, error)
	GetPendingApprovalRequests(ctx context.Context, parentID string) ([]*entity.PurchaseApprovalRequest, error)
	GetStaleApprovalRequests(ctx context.Context, now time.Time) ([]*entity.PurchaseApprovalRequest, error)
}

// Ledger stores purchase transactions; only completed ones count as spending.
type Ledger interface {
	CreateTransaction(ctx context.Context, tx *entity.Transaction) error
	GetTransaction(ctx context.Context, id string) (*entity.Transaction, error)
	SetTransactionSession(ctx context.Context, id, sessionID string) error
	CompleteTransaction(ctx context.Context, id string, at time.Time) (bool, error)
	CancelTransaction(ctx context.Context, id string) error
	SumCompleted(ctx context.Context, studentID string, from, to time.Time) (decimal.Decimal, error)
}

// Checkout issues a payment link for an approved purchase.
type Checkout interface {
	CreateCheckout(ctx context.Context, tx *entity.Transaction, description string) (*entity.Payment, error)
}

type Publisher interface {
	Publish(ctx context.Context, evt events.Event)
}

type Service struct {
	repo     Repository
	ledger   Ledger
	checkout Checkout
	bus      Publisher
	log      *slog.Logger
	now      func() time.Time
	location string
	expiry   time.Duration
	currency string
}

func New(conf *config.Config, repo Repository, ledger Ledger, bus Publisher, log *slog.Logger) *Service {
	s := &Service{
		repo:     repo,
		ledger:   ledger,
		bus:      bus,
		log:      log.With(sl.Module("approval")),
		now:      time.Now,
		expiry:   entity.DefaultApprovalExpiry,
		currency: "EUR",
	}
	if conf != nil {
		s.location = conf.Location
		if conf.Approval.ExpiryHours > 0 {
			s.expiry = time.Duration(conf.Approval.ExpiryHours) * time.Hour
		}
		if conf.Approval.Currency != "" {
			s.currency = strings.ToUpper(conf.Approval.Currency)
		}
	}
	return s
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetCheckout(c Checkout) {
	s.checkout = c
}

func (s *Service) publish(ctx context.Context, t events.Type, req *entity.PurchaseApprovalRequest, actorID string, reasons []string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Type:       t,
		SchoolID:   req.SchoolID,
		ActorID:    actorID,
		OccurredAt: s.now(),
		Request:    req,
		Reasons:    reasons,
	})
}

// CreateRelationship links a parent to a child within a school.
func (s *Service) CreateRelationship(ctx context.Context, req *entity.RelationshipRequest) (*entity.ParentChildRelationship, error) {
	rel := &entity.ParentChildRelationship{
		ID:               uuid.NewString(),
		ParentID:         req.ParentID,
		ChildID:          req.ChildID,
		SchoolID:         req.SchoolID,
		RelationshipType: req.RelationshipType,
		IsActive:         true,
		CreatedAt:        s.now(),
	}
	if rel.RelationshipType == "" {
		rel.RelationshipType = entity.RelationshipParent
	}
	if err := rel.Validate().Err(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetSchool(ctx, rel.SchoolID); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *Service) Relationship(ctx context.Context, id string) (*entity.ParentChildRelationship, error) {
	return s.repo.GetRelationship(ctx, id)
}

// SetBudgetControl creates or replaces the budget control of a relationship.
// New controls require approval for every purchase type unless the request
// says otherwise.
func (s *Service) SetBudgetControl(ctx context.Context, relationshipID string, req *entity.BudgetControlRequest) (*entity.FamilyBudgetControl, error) {
	rel, err := s.repo.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	bc, err := s.repo.GetBudgetControl(ctx, rel.ID)
	if err != nil {
		return nil, fmt.Errorf("get budget control: %w", err)
	}
	if bc == nil {
		bc = &entity.FamilyBudgetControl{
			ID:                         uuid.NewString(),
			RelationshipID:             rel.ID,
			RequireApprovalForSessions: true,
			RequireApprovalForPackages: true,
			IsActive:                   true,
			CreatedAt:                  now,
		}
	}
	req.Apply(bc)
	if err = bc.Validate().Err(); err != nil {
		return nil, err
	}
	bc.UpdatedAt = now
	if err = s.repo.SaveBudgetControl(ctx, bc); err != nil {
		return nil, err
	}
	s.log.With(
		slog.String("relationship_id", rel.ID),
		slog.Bool("active", bc.IsActive),
		sl.Amount("threshold", bc.AutoApprovalThreshold),
	).Info("budget control saved")
	return bc, nil
}

func (s *Service) BudgetControl(ctx context.Context, relationshipID string) (*entity.FamilyBudgetControl, error) {
	bc, err := s.repo.GetBudgetControl(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if bc == nil {
		return nil, errs.New(errs.CodeNotFound, "budget control not found")
	}
	return bc, nil
}

// errUnchanged marks a mutation that found the request already in the
// target state.
var errUnchanged = errors.New("unchanged")

func (s *Service) update(ctx context.Context, id string, mutate func(req *entity.PurchaseApprovalRequest) error) (*entity.PurchaseApprovalRequest, bool, error) {
	for attempt := 1; ; attempt++ {
		req, err := s.repo.GetApprovalRequest(ctx, id)
		if err != nil {
			return nil, false, err
		}
		err = mutate(req)
		if errors.Is(err, errUnchanged) {
			return req, false, nil
		}
		if err != nil {
			return req, false, err
		}
		err = s.repo.UpdateApprovalRequest(ctx, req)
		if err == nil {
			return req, true, nil
		}
		if !errs.HasCode(err, errs.CodeConflict) || attempt >= maxUpdateAttempts {
			return nil, false, err
		}
	}
}
