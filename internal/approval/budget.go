package approval

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/clock"
	"aprendecomigo/lib/errs"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// window returns the current calendar month and the current Monday-based
// week in the school's timezone, both as [start, end).
func (s *Service) window(ctx context.Context, rel *entity.ParentChildRelationship) (monthStart, monthEnd, weekStart, weekEnd time.Time) {
	tz := ""
	if school, err := s.repo.GetSchool(ctx, rel.SchoolID); err == nil {
		tz = school.Timezone
	} else {
		s.log.With(slog.String("school_id", rel.SchoolID), sl.Err(err)).Warn("school timezone unavailable")
	}
	loc := clock.Location(tz, s.location)
	now := s.now()
	monthStart = clock.MonthStart(now, loc)
	monthEnd = monthStart.AddDate(0, 1, 0)
	weekStart = clock.WeekStart(now, loc)
	weekEnd = weekStart.AddDate(0, 0, 7)
	return
}

func (s *Service) spending(ctx context.Context, rel *entity.ParentChildRelationship) (monthly, weekly decimal.Decimal, err error) {
	monthStart, monthEnd, weekStart, weekEnd := s.window(ctx, rel)
	monthly, err = s.ledger.SumCompleted(ctx, rel.ChildID, monthStart, monthEnd)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("monthly spending: %w", err)
	}
	weekly, err = s.ledger.SumCompleted(ctx, rel.ChildID, weekStart, weekEnd)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("weekly spending: %w", err)
	}
	return monthly, weekly, nil
}

// CheckBudgetLimits evaluates amount against the control. Spending windows
// are computed at call time.
func (s *Service) CheckBudgetLimits(ctx context.Context, bc *entity.FamilyBudgetControl, amount decimal.Decimal) (*entity.BudgetCheck, error) {
	rel, err := s.repo.GetRelationship(ctx, bc.RelationshipID)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, rel, bc, amount, "")
}

// CheckRelationship evaluates amount for a relationship that may have no
// budget control. Without a control every purchase is allowed and needs
// a parent's approval.
func (s *Service) CheckRelationship(ctx context.Context, relationshipID string, amount decimal.Decimal) (*entity.BudgetCheck, error) {
	rel, err := s.repo.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	bc, err := s.repo.GetBudgetControl(ctx, rel.ID)
	if err != nil {
		return nil, fmt.Errorf("get budget control: %w", err)
	}
	return s.check(ctx, rel, bc, amount, "")
}

func (s *Service) check(ctx context.Context, rel *entity.ParentChildRelationship, bc *entity.FamilyBudgetControl, amount decimal.Decimal, purchase entity.PurchaseType) (*entity.BudgetCheck, error) {
	if !amount.IsPositive() {
		return nil, errs.New(errs.CodeValidation, "amount must be greater than zero")
	}
	monthly, weekly, err := s.spending(ctx, rel)
	if err != nil {
		return nil, err
	}
	result := &entity.BudgetCheck{
		Allowed:                true,
		Reasons:                []string{},
		CurrentMonthlySpending: monthly,
		CurrentWeeklySpending:  weekly,
	}
	if bc == nil {
		return result, nil
	}
	if !bc.IsActive {
		result.CanAutoApprove = true
		return result, nil
	}

	if bc.MonthlyBudgetLimit != nil && monthly.Add(amount).GreaterThan(*bc.MonthlyBudgetLimit) {
		result.Allowed = false
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Would exceed monthly budget limit of %s (current spending: %s)",
			bc.MonthlyBudgetLimit.StringFixed(2), monthly.StringFixed(2)))
	}
	if bc.WeeklyBudgetLimit != nil && weekly.Add(amount).GreaterThan(*bc.WeeklyBudgetLimit) {
		result.Allowed = false
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Would exceed weekly budget limit of %s (current spending: %s)",
			bc.WeeklyBudgetLimit.StringFixed(2), weekly.StringFixed(2)))
	}
	if !result.Allowed {
		return result, nil
	}

	// purchase types the parent exempted skip approval at any amount
	result.ApprovalWaived = purchase != "" && !bc.RequiresApprovalFor(purchase)
	result.CanAutoApprove = amount.LessThanOrEqual(bc.AutoApprovalThreshold)
	return result, nil
}
