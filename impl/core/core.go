package core

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/approval"
	"aprendecomigo/internal/invitation"
	"aprendecomigo/internal/notify"
	"aprendecomigo/lib/errs"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
)

type AuthService interface {
	UserByToken(ctx context.Context, token string) (*entity.User, error)
}

// Payments verifies and interprets Stripe webhooks.
type Payments interface {
	VerifySignature(payload []byte, header string, tolerance time.Duration) bool
	CompletedTransaction(evt *stripe.Event) string
}

type Repository interface {
	SaveSchool(ctx context.Context, school *entity.School) error
	GetSchool(ctx context.Context, id string) (*entity.School, error)
	AddSchoolMember(ctx context.Context, member *entity.SchoolMembership) (bool, error)
	GetMembership(ctx context.Context, schoolID, userID, email string) ([]*entity.SchoolMembership, error)
	GetInvitationByToken(ctx context.Context, token string) (*entity.Invitation, error)
}

type Core struct {
	repo     Repository
	inv      *invitation.Service
	appr     *approval.Service
	notif    *notify.Service
	auth     AuthService
	payments Payments
	log      *slog.Logger
}

func New(repo Repository, inv *invitation.Service, appr *approval.Service, notif *notify.Service, log *slog.Logger) *Core {
	if repo == nil || inv == nil || appr == nil || notif == nil {
		panic("core dependencies are not set")
	}
	return &Core{
		repo:  repo,
		inv:   inv,
		appr:  appr,
		notif: notif,
		log:   log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

func (c *Core) SetPayments(p Payments) {
	c.payments = p
}

func (c *Core) AuthenticateByToken(ctx context.Context, token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(ctx, token)
}

func forbidden() error {
	return errs.New(errs.CodeForbidden, "you do not have permission to perform this action")
}

// canManage allows platform admins, the school owner and members holding
// an owner or admin role in the school.
func (c *Core) canManage(ctx context.Context, user *entity.User, schoolID string) error {
	if user.IsAdmin() {
		return nil
	}
	school, err := c.repo.GetSchool(ctx, schoolID)
	if err != nil {
		return err
	}
	if school.OwnerID != "" && school.OwnerID == user.ID {
		return nil
	}
	members, err := c.repo.GetMembership(ctx, schoolID, user.ID, entity.NormalizeEmail(user.Email))
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	for _, m := range members {
		if m.CanManage() {
			return nil
		}
	}
	return forbidden()
}

// schools

func (c *Core) CreateSchool(ctx context.Context, user *entity.User, school *entity.School) (*entity.School, error) {
	school.ID = ""
	school.OwnerID = user.ID
	if err := c.repo.SaveSchool(ctx, school); err != nil {
		return nil, fmt.Errorf("save school: %w", err)
	}
	_, err := c.repo.AddSchoolMember(ctx, &entity.SchoolMembership{
		SchoolID: school.ID,
		Email:    entity.NormalizeEmail(user.Email),
		UserID:   user.ID,
		Role:     entity.RoleSchoolOwner,
		JoinedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("add owner: %w", err)
	}
	c.log.With(
		slog.String("school_id", school.ID),
		slog.String("owner", user.Username),
	).Info("school created")
	return school, nil
}

func (c *Core) SchoolActivities(ctx context.Context, user *entity.User, schoolID string, limit int) ([]*entity.Activity, error) {
	if err := c.canManage(ctx, user, schoolID); err != nil {
		return nil, err
	}
	return c.notif.Activities(ctx, schoolID, limit)
}

// invitations

// CreateInvitation issues the invitation and attempts delivery; a failed
// email leaves the invitation in place with its delivery status recorded.
func (c *Core) CreateInvitation(ctx context.Context, user *entity.User, req *entity.InvitationRequest) (*entity.Invitation, error) {
	if err := c.canManage(ctx, user, req.SchoolID); err != nil {
		return nil, err
	}
	inv, err := c.inv.Create(ctx, req, user.ID)
	if err != nil {
		return nil, err
	}
	if _, err = c.inv.Deliver(ctx, inv.ID); err != nil {
		c.log.With(
			slog.String("invitation_id", inv.ID),
			sl.Err(err),
		).Warn("invitation delivery")
	}
	return c.inv.Get(ctx, inv.ID)
}

func (c *Core) InviteBulk(ctx context.Context, user *entity.User, req *entity.BulkInvitationRequest) (*entity.BulkResult, error) {
	if err := c.canManage(ctx, user, req.SchoolID); err != nil {
		return nil, err
	}
	return c.inv.InviteBulk(ctx, req, user.ID), nil
}

func (c *Core) ResendInvitation(ctx context.Context, user *entity.User, id string) (*entity.DeliveryResult, error) {
	inv, err := c.inv.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = c.canManage(ctx, user, inv.SchoolID); err != nil {
		return nil, err
	}
	return c.inv.Deliver(ctx, id)
}

func (c *Core) CancelInvitation(ctx context.Context, user *entity.User, id string) (*entity.Invitation, error) {
	inv, err := c.inv.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = c.canManage(ctx, user, inv.SchoolID); err != nil {
		return nil, err
	}
	return c.inv.Cancel(ctx, id, user.ID)
}

func (c *Core) BatchStatus(ctx context.Context, user *entity.User, batchID string) (*entity.BatchStatus, error) {
	status, err := c.inv.BatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err = c.canManage(ctx, user, status.SchoolID); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Core) InvitationStatus(ctx context.Context, token string) (*entity.InvitationStatusView, error) {
	return c.inv.Status(ctx, token)
}

// AcceptInvitation requires the signed-in user to own the invited address.
func (c *Core) AcceptInvitation(ctx context.Context, user *entity.User, token string) (*entity.Invitation, error) {
	inv, err := c.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() && entity.NormalizeEmail(user.Email) != inv.Email {
		return nil, errs.New(errs.CodeForbidden, "invitation was issued to a different email address")
	}
	return c.inv.Accept(ctx, token, user.ID)
}

func (c *Core) DeclineInvitation(ctx context.Context, token string) (*entity.Invitation, error) {
	return c.inv.Decline(ctx, token)
}

// family budget

// CreateRelationship is reserved to school managers; a parent cannot link
// themselves to a child.
func (c *Core) CreateRelationship(ctx context.Context, user *entity.User, req *entity.RelationshipRequest) (*entity.ParentChildRelationship, error) {
	if err := c.canManage(ctx, user, req.SchoolID); err != nil {
		return nil, err
	}
	return c.appr.CreateRelationship(ctx, req)
}

// relationshipFor loads a relationship the user may administer: its parent
// or a manager of its school.
func (c *Core) relationshipFor(ctx context.Context, user *entity.User, id string) (*entity.ParentChildRelationship, error) {
	rel, err := c.appr.Relationship(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel.ParentID == user.ID {
		return rel, nil
	}
	if err = c.canManage(ctx, user, rel.SchoolID); err != nil {
		return nil, err
	}
	return rel, nil
}

func (c *Core) SetBudgetControl(ctx context.Context, user *entity.User, relationshipID string, req *entity.BudgetControlRequest) (*entity.FamilyBudgetControl, error) {
	if _, err := c.relationshipFor(ctx, user, relationshipID); err != nil {
		return nil, err
	}
	return c.appr.SetBudgetControl(ctx, relationshipID, req)
}

func (c *Core) BudgetControl(ctx context.Context, user *entity.User, relationshipID string) (*entity.FamilyBudgetControl, error) {
	rel, err := c.appr.Relationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if rel.ChildID != user.ID {
		if _, err = c.relationshipFor(ctx, user, relationshipID); err != nil {
			return nil, err
		}
	}
	return c.appr.BudgetControl(ctx, relationshipID)
}

// CheckBudget is open to both sides of the relationship.
func (c *Core) CheckBudget(ctx context.Context, user *entity.User, relationshipID string, amount decimal.Decimal) (*entity.BudgetCheck, error) {
	rel, err := c.appr.Relationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if rel.ChildID != user.ID {
		if _, err = c.relationshipFor(ctx, user, relationshipID); err != nil {
			return nil, err
		}
	}
	return c.appr.CheckRelationship(ctx, relationshipID, amount)
}

// purchase approvals

func (c *Core) SubmitPurchase(ctx context.Context, user *entity.User, req *entity.PurchaseRequest) (*entity.PurchaseOutcome, error) {
	return c.appr.SubmitRequest(ctx, user.ID, req)
}

func (c *Core) PendingApprovals(ctx context.Context, user *entity.User) ([]*entity.PurchaseApprovalRequest, error) {
	return c.appr.PendingForParent(ctx, user.ID)
}

func (c *Core) ApprovalRequest(ctx context.Context, user *entity.User, id string) (*entity.PurchaseApprovalRequest, error) {
	req, err := c.appr.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ParentID != user.ID && req.StudentID != user.ID && !user.IsAdmin() {
		return nil, forbidden()
	}
	return req, nil
}

func (c *Core) ApproveRequest(ctx context.Context, user *entity.User, id, notes string) (*entity.PurchaseOutcome, error) {
	return c.appr.Approve(ctx, id, user.ID, notes)
}

func (c *Core) DenyRequest(ctx context.Context, user *entity.User, id, notes string) (*entity.PurchaseApprovalRequest, error) {
	return c.appr.Deny(ctx, id, user.ID, notes)
}

func (c *Core) CancelRequest(ctx context.Context, user *entity.User, id string) (*entity.PurchaseApprovalRequest, error) {
	return c.appr.Cancel(ctx, id, user.ID)
}

// notifications

func (c *Core) Notifications(ctx context.Context, user *entity.User, limit int) ([]*entity.Notification, error) {
	return c.notif.ForUser(ctx, user.ID, limit)
}

// payments

func (c *Core) StripeVerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	if c.payments == nil {
		return false
	}
	return c.payments.VerifySignature(payload, header, tolerance)
}

// StripeEvent completes the ledger transaction of a paid checkout session;
// every other event is acknowledged and ignored.
func (c *Core) StripeEvent(ctx context.Context, evt *stripe.Event) {
	if c.payments == nil {
		return
	}
	log := c.log.With(
		slog.String("event_id", evt.ID),
		slog.String("type", string(evt.Type)),
	)
	txID := c.payments.CompletedTransaction(evt)
	if txID == "" {
		log.Debug("event ignored")
		return
	}
	if err := c.appr.CompleteTransaction(ctx, txID); err != nil {
		log.With(
			slog.String("transaction_id", txID),
			sl.Err(err),
		).Error("complete transaction")
		return
	}
	log.With(slog.String("transaction_id", txID)).Info("transaction completed")
}
