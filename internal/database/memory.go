package database

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/errs"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is a process-local store with the same semantics as MongoDB:
// one active invitation per (school, email), optimistic versioning on
// invitations and approval requests, and idempotent memberships.
// Used when mongo is disabled and in tests.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]*entity.User
	schools       map[string]*entity.School
	members       map[string]*entity.SchoolMembership
	invitations   map[string]*entity.Invitation
	relationships map[string]*entity.ParentChildRelationship
	budgets       map[string]*entity.FamilyBudgetControl
	requests      map[string]*entity.PurchaseApprovalRequest
	transactions  map[string]*entity.Transaction
	notifications []*entity.Notification
	activities    []*entity.Activity
}

func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]*entity.User),
		schools:       make(map[string]*entity.School),
		members:       make(map[string]*entity.SchoolMembership),
		invitations:   make(map[string]*entity.Invitation),
		relationships: make(map[string]*entity.ParentChildRelationship),
		budgets:       make(map[string]*entity.FamilyBudgetControl),
		requests:      make(map[string]*entity.PurchaseApprovalRequest),
		transactions:  make(map[string]*entity.Transaction),
	}
}

func notFound(what string) error {
	return errs.New(errs.CodeNotFound, what+" not found")
}

func conflict(what string) error {
	return errs.New(errs.CodeConflict, what+" was modified concurrently")
}

// users

func (m *Memory) SaveUser(_ context.Context, user *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

func (m *Memory) GetUser(_ context.Context, token string) (*entity.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Token == token {
			c := *u
			return &c, nil
		}
	}
	return nil, notFound("user")
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*entity.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user")
	}
	c := *u
	return &c, nil
}

// schools and memberships

func (m *Memory) SaveSchool(_ context.Context, school *entity.School) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	s := *school
	m.schools[s.ID] = &s
	return nil
}

func (m *Memory) GetSchool(_ context.Context, id string) (*entity.School, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schools[id]
	if !ok {
		return nil, notFound("school")
	}
	c := *s
	return &c, nil
}

func memberKey(schoolID, email string, role entity.Role) string {
	return schoolID + "|" + email + "|" + string(role)
}

func (m *Memory) AddSchoolMember(_ context.Context, member *entity.SchoolMembership) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(member.SchoolID, member.Email, member.Role)
	if existing, ok := m.members[key]; ok {
		*member = *existing
		return false, nil
	}
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	c := *member
	m.members[key] = &c
	return true, nil
}

func (m *Memory) GetMembership(_ context.Context, schoolID, userID, email string) ([]*entity.SchoolMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.SchoolMembership
	for _, mb := range m.members {
		if mb.SchoolID != schoolID {
			continue
		}
		if (userID != "" && mb.UserID == userID) || (email != "" && mb.Email == email) {
			c := *mb
			result = append(result, &c)
		}
	}
	return result, nil
}

// invitations

func (m *Memory) SaveInvitation(_ context.Context, inv *entity.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.Active {
		for _, other := range m.invitations {
			if other.Active && other.SchoolID == inv.SchoolID && other.Email == inv.Email {
				return errs.New(errs.CodeDuplicateActiveInvitation, "an active invitation already exists for this email")
			}
		}
	}
	for _, other := range m.invitations {
		if other.Token == inv.Token {
			return errs.New(errs.CodeConflict, "invitation token collision")
		}
	}
	c := *inv
	m.invitations[c.ID] = &c
	return nil
}

func (m *Memory) UpdateInvitation(_ context.Context, inv *entity.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.invitations[inv.ID]
	if !ok {
		return notFound("invitation")
	}
	if current.Version != inv.Version {
		return conflict("invitation")
	}
	inv.Version++
	c := *inv
	m.invitations[c.ID] = &c
	return nil
}

func (m *Memory) GetInvitation(_ context.Context, id string) (*entity.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invitations[id]
	if !ok {
		return nil, notFound("invitation")
	}
	c := *inv
	return &c, nil
}

func (m *Memory) GetInvitationByToken(_ context.Context, token string) (*entity.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invitations {
		if inv.Token == token {
			c := *inv
			return &c, nil
		}
	}
	return nil, notFound("invitation")
}

func (m *Memory) FindActiveInvitation(_ context.Context, schoolID, email string) (*entity.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invitations {
		if inv.Active && inv.SchoolID == schoolID && inv.Email == email {
			c := *inv
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetInvitationsByBatch(_ context.Context, batchID string) ([]*entity.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.Invitation
	for _, inv := range m.invitations {
		if inv.BatchID == batchID {
			c := *inv
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) GetStaleInvitations(_ context.Context, now time.Time) ([]*entity.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.Invitation
	for _, inv := range m.invitations {
		if inv.Active && !now.Before(inv.ExpiresAt) {
			c := *inv
			result = append(result, &c)
		}
	}
	return result, nil
}

// relationships and budget controls

func (m *Memory) SaveRelationship(_ context.Context, rel *entity.ParentChildRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.relationships {
		if other.ParentID == rel.ParentID && other.ChildID == rel.ChildID && other.SchoolID == rel.SchoolID && other.ID != rel.ID {
			return errs.New(errs.CodeValidation, "relationship already exists for this parent, child and school")
		}
	}
	c := *rel
	m.relationships[c.ID] = &c
	return nil
}

func (m *Memory) GetRelationship(_ context.Context, id string) (*entity.ParentChildRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.relationships[id]
	if !ok {
		return nil, notFound("relationship")
	}
	c := *rel
	return &c, nil
}

func (m *Memory) SaveBudgetControl(_ context.Context, bc *entity.FamilyBudgetControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *bc
	m.budgets[c.RelationshipID] = &c
	return nil
}

func (m *Memory) GetBudgetControl(_ context.Context, relationshipID string) (*entity.FamilyBudgetControl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bc, ok := m.budgets[relationshipID]
	if !ok {
		return nil, nil
	}
	c := *bc
	return &c, nil
}

// approval requests

func (m *Memory) SaveApprovalRequest(_ context.Context, req *entity.PurchaseApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *req
	m.requests[c.ID] = &c
	return nil
}

func (m *Memory) UpdateApprovalRequest(_ context.Context, req *entity.PurchaseApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[req.ID]
	if !ok {
		return notFound("approval request")
	}
	if current.Version != req.Version {
		return conflict("approval request")
	}
	req.Version++
	c := *req
	m.requests[c.ID] = &c
	return nil
}

func (m *Memory) GetApprovalRequest(_ context.Context, id string) (*entity.PurchaseApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, notFound("approval request")
	}
	c := *req
	return &c, nil
}

func (m *Memory) GetPendingApprovalRequests(_ context.Context, parentID string) ([]*entity.PurchaseApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.PurchaseApprovalRequest
	for _, req := range m.requests {
		if req.ParentID == parentID && req.Status == entity.ApprovalPending {
			c := *req
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) GetStaleApprovalRequests(_ context.Context, now time.Time) ([]*entity.PurchaseApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.PurchaseApprovalRequest
	for _, req := range m.requests {
		if req.Status == entity.ApprovalPending && !now.Before(req.ExpiresAt) {
			c := *req
			result = append(result, &c)
		}
	}
	return result, nil
}

// ledger

func (m *Memory) CreateTransaction(_ context.Context, tx *entity.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *tx
	m.transactions[c.ID] = &c
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*entity.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, notFound("transaction")
	}
	c := *tx
	return &c, nil
}

func (m *Memory) SetTransactionSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return notFound("transaction")
	}
	tx.StripeSessionID = sessionID
	return nil
}

func (m *Memory) CompleteTransaction(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return false, notFound("transaction")
	}
	if tx.Status == entity.TransactionCompleted {
		return false, nil
	}
	tx.Status = entity.TransactionCompleted
	tx.CompletedAt = &at
	return true, nil
}

// CancelTransaction voids a transaction that is still pending.
func (m *Memory) CancelTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return notFound("transaction")
	}
	if tx.Status == entity.TransactionPending {
		tx.Status = entity.TransactionCancelled
	}
	return nil
}

func (m *Memory) SumCompleted(_ context.Context, studentID string, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, tx := range m.transactions {
		if tx.StudentID != studentID || tx.Status != entity.TransactionCompleted || tx.CompletedAt == nil {
			continue
		}
		if tx.CompletedAt.Before(from) || !tx.CompletedAt.Before(to) {
			continue
		}
		total = total.Add(tx.Amount)
	}
	return total, nil
}

// notifications and activity

func (m *Memory) SaveNotification(_ context.Context, n *entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.notifications = append(m.notifications, &c)
	return nil
}

func (m *Memory) LastNotification(_ context.Context, userID string, t entity.NotificationType) (*entity.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *entity.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && n.Type == t && (last == nil || n.CreatedAt.After(last.CreatedAt)) {
			last = n
		}
	}
	if last == nil {
		return nil, nil
	}
	c := *last
	return &c, nil
}

func (m *Memory) GetNotifications(_ context.Context, userID string, limit int) ([]*entity.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID {
			continue
		}
		c := *n
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) SaveActivity(_ context.Context, a *entity.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.activities = append(m.activities, &c)
	return nil
}

func (m *Memory) GetActivities(_ context.Context, schoolID string, limit int) ([]*entity.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.Activity
	for i := len(m.activities) - 1; i >= 0; i-- {
		a := m.activities[i]
		if a.SchoolID != schoolID {
			continue
		}
		c := *a
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
