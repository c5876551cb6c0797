// Package invitation issues, delivers and resolves school invitations.
//
// Every transition is a read-modify-write guarded by the store's version
// check; a lost race is retried from a fresh read a bounded number of times.
package invitation

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
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

const maxUpdateAttempts = 3

type Repository interface {
	GetSchool(ctx context.Context, id string) (*entity.School, error)
	AddSchoolMember(ctx context.Context, member *entity.SchoolMembership) (bool, error)
	SaveInvitation(ctx context.Context, inv *entity.Invitation) error
	UpdateInvitation(ctx context.Context, inv *entity.Invitation) error
	GetInvitation(ctx context.Context, id string) (*entity.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*entity.Invitation, error)
	FindActiveInvitation(ctx context.Context, schoolID, email string) (*entity.Invitation, error)
	GetInvitationsByBatch(ctx context.Context, batchID string) ([]*entity.Invitation, error)
	GetStaleInvitations(ctx context.Context, now time.Time) ([]*entity.Invitation, error)
}

// Mailer delivers the invitation email. A returned error is treated as a
// failed delivery attempt.
type Mailer interface {
	SendInvitationEmail(ctx context.Context, inv *entity.Invitation, school *entity.School) error
}

type Publisher interface {
	Publish(ctx context.Context, evt events.Event)
}

type Service struct {
	repo        Repository
	mailer      Mailer
	bus         Publisher
	log         *slog.Logger
	now         func() time.Time
	newBackOff  func() backoff.BackOff
	expiry      time.Duration
	maxRetries  int
	concurrency int
}

func New(conf *config.Config, repo Repository, mailer Mailer, bus Publisher, log *slog.Logger) *Service {
	s := &Service{
		repo:        repo,
		mailer:      mailer,
		bus:         bus,
		log:         log.With(sl.Module("invitation")),
		now:         time.Now,
		expiry:      entity.DefaultInvitationExpiry,
		maxRetries:  entity.DefaultMaxRetries,
		concurrency: 4,
	}
	interval := 500 * time.Millisecond
	if conf != nil {
		if conf.Invitation.ExpiryDays > 0 {
			s.expiry = time.Duration(conf.Invitation.ExpiryDays) * 24 * time.Hour
		}
		if conf.Invitation.MaxRetries > 0 {
			s.maxRetries = conf.Invitation.MaxRetries
		}
		if conf.Invitation.BulkConcurrency > 0 {
			s.concurrency = conf.Invitation.BulkConcurrency
		}
		if conf.Invitation.BackoffMillis > 0 {
			interval = time.Duration(conf.Invitation.BackoffMillis) * time.Millisecond
		}
	}
	s.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = interval
		return b
	}
	return s
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetBackOff(f func() backoff.BackOff) {
	s.newBackOff = f
}

func (s *Service) publish(ctx context.Context, t events.Type, inv *entity.Invitation, actorID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Type:       t,
		SchoolID:   inv.SchoolID,
		ActorID:    actorID,
		OccurredAt: s.now(),
		Invitation: inv,
	})
}

// errUnchanged lets a mutation report that the invitation is already in the
// requested state and nothing has to be written.
var errUnchanged = errors.New("unchanged")

// update applies mutate to a fresh copy of the invitation and stores it,
// retrying on version conflicts. The boolean reports whether a write happened.
func (s *Service) update(ctx context.Context, id string, mutate func(inv *entity.Invitation) error) (*entity.Invitation, bool, error) {
	for attempt := 1; ; attempt++ {
		inv, err := s.repo.GetInvitation(ctx, id)
		if err != nil {
			return nil, false, err
		}
		err = mutate(inv)
		if errors.Is(err, errUnchanged) {
			return inv, false, nil
		}
		if err != nil {
			return inv, false, err
		}
		err = s.repo.UpdateInvitation(ctx, inv)
		if err == nil {
			return inv, true, nil
		}
		if !errs.HasCode(err, errs.CodeConflict) || attempt >= maxUpdateAttempts {
			return nil, false, err
		}
		s.log.With(slog.String("invitation_id", id), slog.Int("attempt", attempt)).Debug("version conflict, retrying")
	}
}

// Create issues a new invitation. An active invitation for the same
// (school, email) that has only run out of time is marked expired first.
func (s *Service) Create(ctx context.Context, req *entity.InvitationRequest, inviterID string) (*entity.Invitation, error) {
	email := entity.NormalizeEmail(req.Email)
	if email == "" {
		return nil, errs.New(errs.CodeValidation, "email is required")
	}
	school, err := s.repo.GetSchool(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.FindActiveInvitation(ctx, school.ID, email)
	if err != nil {
		return nil, fmt.Errorf("find active invitation: %w", err)
	}
	if active != nil {
		if !active.IsExpired(s.now()) {
			return nil, errs.New(errs.CodeDuplicateActiveInvitation, "an active invitation already exists for this email")
		}
		if _, err = s.expire(ctx, active.ID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	inv := &entity.Invitation{
		ID:                  uuid.NewString(),
		SchoolID:            school.ID,
		Email:               email,
		Role:                req.Role,
		InvitedBy:           inviterID,
		EmailDeliveryStatus: entity.DeliveryNotSent,
		MaxRetries:          s.maxRetries,
		ExpiresAt:           now.Add(s.expiry),
		CustomMessage:       req.CustomMessage,
		BatchID:             req.BatchID,
		CreatedAt:           now,
	}
	inv.SetStatus(entity.InvitationPending, now)

	for attempt := 1; ; attempt++ {
		inv.Token, err = entity.NewInvitationToken()
		if err != nil {
			return nil, err
		}
		err = s.repo.SaveInvitation(ctx, inv)
		if err == nil {
			break
		}
		// token collision is the only conflict worth a new attempt
		if !errs.HasCode(err, errs.CodeConflict) || attempt >= maxUpdateAttempts {
			return nil, err
		}
	}

	s.log.With(
		slog.String("invitation_id", inv.ID),
		slog.String("school_id", inv.SchoolID),
		slog.String("role", string(inv.Role)),
		sl.Secret("token", inv.Token),
	).Info("invitation created")
	s.publish(ctx, events.InvitationCreated, inv, inviterID)
	return inv, nil
}

// SendEmail makes one delivery attempt. A failed attempt is not an error:
// it is recorded on the invitation and reported in the result.
func (s *Service) SendEmail(ctx context.Context, id string) (*entity.DeliveryResult, error) {
	inv, err := s.repo.GetInvitation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = checkSendable(inv, s.now()); err != nil {
		return nil, err
	}
	school, err := s.repo.GetSchool(ctx, inv.SchoolID)
	if err != nil {
		return nil, err
	}

	sendErr := s.mailer.SendInvitationEmail(ctx, inv, school)

	inv, _, err = s.update(ctx, id, func(inv *entity.Invitation) error {
		if err := checkSendable(inv, s.now()); err != nil {
			return err
		}
		now := s.now()
		if sendErr != nil {
			inv.RetryCount++
			inv.EmailDeliveryStatus = entity.DeliveryFailed
			inv.FailureReason = sendErr.Error()
			inv.UpdatedAt = now
			return nil
		}
		inv.EmailDeliveryStatus = entity.DeliverySent
		inv.EmailSentAt = &now
		inv.FailureReason = ""
		if inv.Status == entity.InvitationPending {
			inv.SetStatus(entity.InvitationSent, now)
		}
		inv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &entity.DeliveryResult{
		InvitationID: inv.ID,
		Email:        inv.Email,
		Success:      sendErr == nil,
		Status:       inv.EmailDeliveryStatus,
		RetryCount:   inv.RetryCount,
	}
	log := s.log.With(slog.String("invitation_id", inv.ID), slog.Int("retry_count", inv.RetryCount))
	if sendErr != nil {
		result.Error = sendErr.Error()
		log.With(sl.Err(sendErr)).Warn("invitation email failed")
		s.publish(ctx, events.InvitationDeliveryFailed, inv, "")
	} else {
		log.Debug("invitation email sent")
		s.publish(ctx, events.InvitationSent, inv, "")
	}
	return result, nil
}

func checkSendable(inv *entity.Invitation, now time.Time) error {
	if inv.Status.IsTerminal() {
		return errs.New(errs.CodeInvitationProcessed, fmt.Sprintf("invitation is %s", inv.Status))
	}
	if inv.IsExpired(now) {
		return errs.New(errs.CodeInvitationExpired, "invitation has expired")
	}
	if inv.RetryCount >= inv.MaxRetries {
		return errs.New(errs.CodeRetryLimitExceeded, "maximum delivery retries exceeded")
	}
	return nil
}

// Deliver retries SendEmail with backoff until it succeeds or the
// invitation's retry budget is spent.
func (s *Service) Deliver(ctx context.Context, id string) (*entity.DeliveryResult, error) {
	inv, err := s.repo.GetInvitation(ctx, id)
	if err != nil {
		return nil, err
	}
	remaining := inv.MaxRetries - inv.RetryCount
	if remaining < 1 {
		return nil, errs.New(errs.CodeRetryLimitExceeded, "maximum delivery retries exceeded")
	}

	var last *entity.DeliveryResult
	op := func() (*entity.DeliveryResult, error) {
		res, err := s.SendEmail(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		last = res
		if !res.Success {
			return res, errors.New(res.Error)
		}
		return res, nil
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(remaining)),
	)
	if err == nil {
		return res, nil
	}
	// exhausted attempts leave a failed result, not an error
	if last != nil && !last.Success {
		return last, nil
	}
	return nil, err
}

// Accept resolves the invitation by token. Accepting twice is a no-op and
// the school membership is created at most once.
func (s *Service) Accept(ctx context.Context, token, userID string) (*entity.Invitation, error) {
	found, err := s.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	inv, changed, err := s.update(ctx, found.ID, func(inv *entity.Invitation) error {
		now := s.now()
		switch {
		case inv.Status == entity.InvitationAccepted:
			return errUnchanged
		case inv.Status.IsTerminal():
			return errs.New(errs.CodeInvitationProcessed, fmt.Sprintf("invitation has already been %s", inv.Status))
		case inv.IsExpired(now):
			return errs.New(errs.CodeInvitationExpired, "invitation has expired")
		}
		inv.SetStatus(entity.InvitationAccepted, now)
		inv.IsAccepted = true
		inv.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.repo.AddSchoolMember(ctx, &entity.SchoolMembership{
		SchoolID:     inv.SchoolID,
		Email:        inv.Email,
		UserID:       userID,
		Role:         inv.Role,
		InvitationID: inv.ID,
		JoinedAt:     *inv.AcceptedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("add school member: %w", err)
	}
	if changed {
		s.log.With(
			slog.String("invitation_id", inv.ID),
			slog.String("school_id", inv.SchoolID),
			slog.Bool("membership_created", created),
		).Info("invitation accepted")
		s.publish(ctx, events.InvitationAccepted, inv, userID)
	}
	return inv, nil
}

func (s *Service) Decline(ctx context.Context, token string) (*entity.Invitation, error) {
	found, err := s.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	inv, _, err := s.update(ctx, found.ID, func(inv *entity.Invitation) error {
		now := s.now()
		switch inv.Status {
		case entity.InvitationAccepted:
			return errs.New(errs.CodeInvitationAlreadyAccepted, "this invitation has already been accepted")
		case entity.InvitationDeclined:
			return errs.New(errs.CodeInvitationAlreadyDeclined, "this invitation has already been declined")
		case entity.InvitationCancelled:
			return errs.New(errs.CodeInvitationCancelled, "this invitation has been cancelled")
		case entity.InvitationExpired:
			return errs.New(errs.CodeInvitationExpired, "invitation has expired")
		}
		if inv.IsExpired(now) {
			return errs.New(errs.CodeInvitationExpired, "invitation has expired")
		}
		inv.SetStatus(entity.InvitationDeclined, now)
		inv.DeclinedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.With(slog.String("invitation_id", inv.ID)).Info("invitation declined")
	s.publish(ctx, events.InvitationDeclined, inv, "")
	return inv, nil
}

// Cancel is the inviter withdrawing an invitation; cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*entity.Invitation, error) {
	inv, changed, err := s.update(ctx, id, func(inv *entity.Invitation) error {
		switch inv.Status {
		case entity.InvitationAccepted:
			return errs.New(errs.CodeValidation, "cannot cancel an accepted invitation")
		case entity.InvitationCancelled:
			return errUnchanged
		case entity.InvitationDeclined, entity.InvitationExpired:
			return errs.New(errs.CodeInvitationProcessed, fmt.Sprintf("invitation has already been %s", inv.Status))
		}
		now := s.now()
		inv.SetStatus(entity.InvitationCancelled, now)
		inv.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.With(slog.String("invitation_id", inv.ID), slog.String("actor_id", actorID)).Info("invitation cancelled")
		s.publish(ctx, events.InvitationCancelled, inv, actorID)
	}
	return inv, nil
}

// MarkViewed records the first view. Active invitations move to viewed;
// terminal or timed-out ones keep their status.
func (s *Service) MarkViewed(ctx context.Context, id string) (*entity.Invitation, error) {
	inv, changed, err := s.update(ctx, id, func(inv *entity.Invitation) error {
		if inv.ViewedAt != nil || inv.Status.IsTerminal() {
			return errUnchanged
		}
		now := s.now()
		inv.ViewedAt = &now
		if inv.IsActive(now) {
			inv.SetStatus(entity.InvitationViewed, now)
		}
		inv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, events.InvitationViewed, inv, "")
	}
	return inv, nil
}

// MarkDelivered applies a delivery report from the email provider.
func (s *Service) MarkDelivered(ctx context.Context, id string) (*entity.Invitation, error) {
	inv, changed, err := s.update(ctx, id, func(inv *entity.Invitation) error {
		if inv.Status.IsTerminal() || inv.EmailDeliveryStatus == entity.DeliveryDelivered {
			return errUnchanged
		}
		now := s.now()
		inv.EmailDeliveryStatus = entity.DeliveryDelivered
		inv.DeliveredAt = &now
		if inv.Status == entity.InvitationPending || inv.Status == entity.InvitationSent {
			inv.SetStatus(entity.InvitationDelivered, now)
		}
		inv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, events.InvitationDelivered, inv, "")
	}
	return inv, nil
}

// Status returns the guest view of an invitation and counts as a view.
func (s *Service) Status(ctx context.Context, token string) (*entity.InvitationStatusView, error) {
	inv, err := s.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if viewed, err := s.MarkViewed(ctx, inv.ID); err != nil {
		s.log.With(slog.String("invitation_id", inv.ID), sl.Err(err)).Warn("mark viewed")
	} else {
		inv = viewed
	}

	now := s.now()
	view := &entity.InvitationStatusView{
		Email:     inv.Email,
		Role:      inv.Role,
		SchoolID:  inv.SchoolID,
		Status:    inv.Status,
		ExpiresAt: inv.ExpiresAt,
		IsExpired: inv.Status == entity.InvitationExpired || (!inv.Status.IsTerminal() && inv.IsExpired(now)),
		CanAccept: inv.CanAccept(now),
		Message:   inv.CustomMessage,
	}
	if school, err := s.repo.GetSchool(ctx, inv.SchoolID); err == nil {
		view.SchoolName = school.Name
	}
	return view, nil
}

func (s *Service) BatchStatus(ctx context.Context, batchID string) (*entity.BatchStatus, error) {
	list, err := s.repo.GetInvitationsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errs.New(errs.CodeNotFound, "batch not found")
	}
	status := &entity.BatchStatus{
		BatchID:  batchID,
		SchoolID: list[0].SchoolID,
		Total:    len(list),
		Status:   make(map[entity.InvitationStatus]int),
		Email:    make(map[entity.DeliveryStatus]int),
	}
	for _, inv := range list {
		status.Status[inv.Status]++
		status.Email[inv.EmailDeliveryStatus]++
	}
	return status, nil
}

// Get returns an invitation by id; used for authorization checks.
func (s *Service) Get(ctx context.Context, id string) (*entity.Invitation, error) {
	return s.repo.GetInvitation(ctx, id)
}

func (s *Service) expire(ctx context.Context, id string) (bool, error) {
	inv, changed, err := s.update(ctx, id, func(inv *entity.Invitation) error {
		now := s.now()
		if inv.Status.IsTerminal() || !inv.IsExpired(now) {
			return errUnchanged
		}
		inv.SetStatus(entity.InvitationExpired, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.publish(ctx, events.InvitationExpired, inv, "")
	}
	return changed, nil
}

// ExpireStale marks every timed-out active invitation expired and returns
// how many were changed.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.GetStaleInvitations(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("get stale invitations: %w", err)
	}
	count := 0
	for _, inv := range stale {
		changed, err := s.expire(ctx, inv.ID)
		if err != nil {
			s.log.With(slog.String("invitation_id", inv.ID), sl.Err(err)).Error("expire invitation")
			continue
		}
		if changed {
			count++
		}
	}
	return count, nil
}
