package invitation

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/errs"
	"aprendecomigo/lib/validate"
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SendBulk delivers every invitation independently with bounded
// concurrency. One failure never stops the rest of the batch.
func (s *Service) SendBulk(ctx context.Context, ids []string) *entity.BulkResult {
	result := &entity.BulkResult{
		Successful: make([]*entity.DeliveryResult, 0, len(ids)),
		Failed:     make([]*entity.BulkFailure, 0),
		Total:      len(ids),
	}
	delivered := make([]*entity.DeliveryResult, len(ids))
	failed := make([]*entity.BulkFailure, len(ids))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Deliver(ctx, id)
			switch {
			case err != nil:
				failed[i] = &entity.BulkFailure{
					InvitationID: id,
					Email:        s.emailOf(ctx, id),
					Error:        err.Error(),
					Code:         string(errs.CodeOf(err)),
				}
			case !res.Success:
				failed[i] = &entity.BulkFailure{InvitationID: id, Email: res.Email, Error: res.Error}
			default:
				delivered[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range ids {
		if delivered[i] != nil {
			result.Successful = append(result.Successful, delivered[i])
		}
		if failed[i] != nil {
			result.Failed = append(result.Failed, failed[i])
		}
	}
	result.SuccessCount = len(result.Successful)
	result.FailureCount = len(result.Failed)
	return result
}

func (s *Service) emailOf(ctx context.Context, id string) string {
	inv, err := s.repo.GetInvitation(ctx, id)
	if err != nil {
		return ""
	}
	return inv.Email
}

// InviteBulk creates one invitation per email under a shared batch id and
// delivers them. Creation failures are reported next to delivery failures.
func (s *Service) InviteBulk(ctx context.Context, req *entity.BulkInvitationRequest, inviterID string) *entity.BulkResult {
	batchID := uuid.NewString()
	var created []string
	var failed []*entity.BulkFailure
	seen := make(map[string]bool, len(req.Emails))

	for _, email := range req.Emails {
		email = entity.NormalizeEmail(email)
		if seen[email] {
			failed = append(failed, &entity.BulkFailure{
				Email: email,
				Error: "email is repeated in the request",
				Code:  string(errs.CodeValidation),
			})
			continue
		}
		seen[email] = true
		if err := validate.Var(email, "required,email"); err != nil {
			failed = append(failed, &entity.BulkFailure{Email: email, Error: "invalid email address", Code: string(errs.CodeValidation)})
			continue
		}
		inv, err := s.Create(ctx, &entity.InvitationRequest{
			SchoolID:      req.SchoolID,
			Email:         email,
			Role:          req.Role,
			CustomMessage: req.CustomMessage,
			BatchID:       batchID,
		}, inviterID)
		if err != nil {
			failed = append(failed, &entity.BulkFailure{Email: email, Error: err.Error(), Code: string(errs.CodeOf(err))})
			continue
		}
		created = append(created, inv.ID)
	}

	result := s.SendBulk(ctx, created)
	result.BatchID = batchID
	result.Failed = append(failed, result.Failed...)
	result.Total = len(req.Emails)
	result.FailureCount = len(result.Failed)

	s.log.With(
		slog.String("batch_id", batchID),
		slog.Int("total", result.Total),
		slog.Int("success", result.SuccessCount),
		slog.Int("failed", result.FailureCount),
	).Info("bulk invitations")
	return result
}
