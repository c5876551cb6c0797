package approval

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/api/cont"
	"aprendecomigo/lib/api/response"
	"aprendecomigo/lib/sl"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	SubmitPurchase(ctx context.Context, user *entity.User, req *entity.PurchaseRequest) (*entity.PurchaseOutcome, error)
	PendingApprovals(ctx context.Context, user *entity.User) ([]*entity.PurchaseApprovalRequest, error)
	ApprovalRequest(ctx context.Context, user *entity.User, id string) (*entity.PurchaseApprovalRequest, error)
	ApproveRequest(ctx context.Context, user *entity.User, id, notes string) (*entity.PurchaseOutcome, error)
	DenyRequest(ctx context.Context, user *entity.User, id, notes string) (*entity.PurchaseApprovalRequest, error)
	CancelRequest(ctx context.Context, user *entity.User, id string) (*entity.PurchaseApprovalRequest, error)
}

func requestLogger(log *slog.Logger, r *http.Request) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.approval"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user", cont.GetUser(r.Context()).Username),
	)
}

// Submit handles a student purchase; a 200 response carries the request
// either pending or already approved together with the budget check.
func Submit(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		var req entity.PurchaseRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			response.RenderBindError(w, r, err)
			return
		}
		logger = logger.With(
			slog.String("relationship_id", req.RelationshipID),
			sl.Amount("amount", req.Amount),
		)

		outcome, err := handler.SubmitPurchase(r.Context(), cont.GetUser(r.Context()), &req)
		if err != nil {
			logger.Warn("submit purchase", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			slog.String("approval_id", outcome.Request.ID),
			slog.String("status", string(outcome.Request.Status)),
		).Info("purchase submitted")

		message := "Purchase request sent to parent for approval"
		if outcome.Request.AutoApproved {
			message = "Purchase approved automatically"
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.OkMessage(message, outcome))
	}
}

func Pending(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		list, err := handler.PendingApprovals(r.Context(), cont.GetUser(r.Context()))
		if err != nil {
			logger.Error("pending approvals", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		if list == nil {
			list = []*entity.PurchaseApprovalRequest{}
		}

		render.JSON(w, r, response.Ok(list))
	}
}

func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := requestLogger(log, r).With(slog.String("approval_id", id))

		req, err := handler.ApprovalRequest(r.Context(), cont.GetUser(r.Context()), id)
		if err != nil {
			logger.Warn("get approval request", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(req))
	}
}

func Approve(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := requestLogger(log, r).With(slog.String("approval_id", id))

		var decision entity.ApprovalDecision
		if r.ContentLength != 0 {
			if err := render.Bind(r, &decision); err != nil {
				logger.Error("bind request", sl.Err(err))
				response.RenderBindError(w, r, err)
				return
			}
		}

		outcome, err := handler.ApproveRequest(r.Context(), cont.GetUser(r.Context()), id, decision.Notes)
		if err != nil {
			logger.Warn("approve request", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(slog.String("transaction_id", outcome.Request.TransactionID)).Info("request approved")

		render.JSON(w, r, response.OkMessage("Purchase request approved", outcome))
	}
}

func Deny(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := requestLogger(log, r).With(slog.String("approval_id", id))

		var decision entity.ApprovalDecision
		if r.ContentLength != 0 {
			if err := render.Bind(r, &decision); err != nil {
				logger.Error("bind request", sl.Err(err))
				response.RenderBindError(w, r, err)
				return
			}
		}

		req, err := handler.DenyRequest(r.Context(), cont.GetUser(r.Context()), id, decision.Notes)
		if err != nil {
			logger.Warn("deny request", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.Info("request denied")

		render.JSON(w, r, response.OkMessage("Purchase request denied", req))
	}
}

func Cancel(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := requestLogger(log, r).With(slog.String("approval_id", id))

		req, err := handler.CancelRequest(r.Context(), cont.GetUser(r.Context()), id)
		if err != nil {
			logger.Warn("cancel request", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.Info("request cancelled")

		render.JSON(w, r, response.OkMessage("Purchase request cancelled", req))
	}
}
