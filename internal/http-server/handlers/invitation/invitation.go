package invitation

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
	CreateInvitation(ctx context.Context, user *entity.User, req *entity.InvitationRequest) (*entity.Invitation, error)
	InviteBulk(ctx context.Context, user *entity.User, req *entity.BulkInvitationRequest) (*entity.BulkResult, error)
	ResendInvitation(ctx context.Context, user *entity.User, id string) (*entity.DeliveryResult, error)
	CancelInvitation(ctx context.Context, user *entity.User, id string) (*entity.Invitation, error)
	BatchStatus(ctx context.Context, user *entity.User, batchID string) (*entity.BatchStatus, error)
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.invitation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
		)

		var req entity.InvitationRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			response.RenderBindError(w, r, err)
			return
		}
		logger = logger.With(
			slog.String("school_id", req.SchoolID),
			slog.String("role", string(req.Role)),
		)

		inv, err := handler.CreateInvitation(r.Context(), user, &req)
		if err != nil {
			logger.Warn("create invitation", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			slog.String("invitation_id", inv.ID),
			slog.String("email_delivery_status", string(inv.EmailDeliveryStatus)),
		).Info("invitation created")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.OkMessage("Invitation created", inv))
	}
}

func Bulk(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.invitation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
		)

		var req entity.BulkInvitationRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			response.RenderBindError(w, r, err)
			return
		}

		result, err := handler.InviteBulk(r.Context(), user, &req)
		if err != nil {
			logger.Warn("bulk invitation", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			slog.String("batch_id", result.BatchID),
			slog.Int("total", result.Total),
			slog.Int("failed", result.FailureCount),
		).Info("bulk invitation processed")

		render.JSON(w, r, response.Ok(result))
	}
}

func Resend(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.invitation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("invitation_id", id),
		)

		result, err := handler.ResendInvitation(r.Context(), user, id)
		if err != nil {
			logger.Warn("resend invitation", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			slog.Bool("success", result.Success),
			slog.Int("retry_count", result.RetryCount),
		).Info("invitation resent")

		render.JSON(w, r, response.Ok(result))
	}
}

func Cancel(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.invitation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("invitation_id", id),
		)

		inv, err := handler.CancelInvitation(r.Context(), user, id)
		if err != nil {
			logger.Warn("cancel invitation", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.Info("invitation cancelled")

		render.JSON(w, r, response.OkMessage("Invitation cancelled", inv))
	}
}

func Batch(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		batchID := chi.URLParam(r, "batch_id")
		logger := log.With(
			sl.Module("http.handlers.invitation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("batch_id", batchID),
		)

		status, err := handler.BatchStatus(r.Context(), user, batchID)
		if err != nil {
			logger.Warn("batch status", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(status))
	}
}
