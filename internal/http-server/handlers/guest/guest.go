// Package guest serves the invitation links opened by invitees. Status and
// decline work without an account; accepting requires a signed-in user.
package guest

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
	InvitationStatus(ctx context.Context, token string) (*entity.InvitationStatusView, error)
	AcceptInvitation(ctx context.Context, user *entity.User, token string) (*entity.Invitation, error)
	DeclineInvitation(ctx context.Context, token string) (*entity.Invitation, error)
}

func Status(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		logger := log.With(
			sl.Module("http.handlers.guest"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.Secret("token", token),
		)

		view, err := handler.InvitationStatus(r.Context(), token)
		if err != nil {
			logger.Warn("invitation status", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(view))
	}
}

func Accept(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.guest"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.Secret("token", token),
			slog.String("user", user.Username),
		)

		inv, err := handler.AcceptInvitation(r.Context(), user, token)
		if err != nil {
			logger.Warn("accept invitation", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			slog.String("invitation_id", inv.ID),
			slog.String("school_id", inv.SchoolID),
		).Info("invitation accepted")

		render.JSON(w, r, response.OkMessage("Invitation accepted", inv))
	}
}

func Decline(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		logger := log.With(
			sl.Module("http.handlers.guest"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.Secret("token", token),
		)

		inv, err := handler.DeclineInvitation(r.Context(), token)
		if err != nil {
			logger.Warn("decline invitation", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(slog.String("invitation_id", inv.ID)).Info("invitation declined")

		render.JSON(w, r, response.OkMessage("Invitation declined", inv))
	}
}
