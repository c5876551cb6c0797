package notification

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/api/cont"
	"aprendecomigo/lib/api/response"
	"aprendecomigo/lib/sl"
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	Notifications(ctx context.Context, user *entity.User, limit int) ([]*entity.Notification, error)
}

// List returns the newest notifications of the current user.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.notification"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
		)

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > 100 {
			limit = 20
		}

		list, err := handler.Notifications(r.Context(), user, limit)
		if err != nil {
			logger.Error("list notifications", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		if list == nil {
			list = []*entity.Notification{}
		}

		render.JSON(w, r, response.Ok(list))
	}
}
