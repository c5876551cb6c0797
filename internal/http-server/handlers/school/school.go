package school

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/api/cont"
	"aprendecomigo/lib/api/response"
	"aprendecomigo/lib/sl"
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const defaultLimit = 50

type Core interface {
	CreateSchool(ctx context.Context, user *entity.User, school *entity.School) (*entity.School, error)
	SchoolActivities(ctx context.Context, user *entity.User, schoolID string, limit int) ([]*entity.Activity, error)
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.school"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
		)

		var school entity.School
		if err := render.Bind(r, &school); err != nil {
			logger.Error("bind request", sl.Err(err))
			response.RenderBindError(w, r, err)
			return
		}

		created, err := handler.CreateSchool(r.Context(), user, &school)
		if err != nil {
			logger.Error("create school", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(slog.String("school_id", created.ID)).Info("school created")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(created))
	}
}

func Activities(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.school"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("school_id", id),
		)

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = defaultLimit
		}

		list, err := handler.SchoolActivities(r.Context(), cont.GetUser(r.Context()), id, limit)
		if err != nil {
			logger.Warn("school activities", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		if list == nil {
			list = []*entity.Activity{}
		}

		render.JSON(w, r, response.Ok(list))
	}
}
