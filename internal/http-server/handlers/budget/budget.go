package budget

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/api/cont"
	"aprendecomigo/lib/api/response"
	"aprendecomigo/lib/errs"
	"aprendecomigo/lib/sl"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
)

type Core interface {
	CreateRelationship(ctx context.Context, user *entity.User, req *entity.RelationshipRequest) (*entity.ParentChildRelationship, error)
	SetBudgetControl(ctx context.Context, user *entity.User, relationshipID string, req *entity.BudgetControlRequest) (*entity.FamilyBudgetControl, error)
	BudgetControl(ctx context.Context, user *entity.User, relationshipID string) (*entity.FamilyBudgetControl, error)
	CheckBudget(ctx context.Context, user *entity.User, relationshipID string, amount decimal.Decimal) (*entity.BudgetCheck, error)
}

func CreateRelationship(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.budget"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
		)

		var req entity.RelationshipRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			response.RenderBindError(w, r, err)
			return
		}

		rel, err := handler.CreateRelationship(r.Context(), user, &req)
		if err != nil {
			logger.Warn("create relationship", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			slog.String("relationship_id", rel.ID),
			slog.String("school_id", rel.SchoolID),
		).Info("relationship created")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(rel))
	}
}

func SetControl(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.budget"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("relationship_id", id),
		)

		var req entity.BudgetControlRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			response.RenderBindError(w, r, err)
			return
		}

		bc, err := handler.SetBudgetControl(r.Context(), user, id, &req)
		if err != nil {
			logger.Warn("set budget control", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.Info("budget control saved")

		render.JSON(w, r, response.Ok(bc))
	}
}

func GetControl(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.budget"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("relationship_id", id),
		)

		bc, err := handler.BudgetControl(r.Context(), cont.GetUser(r.Context()), id)
		if err != nil {
			logger.Warn("get budget control", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(bc))
	}
}

// Check evaluates ?amount= against the relationship's limits without
// creating a request.
func Check(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.budget"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("relationship_id", id),
		)

		amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
		if err != nil {
			logger.Warn("parse amount", sl.Err(err))
			response.RenderError(w, r, errs.New(errs.CodeValidation, "amount must be a decimal number"))
			return
		}

		check, err := handler.CheckBudget(r.Context(), cont.GetUser(r.Context()), id, amount)
		if err != nil {
			logger.Warn("check budget", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}
		logger.With(
			sl.Amount("amount", amount),
			slog.Bool("allowed", check.Allowed),
		).Debug("budget checked")

		render.JSON(w, r, response.Ok(check))
	}
}
