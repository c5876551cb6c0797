package api

import (
	"aprendecomigo/internal/config"
	"aprendecomigo/internal/http-server/handlers/approval"
	"aprendecomigo/internal/http-server/handlers/budget"
	"aprendecomigo/internal/http-server/handlers/errors"
	"aprendecomigo/internal/http-server/handlers/guest"
	"aprendecomigo/internal/http-server/handlers/invitation"
	"aprendecomigo/internal/http-server/handlers/notification"
	"aprendecomigo/internal/http-server/handlers/school"
	"aprendecomigo/internal/http-server/handlers/stripehandler"
	"aprendecomigo/internal/http-server/middleware/authenticate"
	"aprendecomigo/internal/http-server/middleware/timeout"
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	stripehandler.Core
	invitation.Core
	guest.Core
	approval.Core
	budget.Core
	school.Core
	notification.Core
}

// NewRouter wires every route; invitation links opened by guests are the
// only unauthenticated endpoints besides the payment webhook.
func NewRouter(log *slog.Logger, handler Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(timeout.Timeout(10 * time.Second))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Group(func(public chi.Router) {
			public.Get("/teacher-invitations/{token}/status", guest.Status(log, handler))
			public.Post("/teacher-invitations/{token}/decline", guest.Decline(log, handler))
		})
		rootApi.Group(func(private chi.Router) {
			private.Use(authenticate.New(log, handler))
			private.Post("/teacher-invitations/{token}/accept", guest.Accept(log, handler))

			private.Post("/schools", school.Create(log, handler))
			private.Get("/schools/{id}/activities", school.Activities(log, handler))

			private.Route("/invitations", func(inv chi.Router) {
				inv.Post("/", invitation.Create(log, handler))
				inv.Post("/bulk", invitation.Bulk(log, handler))
				inv.Get("/batch/{batch_id}", invitation.Batch(log, handler))
				inv.Post("/{id}/resend", invitation.Resend(log, handler))
				inv.Post("/{id}/cancel", invitation.Cancel(log, handler))
			})

			private.Route("/relationships", func(rel chi.Router) {
				rel.Post("/", budget.CreateRelationship(log, handler))
				rel.Get("/{id}/budget", budget.GetControl(log, handler))
				rel.Put("/{id}/budget", budget.SetControl(log, handler))
				rel.Get("/{id}/budget/check", budget.Check(log, handler))
			})

			private.Post("/student-purchase-request", approval.Submit(log, handler))
			private.Route("/approval-requests", func(ar chi.Router) {
				ar.Get("/", approval.Pending(log, handler))
				ar.Get("/{id}", approval.Get(log, handler))
				ar.Post("/{id}/approve", approval.Approve(log, handler))
				ar.Post("/{id}/deny", approval.Deny(log, handler))
				ar.Post("/{id}/cancel", approval.Cancel(log, handler))
			})

			private.Get("/notifications", notification.List(log, handler))
		})
	})
	router.Route("/webhook", func(rootWH chi.Router) {
		rootWH.Post("/stripe", stripehandler.Event(log, handler))
	})
	return router
}

func New(conf *config.Config, log *slog.Logger, handler Handler) (*Server, error) {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      NewRouter(log, handler),
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &server, nil
}

// Start blocks until the server stops; http.ErrServerClosed is returned
// after Shutdown.
func (s *Server) Start() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIp, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", serverAddress))

	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
