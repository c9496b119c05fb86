// Package httpserver exposes the event feed, saved-event lists, and
// account endpoints over HTTP.
package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openchapel/events/internal/auth"
	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/metrics"
	"github.com/openchapel/events/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	feed       *service.Feed
	userEvents *service.UserEvents
	auth       *auth.Service
	loc        *time.Location
	log        *zap.Logger
}

// New constructs a server with injected services. loc is the zone event
// dates and times are interpreted in.
func New(feed *service.Feed, userEvents *service.UserEvents, authSvc *auth.Service, loc *time.Location, log *zap.Logger) *Server {
	return &Server{feed: feed, userEvents: userEvents, auth: authSvc, loc: loc, log: log}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logging(s.log))
	r.Use(Recover(s.log))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Get("/api/events", s.handleListEvents)
	r.Get("/api/events/stream", s.handleEventsStream)
	r.Get("/calendar.ics", s.handleCalendar)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/me/events", s.handleSavedEvents)
		r.Put("/api/me/events/{id}", s.handleSaveEvent)
		r.Delete("/api/me/events/{id}", s.handleUnsaveEvent)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/api/events", s.handleCreateEvent)
			r.Put("/api/events/{id}", s.handleUpdateEvent)
			r.Delete("/api/events/{id}", s.handleDeleteEvent)
		})
	})

	return r
}

// writeErr maps service errors to HTTP statuses. Internal detail stays in
// the log, clients get a generic message.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, errs.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, errs.ErrRateLimited):
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
	case errors.Is(err, errs.ErrAlreadyExists):
		http.Error(w, "already exists", http.StatusConflict)
	default:
		s.log.Error("handler error",
			zap.String("path", r.URL.Path),
			zap.String("reqID", chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
