package handler

import (
	"net/http"

	"github.com/Shivanand-hulikatti/class-booking/internal/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router with the global middleware stack and all
// API routes.
func NewRouter(h *SessionHandler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(log))
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/bookings", h.Book)
		r.Get("/{id}/alternatives", h.ListAlternatives)
	})

	r.Get("/bookings", h.ListBookings)

	return r
}
