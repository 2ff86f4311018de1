// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/logger"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// SessionHandler holds all HTTP handlers for the booking API.
type SessionHandler struct {
	svc *service.SessionService
	log *logger.Logger
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(svc *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func sessionIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeServiceError maps service errors onto status codes. Not found and full
// are always distinct; unexpected errors are logged and never echoed.
func (h *SessionHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs service.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, verrs.Error())
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, repository.ErrSessionFull):
		writeError(w, http.StatusConflict, "session is fully booked")
	case errors.Is(err, repository.ErrTransient):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily unable to complete the request, please retry")
	default:
		h.log.Error("request failed",
			"request_id", chimiddleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	session, err := h.svc.CreateSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionView(*session, session.StartTime.Location()))
}

// ListSessions handles GET /sessions?tz=
// Returns upcoming sessions, soonest first, with times in the requested zone.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.svc.ListUpcoming(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionViews(sessions, loc))
}

// GetSession handles GET /sessions/{id}?tz=
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	loc, err := locationFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionView(*session, loc))
}

// Book handles POST /sessions/{id}/bookings
// Reserves one slot. A full session answers 409 with up to three alternatives.
func (h *SessionHandler) Book(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	loc, err := locationFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	booking, err := h.svc.Book(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, repository.ErrSessionFull) {
			h.writeFull(w, r, id, loc)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookingView(*booking, "", loc))
}

func (h *SessionHandler) writeFull(w http.ResponseWriter, r *http.Request, id int64, loc *time.Location) {
	resp := model.ErrorResponse{Error: "session is fully booked"}
	alternatives, err := h.svc.SuggestAlternativesNow(r.Context(), id)
	if err != nil {
		h.log.Warn("suggest alternatives failed", "session_id", id, "error", err)
	} else {
		resp.Alternatives = sessionViews(alternatives, loc)
	}
	writeJSON(w, http.StatusConflict, resp)
}

// ListAlternatives handles GET /sessions/{id}/alternatives?tz=
func (h *SessionHandler) ListAlternatives(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	loc, err := locationFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alternatives, err := h.svc.SuggestAlternativesNow(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionViews(alternatives, loc))
}

// ListBookings handles GET /bookings?email=&tz=
// Returns the client's bookings, newest first.
func (h *SessionHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bookings, err := h.svc.ListBookings(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	views := make([]model.BookingView, 0, len(bookings))
	for _, b := range bookings {
		views = append(views, bookingView(b.Booking, b.SessionName, loc))
	}
	writeJSON(w, http.StatusOK, views)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
