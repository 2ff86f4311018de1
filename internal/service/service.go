// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the storage backends.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/logger"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SessionStore reads and creates sessions.
type SessionStore interface {
	Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error)
	GetByID(ctx context.Context, id int64) (*model.Session, error)
	ListUpcoming(ctx context.Context, now time.Time) ([]model.Session, error)
	ListAvailable(ctx context.Context, now time.Time, excludeID int64, limit int) ([]model.Session, error)
}

// BookingStore runs the capacity-safe booking transaction and reads bookings back.
// Book must return repository.ErrSessionNotFound, repository.ErrSessionFull or
// an error wrapping repository.ErrTransient for those outcomes, and must
// leave no trace of a failed attempt.
type BookingStore interface {
	Book(ctx context.Context, sessionID int64, clientName, clientEmail string) (*model.Booking, error)
	ListByEmail(ctx context.Context, email string) ([]model.BookingDetail, error)
}

// EventPublisher is notified after a booking commits.
type EventPublisher interface {
	PublishBookingCreated(ctx context.Context, b *model.Booking) error
}

// DefaultPublishTimeout bounds a booking event publish unless overridden.
const DefaultPublishTimeout = 2 * time.Second

// SessionService orchestrates session and booking operations.
type SessionService struct {
	sessions SessionStore
	bookings BookingStore
	events   EventPublisher
	validate *validator.Validate
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time

	publishTimeout time.Duration
	pending        sync.WaitGroup
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithPublishTimeout sets how long one booking event publish may take.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *SessionService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// NewSessionService constructs a SessionService with its dependencies.
func NewSessionService(
	sessions SessionStore,
	bookings BookingStore,
	events EventPublisher,
	log *logger.Logger,
	opts ...Option,
) *SessionService {
	s := &SessionService{
		sessions:       sessions,
		bookings:       bookings,
		events:         events,
		validate:       newValidator(),
		log:            log,
		tracer:         otel.Tracer("github.com/Shivanand-hulikatti/class-booking/internal/service"),
		now:            time.Now,
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Drain waits for in-flight booking events to finish publishing, or for ctx
// to end.
func (s *SessionService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSession validates the request and stores a new session.
func (s *SessionService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Instructor = strings.TrimSpace(req.Instructor)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.StartTime.Before(s.now()) {
		return nil, ValidationErrors{{Field: "start_time", Message: "start_time cannot be in the past"}}
	}

	session, err := s.sessions.Create(ctx, req)
	if err != nil {
		s.log.Error("create session failed", "name", req.Name, "error", err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created",
		"session_id", session.ID,
		"name", session.Name,
		"start_time", session.StartTime,
		"capacity", session.RemainingCapacity,
	)
	return session, nil
}

// GetSession returns a single session by id.
func (s *SessionService) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListUpcoming returns sessions starting now or later, soonest first.
func (s *SessionService) ListUpcoming(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.sessions.ListUpcoming(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	s.log.Debug("listed upcoming sessions", "count", len(sessions))
	return sessions, nil
}

// Book validates the client details and reserves one slot in the session.
//
// ErrSessionNotFound, ErrSessionFull and ErrTransient are returned unchanged
// so callers can tell them apart. Nothing is retried here.
func (s *SessionService) Book(ctx context.Context, sessionID int64, req model.BookRequest) (*model.Booking, error) {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.ToLower(strings.TrimSpace(req.ClientEmail))
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "SessionService.Book",
		trace.WithAttributes(attribute.Int64("session.id", sessionID)))
	defer span.End()

	booking, err := s.bookings.Book(ctx, sessionID, req.ClientName, req.ClientEmail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, repository.ErrSessionFull):
			s.log.Info("booking rejected", "session_id", sessionID, "reason", err.Error())
			return nil, err
		case errors.Is(err, repository.ErrTransient):
			s.log.Warn("booking aborted, retryable", "session_id", sessionID, "error", err)
			return nil, err
		}
		s.log.Error("booking failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("book session %d: %w", sessionID, err)
	}

	span.SetAttributes(attribute.String("booking.id", booking.ID))
	s.log.Info("booking created",
		"booking_id", booking.ID,
		"session_id", booking.SessionID,
		"client_email", booking.ClientEmail,
	)

	event := *booking
	s.publishBookingCreated(ctx, &event)
	return booking, nil
}

// publishBookingCreated sends the event in the background. The booking is
// already committed, so the response never waits on the broker and a lost
// event is only logged.
func (s *SessionService) publishBookingCreated(ctx context.Context, b *model.Booking) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		if err := s.events.PublishBookingCreated(ctx, b); err != nil {
			s.log.Warn("publish booking event failed", "booking_id", b.ID, "error", err)
		}
	}()
}

// SuggestAlternatives returns up to three upcoming sessions with free slots,
// soonest first, never including excludedID. Capacities are read without
// locking and may be slightly stale; booking one still goes through Book.
func (s *SessionService) SuggestAlternatives(ctx context.Context, excludedID int64, now time.Time) ([]model.Session, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.SuggestAlternatives",
		trace.WithAttributes(attribute.Int64("session.excluded_id", excludedID)))
	defer span.End()

	alternatives, err := s.sessions.ListAvailable(ctx, now, excludedID, repository.MaxAlternatives)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("suggest alternatives: %w", err)
	}
	if len(alternatives) > repository.MaxAlternatives {
		alternatives = alternatives[:repository.MaxAlternatives]
	}
	span.SetAttributes(attribute.Int("alternatives.count", len(alternatives)))
	return alternatives, nil
}

// SuggestAlternativesNow is SuggestAlternatives anchored at the current time.
func (s *SessionService) SuggestAlternativesNow(ctx context.Context, excludedID int64) ([]model.Session, error) {
	return s.SuggestAlternatives(ctx, excludedID, s.now())
}

// ListBookings returns a client's bookings, newest first.
func (s *SessionService) ListBookings(ctx context.Context, email string) ([]model.BookingDetail, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, ValidationErrors{{Field: "email", Message: "email must be a valid email address"}}
	}

	bookings, err := s.bookings.ListByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// SeedSamples creates a few upcoming sessions for local demos.
func (s *SessionService) SeedSamples(ctx context.Context) error {
	now := s.now().UTC().Truncate(time.Minute)
	samples := []model.CreateSessionRequest{
		{Name: "Yoga Basics", Instructor: "Alice", StartTime: now.Add(1 * time.Hour), Capacity: 10},
		{Name: "HIIT Blast", Instructor: "Bob", StartTime: now.Add(2 * time.Hour), Capacity: 8},
		{Name: "Pilates Core", Instructor: "Carol", StartTime: now.Add(3 * time.Hour), Capacity: 12},
	}
	for _, req := range samples {
		if _, err := s.CreateSession(ctx, req); err != nil {
			return fmt.Errorf("seed %q: %w", req.Name, err)
		}
	}
	return nil
}
