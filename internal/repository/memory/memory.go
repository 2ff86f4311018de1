// Package memory is an in-process session and booking store. It backs the
// test suite and local development; it gives the same booking guarantees as
// the PostgreSQL repositories within a single process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/google/uuid"
)

// Store keeps sessions and bookings in memory.
//
// mu guards the data and is only held for short reads and for applying a
// finished booking, so readers see either the state before a booking or
// after it. locks serialises booking attempts per session.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]model.Session
	bookings []model.Booking
	nextID   int64

	locks       *keyedLock
	lockTimeout time.Duration
	now         func() time.Time

	// beforeApply runs after the booking is staged and before it is applied.
	beforeApply func(b model.Booking) error
}

// New returns an empty Store. lockTimeout bounds how long Book waits for a
// session held by another booking; zero waits until ctx is done.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		sessions:    make(map[int64]model.Session),
		locks:       newKeyedLock(),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// Create inserts a new session and assigns it the next id.
func (s *Store) Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	session := model.Session{
		ID:                s.nextID,
		Name:              req.Name,
		Instructor:        req.Instructor,
		StartTime:         req.StartTime.UTC(),
		RemainingCapacity: req.Capacity,
		CreatedAt:         s.now().UTC(),
	}
	s.sessions[session.ID] = session
	return &session, nil
}

// GetByID returns a copy of the session or ErrSessionNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &session, nil
}

// ListUpcoming returns sessions starting at or after now, soonest first.
func (s *Store) ListUpcoming(ctx context.Context, now time.Time) ([]model.Session, error) {
	return s.filter(ctx, func(m model.Session) bool { return m.IsUpcoming(now) }, 0)
}

// ListAvailable returns up to limit upcoming sessions with capacity left,
// skipping excludeID.
func (s *Store) ListAvailable(ctx context.Context, now time.Time, excludeID int64, limit int) ([]model.Session, error) {
	return s.filter(ctx, func(m model.Session) bool {
		return m.ID != excludeID && !m.IsFull() && m.IsUpcoming(now)
	}, limit)
}

func (s *Store) filter(ctx context.Context, keep func(model.Session) bool, limit int) ([]model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []model.Session
	for _, m := range s.sessions {
		if keep(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Book reserves one slot in a session. Attempts on the same session run one
// at a time; attempts on different sessions never wait for each other.
// The decrement and the booking become visible together or not at all.
func (s *Store) Book(ctx context.Context, sessionID int64, clientName, clientEmail string) (*model.Booking, error) {
	release, err := s.locks.acquire(ctx, sessionID, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	if session.IsFull() {
		return nil, repository.ErrSessionFull
	}

	booking := model.Booking{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		ClientName:  clientName,
		ClientEmail: clientEmail,
		CreatedAt:   s.now().UTC(),
	}
	if s.beforeApply != nil {
		if err := s.beforeApply(booking); err != nil {
			return nil, fmt.Errorf("book session %d: %w", sessionID, err)
		}
	}

	s.mu.Lock()
	session = s.sessions[sessionID]
	session.RemainingCapacity--
	s.sessions[sessionID] = session
	s.bookings = append(s.bookings, booking)
	s.mu.Unlock()

	return &booking, nil
}

// ListByEmail returns a client's bookings, newest first, with session names.
func (s *Store) ListByEmail(ctx context.Context, email string) ([]model.BookingDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []model.BookingDetail
	for i := len(s.bookings) - 1; i >= 0; i-- {
		b := s.bookings[i]
		if b.ClientEmail == email {
			out = append(out, model.BookingDetail{Booking: b, SessionName: s.sessions[b.SessionID].Name})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CountBySession returns how many bookings reference a session.
// Not used by the service; tests use it to check that capacity and
// bookings stay consistent.
func (s *Store) CountBySession(ctx context.Context, sessionID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.bookings {
		if b.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}
