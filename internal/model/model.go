// Package model defines the core domain types for the class booking system.
package model

import "time"

// Session is a scheduled class with a finite number of bookable slots.
type Session struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Instructor        string    `json:"instructor"`
	StartTime         time.Time `json:"start_time"`
	RemainingCapacity int       `json:"remaining_capacity"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsFull returns true when no slots remain.
func (s *Session) IsFull() bool {
	return s.RemainingCapacity <= 0
}

// IsUpcoming reports whether the session starts at or after now.
// Listing and suggestions share this inclusive convention.
func (s *Session) IsUpcoming(now time.Time) bool {
	return !s.StartTime.Before(now)
}

// Booking is a client's reservation of one slot in a session.
// It is created once, inside the booking transaction, and never mutated.
type Booking struct {
	ID          string    `json:"id"`
	SessionID   int64     `json:"session_id"`
	ClientName  string    `json:"client_name"`
	ClientEmail string    `json:"client_email"`
	CreatedAt   time.Time `json:"created_at"`
}

// BookingDetail is a booking joined with the name of its session.
type BookingDetail struct {
	Booking
	SessionName string `json:"session_name"`
}

// CreateSessionRequest is the payload for creating a new session.
type CreateSessionRequest struct {
	Name       string    `json:"name" validate:"required,max=200"`
	Instructor string    `json:"instructor" validate:"required,max=200"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	Capacity   int       `json:"capacity" validate:"min=1,max=100000"`
}

// BookRequest is the payload for booking a slot in a session.
type BookRequest struct {
	ClientName  string `json:"client_name" validate:"required,max=100"`
	ClientEmail string `json:"client_email" validate:"required,email,max=254"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error        string        `json:"error"`
	Alternatives []SessionView `json:"alternatives,omitempty"`
}

// SessionView is the client-facing representation of a session with its
// start time rendered in the caller's timezone.
type SessionView struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Instructor        string `json:"instructor"`
	StartTime         string `json:"start_time"`
	StartTimeEpoch    int64  `json:"start_time_epoch"`
	RemainingCapacity int    `json:"remaining_capacity"`
	Timezone          string `json:"timezone"`
}

// BookingView is the client-facing representation of a booking.
type BookingView struct {
	ID             string `json:"id"`
	SessionID      int64  `json:"session_id"`
	SessionName    string `json:"session_name,omitempty"`
	ClientName     string `json:"client_name"`
	ClientEmail    string `json:"client_email"`
	CreatedAt      string `json:"created_at"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

// BookingResult summarises the outcome of a single booking attempt.
// Used in the concurrent test harness.
type BookingResult struct {
	ClientEmail string
	Booking     *Booking
	Error       error
}
