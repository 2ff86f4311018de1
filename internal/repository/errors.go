package repository

import "errors"

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionFull is returned when a session has no remaining capacity.
var ErrSessionFull = errors.New("session is fully booked")

// ErrTransient marks failures that are safe to retry: lock-wait timeouts,
// deadlock aborts, cancelled waits and lost connections. The postgres and
// memory stores persist nothing when they return it. The mongo store can
// return it after a network failure mid-write, when the outcome is unknown;
// see mongostore.Store.Book.
var ErrTransient = errors.New("transient storage failure")

// MaxAlternatives caps the number of sessions offered in place of a full one.
const MaxAlternatives = 3
