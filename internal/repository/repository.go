// Package repository implements session and booking persistence on PostgreSQL.
// It uses pgx directly (no ORM). The sentinel errors declared here are shared
// by every storage backend.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, name, instructor, start_time, remaining_capacity, created_at`

// SessionRepository handles persistence for sessions.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session and returns it with its generated id.
func (r *SessionRepository) Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	s := &model.Session{
		Name:              req.Name,
		Instructor:        req.Instructor,
		StartTime:         req.StartTime.UTC(),
		RemainingCapacity: req.Capacity,
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO sessions (name, instructor, start_time, remaining_capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		s.Name, s.Instructor, s.StartTime, s.RemainingCapacity, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", classify(err))
	}
	return s, nil
}

// GetByID returns a single session or ErrSessionNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", classify(err))
	}
	return s, nil
}

// ListUpcoming returns sessions starting at or after now, soonest first.
func (r *SessionRepository) ListUpcoming(ctx context.Context, now time.Time) ([]model.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE start_time >= $1
		 ORDER BY start_time ASC, id ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", classify(err))
	}
	return collectSessions(rows)
}

// ListAvailable returns up to limit upcoming sessions that still have capacity,
// skipping excludeID. It takes no locks, so capacities may be slightly stale.
func (r *SessionRepository) ListAvailable(ctx context.Context, now time.Time, excludeID int64, limit int) ([]model.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE start_time >= $1
		   AND remaining_capacity > 0
		   AND id <> $2
		 ORDER BY start_time ASC, id ASC
		 LIMIT $3`,
		now.UTC(), excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list available sessions: %w", classify(err))
	}
	return collectSessions(rows)
}

// BookingRepository handles persistence for bookings.
type BookingRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration

	// afterDecrement runs between the capacity update and the booking insert.
	afterDecrement func(ctx context.Context) error
}

// NewBookingRepository constructs a BookingRepository. lockTimeout bounds how
// long Book waits for another transaction holding the same session row.
func NewBookingRepository(db *pgxpool.Pool, lockTimeout time.Duration) *BookingRepository {
	return &BookingRepository{db: db, lockTimeout: lockTimeout}
}

// Book reserves one slot in a session inside a single transaction.
//
// Two clients that both read remaining_capacity = 1 and then both write would
// oversell the session. SELECT … FOR UPDATE takes an exclusive lock on the
// session row, so concurrent Book calls for the same session queue behind
// each other while calls for other sessions proceed. The decrement and the
// booking insert commit together or not at all.
//
// lock_timeout bounds the wait; exceeding it, the caller cancelling the wait,
// a deadlock abort or a lost connection is reported as ErrTransient.
func (r *BookingRepository) Book(ctx context.Context, sessionID int64, clientName, clientEmail string) (*model.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", classify(err))
	}
	// No-op once committed. Runs on every other exit, panics included.
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if r.lockTimeout > 0 {
		_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", r.lockTimeout.Milliseconds()))
		if err != nil {
			return nil, fmt.Errorf("set lock timeout: %w", classify(err))
		}
	}

	// ── Step 1: exclusive row lock on the session. ──────────────────────
	var remaining int
	err = tx.QueryRow(ctx,
		`SELECT remaining_capacity
		 FROM sessions
		 WHERE id = $1
		 FOR UPDATE`,
		sessionID,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session row: %w", classify(err))
	}

	// ── Step 2: guard against overbooking. ──────────────────────────────
	if remaining <= 0 {
		return nil, ErrSessionFull
	}

	// ── Step 3: decrement inside the same transaction. ──────────────────
	_, err = tx.Exec(ctx,
		`UPDATE sessions SET remaining_capacity = remaining_capacity - 1 WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement remaining_capacity: %w", classify(err))
	}

	if r.afterDecrement != nil {
		if err = r.afterDecrement(ctx); err != nil {
			return nil, err
		}
	}

	// ── Step 4: record the booking. ─────────────────────────────────────
	booking := &model.Booking{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		ClientName:  clientName,
		ClientEmail: clientEmail,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO bookings (id, session_id, client_name, client_email, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		booking.ID, booking.SessionID, booking.ClientName, booking.ClientEmail, booking.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", classify(err))
	}

	// ── Step 5: commit; only now do other transactions see either change.
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", classify(err))
	}
	return booking, nil
}

// ListByEmail returns a client's bookings, newest first, with session names.
func (r *BookingRepository) ListByEmail(ctx context.Context, email string) ([]model.BookingDetail, error) {
	rows, err := r.db.Query(ctx,
		`SELECT b.id, b.session_id, b.client_name, b.client_email, b.created_at, s.name
		 FROM bookings b
		 JOIN sessions s ON s.id = b.session_id
		 WHERE b.client_email = $1
		 ORDER BY b.created_at DESC, b.id ASC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", classify(err))
	}
	defer rows.Close()

	var bookings []model.BookingDetail
	for rows.Next() {
		var b model.BookingDetail
		if err := rows.Scan(&b.ID, &b.SessionID, &b.ClientName, &b.ClientEmail, &b.CreatedAt, &b.SessionName); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CountBySession returns how many bookings reference a session.
// Not used by the service; tests use it to check that capacity and
// bookings stay consistent.
func (r *BookingRepository) CountBySession(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", classify(err))
	}
	return n, nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	if err := row.Scan(&s.ID, &s.Name, &s.Instructor, &s.StartTime, &s.RemainingCapacity, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StartTime = s.StartTime.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]model.Session, error) {
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Postgres error codes that abort a transaction without it being the caller's fault.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeQueryCanceled        = "57014"
)

// classify wraps retryable driver failures with ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
