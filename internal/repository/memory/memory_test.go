package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, s *Store, name string, start time.Time, capacity int) *model.Session {
	t.Helper()
	session, err := s.Create(context.Background(), model.CreateSessionRequest{
		Name:       name,
		Instructor: "Alice",
		StartTime:  start,
		Capacity:   capacity,
	})
	require.NoError(t, err)
	return session
}

func TestBook_NoOversell(t *testing.T) {
	tests := []struct {
		capacity int
		attempts int
	}{
		{capacity: 1, attempts: 2},
		{capacity: 5, attempts: 50},
		{capacity: 50, attempts: 20},
		{capacity: 100, attempts: 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("capacity=%d/attempts=%d", tt.capacity, tt.attempts), func(t *testing.T) {
			store := New(5 * time.Second)
			ctx := context.Background()
			s := newSession(t, store, "Yoga Basics", time.Now().Add(time.Hour), tt.capacity)

			results := make(chan model.BookingResult, tt.attempts)
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < tt.attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					email := fmt.Sprintf("client%d@example.com", i)
					b, err := store.Book(ctx, s.ID, "Client", email)
					results <- model.BookingResult{ClientEmail: email, Booking: b, Error: err}
				}(i)
			}
			close(start)
			wg.Wait()
			close(results)

			want := min(tt.capacity, tt.attempts)
			succeeded := 0
			for r := range results {
				if r.Error != nil {
					assert.ErrorIs(t, r.Error, repository.ErrSessionFull)
					continue
				}
				succeeded++
				assert.Equal(t, s.ID, r.Booking.SessionID)
			}
			assert.Equal(t, want, succeeded)

			got, err := store.GetByID(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.capacity-want, got.RemainingCapacity)

			n, err := store.CountBySession(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, want, n)
			assert.Zero(t, store.locks.size())
		})
	}
}

func TestBook_CapacityOneSequential(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()
	s := newSession(t, store, "Zumba Fun", time.Now().Add(time.Hour), 1)

	b, err := store.Book(ctx, s.ID, "First Booker", "first@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.False(t, b.CreatedAt.IsZero())

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingCapacity)

	_, err = store.Book(ctx, s.ID, "Second Booker", "second@example.com")
	assert.ErrorIs(t, err, repository.ErrSessionFull)
}

func TestBook_NotFound(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()

	_, err := store.Book(ctx, 42, "Ghost", "ghost@example.com")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	n, err := store.CountBySession(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.locks.size())
}

func TestBook_FailureBeforeApplyLeavesNoTrace(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()
	s := newSession(t, store, "HIIT Blast", time.Now().Add(time.Hour), 2)

	injected := errors.New("injected failure")
	store.beforeApply = func(model.Booking) error { return injected }

	_, err := store.Book(ctx, s.ID, "Client", "client@example.com")
	require.ErrorIs(t, err, injected)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RemainingCapacity)

	bookings, err := store.ListByEmail(ctx, "client@example.com")
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestBook_PanicReleasesLock(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()
	s := newSession(t, store, "Pilates Core", time.Now().Add(time.Hour), 2)

	store.beforeApply = func(model.Booking) error { panic("storage exploded") }
	assert.Panics(t, func() {
		_, _ = store.Book(ctx, s.ID, "Client", "client@example.com")
	})

	store.beforeApply = nil
	_, err := store.Book(ctx, s.ID, "Client", "client@example.com")
	require.NoError(t, err)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RemainingCapacity)
}

func TestBook_DifferentSessionsDoNotBlock(t *testing.T) {
	store := New(5 * time.Second)
	ctx := context.Background()
	a := newSession(t, store, "A", time.Now().Add(time.Hour), 5)
	b := newSession(t, store, "B", time.Now().Add(time.Hour), 5)

	holding := make(chan struct{})
	release := make(chan struct{})
	store.beforeApply = func(bk model.Booking) error {
		if bk.SessionID == a.ID {
			close(holding)
			<-release
		}
		return nil
	}

	doneA := make(chan error, 1)
	go func() {
		_, err := store.Book(ctx, a.ID, "Holder", "holder@example.com")
		doneA <- err
	}()
	<-holding

	doneB := make(chan error, 1)
	go func() {
		_, err := store.Book(ctx, b.ID, "Other", "other@example.com")
		doneB <- err
	}()

	select {
	case err := <-doneB:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("booking session B waited on session A's lock")
	}

	close(release)
	require.NoError(t, <-doneA)
}

func TestBook_LockWaitTimeoutIsTransient(t *testing.T) {
	store := New(50 * time.Millisecond)
	ctx := context.Background()
	s := newSession(t, store, "Spin Class", time.Now().Add(time.Hour), 5)

	holding := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.beforeApply = func(model.Booking) error {
		once.Do(func() {
			close(holding)
			<-release
		})
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := store.Book(ctx, s.ID, "Holder", "holder@example.com")
		done <- err
	}()
	<-holding

	_, err := store.Book(ctx, s.ID, "Waiter", "waiter@example.com")
	assert.ErrorIs(t, err, repository.ErrTransient)

	close(release)
	require.NoError(t, <-done)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.RemainingCapacity)
}

func TestBook_CancelledWhileWaiting(t *testing.T) {
	store := New(0)
	s := newSession(t, store, "Spin Class", time.Now().Add(time.Hour), 5)

	release, err := store.locks.acquire(context.Background(), s.ID, 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = store.Book(ctx, s.ID, "Waiter", "waiter@example.com")
	assert.ErrorIs(t, err, repository.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBook_CallerCancelIsTransient(t *testing.T) {
	store := New(time.Second)
	s := newSession(t, store, "Spin Class", time.Now().Add(time.Hour), 5)

	release, err := store.locks.acquire(context.Background(), s.ID, 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = store.Book(ctx, s.ID, "Waiter", "waiter@example.com")
	assert.ErrorIs(t, err, repository.ErrTransient)
	assert.ErrorIs(t, err, context.Canceled)

	n, err := store.CountBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListUpcoming(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	later := newSession(t, store, "Later", now.Add(2*time.Hour), 5)
	exact := newSession(t, store, "Exact", now, 5)
	newSession(t, store, "Past", now.Add(-time.Minute), 5)
	full := newSession(t, store, "Full", now.Add(time.Hour), 0)

	got, err := store.ListUpcoming(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{exact.ID, full.ID, later.ID}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestListAvailable(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	a := newSession(t, store, "A", now.Add(time.Hour), 0)
	b := newSession(t, store, "B", now.Add(2*time.Hour), 5)

	got, err := store.ListAvailable(ctx, now, a.ID, repository.MaxAlternatives)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	for i := 0; i < 5; i++ {
		newSession(t, store, fmt.Sprintf("Extra %d", i), now.Add(time.Duration(3+i)*time.Hour), 1)
	}
	got, err = store.ListAvailable(ctx, now, b.ID, repository.MaxAlternatives)
	require.NoError(t, err)
	require.Len(t, got, repository.MaxAlternatives)
	for i, s := range got {
		assert.NotEqual(t, b.ID, s.ID)
		if i > 0 {
			assert.False(t, s.StartTime.Before(got[i-1].StartTime))
		}
	}
}

func TestListByEmail_NewestFirst(t *testing.T) {
	store := New(time.Second)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	yoga := newSession(t, store, "Yoga", clock.Add(24*time.Hour), 5)
	hiit := newSession(t, store, "HIIT", clock.Add(24*time.Hour), 5)

	first, err := store.Book(ctx, yoga.ID, "Test User", "test@example.com")
	require.NoError(t, err)
	second, err := store.Book(ctx, hiit.ID, "Test User", "test@example.com")
	require.NoError(t, err)
	_, err = store.Book(ctx, hiit.ID, "Other", "other@example.com")
	require.NoError(t, err)

	got, err := store.ListByEmail(ctx, "test@example.com")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, "HIIT", got[0].SessionName)
	assert.Equal(t, first.ID, got[1].ID)
	assert.Equal(t, "Yoga", got[1].SessionName)
}
