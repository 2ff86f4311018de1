package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/config"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(fmt.Errorf("find: %w", context.DeadlineExceeded)), repository.ErrTransient)
	assert.ErrorIs(t, classify(fmt.Errorf("update: %w", context.Canceled)), repository.ErrTransient)

	plain := errors.New("duplicate key")
	got := classify(plain)
	assert.NotErrorIs(t, got, repository.ErrTransient)
	assert.ErrorIs(t, got, plain)
}

// newTestStore needs a reachable MongoDB, e.g. TEST_MONGO_URI=mongodb://localhost:27017
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, config.MongoConfig{URI: uri, ConnTimeout: 5 * time.Second})
	require.NoError(t, err)

	db := client.Database("classbooking_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	store := New(db)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestBook_NoOversell(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const capacity, attempts = 5, 25
	s, err := store.Create(ctx, model.CreateSessionRequest{
		Name: "Yoga Basics", Instructor: "Alice", StartTime: time.Now().Add(time.Hour), Capacity: capacity,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Book(ctx, s.ID, "Client", fmt.Sprintf("client%d@example.com", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrSessionFull)
	}
	assert.Equal(t, capacity, succeeded)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingCapacity)

	n, err := store.CountBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, n)
}

func TestBook_NotFoundAndFull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Book(ctx, 404, "Ghost", "ghost@example.com")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	s, err := store.Create(ctx, model.CreateSessionRequest{
		Name: "Zumba Fun", Instructor: "Zara", StartTime: time.Now().Add(time.Hour), Capacity: 1,
	})
	require.NoError(t, err)

	_, err = store.Book(ctx, s.ID, "First", "first@example.com")
	require.NoError(t, err)
	_, err = store.Book(ctx, s.ID, "Second", "second@example.com")
	assert.ErrorIs(t, err, repository.ErrSessionFull)

	bookings, err := store.ListByEmail(ctx, "first@example.com")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "Zumba Fun", bookings[0].SessionName)
	assert.Equal(t, s.ID, bookings[0].SessionID)
}

func TestBook_CancelledBeforeWriteLeavesNoTrace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s, err := store.Create(ctx, model.CreateSessionRequest{
		Name: "Spin", Instructor: "Sam", StartTime: time.Now().Add(time.Hour), Capacity: 2,
	})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Book(cancelled, s.ID, "Late", "late@example.com")
	assert.ErrorIs(t, err, repository.ErrTransient)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RemainingCapacity)
	n, err := store.CountBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListAvailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := store.Create(ctx, model.CreateSessionRequest{Name: "A", Instructor: "I", StartTime: now.Add(time.Hour), Capacity: 1})
	require.NoError(t, err)
	_, err = store.Book(ctx, a.ID, "C", "c@example.com")
	require.NoError(t, err)
	b, err := store.Create(ctx, model.CreateSessionRequest{Name: "B", Instructor: "I", StartTime: now.Add(2 * time.Hour), Capacity: 5})
	require.NoError(t, err)

	got, err := store.ListAvailable(ctx, now, a.ID, repository.MaxAlternatives)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
}
