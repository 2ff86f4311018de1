package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
)

// keyedLock hands out one exclusive lock per session id. Entries are
// reference counted and dropped once nobody holds or waits for them.
type keyedLock struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[int64]*slot)}
}

// acquire blocks until the lock for key is held, ctx is done or timeout
// elapses. The returned func releases the lock and must be called exactly once.
func (l *keyedLock) acquire(ctx context.Context, key int64, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case s.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.sem
				l.unref(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("%w: waiting for session %d: %w", repository.ErrTransient, key, ctx.Err())
	case <-expired:
		l.unref(key, s)
		return nil, fmt.Errorf("%w: lock wait on session %d exceeded %s", repository.ErrTransient, key, timeout)
	}
}

func (l *keyedLock) unref(key int64, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// size reports how many keys currently have holders or waiters.
func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
