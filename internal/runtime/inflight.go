package runtime

import (
	"context"
	"sync"
)

// InflightTracker counts HTTP requests being served so shutdown can wait for them.
// A nil tracker ignores every call.
type InflightTracker struct {
	mu      sync.Mutex
	active  int64
	waiters []chan struct{}
}

func NewInflightTracker() *InflightTracker {
	return &InflightTracker{}
}

func (t *InflightTracker) Inc() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.active++
	t.mu.Unlock()
}

// Dec marks one request finished and wakes every waiter once none remain.
func (t *InflightTracker) Dec() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active > 0 {
		t.active--
	}
	if t.active > 0 {
		return
	}
	for _, waiter := range t.waiters {
		close(waiter)
	}
	t.waiters = nil
}

func (t *InflightTracker) Count() int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Wait blocks until no request is in flight or ctx ends.
func (t *InflightTracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.active == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := make(chan struct{})
	t.waiters = append(t.waiters, idle)
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
