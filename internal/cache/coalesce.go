package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultMaxBatchSize = 10
	DefaultMaxWait      = 100 * time.Millisecond
)

var (
	ErrNoResponse     = errors.New("no response received for request")
	ErrBatchFailed    = errors.New("batch request failed")
	ErrBatcherCleared = errors.New("request batcher cleared")
	ErrBatcherClosed  = errors.New("request batcher closed")
)

type Trigger string

const (
	TriggerSize  Trigger = "size"
	TriggerTimer Trigger = "timer"
)

// BatchFunc performs one upstream call for a closed window. Result i answers request i.
type BatchFunc[Req, Resp any] func(ctx context.Context, reqs []Req) ([]Resp, error)

type BatchEvent struct {
	Key      string
	Size     int
	Results  int
	Trigger  Trigger
	Err      error
	Duration time.Duration
}

type BatcherConfig struct {
	MaxBatchSize int
	MaxWait      time.Duration
	OnBatch      func(BatchEvent)
}

// Flight is one caller's handle on a pending result. It resolves exactly once.
type Flight[V any] struct {
	done  chan struct{}
	once  sync.Once
	value V
	err   error
}

func newFlight[V any]() *Flight[V] {
	return &Flight[V]{done: make(chan struct{})}
}

func (f *Flight[V]) resolve(value V, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *Flight[V]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flight resolves or ctx ends. Giving up on ctx does not cancel the flight.
func (f *Flight[V]) Wait(ctx context.Context) (V, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Result returns the resolved value. It must only be called after Done is closed.
func (f *Flight[V]) Result() (V, error) {
	return f.value, f.err
}

type window[Req, Resp any] struct {
	reqs    []Req
	flights []*Flight[Resp]
	timer   *time.Timer
}

// Batcher merges requests with the same key that arrive within one window into a single
// call of the batch function and fans the results back out in join order.
type Batcher[Req, Resp any] struct {
	mu           sync.Mutex
	windows      map[string]*window[Req, Resp]
	fn           BatchFunc[Req, Resp]
	key          func(Req) string
	maxBatchSize int
	maxWait      time.Duration
	onBatch      func(BatchEvent)
	ctx          context.Context
	cancel       context.CancelFunc
	closed       bool
}

func NewBatcher[Req, Resp any](fn BatchFunc[Req, Resp], key func(Req) string, cfg BatcherConfig) *Batcher[Req, Resp] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher[Req, Resp]{
		windows:      make(map[string]*window[Req, Resp]),
		fn:           fn,
		key:          key,
		maxBatchSize: cfg.MaxBatchSize,
		maxWait:      cfg.MaxWait,
		onBatch:      cfg.OnBatch,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Add registers req in the open window for its key, opening one if needed.
func (b *Batcher[Req, Resp]) Add(req Req) *Flight[Resp] {
	flight := newFlight[Resp]()
	var zero Resp

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		flight.resolve(zero, ErrBatcherClosed)
		return flight
	}

	key := b.key(req)
	w, ok := b.windows[key]
	if !ok {
		w = &window[Req, Resp]{}
		b.windows[key] = w
		w.timer = time.AfterFunc(b.maxWait, func() {
			b.closeOnTimer(key, w)
		})
	}
	w.reqs = append(w.reqs, req)
	w.flights = append(w.flights, flight)
	full := len(w.flights) >= b.maxBatchSize
	if full {
		b.detachLocked(key, w)
	}
	ctx := b.ctx
	b.mu.Unlock()

	if full {
		go b.executeBatch(ctx, key, w, TriggerSize)
	}
	return flight
}

// closeOnTimer closes w if it is still the open window for key. A window already
// detached by the size trigger or by Clear is left alone.
func (b *Batcher[Req, Resp]) closeOnTimer(key string, w *window[Req, Resp]) {
	b.mu.Lock()
	if current, ok := b.windows[key]; !ok || current != w {
		b.mu.Unlock()
		return
	}
	b.detachLocked(key, w)
	ctx := b.ctx
	b.mu.Unlock()

	b.executeBatch(ctx, key, w, TriggerTimer)
}

func (b *Batcher[Req, Resp]) detachLocked(key string, w *window[Req, Resp]) {
	delete(b.windows, key)
	w.timer.Stop()
}

// executeBatch runs the upstream call for a detached window and resolves its callers.
func (b *Batcher[Req, Resp]) executeBatch(ctx context.Context, key string, w *window[Req, Resp], trigger Trigger) {
	start := time.Now()
	results, err := b.call(ctx, w.reqs)
	if err != nil && err.Error() == "" {
		err = ErrBatchFailed
	}

	var zero Resp
	for i, flight := range w.flights {
		switch {
		case err != nil:
			flight.resolve(zero, err)
		case i < len(results):
			flight.resolve(results[i], nil)
		default:
			flight.resolve(zero, ErrNoResponse)
		}
	}

	if b.onBatch != nil {
		b.onBatch(BatchEvent{
			Key:      key,
			Size:     len(w.reqs),
			Results:  len(results),
			Trigger:  trigger,
			Err:      err,
			Duration: time.Since(start),
		})
	}
}

func (b *Batcher[Req, Resp]) call(ctx context.Context, reqs []Req) (results []Resp, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("%w: panic: %v", ErrBatchFailed, r)
		}
	}()
	return b.fn(ctx, reqs)
}

// Clear stops every pending timer and fails every caller still waiting in an open window.
// Windows whose upstream call is already running are not affected.
func (b *Batcher[Req, Resp]) Clear() int {
	b.mu.Lock()
	windows := b.windows
	b.windows = make(map[string]*window[Req, Resp])
	for _, w := range windows {
		w.timer.Stop()
	}
	b.mu.Unlock()

	var zero Resp
	failed := 0
	for _, w := range windows {
		for _, flight := range w.flights {
			flight.resolve(zero, ErrBatcherCleared)
			failed++
		}
	}
	return failed
}

// Close clears pending windows, cancels in-flight upstream calls and rejects later Adds.
func (b *Batcher[Req, Resp]) Close() int {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	failed := b.Clear()
	b.cancel()
	return failed
}

func (b *Batcher[Req, Resp]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, w := range b.windows {
		count += len(w.flights)
	}
	return count
}
