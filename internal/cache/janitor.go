package cache

import (
	"context"
	"sync"
	"time"
)

type Sweeper interface {
	Cleanup() int
}

// Janitor runs Cleanup on a fixed interval until stopped.
type Janitor struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// StartJanitor returns nil when interval is not positive; lazy expiry on Get still applies.
func StartJanitor(ctx context.Context, sweeper Sweeper, interval time.Duration, onSweep func(removed int)) *Janitor {
	if sweeper == nil || interval <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	j := &Janitor{cancel: cancel}
	j.wg.Add(1)
	go j.loop(ctx, sweeper, interval, onSweep)
	return j
}

func (j *Janitor) loop(ctx context.Context, sweeper Sweeper, interval time.Duration, onSweep func(int)) {
	defer j.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := sweeper.Cleanup()
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	j.once.Do(func() {
		j.cancel()
		j.wg.Wait()
	})
}
