package obs

import (
	"net/http"
	"sync"
	"time"
)

const maxUpstreamSamples = 4096

// rollingCounter remembers recent upstream outcomes so health reports can show how
// the API has behaved over the last window.
type rollingCounter struct {
	mu      sync.Mutex
	samples []upstreamSample
	window  time.Duration
	now     func() time.Time
}

type upstreamSample struct {
	at     time.Time
	failed bool
}

func newRollingCounter(window time.Duration) *rollingCounter {
	if window <= 0 {
		window = time.Minute
	}
	return &rollingCounter{window: window, now: time.Now}
}

// Record adds one outcome. Transport failures (status 0), throttling and 5xx count as failed.
func (r *rollingCounter) Record(status int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.pruneLocked(now)
	if len(r.samples) >= maxUpstreamSamples {
		r.samples = r.samples[1:]
	}
	r.samples = append(r.samples, upstreamSample{at: now, failed: upstreamFailure(status)})
}

// Counts returns total and failed outcomes younger than window, capped at the
// counter's own window.
func (r *rollingCounter) Counts(window time.Duration) (total int, failed int) {
	if r == nil {
		return 0, 0
	}
	if window <= 0 || window > r.window {
		window = r.window
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for i := len(r.samples) - 1; i >= 0; i-- {
		sample := r.samples[i]
		if now.Sub(sample.at) >= window {
			break
		}
		total++
		if sample.failed {
			failed++
		}
	}
	return total, failed
}

// pruneLocked drops samples that fell out of the window. Samples are appended in
// time order, so the stale ones form a prefix.
func (r *rollingCounter) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(r.samples) && now.Sub(r.samples[cut].at) >= r.window {
		cut++
	}
	if cut > 0 {
		r.samples = append(r.samples[:0], r.samples[cut:]...)
	}
}

func upstreamFailure(status int) bool {
	switch {
	case status <= 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	default:
		return status >= http.StatusInternalServerError
	}
}
