package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 10
	defaultMaxFailures    = 5
	defaultBlockDuration  = time.Minute
	limiterIdleTTL        = 10 * time.Minute
)

type RateLimitConfig struct {
	RPS           float64
	Burst         int
	MaxFailures   int
	BlockDuration time.Duration
}

// RateLimiter keeps one token bucket per client IP and blocks clients that keep failing
// authentication.
type RateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientState
	limit       rate.Limit
	burst       int
	maxFailures int
	blockFor    time.Duration
	now         func() time.Time
	lastSweep   time.Time
}

type clientState struct {
	limiter     *rate.Limiter
	failures    int
	blockedTill time.Time
	lastSeen    time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	blockFor := cfg.BlockDuration
	if blockFor <= 0 {
		blockFor = defaultBlockDuration
	}

	return &RateLimiter{
		clients:     make(map[string]*clientState),
		limit:       rate.Limit(rps),
		burst:       burst,
		maxFailures: maxFailures,
		blockFor:    blockFor,
		now:         time.Now,
	}
}

func (l *RateLimiter) Allow(addr string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.clientLocked(clientIP(addr), now)
	if now.Before(state.blockedTill) {
		return false
	}
	return state.limiter.AllowN(now, 1)
}

func (l *RateLimiter) RecordFailure(addr string) {
	if l == nil {
		return
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.clientLocked(clientIP(addr), now)
	if now.Before(state.blockedTill) {
		return
	}
	state.failures++
	if state.failures >= l.maxFailures {
		state.blockedTill = now.Add(l.blockFor)
		state.failures = 0
	}
}

func (l *RateLimiter) ResetFailures(addr string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if state := l.clients[clientIP(addr)]; state != nil {
		state.failures = 0
	}
}

func (l *RateLimiter) clientLocked(ip string, now time.Time) *clientState {
	l.sweepLocked(now)
	state := l.clients[ip]
	if state == nil {
		state = &clientState{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = state
	}
	state.lastSeen = now
	return state
}

// sweepLocked forgets idle clients that are not blocked.
func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now
	for ip, state := range l.clients {
		if now.Sub(state.lastSeen) > limiterIdleTTL && !now.Before(state.blockedTill) {
			delete(l.clients, ip)
		}
	}
}

func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
