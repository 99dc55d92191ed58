package zendesk

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerRateLimit          = "X-Rate-Limit"
	headerRateLimitRemaining = "X-Rate-Limit-Remaining"
	headerRateLimitReset     = "X-Rate-Limit-Reset"
	headerRetryAfter         = "Retry-After"
)

// RateLimit is the budget the API reported on its most recent response.
type RateLimit struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Exhausted reports whether no requests remain before Reset.
func (r RateLimit) Exhausted(now time.Time) bool {
	if r.ObservedAt.IsZero() || r.Remaining != 0 {
		return false
	}
	return r.Reset.After(now)
}

func parseRateLimit(header http.Header, now time.Time) (RateLimit, bool) {
	limit, hasLimit := headerInt(header, headerRateLimit)
	remaining, hasRemaining := headerInt(header, headerRateLimitRemaining)
	reset, hasReset := headerInt(header, headerRateLimitReset)
	retryAfter, hasRetryAfter := headerInt(header, headerRetryAfter)
	if !hasLimit && !hasRemaining && !hasReset && !hasRetryAfter {
		return RateLimit{}, false
	}

	rl := RateLimit{Limit: limit, Remaining: -1, ObservedAt: now}
	if hasRemaining {
		rl.Remaining = remaining
	}
	if hasReset && reset > 0 {
		rl.Reset = time.Unix(int64(reset), 0)
	}
	if hasRetryAfter && retryAfter > 0 {
		rl.RetryAfter = time.Duration(retryAfter) * time.Second
		if rl.Reset.IsZero() {
			rl.Reset = now.Add(rl.RetryAfter)
		}
		if !hasRemaining {
			rl.Remaining = 0
		}
	}
	return rl, true
}

func headerInt(header http.Header, name string) (int, bool) {
	raw := strings.TrimSpace(header.Get(name))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}
