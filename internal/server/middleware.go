package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"zendesk_datasource/internal/obs"
	"zendesk_datasource/internal/runtime"
)

// requestID reuses a caller supplied X-Request-Id or mints one, and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// observe writes the access log line and request metrics once the route has run.
func observe(access *obs.AccessLogger, metrics *obs.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := NewResponseRecorder(w)
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			metrics.ObserveRequest(route, recorder.Status(), duration)
			access.Log(obs.RequestContext{
				RequestID:     RequestIDFromContext(r.Context()),
				Method:        r.Method,
				Path:          r.URL.Path,
				Route:         route,
				Status:        recorder.Status(),
				Duration:      duration,
				BytesIn:       max(r.ContentLength, 0),
				BytesOut:      recorder.BytesWritten(),
				ErrorCategory: recorder.ErrorCategory(),
				QueryKind:     recorder.queryKind,
				CacheStatus:   recorder.cacheStatus,
				BatchSize:     recorder.batchSize,
				UserAgent:     r.UserAgent(),
				RemoteAddr:    r.RemoteAddr,
				Authorization: obs.RedactHeaderValue("Authorization", r.Header.Get("Authorization")),
			})
		})
	}
}

func trackInflight(tracker *runtime.InflightTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracker.Inc()
			defer tracker.Dec()
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.ContentLength > maxBytes {
				WriteError(w, RequestIDFromContext(r.Context()), http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
				return
			}
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin rate limits the caller, then checks the bearer token. Repeated
// failures block the caller's IP for a while.
func requireAdmin(auth *Authenticator, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := RequestIDFromContext(r.Context())
			if !limiter.Allow(r.RemoteAddr) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, id, http.StatusTooManyRequests, "rate_limited", "rate limited")
				return
			}
			if err := auth.Authenticate(r); err != nil {
				limiter.RecordFailure(r.RemoteAddr)
				status := http.StatusUnauthorized
				message := "unauthorized"
				var authErr *AuthError
				if errors.As(err, &authErr) {
					status = authErr.Status
					message = authErr.Message
				}
				WriteError(w, id, status, "unauthorized", message)
				return
			}
			limiter.ResetFailures(r.RemoteAddr)
			next.ServeHTTP(w, r)
		})
	}
}
