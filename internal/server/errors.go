package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"zendesk_datasource/internal/cache"
	"zendesk_datasource/internal/datasource"
	"zendesk_datasource/internal/export"
	"zendesk_datasource/internal/query"
	"zendesk_datasource/internal/zendesk"
)

const RequestIDHeader = "X-Request-Id"

type contextKey string

const requestIDKey contextKey = "request_id"

type ErrorBody struct {
	Status        int    `json:"status"`
	RequestID     string `json:"request_id"`
	ErrorCategory string `json:"error_category"`
	Message       string `json:"message"`
}

func WriteError(w http.ResponseWriter, requestID string, status int, category string, message string) {
	if recorder, ok := w.(*ResponseRecorder); ok {
		recorder.SetErrorCategory(category)
	}
	w.Header().Set(RequestIDHeader, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Status:        status,
		RequestID:     requestID,
		ErrorCategory: category,
		Message:       message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// classify maps a query error to an HTTP status and an error category.
func classify(err error) (int, string) {
	var validation *query.ValidationError
	var apiErr *zendesk.APIError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.As(err, &validation),
		errors.Is(err, errInvalidJSON),
		errors.Is(err, query.ErrMissingKind),
		errors.Is(err, query.ErrUnknownKind),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, export.ErrNotExportable):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusNotFound:
			return http.StatusNotFound, "not_found"
		case apiErr.Status == http.StatusTooManyRequests:
			return http.StatusServiceUnavailable, "upstream_rate_limited"
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			return http.StatusBadGateway, "upstream_auth"
		default:
			return http.StatusBadGateway, "upstream_error"
		}
	case errors.Is(err, datasource.ErrClosed),
		errors.Is(err, cache.ErrBatcherCleared),
		errors.Is(err, cache.ErrBatcherClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

func writeQueryError(w http.ResponseWriter, requestID string, err error) {
	status, category := classify(err)
	var apiErr *zendesk.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(apiErr.RetryAfter/time.Second)))
	}
	WriteError(w, requestID, status, category, err.Error())
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func NewRequestID() string {
	return uuid.NewString()
}
