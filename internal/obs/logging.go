package obs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type AccessLogEntry struct {
	Timestamp     string `json:"ts"`
	RequestID     string `json:"request_id"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Route         string `json:"route"`
	Status        int    `json:"status"`
	DurationMS    int64  `json:"duration_ms"`
	BytesIn       int64  `json:"bytes_in"`
	BytesOut      int64  `json:"bytes_out"`
	ErrorCategory string `json:"error_category"`
	QueryKind     string `json:"query_kind"`
	CacheStatus   string `json:"cache_status"`
	BatchSize     int    `json:"batch_size,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	RemoteAddr    string `json:"remote_addr,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

// AccessLogger writes one JSON line per request. A nil AccessLogger is silent.
type AccessLogger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewAccessLogger(out io.Writer) *AccessLogger {
	if out == nil {
		out = os.Stdout
	}
	return &AccessLogger{out: out, now: time.Now}
}

func (l *AccessLogger) Log(ctx RequestContext) {
	if l == nil {
		return
	}
	entry := AccessLogEntry{
		Timestamp:     l.now().UTC().Format(time.RFC3339Nano),
		RequestID:     defaultString(ctx.RequestID, "none"),
		Method:        ctx.Method,
		Path:          ctx.Path,
		Route:         defaultString(ctx.Route, "none"),
		Status:        ctx.Status,
		DurationMS:    ctx.Duration.Milliseconds(),
		BytesIn:       ctx.BytesIn,
		BytesOut:      ctx.BytesOut,
		ErrorCategory: defaultString(ctx.ErrorCategory, "none"),
		QueryKind:     defaultString(ctx.QueryKind, "none"),
		CacheStatus:   defaultString(ctx.CacheStatus, "bypass"),
		BatchSize:     ctx.BatchSize,
		UserAgent:     ctx.UserAgent,
		RemoteAddr:    ctx.RemoteAddr,
		Authorization: RedactHeaderValue("Authorization", ctx.Authorization),
	}

	data, err := json.Marshal(entry)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		_, _ = fmt.Fprintf(l.out, "log_marshal_error request_id=%s error=%v\n", entry.RequestID, err)
		return
	}
	_, _ = l.out.Write(append(data, '\n'))
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func RedactHeaderValue(name, value string) string {
	if name == "" || value == "" {
		return value
	}
	if isSensitiveHeader(name) {
		return "[redacted]"
	}
	return value
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "cookie", "set-cookie", "x-api-key", "proxy-authorization":
		return true
	default:
		return false
	}
}
