package obs

import "time"

type RequestContext struct {
	RequestID     string
	Method        string
	Path          string
	Route         string
	Status        int
	Duration      time.Duration
	BytesIn       int64
	BytesOut      int64
	ErrorCategory string
	QueryKind     string
	CacheStatus   string
	BatchSize     int
	UserAgent     string
	RemoteAddr    string
	Authorization string
}
