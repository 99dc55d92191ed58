package server

import "net/http"

// ResponseRecorder captures what the access log and metrics need from a response.
// Handlers annotate it with the query kind and cache outcome they served.
type ResponseRecorder struct {
	writer        http.ResponseWriter
	status        int
	bytesWritten  int64
	wroteHeader   bool
	errorCategory string
	queryKind     string
	cacheStatus   string
	batchSize     int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{writer: w, status: http.StatusOK}
}

func (r *ResponseRecorder) Header() http.Header {
	return r.writer.Header()
}

func (r *ResponseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.writer.WriteHeader(status)
}

func (r *ResponseRecorder) Write(data []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.writer.Write(data)
	r.bytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.writer
}

func (r *ResponseRecorder) Status() int {
	return r.status
}

func (r *ResponseRecorder) BytesWritten() int64 {
	return r.bytesWritten
}

func (r *ResponseRecorder) SetErrorCategory(category string) {
	r.errorCategory = category
}

func (r *ResponseRecorder) ErrorCategory() string {
	return r.errorCategory
}

// annotate records the query served by this response. Safe on writers that are not
// recorders.
func annotate(w http.ResponseWriter, kind string, cacheStatus string, batchSize int) {
	recorder, ok := w.(*ResponseRecorder)
	if !ok {
		return
	}
	if kind != "" {
		recorder.queryKind = kind
	}
	if cacheStatus != "" {
		recorder.cacheStatus = cacheStatus
	}
	if batchSize > 0 {
		recorder.batchSize = batchSize
	}
}
