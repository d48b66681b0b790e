package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/openplay/pkg/metrics"
)

// MetricsMiddleware wraps a handler and records request count, latency and,
// for 4xx/5xx responses, the error kind the handler reported.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		status := strconv.Itoa(rec.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if rec.statusCode < http.StatusBadRequest {
			return
		}
		kind := rec.errorKind
		if kind == "" {
			kind = errorKindForStatus(rec.statusCode)
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, kind)
		metrics.RecordErrorByType(kind, errorSeverity(rec.statusCode, kind))
	}
}

// tagErrorKind lets writeError pass the domain error code to the middleware.
func tagErrorKind(w http.ResponseWriter, kind string) {
	if rec, ok := w.(*responseWriter); ok {
		rec.errorKind = kind
	}
}

// errorKindForStatus labels errors the handlers did not classify, such as
// mux 404/405 responses.
func errorKindForStatus(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "internal_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case status == http.StatusConflict:
		return "conflict"
	default:
		return "bad_request"
	}
}

// errorSeverity ranks server faults above caller mistakes. Lost races on a
// match or seat are routine under concurrent play.
func errorSeverity(status int, kind string) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case kind == "conflict" || kind == "invalid_transition":
		return "low"
	default:
		return "medium"
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	errorKind  string
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
