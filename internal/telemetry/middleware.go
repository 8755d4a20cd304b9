package telemetry

import (
	"net/http"
	"time"

	"github.com/indo-san/WKWebView/internal/logctx"
)

// Middleware records request metrics and logs the request with a level based
// on the response status.
func (t *Telemetry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		start := time.Now()

		t.IncrementHTTPInFlight()
		defer t.DecrementHTTPInFlight()

		rw := wrapResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		t.RecordHTTPRequest(r.Method, r.URL.Path, statusClass(rw.status), duration)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", duration.Milliseconds(),
		}

		switch {
		case rw.status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case rw.status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.InfoContext(ctx, "http request completed", attrs...)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.wroteHeader = true

	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}

	return rw.ResponseWriter.Write(b)
}

func statusClass(status int) string {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return "2xx"
	case status >= http.StatusMultipleChoices && status < http.StatusBadRequest:
		return "3xx"
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return "4xx"
	case status >= http.StatusInternalServerError:
		return "5xx"
	default:
		return "unknown"
	}
}
