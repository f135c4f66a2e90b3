package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/emberlog/service_layer/internal/logging"
)

// TraceIDHeader is read from and echoed on every request.
const TraceIDHeader = "X-Trace-ID"

// maxTraceIDLength caps client supplied trace ids before they reach the logs.
const maxTraceIDLength = 128

// TracingMiddleware adds trace ID to all requests and writes the access log.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: logger,
	}
}

// Handler returns the tracing middleware handler
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(TraceIDHeader))
		if traceID == "" || len(traceID) > maxTraceIDLength {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceIDHeader, traceID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()
		r = r.WithContext(ctx)
		next.ServeHTTP(rw, r)

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
