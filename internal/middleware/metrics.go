package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/emberlog/service_layer/internal/metrics"
)

// MetricsMiddleware records HTTP metrics for each request, labelled by route
// template. Inside a router the matched route is used; outside one, routes is
// consulted so 404 and 405 responses are still counted.
func MetricsMiddleware(serviceName string, m *metrics.Metrics, routes *mux.Router) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.IncrementInFlight()
			defer m.DecrementInFlight()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(serviceName, r.Method, routeLabel(r, routes), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

func routeLabel(r *http.Request, routes *mux.Router) string {
	route := mux.CurrentRoute(r)
	if route == nil && routes != nil {
		var match mux.RouteMatch
		if routes.Match(r, &match) {
			route = match.Route
		}
	}
	if route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Chain wraps h so the first middleware is outermost. Wrapping the router
// instead of using Router.Use runs the chain for unmatched paths and methods
// too, which CORS preflight depends on.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
