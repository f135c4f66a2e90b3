package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/emberlog/service_layer/internal/logging"
	"github.com/emberlog/service_layer/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestTracingMiddleware_GeneratesAndEchoesTraceID(t *testing.T) {
	var seen string
	h := NewTracingMiddleware(logging.New("test", "error", "json")).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/test", nil))
	if seen == "" || rec.Header().Get(TraceIDHeader) != seen {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceIDHeader))
	}

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(TraceIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" {
		t.Errorf("trace id = %q, want abc-123", seen)
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://app.example.com", ".example.org"}).Handler(okHandler)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://app.example.com", true},
		{"https://www.example.org", true},
		{"https://evil.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.allowed {
			t.Errorf("origin %s allowed = %v, want %v", tt.origin, got, tt.allowed)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}

func TestTrustedHeaderMiddleware(t *testing.T) {
	var captured string
	h := NewTrustedHeaderMiddleware(logging.New("test", "error", "json"), []string{"/health"}).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = logging.GetUserID(r.Context())
		}))

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid", "/api/test", "2b7c1a52-5f7e-4d55-9a57-8b1f4cf0c9a1", http.StatusOK, "2b7c1a52-5f7e-4d55-9a57-8b1f4cf0c9a1"},
		{"missing", "/api/test", "", http.StatusUnauthorized, ""},
		{"malformed", "/api/test", "not-a-uuid", http.StatusBadRequest, ""},
		{"skip path", "/health", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captured = ""
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if captured != tt.wantUser {
				t.Errorf("user = %q, want %q", captured, tt.wantUser)
			}
		})
	}
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.New("test", "error", "json"))
	h := rl.Handler(okHandler)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("first requests should pass: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", statuses[2])
	}

	// A different caller has its own bucket.
	req := httptest.NewRequest("GET", "/api/test", nil)
	req = req.WithContext(logging.WithUserID(req.Context(), "user-2"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_CleanupRemovesIdle(t *testing.T) {
	rl := NewRateLimiter(10, 10, logging.New("test", "error", "json"))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("old")
	now = now.Add(time.Hour)
	rl.getLimiter("fresh")

	if removed := rl.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := rl.limiters["fresh"]; !ok {
		t.Error("fresh limiter should survive cleanup")
	}
}

func TestRateLimiter_StartCleanupRejectsBadSpec(t *testing.T) {
	rl := NewRateLimiter(10, 10, logging.New("test", "error", "json"))
	if err := rl.StartCleanup("not a spec"); err == nil {
		t.Fatal("expected cron parse error")
	}
	if err := rl.StartCleanup("@every 1h"); err != nil {
		t.Fatalf("StartCleanup() error = %v", err)
	}
	rl.StopCleanup()
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := metrics.New()
	router := mux.NewRouter()
	router.Use(MetricsMiddleware("smokelog", m, nil))
	router.HandleFunc("/api/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/events/e1", nil))

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(out.Body.String(), `path="/api/events/{id}"`) {
		t.Errorf("expected route template label, got:\n%s", out.Body.String())
	}
}

func TestChain_WrappedRouterCountsUnmatchedRequests(t *testing.T) {
	m := metrics.New()
	router := mux.NewRouter()
	router.HandleFunc("/api/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(router, mark("outer"), MetricsMiddleware("smokelog", m, router), mark("inner"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodDelete, "/api/events/e1", nil),
		httptest.NewRequest(http.MethodGet, "/api/events/e1", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	if len(order) != 6 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("middleware order = %v", order)
	}

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest("GET", "/metrics", nil))
	body := out.Body.String()
	for _, want := range []string{
		`path="/api/events/{id}",service="smokelog",status="204"`,
		`path="unmatched",service="smokelog",status="405"`,
		`path="unmatched",service="smokelog",status="404"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing series %s in:\n%s", want, body)
		}
	}
}
