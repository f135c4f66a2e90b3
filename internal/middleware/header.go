package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/emberlog/service_layer/internal/errors"
	internalhttputil "github.com/emberlog/service_layer/internal/httputil"
	"github.com/emberlog/service_layer/internal/logging"
)

// UserIDHeader carries the caller identity when an upstream gateway has already
// authenticated the request.
const UserIDHeader = "X-User-ID"

// TrustedHeaderMiddleware reads the caller from X-User-ID. Only enable it behind
// a gateway that strips client-supplied copies of the header.
type TrustedHeaderMiddleware struct {
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewTrustedHeaderMiddleware creates the header-based identity middleware.
func NewTrustedHeaderMiddleware(logger *logging.Logger, skipPaths []string) *TrustedHeaderMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &TrustedHeaderMiddleware{logger: logger, skipPaths: skip}
}

// Handler returns the middleware handler
func (m *TrustedHeaderMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			se := errors.Unauthorized("Missing X-User-ID header")
			internalhttputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
			return
		}
		if _, err := uuid.Parse(userID); err != nil {
			m.logger.LogSecurityEvent(r.Context(), "invalid_user_header", map[string]interface{}{
				"path": r.URL.Path,
			})
			se := errors.BadRequest("X-User-ID must be a UUID")
			internalhttputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}
