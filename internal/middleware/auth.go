// Package middleware provides the HTTP middleware chain: tracing, CORS, metrics,
// caller identity and rate limiting.
package middleware

import (
	"crypto/rsa"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/emberlog/service_layer/internal/errors"
	internalhttputil "github.com/emberlog/service_layer/internal/httputil"
	"github.com/emberlog/service_layer/internal/logging"
)

// CallerClaims is what smokelog reads from an access token. The caller is
// the token subject, as in Supabase-issued tokens.
type CallerClaims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// anonRole marks tokens minted for the public anon key; they name no user.
const anonRole = "anon"

const clockSkew = 30 * time.Second

// AuthMiddleware resolves the calling user from an RS256 bearer token.
type AuthMiddleware struct {
	key       *rsa.PublicKey
	parser    *jwt.Parser
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware verifies tokens against key. A non-empty audience must
// appear in the token's aud claim.
func NewAuthMiddleware(key *rsa.PublicKey, audience string, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &AuthMiddleware{
		key:       key,
		parser:    jwt.NewParser(opts...),
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			m.reject(w, r, errors.Unauthorized("Authorization must carry a Bearer access token"))
			return
		}

		claims, err := m.authenticate(raw)
		if err != nil {
			m.reject(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.Subject)
		ctx = logging.WithRole(ctx, claims.Role)
		m.logger.WithContext(ctx).Debug("Caller authenticated")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authenticate verifies raw and returns claims naming a concrete user.
func (m *AuthMiddleware) authenticate(raw string) (*CallerClaims, error) {
	claims := &CallerClaims{}
	_, err := m.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err).WithDetails("reason", tokenFailure(err))
	}

	if claims.Role == anonRole {
		return nil, errors.Forbidden("Anonymous tokens cannot act for a user").
			WithDetails("role", claims.Role)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, errors.InvalidToken(nil).
			WithDetails("reason", "subject is not a user id").
			WithDetails("subject", claims.Subject)
	}
	return claims, nil
}

// tokenFailure names the verification step that failed, for the error body.
func tokenFailure(err error) string {
	switch {
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case stderrors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case stderrors.Is(err, jwt.ErrTokenInvalidAudience):
		return "wrong_audience"
	case stderrors.Is(err, jwt.ErrTokenNotValidYet):
		return "not_yet_valid"
	default:
		return "invalid"
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("Authentication failed", err)
	}
	internalhttputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)

	m.logger.LogSecurityEvent(r.Context(), "auth_rejected", map[string]interface{}{
		"path":    r.URL.Path,
		"method":  r.Method,
		"code":    string(se.Code),
		"details": se.Details,
	})
}
