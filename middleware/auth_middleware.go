package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/iesalixar/ticket-logger-api/auth"
	"github.com/iesalixar/ticket-logger-api/internal/observability"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/iesalixar/ticket-logger-api/token"
	"github.com/iesalixar/ticket-logger-api/utils"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// TokenVerifier decodes and validates access tokens.
type TokenVerifier interface {
	Decode(token string) (*token.Claims, error)
	Validate(token, expectedSubject string) bool
}

// PrincipalLookup resolves a token subject to an account.
type PrincipalLookup interface {
	FindBySubject(ctx context.Context, subject string) (*models.User, error)
}

// AuthMiddleware turns bearer tokens into request principals and guards
// routes that need one.
type AuthMiddleware struct {
	verifier TokenVerifier
	lookup   PrincipalLookup
	metrics  *observability.AuthMetrics
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. metrics may be nil.
func NewAuthMiddleware(verifier TokenVerifier, lookup PrincipalLookup, metrics *observability.AuthMetrics, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		lookup:   lookup,
		metrics:  metrics,
		logger:   logger,
	}
}

// Authenticate publishes a principal into the request context when the
// request carries a valid bearer token for an enabled account. It never
// writes a response: every failure leaves the request unauthenticated and
// RequireAuth or RequireRole decide what that means for the route.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, ctx := m.authenticate(r)
		m.metrics.GateOutcome(outcome)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (string, context.Context) {
	ctx := r.Context()
	requestID := GetRequestIDFromContext(ctx)

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return observability.OutcomeAnonymous, ctx
	}
	raw := header[len(bearerPrefix):]

	claims, err := m.verifier.Decode(raw)
	if err != nil || claims.Subject == "" {
		m.logger.Debug("bearer token not decodable",
			zap.String("request_id", requestID),
			zap.Error(err))
		return observability.OutcomeInvalidToken, ctx
	}

	if auth.IsAuthenticated(ctx) {
		return observability.OutcomePassThrough, ctx
	}

	user, err := m.lookup.FindBySubject(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			m.logger.Debug("token subject has no account",
				zap.String("request_id", requestID))
		} else {
			m.logger.Warn("principal lookup failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
		return observability.OutcomeUnknown, ctx
	}
	if !user.CanAuthenticate() {
		m.logger.Debug("token subject is disabled or locked",
			zap.String("request_id", requestID))
		return observability.OutcomeUnknown, ctx
	}

	if !m.verifier.Validate(raw, user.Subject()) {
		m.logger.Debug("bearer token rejected",
			zap.String("request_id", requestID))
		return observability.OutcomeRejected, ctx
	}

	principal := &auth.Principal{
		Identifier:  user.Subject(),
		Authorities: append([]string{}, claims.Roles...),
		Active:      user.Active,
		Locked:      !user.AccountNonLocked,
		RemoteAddr:  r.RemoteAddr,
		RequestID:   requestID,
	}

	m.logger.Debug("authentication successful",
		zap.String("request_id", requestID),
		zap.String("subject", principal.Identifier),
		zap.Strings("authorities", principal.Authorities))

	return observability.OutcomeAuthenticated, auth.WithPrincipal(ctx, principal)
}

// RequireAuth responds 401 unless the request carries a principal.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAuthenticated(r.Context()) {
			m.logger.Debug("unauthenticated request to protected route",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole responds 401 without a principal and 403 when the principal
// lacks role. "ADMIN" and "ROLE_ADMIN" are equivalent.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.RequireAnyRole(role)
}

// RequireAnyRole is RequireRole for a set of acceptable roles.
func (m *AuthMiddleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal := auth.PrincipalFromContext(ctx)
			if principal == nil {
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !principal.HasAnyRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("subject", principal.Identifier),
					zap.Strings("required_roles", roles),
					zap.Strings("authorities", principal.Authorities))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
