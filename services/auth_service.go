package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/iesalixar/ticket-logger-api/internal/observability"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/iesalixar/ticket-logger-api/services/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Login failure reasons written to the audit trail.
const (
	ReasonUnknownUser     = "unknown_user"
	ReasonBadCredentials  = "bad_credentials"
	ReasonAccountDisabled = "account_disabled"
	ReasonAccountLocked   = "account_locked"
	ReasonPasswordExpired = "password_expired"
	ReasonTooManyFailures = "too_many_failures"
	ReasonRateLimited     = "rate_limited"
)

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	Issue(subject string, roles []string) (string, error)
	TTL() time.Duration
}

// EventRecorder accepts auth events for the audit trail.
type EventRecorder interface {
	Record(event *models.AuthEvent) error
}

// PrincipalInvalidator drops cached principals.
type PrincipalInvalidator interface {
	Invalidate(ctx context.Context, subject string) error
}

// LoginLimiter throttles repeated login attempts.
type LoginLimiter interface {
	CheckLimit(ctx context.Context, req ratelimit.RateLimitRequest) (*ratelimit.RateLimitResult, error)
	Reset(ctx context.Context, username string) error
}

// LoginRequest is the body of the authenticate endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// RequestMeta describes the HTTP request a login arrived on.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// LoginResult is a successful login.
type LoginResult struct {
	Token     string
	Subject   string
	Roles     []string
	ExpiresAt time.Time
}

// AuthService checks credentials and issues access tokens.
type AuthService struct {
	users       repositories.UserRepository
	issuer      TokenIssuer
	audit       EventRecorder
	invalidator PrincipalInvalidator
	limiter     LoginLimiter
	maxFailures int
	metrics     *observability.AuthMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService creates an AuthService. audit, invalidator and metrics may be nil.
func NewAuthService(
	users repositories.UserRepository,
	issuer TokenIssuer,
	audit EventRecorder,
	invalidator PrincipalInvalidator,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		issuer:      issuer,
		audit:       audit,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// WithLockout refuses logins for accounts with at least threshold
// consecutive failed attempts. Zero disables it.
func (s *AuthService) WithLockout(threshold int) *AuthService {
	s.maxFailures = threshold
	return s
}

// WithLimiter enables login throttling.
func (s *AuthService) WithLimiter(limiter LoginLimiter) *AuthService {
	s.limiter = limiter
	return s
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizeTiming runs one bcrypt comparison so that unknown users take as
// long to reject as known ones.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Login verifies username and password and returns a token carrying the
// user's roles. Every credential or account failure returns
// ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta RequestMeta) (*LoginResult, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.metrics.LoginAttempt(observability.LoginInvalid)
		return nil, ErrInvalidInput.WithDetail("reason", "username and password are required")
	}

	if err := s.throttle(ctx, req, meta); err != nil {
		return nil, err
	}

	user, err := s.users.FindBySubject(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			equalizeTiming(req.Password)
			s.fail(meta, req.Username, nil, ReasonUnknownUser)
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("user lookup failed", zap.String("request_id", meta.RequestID), zap.Error(err))
		return nil, ErrDatabaseError.Wrap(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.fail(meta, user.Subject(), user, ReasonBadCredentials)
		return nil, ErrInvalidCredentials
	}

	if reason := s.accountProblem(user); reason != "" {
		s.fail(meta, user.Subject(), user, reason)
		return nil, ErrInvalidCredentials
	}

	signed, err := s.issuer.Issue(user.Subject(), user.Roles)
	if err != nil {
		s.logger.Error("token issuance failed", zap.String("request_id", meta.RequestID), zap.Error(err))
		return nil, ErrTokenIssuance.Wrap(err)
	}

	s.metrics.LoginAttempt(observability.LoginSucceeded)
	s.metrics.TokenIssued()
	s.record(models.NewAuthEvent(models.AuthEventLoginSucceeded, user.Subject()).
		WithUser(user.ID).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent))

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, req.Username); err != nil {
			s.logger.Warn("login throttle reset failed", zap.Error(err))
		}
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, user.Subject()); err != nil {
			s.logger.Warn("principal cache invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("user authenticated",
		zap.String("request_id", meta.RequestID),
		zap.String("user_id", user.ID.String()))

	return &LoginResult{
		Token:     signed,
		Subject:   user.Subject(),
		Roles:     append([]string{}, user.Roles...),
		ExpiresAt: s.now().Add(s.issuer.TTL()),
	}, nil
}

// throttle consumes one login attempt. A limiter that cannot reach its
// store lets the attempt through.
func (s *AuthService) throttle(ctx context.Context, req LoginRequest, meta RequestMeta) error {
	if s.limiter == nil {
		return nil
	}

	res, err := s.limiter.CheckLimit(ctx, ratelimit.RateLimitRequest{
		Username:  req.Username,
		IPAddress: meta.IPAddress,
	})
	if err != nil {
		s.logger.Warn("login throttle unavailable", zap.String("request_id", meta.RequestID), zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}

	s.metrics.LoginAttempt(observability.LoginThrottled)
	s.record(models.NewAuthEvent(models.AuthEventLoginFailed, req.Username).
		WithReason(ReasonRateLimited).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent))

	retryAfter := int(math.Ceil(res.ResetAt.Sub(s.now()).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return ErrTooManyAttempts.WithDetail("retry_after", retryAfter)
}

// accountProblem returns the audit reason that bars user from logging in,
// or "" when the account is usable.
func (s *AuthService) accountProblem(user *models.User) string {
	switch {
	case !user.Active:
		return ReasonAccountDisabled
	case !user.AccountNonLocked:
		return ReasonAccountLocked
	case s.maxFailures > 0 && user.FailedLoginAttempts >= s.maxFailures:
		return ReasonTooManyFailures
	case user.PasswordExpiresAt != nil && !s.now().Before(*user.PasswordExpiresAt):
		return ReasonPasswordExpired
	}
	return ""
}

func (s *AuthService) fail(meta RequestMeta, subject string, user *models.User, reason string) {
	s.metrics.LoginAttempt(observability.LoginFailed)

	event := models.NewAuthEvent(models.AuthEventLoginFailed, subject).
		WithReason(reason).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
	if user != nil {
		event.WithUser(user.ID)
	}
	s.record(event)

	s.logger.Info("login failed",
		zap.String("request_id", meta.RequestID),
		zap.String("reason", reason))
}

func (s *AuthService) record(event *models.AuthEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(event); err != nil {
		s.logger.Debug("auth event not recorded", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
