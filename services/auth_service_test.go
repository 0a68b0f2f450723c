package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iesalixar/ticket-logger-api/internal/observability"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/iesalixar/ticket-logger-api/services/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const alicePassword = "correct horse battery staple"

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

var meta = RequestMeta{RequestID: "req-1", IPAddress: "10.0.0.1", UserAgent: "curl/8"}

type authFixture struct {
	users   *MockUserRepository
	issuer  *MockTokenIssuer
	audit   *recordingAudit
	metrics *observability.AuthMetrics
	svc     *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		users:   new(MockUserRepository),
		issuer:  new(MockTokenIssuer),
		audit:   &recordingAudit{},
		metrics: observability.NewAuthMetrics(),
	}
	f.svc = NewAuthService(f.users, f.issuer, f.audit, nil, f.metrics, zap.NewNop())
	return f
}

func (f *authFixture) metricsText(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestAuthService_LoginSucceeds(t *testing.T) {
	f := newAuthFixture(t)
	alice := models.NewUser("alice@example.com", hashPassword(t, alicePassword), models.RoleUser, models.RoleAdmin)
	f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
	f.issuer.On("Issue", "alice@example.com", []string{models.RoleUser, models.RoleAdmin}).Return("signed.token.value", nil)

	now := time.Unix(1_700_000_000, 0)
	f.svc.now = func() time.Time { return now }

	res, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	require.NoError(t, err)

	assert.Equal(t, "signed.token.value", res.Token)
	assert.Equal(t, "alice@example.com", res.Subject)
	assert.Equal(t, []string{models.RoleUser, models.RoleAdmin}, res.Roles)
	assert.Equal(t, now.Add(time.Hour), res.ExpiresAt)

	events := f.audit.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuthEventLoginSucceeded, events[0].Type)
	assert.Equal(t, alice.ID, *events[0].UserID)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "10.0.0.1", events[0].IPAddress)

	body := f.metricsText(t)
	assert.Contains(t, body, `auth_login_attempts_total{result="succeeded"} 1`)
	assert.Contains(t, body, "auth_tokens_issued_total 1")
}

func TestAuthService_LoginFailuresAreUniform(t *testing.T) {
	hash := hashPassword(t, alicePassword)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name       string
		user       func() *models.User
		password   string
		wantReason string
		wantUser   bool
	}{
		{
			name:       "wrong password",
			user:       func() *models.User { return models.NewUser("alice@example.com", hash, models.RoleUser) },
			password:   "guess",
			wantReason: ReasonBadCredentials,
			wantUser:   true,
		},
		{
			name: "disabled account",
			user: func() *models.User {
				u := models.NewUser("alice@example.com", hash, models.RoleUser)
				u.Active = false
				return u
			},
			password:   alicePassword,
			wantReason: ReasonAccountDisabled,
			wantUser:   true,
		},
		{
			name: "locked account",
			user: func() *models.User {
				u := models.NewUser("alice@example.com", hash, models.RoleUser)
				u.AccountNonLocked = false
				return u
			},
			password:   alicePassword,
			wantReason: ReasonAccountLocked,
			wantUser:   true,
		},
		{
			name: "expired password",
			user: func() *models.User {
				u := models.NewUser("alice@example.com", hash, models.RoleUser)
				u.PasswordExpiresAt = &past
				return u
			},
			password:   alicePassword,
			wantReason: ReasonPasswordExpired,
			wantUser:   true,
		},
		{
			name:       "unknown user",
			password:   alicePassword,
			wantReason: ReasonUnknownUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			if tt.user != nil {
				f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(tt.user(), nil)
			} else {
				f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(nil, repositories.ErrNotFound)
			}

			res, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: tt.password}, meta)
			assert.Nil(t, res)
			assert.Same(t, ErrInvalidCredentials, err)
			f.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)

			events := f.audit.recorded()
			require.Len(t, events, 1)
			assert.Equal(t, models.AuthEventLoginFailed, events[0].Type)
			assert.Equal(t, tt.wantReason, events[0].Reason)
			assert.Equal(t, "alice@example.com", events[0].Subject)
			assert.Equal(t, tt.wantUser, events[0].UserID != nil)

			assert.Contains(t, f.metricsText(t), `auth_login_attempts_total{result="failed"} 1`)
		})
	}
}

func TestAuthService_LockoutAfterRepeatedFailures(t *testing.T) {
	hash := hashPassword(t, alicePassword)

	tests := []struct {
		name      string
		threshold int
		failures  int
		wantErr   bool
	}{
		{name: "below threshold", threshold: 3, failures: 2},
		{name: "at threshold", threshold: 3, failures: 3, wantErr: true},
		{name: "above threshold", threshold: 3, failures: 7, wantErr: true},
		{name: "lockout disabled", threshold: 0, failures: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.svc.WithLockout(tt.threshold)

			alice := models.NewUser("alice@example.com", hash, models.RoleUser)
			alice.FailedLoginAttempts = tt.failures
			f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
			f.issuer.On("Issue", "alice@example.com", []string{models.RoleUser}).Return("signed.token.value", nil).Maybe()

			res, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)

			events := f.audit.recorded()
			require.Len(t, events, 1)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "signed.token.value", res.Token)
				assert.Equal(t, models.AuthEventLoginSucceeded, events[0].Type)
				return
			}

			assert.Nil(t, res)
			assert.Same(t, ErrInvalidCredentials, err)
			f.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
			assert.Equal(t, ReasonTooManyFailures, events[0].Reason)
			require.NotNil(t, events[0].UserID)
			assert.Equal(t, alice.ID, *events[0].UserID)
		})
	}
}

func TestAuthService_LoginRequiresCredentials(t *testing.T) {
	f := newAuthFixture(t)

	for _, req := range []LoginRequest{
		{Username: "", Password: "x"},
		{Username: "   ", Password: "x"},
		{Username: "alice@example.com", Password: ""},
	} {
		_, err := f.svc.Login(context.Background(), req, meta)
		assert.True(t, IsValidationError(err))
	}

	f.users.AssertNotCalled(t, "FindBySubject", mock.Anything, mock.Anything)
	assert.Empty(t, f.audit.recorded())
	assert.Contains(t, f.metricsText(t), `auth_login_attempts_total{result="invalid_request"} 3`)
}

func TestAuthService_LookupErrorIsInternal(t *testing.T) {
	f := newAuthFixture(t)
	boom := errors.New("connection refused")
	f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(nil, boom)

	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: "x"}, meta)
	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.audit.recorded())
}

func TestAuthService_IssueErrorIsInternal(t *testing.T) {
	f := newAuthFixture(t)
	alice := models.NewUser("alice@example.com", hashPassword(t, alicePassword), models.RoleUser)
	f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
	f.issuer.On("Issue", mock.Anything, mock.Anything).Return("", errors.New("sign: key"))

	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, ErrTokenIssuance)
}

func TestAuthService_LoginInvalidatesCachedPrincipal(t *testing.T) {
	users := new(MockUserRepository)
	issuer := new(MockTokenIssuer)
	inv := new(MockInvalidator)

	alice := models.NewUser("alice@example.com", hashPassword(t, alicePassword), models.RoleUser)
	users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return("t", nil)
	inv.On("Invalidate", mock.Anything, "alice@example.com").Return(errors.New("cache down"))

	svc := NewAuthService(users, issuer, nil, inv, nil, zap.NewNop())

	res, err := svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	require.NoError(t, err)
	assert.Equal(t, "t", res.Token)
	inv.AssertExpectations(t)
}

func TestAuthService_AuditFailureDoesNotFailLogin(t *testing.T) {
	f := newAuthFixture(t)
	f.audit.err = errors.New("audit event buffer full")

	alice := models.NewUser("alice@example.com", hashPassword(t, alicePassword), models.RoleUser)
	f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
	f.issuer.On("Issue", mock.Anything, mock.Anything).Return("t", nil)

	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	assert.NoError(t, err)
}

func TestAuthService_LoginThrottled(t *testing.T) {
	f := newAuthFixture(t)
	now := time.Unix(1_700_000_000, 0)
	f.svc.now = func() time.Time { return now }

	limiter := new(MockLimiter)
	limiter.On("CheckLimit", mock.Anything, ratelimit.RateLimitRequest{Username: "alice@example.com", IPAddress: "10.0.0.1"}).
		Return(&ratelimit.RateLimitResult{Allowed: false, ResetAt: now.Add(42 * time.Second), ViolatedWindow: ratelimit.WindowMinute}, nil)
	f.svc.WithLimiter(limiter)

	res, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsRateLimitedError(err))
	assert.Equal(t, 42, GetErrorDetails(err)["retry_after"])

	f.users.AssertNotCalled(t, "FindBySubject", mock.Anything, mock.Anything)

	events := f.audit.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuthEventLoginFailed, events[0].Type)
	assert.Equal(t, ReasonRateLimited, events[0].Reason)
	assert.Contains(t, f.metricsText(t), `auth_login_attempts_total{result="throttled"} 1`)
}

func TestAuthService_LoginResetsThrottleOnSuccess(t *testing.T) {
	f := newAuthFixture(t)
	alice := models.NewUser("alice@example.com", hashPassword(t, alicePassword), models.RoleUser)
	f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
	f.issuer.On("Issue", "alice@example.com", []string{models.RoleUser}).Return("signed.token.value", nil)

	limiter := new(MockLimiter)
	limiter.On("CheckLimit", mock.Anything, mock.Anything).Return(&ratelimit.RateLimitResult{Allowed: true, RequestsRemaining: 4}, nil)
	limiter.On("Reset", mock.Anything, "alice@example.com").Return(nil)
	f.svc.WithLimiter(limiter)

	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	require.NoError(t, err)
	limiter.AssertExpectations(t)
}

func TestAuthService_LoginThrottleUnavailableFailsOpen(t *testing.T) {
	f := newAuthFixture(t)
	alice := models.NewUser("alice@example.com", hashPassword(t, alicePassword), models.RoleUser)
	f.users.On("FindBySubject", mock.Anything, "alice@example.com").Return(alice, nil)
	f.issuer.On("Issue", "alice@example.com", []string{models.RoleUser}).Return("signed.token.value", nil)

	limiter := new(MockLimiter)
	limiter.On("CheckLimit", mock.Anything, mock.Anything).Return(nil, ratelimit.ErrRedisUnavailable)
	limiter.On("Reset", mock.Anything, mock.Anything).Return(ratelimit.ErrRedisUnavailable)
	f.svc.WithLimiter(limiter)

	res, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice@example.com", Password: alicePassword}, meta)
	require.NoError(t, err)
	assert.Equal(t, "signed.token.value", res.Token)
}
