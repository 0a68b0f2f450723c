package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/iesalixar/ticket-logger-api/auth"
	"github.com/iesalixar/ticket-logger-api/internal/observability"
	"github.com/iesalixar/ticket-logger-api/keys"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/repositories"
	"github.com/iesalixar/ticket-logger-api/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPrincipalLookup is a mock implementation of PrincipalLookup
type MockPrincipalLookup struct {
	mock.Mock
}

func (m *MockPrincipalLookup) FindBySubject(ctx context.Context, subject string) (*models.User, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Decode(tok string) (*token.Claims, error) {
	args := m.Called(tok)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Claims), args.Error(1)
}

func (m *MockTokenVerifier) Validate(tok, expectedSubject string) bool {
	return m.Called(tok, expectedSubject).Bool(0)
}

var (
	codecOnce sync.Once
	codecKeys *keys.KeyPair
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCodec(t *testing.T) (*token.Codec, *clock) {
	t.Helper()
	codecOnce.Do(func() {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		codecKeys, err = keys.NewKeyPair(priv)
		if err != nil {
			panic(err)
		}
	})
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	codec, err := token.NewCodec(codecKeys, token.WithClock(c.Now))
	require.NoError(t, err)
	return codec, c
}

// captureHandler records the principal seen by the downstream handler.
type captureHandler struct {
	called    bool
	principal *auth.Principal
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.principal = auth.PrincipalFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate_NoCredential(t *testing.T) {
	headers := map[string]string{
		"no header":        "",
		"basic scheme":     "Basic YWxpY2U6c2VjcmV0",
		"lowercase bearer": "bearer abc.def.ghi",
		"bearer no space":  "Bearerabc.def.ghi",
	}

	for name, header := range headers {
		t.Run(name, func(t *testing.T) {
			verifier := new(MockTokenVerifier)
			lookup := new(MockPrincipalLookup)
			gate := NewAuthMiddleware(verifier, lookup, nil, zap.NewNop())

			next := &captureHandler{}
			rec := serve(gate.Authenticate(next), header)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, next.called)
			assert.Nil(t, next.principal)
			verifier.AssertNotCalled(t, "Decode", mock.Anything)
			lookup.AssertNotCalled(t, "FindBySubject", mock.Anything, mock.Anything)
		})
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	codec, _ := newCodec(t)
	tok, err := codec.Issue("alice@example.com", []string{"ROLE_USER", "ROLE_MANAGER"})
	require.NoError(t, err)

	user := models.NewUser("alice@example.com", "hash", models.RoleAdmin)
	lookup := new(MockPrincipalLookup)
	lookup.On("FindBySubject", mock.Anything, "alice@example.com").Return(user, nil)

	gate := NewAuthMiddleware(codec, lookup, nil, zap.NewNop())
	next := &captureHandler{}

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.RemoteAddr = "10.1.2.3:4567"
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))
	gate.Authenticate(next).ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, next.called)
	require.NotNil(t, next.principal)
	assert.Equal(t, "alice@example.com", next.principal.Identifier)
	// Authorities come from the signed token, not the store.
	assert.Equal(t, []string{"ROLE_USER", "ROLE_MANAGER"}, next.principal.Authorities)
	assert.True(t, next.principal.Active)
	assert.False(t, next.principal.Locked)
	assert.Equal(t, "10.1.2.3:4567", next.principal.RemoteAddr)
	assert.Equal(t, "req-42", next.principal.RequestID)
	lookup.AssertExpectations(t)
}

func TestAuthenticate_Unauthenticated(t *testing.T) {
	codec, _ := newCodec(t)
	tok, err := codec.Issue("alice@example.com", []string{"ROLE_USER"})
	require.NoError(t, err)

	inactive := models.NewUser("alice@example.com", "hash")
	inactive.Active = false
	locked := models.NewUser("alice@example.com", "hash")
	locked.AccountNonLocked = false

	tests := []struct {
		name      string
		header    string
		user      *models.User
		lookupErr error
		wantCall  bool
	}{
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "empty token", header: "Bearer "},
		{name: "tampered token", header: "Bearer " + tok + "x"},
		{name: "unknown subject", header: "Bearer " + tok, lookupErr: fmt.Errorf("user %w", repositories.ErrNotFound), wantCall: true},
		{name: "lookup failure", header: "Bearer " + tok, lookupErr: errors.New("connection refused"), wantCall: true},
		{name: "inactive account", header: "Bearer " + tok, user: inactive, wantCall: true},
		{name: "locked account", header: "Bearer " + tok, user: locked, wantCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := new(MockPrincipalLookup)
			if tt.wantCall {
				lookup.On("FindBySubject", mock.Anything, "alice@example.com").Return(tt.user, tt.lookupErr)
			}
			gate := NewAuthMiddleware(codec, lookup, nil, zap.NewNop())

			next := &captureHandler{}
			rec := serve(gate.Authenticate(next), tt.header)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, next.called)
			assert.Nil(t, next.principal)
			if tt.wantCall {
				lookup.AssertExpectations(t)
			} else {
				lookup.AssertNotCalled(t, "FindBySubject", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAuthenticate_EmptySubject(t *testing.T) {
	verifier := new(MockTokenVerifier)
	verifier.On("Decode", "tok").Return(&token.Claims{Roles: []string{}}, nil).Once()
	lookup := new(MockPrincipalLookup)

	gate := NewAuthMiddleware(verifier, lookup, nil, zap.NewNop())
	next := &captureHandler{}
	serve(gate.Authenticate(next), "Bearer tok")

	assert.Nil(t, next.principal)
	lookup.AssertNotCalled(t, "FindBySubject", mock.Anything, mock.Anything)
	verifier.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
}

func TestAuthenticate_Rejected(t *testing.T) {
	t.Run("expired token", func(t *testing.T) {
		codec, clk := newCodec(t)
		tok, err := codec.Issue("alice@example.com", []string{"ROLE_USER"})
		require.NoError(t, err)
		clk.Advance(time.Hour + time.Second)

		lookup := new(MockPrincipalLookup)
		lookup.On("FindBySubject", mock.Anything, "alice@example.com").
			Return(models.NewUser("alice@example.com", "hash"), nil)

		gate := NewAuthMiddleware(codec, lookup, nil, zap.NewNop())
		next := &captureHandler{}
		rec := serve(gate.Authenticate(next), "Bearer "+tok)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, next.called)
		assert.Nil(t, next.principal)
	})

	t.Run("store identifier differs in case", func(t *testing.T) {
		codec, _ := newCodec(t)
		tok, err := codec.Issue("alice@example.com", []string{"ROLE_USER"})
		require.NoError(t, err)

		lookup := new(MockPrincipalLookup)
		lookup.On("FindBySubject", mock.Anything, "alice@example.com").
			Return(models.NewUser("Alice@Example.com", "hash"), nil)

		gate := NewAuthMiddleware(codec, lookup, nil, zap.NewNop())
		next := &captureHandler{}
		serve(gate.Authenticate(next), "Bearer "+tok)

		assert.Nil(t, next.principal)
	})
}

func TestAuthenticate_ExistingPrincipalIsKept(t *testing.T) {
	codec, _ := newCodec(t)
	tok, err := codec.Issue("bob@example.com", []string{"ROLE_ADMIN"})
	require.NoError(t, err)

	lookup := new(MockPrincipalLookup)
	gate := NewAuthMiddleware(codec, lookup, nil, zap.NewNop())

	existing := &auth.Principal{Identifier: "alice@example.com", Authorities: []string{"ROLE_USER"}}
	next := &captureHandler{}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req = req.WithContext(auth.WithPrincipal(req.Context(), existing))
	gate.Authenticate(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Same(t, existing, next.principal)
	lookup.AssertNotCalled(t, "FindBySubject", mock.Anything, mock.Anything)
}

func TestAuthenticate_AliceAndBob(t *testing.T) {
	codec, _ := newCodec(t)
	aliceToken, err := codec.Issue("alice@example.com", []string{"ROLE_USER"})
	require.NoError(t, err)
	bobToken, err := codec.Issue("bob@example.com", []string{"ROLE_ADMIN"})
	require.NoError(t, err)

	lookup := new(MockPrincipalLookup)
	lookup.On("FindBySubject", mock.Anything, "alice@example.com").Return(models.NewUser("alice@example.com", "h"), nil)
	lookup.On("FindBySubject", mock.Anything, "bob@example.com").Return(models.NewUser("bob@example.com", "h"), nil)

	gate := NewAuthMiddleware(codec, lookup, nil, zap.NewNop())
	adminOnly := gate.Authenticate(gate.RequireRole("ADMIN")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	assert.Equal(t, http.StatusOK, serve(adminOnly, "Bearer "+bobToken).Code)
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, "Bearer "+aliceToken).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(adminOnly, "").Code)

	// Concurrent requests never see each other's principal.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, want := aliceToken, "alice@example.com"
			if i%2 == 1 {
				tok, want = bobToken, "bob@example.com"
			}
			next := &captureHandler{}
			serve(gate.Authenticate(next), "Bearer "+tok)
			if assert.NotNil(t, next.principal) {
				assert.Equal(t, want, next.principal.Identifier)
			}
		}(i)
	}
	wg.Wait()

	// A later request without a token starts from an empty context.
	next := &captureHandler{}
	serve(gate.Authenticate(next), "")
	assert.Nil(t, next.principal)
}

func TestAuthenticate_CountsOutcomes(t *testing.T) {
	codec, _ := newCodec(t)
	tok, err := codec.Issue("alice@example.com", nil)
	require.NoError(t, err)

	lookup := new(MockPrincipalLookup)
	lookup.On("FindBySubject", mock.Anything, "alice@example.com").Return(models.NewUser("alice@example.com", "h"), nil)

	metrics := observability.NewAuthMetrics()
	gate := NewAuthMiddleware(codec, lookup, metrics, zap.NewNop())
	h := gate.Authenticate(&captureHandler{})

	serve(h, "")
	serve(h, "Bearer junk")
	serve(h, "Bearer "+tok)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `auth_gate_outcomes_total{outcome="anonymous"} 1`)
	assert.Contains(t, body, `auth_gate_outcomes_total{outcome="invalid_token"} 1`)
	assert.Contains(t, body, `auth_gate_outcomes_total{outcome="authenticated"} 1`)
}

func TestRequireAuth(t *testing.T) {
	gate := NewAuthMiddleware(new(MockTokenVerifier), new(MockPrincipalLookup), nil, zap.NewNop())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("missing principal returns 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		gate.RequireAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unauthorized", body["error"])
	})

	t.Run("principal allows request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{Identifier: "alice@example.com"}))
		rec := httptest.NewRecorder()
		gate.RequireAuth(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireAnyRole(t *testing.T) {
	gate := NewAuthMiddleware(new(MockTokenVerifier), new(MockPrincipalLookup), nil, zap.NewNop())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name        string
		authorities []string
		roles       []string
		want        int
	}{
		{"prefixed role", []string{"ROLE_MANAGER"}, []string{"ROLE_MANAGER"}, http.StatusOK},
		{"implied prefix", []string{"ROLE_MANAGER"}, []string{"MANAGER"}, http.StatusOK},
		{"any of several", []string{"ROLE_USER"}, []string{"ADMIN", "USER"}, http.StatusOK},
		{"missing role", []string{"ROLE_USER"}, []string{"ADMIN", "MANAGER"}, http.StatusForbidden},
		{"no authorities", nil, []string{"USER"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{
				Identifier:  "alice@example.com",
				Authorities: tt.authorities,
			}))
			rec := httptest.NewRecorder()
			gate.RequireAnyRole(tt.roles...)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "forbidden", body["error"])
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	h := RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?token=secret", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGetRequestIDFromContext(t *testing.T) {
	assert.Empty(t, GetRequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", GetRequestIDFromContext(WithRequestID(context.Background(), "abc")))
}
