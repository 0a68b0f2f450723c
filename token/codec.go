package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iesalixar/ticket-logger-api/keys"
)

const (
	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = time.Hour

	// MinTTL is the shortest accepted token lifetime.
	MinTTL = time.Second

	// DefaultIssuer is written to the iss claim of issued tokens.
	DefaultIssuer = "ticket-logger-api"
)

// Claims is the payload of an access token.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Codec issues and verifies RS256 access tokens with a single key pair.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	keys   *keys.KeyPair
	ttl    time.Duration
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		c.ttl = ttl
	}
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a Codec that signs with kp's private key and verifies
// with its public key.
func NewCodec(kp *keys.KeyPair, opts ...Option) (*Codec, error) {
	if kp == nil {
		return nil, errors.New("key pair is required")
	}

	c := &Codec{
		keys:   kp,
		ttl:    DefaultTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// NumericDate has whole-second precision; a shorter TTL could yield
	// exp == iat.
	if c.ttl < MinTTL {
		return nil, fmt.Errorf("token ttl must be at least %s, got %s", MinTTL, c.ttl)
	}
	if c.now == nil {
		return nil, errors.New("clock is required")
	}

	c.parser = newParser()

	return c, nil
}

// TTL returns the lifetime given to issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subject carrying roles in the given order.
func (c *Codec) Issue(subject string, roles []string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	now := c.now()
	claims := Claims{
		Roles: append(make([]string, 0, len(roles)), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = c.keys.KeyID()

	signed, err := tok.SignedString(c.keys.Private())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token signature and returns its claims. It does not
// reject expired tokens.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	return parse(c.parser, tokenString, func(t *jwt.Token) (interface{}, error) {
		return c.keys.Public(), nil
	})
}

// ParseWithKeyfunc is Decode for keys that are not held locally, such as
// a key set fetched from a JWKS endpoint.
func ParseWithKeyfunc(tokenString string, keyfunc jwt.Keyfunc) (*Claims, error) {
	return parse(newParser(), tokenString, keyfunc)
}

func newParser() *jwt.Parser {
	// Expiry is enforced by Check, not by the parser, so Decode can report
	// the claims of an expired token. Strict decoding rejects signature
	// segments whose trailing bits were altered.
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithStrictDecoding(),
	)
}

func parse(parser *jwt.Parser, tokenString string, keyfunc jwt.Keyfunc) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, keyfunc)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return claims, nil
}
