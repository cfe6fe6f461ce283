package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const MinSecretLength = 16

var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")

	ErrSecretTooShort = fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	ErrInvalidTTL     = errors.New("token ttl must be positive")
)

type Claims struct {
	jwt.RegisteredClaims
}

type SessionToken struct {
	Token     string
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies HS256 session tokens. It holds no mutable state
// and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type Option func(*Codec)

// WithLeeway accepts tokens up to leeway past their expiry, to absorb clock skew.
func WithLeeway(leeway time.Duration) Option {
	return func(c *Codec) {
		c.leeway = leeway
	}
}

func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// WithClock overrides time.Now, used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.leeway < 0 {
		return nil, errors.New("token leeway must not be negative")
	}

	return c, nil
}

func (c *Codec) Issue(subjectID string, ttl time.Duration) (*SessionToken, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if subjectID == "" {
		return nil, errors.New("token subject empty")
	}

	// jwt numeric dates have second precision, so both ends are cut to whole seconds
	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl).Truncate(time.Second)
	if !expiresAt.After(issuedAt) {
		return nil, ErrInvalidTTL
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &SessionToken{
		Token:     signed,
		SubjectID: subjectID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature and expiry. A token is valid only while now < exp (+ leeway).
func (c *Codec) Verify(encoded string) (*Claims, error) {
	if encoded == "" {
		return nil, ErrMalformed
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(c.leeway))
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(encoded, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrMalformed
	}

	// the jwt library compares at second precision, be strict on the exact instant too
	if !c.now().Before(claims.ExpiresAt.Time.Add(c.leeway)) {
		return nil, ErrExpired
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
