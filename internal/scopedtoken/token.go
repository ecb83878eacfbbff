// Package scopedtoken issues and verifies short-lived tokens that assert a
// client was shown a particular schedule or schedule snack.  These tokens are
// capabilities for a single entity and are deliberately kept apart from the
// session JWT: they are signed with a key derived for this purpose only and
// carry no user identity.
package scopedtoken

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// EntityType tags what kind of entity a token refers to.
type EntityType string

const (
	EntitySchedule      EntityType = "schedule"
	EntityScheduleSnack EntityType = "schedule_snack"
)

// DefaultIssuer is the issuer name written by the catalog service.
const DefaultIssuer = "cinema-scheduling"

var (
	// ErrInvalid covers bad signatures, malformed tokens and unknown issuers.
	ErrInvalid = errors.New("scoped token invalid")
	// ErrExpired is returned once the token's exp has passed.
	ErrExpired = errors.New("scoped token expired")
	// ErrMismatch is returned when the token names another entity.
	ErrMismatch = errors.New("scoped token mismatch")
)

// Claims is the payload of a scoped token.
type Claims struct {
	EntityType EntityType `json:"entity_type"`
	ID         uint64     `json:"id"`
	IssuedAt   int64      `json:"issued_at"`
	IssuerName string     `json:"issuer"`
	jwt.RegisteredClaims
}

// DeriveKey derives the scoped-token signing key from a shared secret with
// HKDF-SHA256, so the raw session secret never signs scoped tokens.
func DeriveKey(secret string) []byte {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("scoped-token"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails after 255*32 bytes
		panic(err)
	}
	return key
}

// Verifier validates scoped tokens.  It has no state besides its key and
// clock and is safe for concurrent use.
type Verifier struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option customises a Verifier or an Issuer.
type Option func(*options)

type options struct {
	issuer string
	now    func() time.Time
	ttl    time.Duration
}

// WithIssuer overrides DefaultIssuer.
func WithIssuer(name string) Option { return func(o *options) { o.issuer = name } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithTTL sets how long issued tokens stay valid.
func WithTTL(ttl time.Duration) Option { return func(o *options) { o.ttl = ttl } }

func buildOptions(opts []Option) options {
	o := options{issuer: DefaultIssuer, now: time.Now, ttl: 15 * time.Minute}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewVerifier returns a Verifier for tokens signed with key.
func NewVerifier(key []byte, opts ...Option) *Verifier {
	o := buildOptions(opts)
	return &Verifier{key: key, issuer: o.issuer, now: o.now}
}

// Verify checks the token's signature and structure, that it refers to
// expected entity type and id, and that it has not expired.
func (v *Verifier) Verify(raw string, expected EntityType, expectedID uint64) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalid)
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %s %d", ErrExpired, expected, expectedID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid || claims.IssuerName != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalid, claims.IssuerName)
	}
	if claims.EntityType != expected {
		return nil, fmt.Errorf("%w: token is for %s, expected %s", ErrMismatch, claims.EntityType, expected)
	}
	if claims.ID != expectedID {
		return nil, fmt.Errorf("%w: token is for %s %d, expected %d", ErrMismatch, expected, claims.ID, expectedID)
	}
	return claims, nil
}

// Token is a signed scoped token together with its expiry.
type Token struct {
	Raw       string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer signs scoped tokens.
type Issuer struct {
	key    []byte
	issuer string
	now    func() time.Time
	ttl    time.Duration
}

// NewIssuer returns an Issuer signing with key.
func NewIssuer(key []byte, opts ...Option) *Issuer {
	o := buildOptions(opts)
	return &Issuer{key: key, issuer: o.issuer, now: o.now, ttl: o.ttl}
}

// Issue creates a token for the given entity.
func (i *Issuer) Issue(entity EntityType, id uint64) (Token, error) {
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		EntityType: entity,
		ID:         id,
		IssuedAt:   now.Unix(),
		IssuerName: i.issuer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, err
	}
	return Token{Raw: signed, ExpiresAt: exp}, nil
}
