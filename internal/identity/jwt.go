package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims is the claims shape of an access token. ClientID mirrors the
// "cid" claim issued by OAuth authorization servers such as Okta.
type accessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"cid,omitempty"`
}

// JWTVerifier verifies signed access tokens.
type JWTVerifier struct {
	issuer   string
	clientID string
	key      any
	methods  []string
	now      func() time.Time
}

// VerifierOption customises a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithIssuer requires the "iss" claim to match issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *JWTVerifier) { v.issuer = strings.TrimSpace(issuer) }
}

// WithClientID requires the "cid" claim to match clientID.
func WithClientID(clientID string) VerifierOption {
	return func(v *JWTVerifier) { v.clientID = strings.TrimSpace(clientID) }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// NewHMACVerifier verifies HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, opts ...VerifierOption) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("hmac secret is required")
	}
	return newJWTVerifier(secret, []string{jwt.SigningMethodHS256.Alg()}, opts), nil
}

// NewRSAVerifier verifies RS256 tokens against a PEM encoded public key.
func NewRSAVerifier(publicKeyPEM []byte, opts ...VerifierOption) (*JWTVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return newJWTVerifier(key, []string{jwt.SigningMethodRS256.Alg()}, opts), nil
}

// NewRSAVerifierFromFile reads the PEM public key at path.
func NewRSAVerifierFromFile(path string, opts ...VerifierOption) (*JWTVerifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return NewRSAVerifier(raw, opts...)
}

func newJWTVerifier(key any, methods []string, opts []VerifierOption) *JWTVerifier {
	v := &JWTVerifier{key: key, methods: methods, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses token, checks its signature, expiry, issuer, audience and
// client id, and returns the subject.
func (v *JWTVerifier) Verify(_ context.Context, token, audience string) (Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	var parsed accessClaims
	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if v.clientID != "" && parsed.ClientID != v.clientID {
		return Claims{}, errors.New("token client id mismatch")
	}
	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return Claims{}, errors.New("token subject is required")
	}
	return Claims{Subject: subject}, nil
}
