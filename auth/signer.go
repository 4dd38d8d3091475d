package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAssertionTTL is how long a signed assertion stays acceptable to the
// token exchange endpoint.
const DefaultAssertionTTL = time.Hour

// AuthError reports a credential signing or token exchange failure. It is
// surfaced to the caller that was waiting for a token; a later Token call
// retries independently.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Signer produces short-lived signed assertions from an RSA private key and
// fixed issuer/audience/key-id metadata. Each assertion is created fresh for
// one token exchange and discarded after use.
type Signer struct {
	key      *rsa.PrivateKey
	issuer   string
	audience string
	keyID    string

	// TTL bounds the assertion's validity window. Defaults to
	// DefaultAssertionTTL.
	TTL time.Duration
}

// NewSigner parses a PEM-encoded RSA private key. The issuer is the service
// account ID, the audience is the token exchange URL, and keyID identifies
// the authorized key the assertion is signed with.
func NewSigner(pemKey []byte, issuer, audience, keyID string) (*Signer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, &AuthError{Op: "parse private key", Err: err}
	}

	return &Signer{
		key:      key,
		issuer:   issuer,
		audience: audience,
		keyID:    keyID,
		TTL:      DefaultAssertionTTL,
	}, nil
}

// Sign returns a PS256 assertion valid from now until now plus the TTL.
func (s *Signer) Sign(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.audience,
		"iat": now.Unix(),
		"exp": now.Add(s.TTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", &AuthError{Op: "sign assertion", Err: err}
	}

	return signed, nil
}
