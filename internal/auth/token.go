// Package auth holds credential verification for the gateway: constant-time
// token comparison, optional JWT device tokens, client-IP resolution behind
// trusted proxies, and the per-IP failure limiter.
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hayahq/haya/internal/errdefs"
)

// TokensEqual compares a presented credential against the expected token in
// constant time. Unequal lengths fail before any byte comparison; neither
// input is read beyond its own length.
func TokensEqual(presented, expected string) bool {
	if len(presented) != len(expected) || len(expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// Verifier checks bearer credentials: the static gateway token, plus HS256
// JWTs signed with jwtSecret when one is configured.
type Verifier struct {
	token     string
	jwtSecret []byte
}

// NewVerifier builds a verifier. jwtSecret may be empty to disable JWTs.
func NewVerifier(token string, jwtSecret []byte) *Verifier {
	return &Verifier{token: token, jwtSecret: jwtSecret}
}

// Verify accepts the credential if it matches the static token or parses as
// an unexpired JWT under the configured secret.
func (v *Verifier) Verify(credential string) error {
	if TokensEqual(credential, v.token) {
		return nil
	}
	if len(v.jwtSecret) > 0 && v.verifyJWT(credential) {
		return nil
	}
	return &errdefs.AuthError{Msg: "invalid token"}
}

func (v *Verifier) verifyJWT(credential string) bool {
	parsed, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	return err == nil && parsed.Valid
}

// IssueJWT mints an HS256 device token for `haya token issue`.
func IssueJWT(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "haya",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
