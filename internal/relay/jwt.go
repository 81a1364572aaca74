package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the relay's own bearer token, issued by the relay's
// device-code login endpoint (device.go) with no separate approval
// step; see internal/authclient for the client side. It is
// separate from a session id: it authenticates a *user*, not a PTY
// session.
type SessionClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateSigningKey creates a fresh P-256 key pair for ES256 token
// signing, following the teacher relay's own key-generation helper.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// IssueToken mints an ES256 bearer token for userID/email, valid for ttl.
func IssueToken(key *ecdsa.PrivateKey, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("relay: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token, returning the
// embedded user id and email.
func ValidateToken(pub *ecdsa.PublicKey, raw string) (userID, email string, err error) {
	var claims SessionClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, errors.New("relay: unexpected signing method")
		}
		return pub, nil
	})
	if err != nil || !tok.Valid {
		return "", "", fmt.Errorf("relay: invalid token: %w", err)
	}
	return claims.UserID, claims.Email, nil
}
