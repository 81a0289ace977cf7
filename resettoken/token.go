// Package resettoken signs and verifies the short-lived credentials
// carried by password-reset links. The payload binds a subject id and
// the time of issue; nothing else about the account is embedded.
package resettoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a reset link stays usable.
const DefaultTTL = 1800 * time.Second

const audience = "password-reset"

// ErrInvalid is returned for every verification failure: bad
// signature, malformed token, wrong audience, or expiry.
var ErrInvalid = errors.New("resettoken: invalid or expired token")

// Claims is what a verified token proves.
type Claims struct {
	Subject  string
	IssuedAt time.Time
}

// Sign returns a token for subject that expires ttl after now.
func Sign(secret []byte, subject string, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("resettoken: empty secret")
	}
	if subject == "" {
		return "", errors.New("resettoken: empty subject")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks token against secret as of now.
func Verify(secret []byte, token string, now time.Time) (Claims, error) {
	if len(secret) == 0 || token == "" {
		return Claims{}, ErrInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalid
	}
	rc, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || rc.Subject == "" || rc.IssuedAt == nil {
		return Claims{}, ErrInvalid
	}
	return Claims{Subject: rc.Subject, IssuedAt: rc.IssuedAt.Time}, nil
}
