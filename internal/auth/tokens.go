package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openchapel/events/internal/errs"
)

// claims is the HS256 token payload. Only the subject (uid) is trusted;
// the role is always re-read from the store so demotions apply immediately.
type claims struct {
	jwt.RegisteredClaims
}

// issueToken signs a bearer token for uid, valid for ttl.
func issueToken(signKey []byte, uid string, ttl time.Duration, now time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parseToken validates the token and returns the uid it was issued for.
func parseToken(signKey []byte, token string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: token missing subject", errs.ErrUnauthorized)
	}
	return c.Subject, nil
}
