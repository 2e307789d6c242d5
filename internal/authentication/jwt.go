package authentication

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry returns the "exp" claim of a bearer token. Tokens are issued by the vendor, so the
// signature is not verified. The boolean is false if token is not a JWT or has no expiry.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenExpired reports whether token is a JWT that expired before now. Opaque tokens never expire
// as far as the client can tell.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && !now.Before(exp)
}
