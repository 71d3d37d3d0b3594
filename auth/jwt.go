package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// the signature. The value only schedules refresh; it grants nothing.
func jwtExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}
	}
	return expiry.Time
}
