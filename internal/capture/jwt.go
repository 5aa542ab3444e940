package capture

import (
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtShape = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

// IsJWTShape reports whether s is three dot-separated base64url segments.
// It says nothing about whether the token is authentic.
func IsJWTShape(s string) bool {
	return jwtShape.MatchString(s)
}

// BearerValue extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerValue(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// DecodeClaims reads the payload of a JWT without verifying its signature.
func DecodeClaims(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func expiry(claims map[string]any) time.Time {
	exp, err := jwt.MapClaims(claims).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
