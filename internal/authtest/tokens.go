package authtest

import (
	"time"

	"github.com/MrEthical07/goAuthClient/token"
	"github.com/golang-jwt/jwt/v5"
)

var standaloneSecret = []byte("authtest-standalone")

// Token signs an access token for subject that expires at exp. It is meant for
// tests that need a well-formed token without a running server.
func Token(subject string, role token.Role, exp time.Time) string {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": exp.Unix(),
	}
	if role != token.RoleUnknown {
		claims["role"] = string(role)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(standaloneSecret)
	if err != nil {
		panic("authtest: sign token: " + err.Error())
	}
	return raw
}

// RefreshToken signs a self-describing refresh token for subject.
func RefreshToken(subject string, exp time.Time) string {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"typ": "refresh",
		"exp": exp.Unix(),
	}).SignedString(standaloneSecret)
	if err != nil {
		panic("authtest: sign token: " + err.Error())
	}
	return raw
}
