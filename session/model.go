package session

import (
	"strings"

	"github.com/MrEthical07/goAuthClient/token"
)

// Credentials is the persisted credential pair. The refresh token is the root of
// trust; losing it forces a full re-authentication. The access token is disposable.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether neither token is present.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == "" && strings.TrimSpace(c.RefreshToken) == ""
}

// User is the cached, denormalized projection of the signed-in account. It may be
// stale and is reconciled against the server asynchronously.
type User struct {
	ID    string     `json:"id"`
	Email string     `json:"email,omitempty"`
	Name  string     `json:"name,omitempty"`
	Role  token.Role `json:"role,omitempty"`
}

// UserFromClaims builds the minimal identity that can be derived from a token.
func UserFromClaims(claims token.Claims) User {
	return User{
		ID:   claims.Subject,
		Role: claims.Role,
	}
}

// Matches reports whether u belongs to the token subject.
func (u User) Matches(subject string) bool {
	return u.ID != "" && u.ID == subject
}
