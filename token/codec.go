package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the account role carried in the token payload.
type Role string

const (
	RoleUnknown  Role = ""
	RoleCustomer Role = "CUSTOMER"
	RoleArtist   Role = "ARTIST"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole normalizes a raw role claim. Unrecognized values map to RoleUnknown.
func ParseRole(raw string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleCustomer:
		return RoleCustomer
	case RoleArtist:
		return RoleArtist
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// Known reports whether r is one of the roles issued by the authentication server.
func (r Role) Known() bool {
	return r == RoleCustomer || r == RoleArtist || r == RoleAdmin
}

// Claims is the decoded view of a token payload.
type Claims struct {
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// wireClaims mirrors the payload as issued. Older servers put the subject in
// uid or id instead of sub.
type wireClaims struct {
	UID    string `json:"uid,omitempty"`
	ID     string `json:"id,omitempty"`
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c wireClaims) subject() string {
	for _, candidate := range []string{c.Subject, c.UID, c.ID, c.UserID} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

var parser = jwt.NewParser()

// Decode extracts the subject, role and expiry from raw. It never fails loudly:
// empty, malformed, or incomplete tokens (no subject, no expiry) return ok == false.
func Decode(raw string) (Claims, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return Claims{}, false
	}

	var wc wireClaims
	if _, _, err := parser.ParseUnverified(raw, &wc); err != nil {
		return Claims{}, false
	}

	subject := wc.subject()
	if subject == "" || wc.ExpiresAt == nil {
		return Claims{}, false
	}

	claims := Claims{
		Subject:   subject,
		Role:      ParseRole(wc.Role),
		ExpiresAt: wc.ExpiresAt.Time,
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	return claims, true
}

// Valid reports whether the decoded token is still usable at now.
func (c Claims) Valid(now time.Time) bool {
	return c.ExpiresAt.After(now)
}

// Remaining returns the lifetime left at now, or zero once expired.
func (c Claims) Remaining(now time.Time) time.Duration {
	if !c.Valid(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// IsValid reports whether raw decodes and expires strictly after now.
// Clock skew is not compensated.
func IsValid(raw string, now time.Time) bool {
	claims, ok := Decode(raw)
	return ok && claims.Valid(now)
}

// IsExpiringSoon reports whether raw is valid at now but has less than window
// of lifetime left. Invalid or already expired tokens are not "expiring soon".
func IsExpiringSoon(raw string, now time.Time, window time.Duration) bool {
	claims, ok := Decode(raw)
	if !ok || !claims.Valid(now) {
		return false
	}
	return claims.Remaining(now) < window
}

// Remaining returns the lifetime left on raw at now. Invalid tokens have none.
func Remaining(raw string, now time.Time) time.Duration {
	claims, ok := Decode(raw)
	if !ok {
		return 0
	}
	return claims.Remaining(now)
}
