package middleware

import (
	"net/http"
	"slices"

	"github.com/MrEthical07/goAuthClient/state"
	"github.com/MrEthical07/goAuthClient/token"
)

// RequireRole is [RequireSession] plus a role check against the cached user.
// A session without a user snapshot, or with a role outside roles, gets 403.
func RequireRole(src StateSource, roles ...token.Role) func(http.Handler) http.Handler {
	return guard(src, func(st state.State) bool {
		if st.User == nil {
			return false
		}
		return slices.Contains(roles, st.User.Role)
	})
}
