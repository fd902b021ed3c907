package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/goAuthClient/state"
)

// StateSource returns the current session snapshot. *goAuthClient.Client
// satisfies it.
type StateSource interface {
	State() state.State
}

type stateContextKey struct{}

// StateFromContext returns the snapshot a guard admitted the request with.
func StateFromContext(ctx context.Context) (state.State, bool) {
	st, ok := ctx.Value(stateContextKey{}).(state.State)
	return st, ok
}

// RequireSession admits a request only when the session is authenticated.
// While bootstrap is still deciding it answers 503 with Retry-After, otherwise
// 401.
func RequireSession(src StateSource) func(http.Handler) http.Handler {
	return guard(src, func(state.State) bool { return true })
}

func guard(src StateSource, admit func(state.State) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			st := src.State()
			switch {
			case st.Loading:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			case !st.IsAuthenticated:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			case !admit(st):
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), stateContextKey{}, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
