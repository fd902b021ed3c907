package flows

import (
	"time"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/token"
)

// BootstrapBranch is the path the bootstrapper takes out of INIT.
type BootstrapBranch int

const (
	// BootstrapGuest: nothing persisted, no network.
	BootstrapGuest BootstrapBranch = iota
	// BootstrapHydrate: access token usable as is.
	BootstrapHydrate
	// BootstrapRenew: access token missing, invalid or about to expire.
	BootstrapRenew
)

func (b BootstrapBranch) String() string {
	switch b {
	case BootstrapGuest:
		return "guest"
	case BootstrapHydrate:
		return "hydrate"
	case BootstrapRenew:
		return "renew"
	default:
		return "unknown"
	}
}

// BootstrapInput is everything read from storage during INIT.
type BootstrapInput struct {
	Credentials    session.Credentials
	HasCredentials bool
	User           session.User
	HasUser        bool
	Now            time.Time
	LowWaterMark   time.Duration
}

// BootstrapPlan is the decision taken from a [BootstrapInput]. Identity and
// Claims are set only for BootstrapHydrate.
type BootstrapPlan struct {
	Branch    BootstrapBranch
	Claims    token.Claims
	Identity  session.User
	FromCache bool
}

// PlanBootstrap decides the bootstrap branch without touching storage or network.
func PlanBootstrap(in BootstrapInput) BootstrapPlan {
	if !in.HasCredentials && !in.HasUser {
		return BootstrapPlan{Branch: BootstrapGuest}
	}

	claims, ok := token.Decode(in.Credentials.AccessToken)
	if !ok || !claims.Valid(in.Now) || claims.Remaining(in.Now) < in.LowWaterMark {
		return BootstrapPlan{Branch: BootstrapRenew}
	}

	identity, fromCache := ResolveIdentity(claims, in.User, in.HasUser)
	return BootstrapPlan{
		Branch:    BootstrapHydrate,
		Claims:    claims,
		Identity:  identity,
		FromCache: fromCache,
	}
}

// ResolveIdentity prefers the cached snapshot when it belongs to the token
// subject and otherwise falls back to what the token itself carries.
func ResolveIdentity(claims token.Claims, cached session.User, hasCached bool) (session.User, bool) {
	if hasCached && cached.Matches(claims.Subject) {
		return cached, true
	}
	return session.UserFromClaims(claims), false
}
