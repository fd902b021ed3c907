package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/token"
)

// RenewalFailureKind classifies renewal flow failures for coordinator-level mapping.
type RenewalFailureKind int

const (
	RenewalFailureNone RenewalFailureKind = iota
	RenewalFailureNoRefreshToken
	RenewalFailureRefreshExpired
	RenewalFailureRejected
	RenewalFailureTransient
	RenewalFailureMalformed
	RenewalFailureSuperseded
)

func (k RenewalFailureKind) String() string {
	switch k {
	case RenewalFailureNone:
		return "none"
	case RenewalFailureNoRefreshToken:
		return "no_refresh_token"
	case RenewalFailureRefreshExpired:
		return "refresh_expired"
	case RenewalFailureRejected:
		return "rejected"
	case RenewalFailureTransient:
		return "transient"
	case RenewalFailureMalformed:
		return "malformed"
	case RenewalFailureSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Fatal reports whether the failure ends the session. Transient, malformed and
// superseded outcomes leave the persisted credentials alone.
func (k RenewalFailureKind) Fatal() bool {
	switch k {
	case RenewalFailureNoRefreshToken, RenewalFailureRefreshExpired, RenewalFailureRejected:
		return true
	default:
		return false
	}
}

// NetworkCalled reports whether the flow reached the authentication server.
func (k RenewalFailureKind) NetworkCalled() bool {
	return k != RenewalFailureNoRefreshToken && k != RenewalFailureRefreshExpired
}

// RenewalResult carries either the persisted credentials or failure metadata.
type RenewalResult struct {
	Failure     RenewalFailureKind
	Err         error
	Credentials session.Credentials
	Claims      token.Claims
	Generation  uint64
	Rotated     bool
	// HadSession is false when the store held nothing at all, so there was
	// no session to lose.
	HadSession bool
}

type RenewalStore interface {
	Generation() uint64
	Load(ctx context.Context) (session.Credentials, bool)
	StoreIfGeneration(ctx context.Context, gen uint64, creds session.Credentials) bool
}

// RenewalDeps captures renewal flow dependencies.
type RenewalDeps struct {
	Store RenewalStore
	// Renew exchanges a refresh token. An empty RefreshToken in the result
	// means the server did not rotate.
	Renew       func(ctx context.Context, refreshToken string) (session.Credentials, error)
	IsRejection func(error) bool
	Now         func() time.Time
}

var (
	errNoRefreshToken   = errors.New("no refresh token")
	errRefreshExpired   = errors.New("refresh token expired")
	errUndecodableToken = errors.New("renewed access token is not decodable")
	errExpiredOnArrival = errors.New("renewed access token already expired")
	errSuperseded       = errors.New("credentials changed during renewal")
)

// RunRenewal executes load, renew, validate and persist as one linear sequence.
// The generation is captured before the network call so a Clear that lands
// while the call is in flight causes the result to be discarded.
func RunRenewal(ctx context.Context, deps RenewalDeps) RenewalResult {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	gen := deps.Store.Generation()
	creds, ok := deps.Store.Load(ctx)
	fail := func(kind RenewalFailureKind, err error) RenewalResult {
		return RenewalResult{
			Failure:    kind,
			Err:        err,
			Generation: gen,
			HadSession: ok,
		}
	}
	if !ok || creds.RefreshToken == "" {
		return fail(RenewalFailureNoRefreshToken, errNoRefreshToken)
	}

	// Opaque refresh tokens are allowed; only self-describing ones are checked.
	if claims, decodable := token.Decode(creds.RefreshToken); decodable && !claims.Valid(now()) {
		return fail(RenewalFailureRefreshExpired, errRefreshExpired)
	}

	next, err := deps.Renew(ctx, creds.RefreshToken)
	if err != nil {
		if deps.IsRejection != nil && deps.IsRejection(err) {
			return fail(RenewalFailureRejected, err)
		}
		return fail(RenewalFailureTransient, err)
	}

	claims, decodable := token.Decode(next.AccessToken)
	if !decodable {
		return fail(RenewalFailureMalformed, errUndecodableToken)
	}
	if !claims.Valid(now()) {
		return fail(RenewalFailureMalformed, errExpiredOnArrival)
	}

	rotated := next.RefreshToken != "" && next.RefreshToken != creds.RefreshToken
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}

	if !deps.Store.StoreIfGeneration(ctx, gen, next) {
		return fail(RenewalFailureSuperseded, errSuperseded)
	}

	return RenewalResult{
		Failure:     RenewalFailureNone,
		Credentials: next,
		Claims:      claims,
		Generation:  gen,
		Rotated:     rotated,
		HadSession:  true,
	}
}
