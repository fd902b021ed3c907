package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goAuthClient/authapi"
	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/session"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrRefreshUnavailable means there is no refresh token, or it has expired.
	// The session is gone; no network call was made.
	ErrRefreshUnavailable = errors.New("refresh token unavailable")
	// ErrRefreshFailed means the server definitively refused the refresh token.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrRefreshNetwork means no usable answer was obtained. Credentials are kept.
	ErrRefreshNetwork = errors.New("refresh network failure")
	// ErrSessionClosed means the session was cleared or replaced while the
	// renewal was in flight; its result was discarded.
	ErrSessionClosed = errors.New("session closed during refresh")
)

const renewalKey = "renewal"

// Renewer performs the renewal network call. *authapi.Client satisfies it.
type Renewer interface {
	Refresh(ctx context.Context, refreshToken string) (authapi.Tokens, error)
}

// Hooks observe renewal outcomes. All fields are optional. Hooks run on the
// renewal goroutine and must not call back into Refresh.
type Hooks struct {
	OnRenewed func(session.Credentials)
	// OnFatal fires once per attempt that ended the session.
	OnFatal func(error)
	// OnCall fires when a renewal request is about to be sent.
	OnCall func()
	// OnShared fires for every caller that received a shared result.
	OnShared func()
	// OnComplete reports every attempt, including fast failures.
	OnComplete func(kind flows.RenewalFailureKind, elapsed time.Duration)
}

// Options configures a [Coordinator].
type Options struct {
	Store   *session.TokenStore
	Renewer Renewer
	// Timeout bounds a single renewal attempt. Zero means 10s.
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
	Hooks   Hooks
}

// Coordinator deduplicates renewal. It is safe for concurrent use.
type Coordinator struct {
	store   *session.TokenStore
	renewer Renewer
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	hooks   Hooks

	group singleflight.Group
}

// NewCoordinator builds a coordinator. Store and Renewer are required.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("refresh: token store is required")
	}
	if opts.Renewer == nil {
		return nil, errors.New("refresh: renewer is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:   opts.Store,
		renewer: opts.Renewer,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
		hooks:   opts.Hooks,
	}, nil
}

// Refresh returns a freshly renewed access token, joining the attempt already in
// flight when there is one. When ctx ends first the caller gets ctx.Err() and
// the attempt carries on for everyone else.
//
// Errors wrap one of ErrRefreshUnavailable, ErrRefreshFailed, ErrRefreshNetwork
// or ErrSessionClosed.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan(renewalKey, func() (any, error) {
		return c.renew()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Shared && c.hooks.OnShared != nil {
			c.hooks.OnShared()
		}
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *Coordinator) renew() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	res := flows.RunRenewal(ctx, flows.RenewalDeps{
		Store:       c.store,
		Renew:       c.call,
		IsRejection: authapi.IsDefinitive,
		Now:         c.now,
	})
	if c.hooks.OnComplete != nil {
		c.hooks.OnComplete(res.Failure, time.Since(start))
	}

	switch res.Failure {
	case flows.RenewalFailureNone:
		c.logger.Debug("goAuthClient: access token renewed", "subject", res.Claims.Subject, "rotated", res.Rotated)
		if c.hooks.OnRenewed != nil {
			c.hooks.OnRenewed(res.Credentials)
		}
		return res.Credentials.AccessToken, nil

	case flows.RenewalFailureNoRefreshToken, flows.RenewalFailureRefreshExpired:
		err := fmt.Errorf("%w: %v", ErrRefreshUnavailable, res.Err)
		c.endSession(ctx, res, err)
		return "", err

	case flows.RenewalFailureRejected:
		err := fmt.Errorf("%w: %v", ErrRefreshFailed, res.Err)
		c.endSession(ctx, res, err)
		return "", err

	case flows.RenewalFailureSuperseded:
		return "", ErrSessionClosed

	default:
		c.logger.Warn("goAuthClient: renewal failed, credentials kept", "kind", res.Failure.String(), "error", res.Err)
		return "", fmt.Errorf("%w: %v", ErrRefreshNetwork, res.Err)
	}
}

func (c *Coordinator) call(ctx context.Context, refreshToken string) (session.Credentials, error) {
	if c.hooks.OnCall != nil {
		c.hooks.OnCall()
	}
	tokens, err := c.renewer.Refresh(ctx, refreshToken)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.Credentials{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// endSession clears what the failed attempt saw. A session established while
// the attempt was running is left alone and no fatal signal is raised for it.
func (c *Coordinator) endSession(ctx context.Context, res flows.RenewalResult, err error) {
	if !c.store.ClearIfGeneration(ctx, res.Generation) {
		return
	}
	if !res.HadSession {
		return
	}
	c.logger.Info("goAuthClient: session ended by renewal failure", "kind", res.Failure.String())
	if c.hooks.OnFatal != nil {
		c.hooks.OnFatal(err)
	}
}
