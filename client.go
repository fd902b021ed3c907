package goAuthClient

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthClient/authapi"
	"github.com/MrEthical07/goAuthClient/authorizer"
	"github.com/MrEthical07/goAuthClient/bootstrap"
	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/state"
	"github.com/MrEthical07/goAuthClient/token"
	"github.com/redis/go-redis/v9"
)

// Client owns one session: its persisted credentials, the shared session
// record, renewal and the authorizing HTTP client. All methods are safe for
// concurrent use. Build one with [New].
type Client struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	store      *session.TokenStore
	state      *state.Container
	api        *authapi.Client
	coord      *refresh.Coordinator
	scheduler  *refresh.Scheduler
	transport  *authorizer.Transport
	httpClient *http.Client
	boot       *bootstrap.Bootstrapper

	metrics    *Metrics
	events     *eventDispatcher
	ownedRedis redis.UniversalClient

	// ended latches once per session so concurrent fatal signals produce a
	// single forced logout. Cleared when a session starts.
	ended  atomic.Bool
	closed atomic.Bool

	bootOnce sync.Once
}

// Bootstrap restores the persisted session and returns the terminal phase:
// NO_SESSION, HYDRATED or FAILED. It runs once; later calls return the first
// outcome. A FAILED phase comes with the renewal error. When a logout or login
// replaced the session while bootstrap was renewing, the phase that change
// published is returned with ErrSessionClosed.
func (c *Client) Bootstrap(ctx context.Context) (state.Phase, error) {
	if c.closed.Load() {
		return "", ErrClientNotReady
	}
	phase, err := c.boot.Run(ctx)
	c.bootOnce.Do(func() {
		switch {
		case err != nil && phase != state.PhaseFailed:
			// Replaced by a logout or login while renewing; those emit their own events.
		case phase == state.PhaseNoSession:
			c.emit(newSessionEvent(EventGuest, "", ""))
		case phase == state.PhaseFailed:
			c.emit(newSessionEvent(EventBootstrapFailed, "", c.state.Snapshot().Error))
		}
	})
	return phase, err
}

// Establish installs a pair obtained from a login. The pair needs a refresh
// token or a valid access token; an unusable access token is renewed before
// Establish returns. user may be nil, in which case the identity is taken
// from the access token.
func (c *Client) Establish(ctx context.Context, creds session.Credentials, user *session.User) error {
	if c.closed.Load() {
		return ErrClientNotReady
	}
	creds.AccessToken = strings.TrimSpace(creds.AccessToken)
	creds.RefreshToken = strings.TrimSpace(creds.RefreshToken)

	claims, decoded := token.Decode(creds.AccessToken)
	accessValid := decoded && claims.Valid(c.now())
	if creds.RefreshToken == "" && !accessValid {
		return ErrInvalidCredentials
	}
	if user != nil && decoded && !user.Matches(claims.Subject) {
		return ErrInvalidCredentials
	}

	c.store.Store(ctx, creds)
	c.ended.Store(false)

	access := creds.AccessToken
	if !accessValid {
		renewed, err := c.coord.Refresh(ctx)
		if err != nil {
			return err
		}
		access = renewed
		claims, _ = token.Decode(access)
	}

	identity := session.UserFromClaims(claims)
	if user != nil && user.Matches(claims.Subject) {
		identity = *user
	}
	c.store.SaveUser(ctx, identity)

	c.state.Dispatch(state.AuthSuccess(identity, access))
	if c.cfg.Renewal.Proactive {
		c.scheduler.Start()
	}
	c.metrics.Inc(MetricSessionEstablished)
	c.emit(newSessionEvent(EventSessionEstablished, identity.ID, ""))
	c.logger.Info("goAuthClient: session established", "subject", identity.ID)
	return nil
}

// Logout clears local credentials and publishes NO_SESSION before it
// returns. When RevokeOnLogout is set the refresh token is then revoked on the
// server; that call is best-effort and its failure is only logged.
func (c *Client) Logout(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientNotReady
	}
	c.scheduler.Stop()

	creds, hadSession := c.store.Load(ctx)
	userID := c.subject()
	c.store.Clear(ctx)
	c.ended.Store(true)
	c.state.Dispatch(state.Logout())

	c.metrics.Inc(MetricLogout)
	c.emit(newSessionEvent(EventSessionLogout, userID, ""))

	if hadSession && c.cfg.Authorizer.RevokeOnLogout && creds.RefreshToken != "" {
		if err := c.api.Logout(ctx, creds.RefreshToken); err != nil {
			c.logger.Warn("goAuthClient: server-side revocation failed", "error", err)
		}
	}
	return nil
}

// Token returns a usable access token, renewing it when needed.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", ErrClientNotReady
	}
	creds, ok := c.store.Load(ctx)
	if !ok {
		return "", ErrNoSession
	}
	if token.IsValid(creds.AccessToken, c.now()) {
		return creds.AccessToken, nil
	}
	return c.coord.Refresh(ctx)
}

// Refresh forces a renewal, joining one already in flight.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", ErrClientNotReady
	}
	return c.coord.Refresh(ctx)
}

// HTTPClient returns a client whose requests carry the session's bearer
// token, are renewed ahead of sending and are replayed once after a 401.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Transport is the round tripper behind [Client.HTTPClient], for callers
// that build their own http.Client.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// State returns a snapshot of the session record.
func (c *Client) State() state.State {
	return c.state.Snapshot()
}

// Subscribe registers fn for every session record transition. The returned
// function unsubscribes.
func (c *Client) Subscribe(fn func(state.State)) func() {
	return c.state.Subscribe(fn)
}

// Transitions lists the bootstrap phases entered so far.
func (c *Client) Transitions() []state.Phase {
	return c.boot.Transitions()
}

// WaitReconciled blocks until background verification started by bootstrap
// has finished.
func (c *Client) WaitReconciled() {
	c.boot.Wait()
}

func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// EventsDropped counts events discarded because the buffer was full.
func (c *Client) EventsDropped() uint64 {
	return c.events.Dropped()
}

// Close stops background work and flushes pending events. Credentials stay
// persisted. Safe to call repeatedly.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.scheduler.Stop()
	c.boot.Wait()
	c.events.Close()
	if c.ownedRedis != nil {
		_ = c.ownedRedis.Close()
	}
}

/*
====================================
HOOKS
====================================
*/

func (c *Client) onRenewed(creds session.Credentials) {
	c.state.Dispatch(state.TokenRenewed(creds.AccessToken))
	subject := ""
	if claims, ok := token.Decode(creds.AccessToken); ok {
		subject = claims.Subject
	}
	c.emit(newSessionEvent(EventSessionRenewed, subject, ""))
}

// onRenewalFatal runs after the coordinator cleared the credentials it saw.
func (c *Client) onRenewalFatal(err error) {
	c.expire(bootstrap.ReasonSessionExpired, err)
}

func (c *Client) onRenewalComplete(kind flows.RenewalFailureKind, elapsed time.Duration) {
	switch {
	case kind == flows.RenewalFailureNone:
		c.metrics.Inc(MetricRenewalSuccess)
	case kind == flows.RenewalFailureSuperseded:
		c.metrics.Inc(MetricRenewalSuperseded)
	case kind.Fatal():
		c.metrics.Inc(MetricRenewalFailure)
	default:
		c.metrics.Inc(MetricRenewalTransient)
	}
	if kind.NetworkCalled() {
		c.metrics.Observe(MetricRenewalLatency, elapsed)
	}
}

func (c *Client) onSchedulerTick(triggered bool) {
	c.metrics.Inc(MetricProactiveCheck)
	if triggered {
		c.metrics.Inc(MetricProactiveRenewal)
	}
}

// onDenied handles a request refused again after renewal and replay. A
// stored session belonging to a different subject was established after the
// request started and is left alone.
func (c *Client) onDenied(req *http.Request, access string) {
	c.metrics.Inc(MetricRequestDenied)
	c.denied(access, "path", req.URL.Path)
}

// onVerifyDenied handles background verification refused again after renewal.
func (c *Client) onVerifyDenied(access string) {
	c.denied(access, "source", "reconcile")
}

func (c *Client) denied(access string, attrs ...any) {
	ctx := context.Background()
	if creds, ok := c.store.Load(ctx); ok && !sameSubject(creds.AccessToken, access) {
		c.logger.Debug("goAuthClient: ignoring denial for a replaced session", attrs...)
		return
	}
	c.store.Clear(ctx)
	c.expire(bootstrap.ReasonSessionExpired, ErrAuthorizationDenied)
}

func (c *Client) onHydrated(u session.User) {
	c.ended.Store(false)
	c.metrics.Inc(MetricSessionHydrated)
	c.emit(newSessionEvent(EventSessionHydrated, u.ID, ""))
}

func (c *Client) onReconciled(changed bool, err error) {
	if err != nil {
		c.metrics.Inc(MetricReconcileFailure)
		return
	}
	if changed {
		c.metrics.Inc(MetricReconcileChanged)
	}
}

// expire publishes the end of a live session exactly once.
func (c *Client) expire(reason string, cause error) {
	if !c.ended.CompareAndSwap(false, true) {
		return
	}
	userID := c.subject()
	c.scheduler.Stop()
	c.state.Dispatch(state.AuthFailure(reason))

	c.metrics.Inc(MetricSessionExpired)
	ev := newSessionEvent(EventSessionExpired, userID, reason)
	if cause != nil {
		ev.Metadata = map[string]string{"cause": cause.Error()}
	}
	c.emit(ev)
	c.logger.Warn("goAuthClient: session expired", "subject", userID, "error", cause)
}

func (c *Client) subject() string {
	if u := c.state.Snapshot().User; u != nil {
		return u.ID
	}
	return ""
}

func (c *Client) emit(ev SessionEvent) {
	c.events.Emit(context.Background(), ev)
}

func sameSubject(a, b string) bool {
	ca, okA := token.Decode(a)
	cb, okB := token.Decode(b)
	if !okA || !okB {
		return true
	}
	return ca.Subject == cb.Subject
}
