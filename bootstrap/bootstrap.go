// Package bootstrap decides, once per process, whether the app starts as a
// guest, with a hydrated session, or with a failed one.
//
// The machine is INIT -> {NO_SESSION, VALIDATING -> {HYDRATED, FAILED}, HYDRATED}.
// A valid stored token hydrates immediately from the cached snapshot and is
// verified against the server in the background; reconciliation updates the
// user silently and never puts the record back into a loading state.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthClient/authapi"
	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/state"
	"github.com/MrEthical07/goAuthClient/token"
)

// Failure reasons published in the session record.
const (
	ReasonSessionExpired     = "session expired"
	ReasonRenewalUnavailable = "renewal unavailable"
)

// Refresher is the coordinated renewal entry point.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Verifier fetches the server's view of the identity behind a token.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (session.User, error)
}

// Scheduler is the proactive renewal loop.
type Scheduler interface {
	Start()
	Stop()
}

// Options configures a [Bootstrapper]. Store, State, Refresher and Verifier
// are required.
type Options struct {
	Store     *session.TokenStore
	State     *state.Container
	Refresher Refresher
	Verifier  Verifier
	Scheduler Scheduler
	// LowWaterMark: a stored token with less lifetime left is renewed instead
	// of hydrated.
	LowWaterMark time.Duration
	// ReconcileTimeout bounds background verification. Zero means 15s.
	ReconcileTimeout time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
	// OnHydrated fires when the session becomes authenticated.
	OnHydrated func(session.User)
	// OnReconciled fires after a background verification, successful or not.
	OnReconciled func(changed bool, err error)
	// OnDenied fires when background verification is denied again after a
	// successful renewal. access is the renewed token the server refused.
	OnDenied func(access string)
}

// Bootstrapper runs the start-up state machine. Run executes once; every
// later call returns the first outcome without I/O.
type Bootstrapper struct {
	opts Options

	once  sync.Once
	phase state.Phase
	err   error

	mu          sync.Mutex
	transitions []state.Phase

	reconciling sync.WaitGroup
}

// New validates opts and returns an idle bootstrapper.
func New(opts Options) (*Bootstrapper, error) {
	if opts.Store == nil || opts.State == nil || opts.Refresher == nil || opts.Verifier == nil {
		return nil, errors.New("bootstrap: store, state, refresher and verifier are required")
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bootstrapper{opts: opts}, nil
}

// Run drives the machine to a terminal phase. Concurrent callers block until
// the first run finishes and all observe the same result.
func (b *Bootstrapper) Run(ctx context.Context) (state.Phase, error) {
	b.once.Do(func() {
		b.phase, b.err = b.run(ctx)
	})
	return b.phase, b.err
}

// Transitions returns the phases entered so far, in order.
func (b *Bootstrapper) Transitions() []state.Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]state.Phase(nil), b.transitions...)
}

// Wait blocks until background reconciliation has finished.
func (b *Bootstrapper) Wait() {
	b.reconciling.Wait()
}

func (b *Bootstrapper) run(ctx context.Context) (state.Phase, error) {
	b.enter(state.PhaseInit)

	creds, hasCreds := b.opts.Store.Load(ctx)
	cached, hasUser := b.opts.Store.LoadUser(ctx)

	plan := flows.PlanBootstrap(flows.BootstrapInput{
		Credentials:    creds,
		HasCredentials: hasCreds,
		User:           cached,
		HasUser:        hasUser,
		Now:            b.opts.Now(),
		LowWaterMark:   b.opts.LowWaterMark,
	})

	switch plan.Branch {
	case flows.BootstrapGuest:
		b.opts.State.Dispatch(state.Guest())
		b.enter(state.PhaseNoSession)
		return state.PhaseNoSession, nil

	case flows.BootstrapHydrate:
		b.hydrate(plan.Identity, plan.FromCache, creds.AccessToken)
		return state.PhaseHydrated, nil
	}

	b.enter(state.PhaseValidating)
	b.opts.State.Dispatch(state.AuthStart())

	access, err := b.opts.Refresher.Refresh(ctx)
	if phase, replaced := b.replaced(); replaced {
		return phase, refresh.ErrSessionClosed
	}
	if err != nil {
		return b.fail(err)
	}
	claims, ok := token.Decode(access)
	if !ok {
		return b.fail(refresh.ErrRefreshNetwork)
	}
	identity, fromCache := flows.ResolveIdentity(claims, cached, hasUser)
	b.hydrate(identity, fromCache, access)
	return state.PhaseHydrated, nil
}

// replaced reports whether someone else moved the record out of VALIDATING
// while the renewal ran, by a logout or a new login. The outcome of the
// renewal then belongs to a session that no longer exists and is not published.
func (b *Bootstrapper) replaced() (state.Phase, bool) {
	current := b.opts.State.Snapshot().Phase
	if current == state.PhaseValidating {
		return "", false
	}
	b.enter(current)
	b.opts.Logger.Debug("goAuthClient: session replaced during bootstrap renewal", "phase", current)
	return current, true
}

func (b *Bootstrapper) hydrate(identity session.User, fromCache bool, access string) {
	b.opts.State.Dispatch(state.AuthSuccess(identity, access))
	b.enter(state.PhaseHydrated)
	if b.opts.Scheduler != nil {
		b.opts.Scheduler.Start()
	}
	if b.opts.OnHydrated != nil {
		b.opts.OnHydrated(identity)
	}
	b.opts.Logger.Info("goAuthClient: session hydrated", "subject", identity.ID, "from_cache", fromCache)

	b.reconciling.Add(1)
	go func() {
		defer b.reconciling.Done()
		b.reconcile(identity, fromCache, access)
	}()
}

// fail publishes FAILED. Definitive failures were already cleared by the
// coordinator; transient ones keep the persisted pair for a later attempt.
func (b *Bootstrapper) fail(err error) (state.Phase, error) {
	if b.opts.Scheduler != nil {
		b.opts.Scheduler.Stop()
	}
	reason := ReasonSessionExpired
	if errors.Is(err, refresh.ErrRefreshNetwork) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonRenewalUnavailable
	}
	b.opts.State.Dispatch(state.AuthFailure(reason))
	b.enter(state.PhaseFailed)
	b.opts.Logger.Warn("goAuthClient: bootstrap failed", "reason", reason, "error", err)
	return state.PhaseFailed, err
}

func (b *Bootstrapper) reconcile(identity session.User, fromCache bool, access string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.ReconcileTimeout)
	defer cancel()

	res := flows.RunReconcile(ctx, access, identity, flows.ReconcileDeps{
		Verify:   b.opts.Verifier.Verify,
		IsDenied: func(err error) bool { return errors.Is(err, authapi.ErrDenied) },
		Refresh:  b.opts.Refresher.Refresh,
	})
	if res.Err != nil {
		if res.Renewed && errors.Is(res.Err, authapi.ErrDenied) && b.opts.OnDenied != nil {
			b.opts.OnDenied(res.Token)
		}
		b.opts.Logger.Warn("goAuthClient: session reconciliation failed", "subject", identity.ID, "attempts", res.Attempts, "error", res.Err)
		b.reconciled(false, res.Err)
		return
	}

	if res.Changed || !fromCache {
		if !b.opts.Store.SaveUserIfSession(ctx, res.User) {
			b.opts.Logger.Debug("goAuthClient: session ended before reconciliation finished", "subject", identity.ID)
			b.reconciled(false, nil)
			return
		}
	}
	if res.Changed {
		b.opts.State.Dispatch(state.UserReconciled(res.User))
		b.opts.Logger.Info("goAuthClient: user snapshot reconciled", "subject", res.User.ID)
	}
	b.reconciled(res.Changed, nil)
}

func (b *Bootstrapper) reconciled(changed bool, err error) {
	if b.opts.OnReconciled != nil {
		b.opts.OnReconciled(changed, err)
	}
}

func (b *Bootstrapper) enter(p state.Phase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, p)
}
