package goAuthClient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/authtest"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/state"
	"github.com/MrEthical07/goAuthClient/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clientHarness struct {
	srv     *authtest.Server
	backend *session.MemoryBackend
	sink    *ChannelSink
	client  *Client
}

func newClientHarness(t *testing.T, mutate func(*Config, *Builder)) *clientHarness {
	t.Helper()

	h := &clientHarness{
		srv:     authtest.NewServer(authtest.Options{}),
		backend: session.NewMemoryBackend(),
		sink:    NewChannelSink(128),
	}
	t.Cleanup(h.srv.Close)

	cfg := DefaultConfig()
	cfg.Endpoints.BaseURL = h.srv.URL
	cfg.Authorizer.PublicPaths = []string{"/api/public"}
	cfg.Events.Enabled = true
	cfg.Events.BufferSize = 128
	cfg.Metrics.Enabled = true

	b := New().WithBackend(h.backend)
	if mutate != nil {
		mutate(&cfg, b)
	}
	client, err := b.WithConfig(cfg).WithEventSink(h.sink).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	h.client = client
	t.Cleanup(client.Close)
	return h
}

func (h *clientHarness) establish(t *testing.T, userID string) session.Credentials {
	t.Helper()
	h.srv.AddUser(session.User{ID: userID, Email: userID + "@example.com", Role: token.RoleArtist})
	creds := h.srv.IssuePair(userID)
	if err := h.client.Establish(context.Background(), creds, nil); err != nil {
		t.Fatalf("establish: %v", err)
	}
	return creds
}

func (h *clientHarness) expireStoredAccess(t *testing.T, userID string) {
	t.Helper()
	expired := h.srv.MintAccess(userID, -time.Minute)
	if err := h.backend.SetMany(context.Background(), map[string]string{session.KeyAccessToken: expired}); err != nil {
		t.Fatal(err)
	}
}

// events closes the client, which flushes the dispatcher, and returns what
// the sink received.
func (h *clientHarness) events() []SessionEvent {
	h.client.Close()
	var out []SessionEvent
	for {
		select {
		case ev := <-h.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []SessionEvent, typ SessionEventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (h *clientHarness) get(t *testing.T, path string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	return h.client.HTTPClient().Do(req)
}

func TestBuildRequiresBaseURL(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected build to fail without a base url")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints.BaseURL = "http://127.0.0.1:1"
	b := New().WithConfig(cfg)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}

func TestClientBootstrapGuest(t *testing.T) {
	h := newClientHarness(t, nil)

	phase, err := h.client.Bootstrap(context.Background())
	if err != nil || phase != state.PhaseNoSession {
		t.Fatalf("expected NO_SESSION, got %s err=%v", phase, err)
	}
	if s := h.client.State(); s.IsAuthenticated || s.Loading {
		t.Fatalf("unexpected state %+v", s)
	}
	if _, err := h.client.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if n := countEvents(h.events(), EventGuest); n != 1 {
		t.Fatalf("expected one guest event, got %d", n)
	}
}

func TestClientEstablishAuthorizesRequests(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")

	s := h.client.State()
	if !s.IsAuthenticated || s.User == nil || s.User.ID != "u1" || s.Phase != state.PhaseHydrated {
		t.Fatalf("unexpected state %+v", s)
	}

	resp, err := h.get(t, "/api/items")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"subject":"u1"`) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if h.srv.RefreshCalls() != 0 {
		t.Fatalf("expected no renewal, got %d", h.srv.RefreshCalls())
	}
	if n := countEvents(h.events(), EventSessionEstablished); n != 1 {
		t.Fatalf("expected one established event, got %d", n)
	}
}

func TestClientEstablishRejectsUnusablePair(t *testing.T) {
	h := newClientHarness(t, nil)
	ctx := context.Background()

	expired := h.srv.MintAccess("u1", -time.Minute)
	if err := h.client.Establish(ctx, session.Credentials{AccessToken: expired}, nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	creds := h.srv.IssuePair("u1")
	if err := h.client.Establish(ctx, creds, &session.User{ID: "someone-else"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for a foreign user, got %v", err)
	}
	if _, ok := h.client.store.Load(ctx); ok {
		t.Fatal("rejected pair must not be persisted")
	}
	if s := h.client.State(); s.IsAuthenticated {
		t.Fatal("rejected pair must not authenticate")
	}
}

func TestClientEstablishRenewsExpiredAccess(t *testing.T) {
	h := newClientHarness(t, nil)
	refreshToken := h.srv.MintRefresh("u1", time.Hour)
	expired := h.srv.MintAccess("u1", -time.Minute)

	err := h.client.Establish(context.Background(), session.Credentials{AccessToken: expired, RefreshToken: refreshToken}, nil)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if h.srv.RefreshCalls() != 1 {
		t.Fatalf("expected one renewal, got %d", h.srv.RefreshCalls())
	}
	tok, err := h.client.Token(context.Background())
	if err != nil || tok == expired {
		t.Fatalf("expected renewed token, err=%v", err)
	}
	if h.client.State().Token != tok {
		t.Fatal("expected record to carry the renewed token")
	}
}

func TestClientConcurrentRequestsShareOneRenewal(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")
	h.expireStoredAccess(t, "u1")
	h.srv.SetRefreshDelay(50 * time.Millisecond)

	const callers = 25
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.get(t, "/api/items")
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- errors.New(resp.Status)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("request failed: %v", err)
	}

	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected exactly one renewal request, got %d", got)
	}
	snap := h.client.MetricsSnapshot()
	if snap.Counters[MetricRenewalNetworkCall] != 1 || snap.Counters[MetricRenewalSuccess] != 1 {
		t.Fatalf("unexpected renewal counters %+v", snap.Counters)
	}
}

func TestClientLogoutIsImmediateAndRevokes(t *testing.T) {
	h := newClientHarness(t, nil)
	creds := h.establish(t, "u1")

	var seen []state.State
	var mu sync.Mutex
	unsubscribe := h.client.Subscribe(func(s state.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	if err := h.client.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if s := h.client.State(); s.IsAuthenticated || s.Phase != state.PhaseNoSession {
		t.Fatalf("expected signed-out record, got %+v", s)
	}
	mu.Lock()
	if len(seen) != 1 || seen[0].IsAuthenticated {
		t.Fatalf("expected one signed-out notification, got %+v", seen)
	}
	mu.Unlock()

	if v, ok, _ := h.backend.Get(context.Background(), session.KeyRefreshToken); ok && v != "" {
		t.Fatal("expected refresh token cleared")
	}
	if h.srv.LogoutCalls() != 1 {
		t.Fatalf("expected server revocation, got %d calls", h.srv.LogoutCalls())
	}
	if _, err := h.get(t, "/api/items"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after logout, got %v", err)
	}

	// The revoked refresh token no longer renews.
	resp, err := h.srv.Client().Post(h.srv.URL+"/auth/refresh", "application/json",
		strings.NewReader(`{"refreshToken":"`+creds.RefreshToken+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh token to be refused, got %d", resp.StatusCode)
	}
}

func TestClientLogoutSurvivesRevocationFailure(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")
	h.srv.Close()

	if err := h.client.Logout(context.Background()); err != nil {
		t.Fatalf("logout must be best-effort, got %v", err)
	}
	if _, ok := h.client.store.Load(context.Background()); ok {
		t.Fatal("expected local credentials cleared")
	}
}

func TestClientForcedLogoutOnceUnderConcurrentDenials(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")
	h.srv.DenyAll(true)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.get(t, "/api/items")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	s := h.client.State()
	if s.IsAuthenticated || s.Phase != state.PhaseFailed || s.Error != "session expired" {
		t.Fatalf("expected expired record, got %+v", s)
	}
	if _, ok := h.client.store.Load(context.Background()); ok {
		t.Fatal("expected credentials cleared")
	}
	if got := h.client.MetricsSnapshot().Counters[MetricSessionExpired]; got != 1 {
		t.Fatalf("expected one expiry, got %d", got)
	}
	if n := countEvents(h.events(), EventSessionExpired); n != 1 {
		t.Fatalf("expected exactly one session_expired event, got %d", n)
	}
}

func TestClientDefinitiveRenewalFailureEndsSession(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")
	h.expireStoredAccess(t, "u1")
	h.srv.SetRefreshStatus(http.StatusUnauthorized)

	if _, err := h.client.Token(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if _, ok := h.client.store.Load(context.Background()); ok {
		t.Fatal("expected credentials cleared")
	}
	if s := h.client.State(); s.IsAuthenticated || s.Error != "session expired" {
		t.Fatalf("unexpected state %+v", s)
	}
	if n := countEvents(h.events(), EventSessionExpired); n != 1 {
		t.Fatalf("expected one expiry event, got %d", n)
	}
}

func TestClientTransientRenewalFailureKeepsSession(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")
	h.expireStoredAccess(t, "u1")
	h.srv.SetRefreshStatus(http.StatusServiceUnavailable)

	if _, err := h.client.Token(context.Background()); !errors.Is(err, ErrRefreshNetwork) {
		t.Fatalf("expected ErrRefreshNetwork, got %v", err)
	}
	if _, ok := h.client.store.Load(context.Background()); !ok {
		t.Fatal("transient failure must keep credentials")
	}
	if !h.client.State().IsAuthenticated {
		t.Fatal("transient failure must not sign the user out")
	}

	h.srv.SetRefreshStatus(0)
	if _, err := h.client.Token(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	snap := h.client.MetricsSnapshot()
	if snap.Counters[MetricRenewalTransient] != 1 || snap.Counters[MetricRenewalSuccess] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestClientPublicEndpointWithoutSession(t *testing.T) {
	h := newClientHarness(t, nil)

	resp, err := h.get(t, "/api/public/catalog")
	if err != nil {
		t.Fatalf("public request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	req, _ := http.NewRequestWithContext(WithPublicEndpoint(context.Background()), http.MethodGet, h.srv.URL+"/api/items", nil)
	resp, err = h.client.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request marked public: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the server to answer unauthenticated, got %d", resp.StatusCode)
	}
}

func TestClientBootstrapHydratesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := authtest.NewServer(authtest.Options{})
	t.Cleanup(srv.Close)
	srv.AddUser(session.User{ID: "u1", Email: "new@example.com", Role: token.RoleArtist})

	build := func() *Client {
		cfg := DefaultConfig()
		cfg.Endpoints.BaseURL = srv.URL
		c, err := New().WithConfig(cfg).WithRedis(rdb).Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		t.Cleanup(c.Close)
		return c
	}

	first := build()
	if err := first.Establish(context.Background(), srv.IssuePair("u1"), &session.User{ID: "u1", Email: "old@example.com"}); err != nil {
		t.Fatalf("establish: %v", err)
	}
	first.Close()

	second := build()
	phase, err := second.Bootstrap(context.Background())
	if err != nil || phase != state.PhaseHydrated {
		t.Fatalf("expected HYDRATED, got %s err=%v", phase, err)
	}
	if u := second.State().User; u == nil || u.Email != "old@example.com" {
		t.Fatalf("expected cached snapshot first, got %+v", u)
	}

	second.WaitReconciled()
	if u := second.State().User; u == nil || u.Email != "new@example.com" {
		t.Fatalf("expected reconciled snapshot, got %+v", u)
	}
	if srv.VerifyCalls() != 1 || srv.RefreshCalls() != 0 {
		t.Fatalf("unexpected calls verify=%d refresh=%d", srv.VerifyCalls(), srv.RefreshCalls())
	}
	for _, p := range second.Transitions() {
		if p == state.PhaseValidating {
			t.Fatal("a valid stored token must not pass through VALIDATING")
		}
	}
}

func TestClientEventsCarryNoTokenMaterial(t *testing.T) {
	h := newClientHarness(t, nil)
	creds := h.establish(t, "u1")
	h.expireStoredAccess(t, "u1")
	renewed, err := h.client.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	_ = h.client.Logout(context.Background())

	events := h.events()
	if len(events) < 3 {
		t.Fatalf("expected established, renewed and logout events, got %d", len(events))
	}
	for _, ev := range events {
		for _, secret := range []string{creds.AccessToken, creds.RefreshToken, renewed} {
			if strings.Contains(ev.Reason, secret) {
				t.Fatalf("token leaked in %s event", ev.Type)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, secret) || strings.Contains(v, secret) {
					t.Fatalf("token leaked in %s metadata", ev.Type)
				}
			}
		}
	}
}

func TestClientClosedRejectsCalls(t *testing.T) {
	h := newClientHarness(t, nil)
	h.client.Close()
	h.client.Close()

	ctx := context.Background()
	if _, err := h.client.Bootstrap(ctx); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady, got %v", err)
	}
	if _, err := h.client.Token(ctx); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady, got %v", err)
	}
	if err := h.client.Logout(ctx); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady, got %v", err)
	}
}

func (h *clientHarness) persist(t *testing.T, userID string, accessTTL time.Duration) {
	t.Helper()
	pair := h.srv.IssuePair(userID)
	pair.AccessToken = h.srv.MintAccess(userID, accessTTL)
	err := h.backend.SetMany(context.Background(), map[string]string{
		session.KeyAccessToken:  pair.AccessToken,
		session.KeyRefreshToken: pair.RefreshToken,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestClientLogoutDuringBootstrapRenewalStaysSignedOut(t *testing.T) {
	h := newClientHarness(t, nil)
	h.persist(t, "u1", -time.Minute)
	h.srv.SetRefreshDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = h.client.Logout(context.Background())
	}()

	phase, err := h.client.Bootstrap(context.Background())
	if phase != state.PhaseNoSession || !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected NO_SESSION with ErrSessionClosed, got %s (%v)", phase, err)
	}
	if s := h.client.State(); s.Phase != state.PhaseNoSession || s.Error != "" {
		t.Fatalf("voluntary logout must not read as an expiry, got %+v", s)
	}
	if _, ok := h.client.store.Load(context.Background()); ok {
		t.Fatal("expected no credentials after logout")
	}

	events := h.events()
	if n := countEvents(events, EventSessionExpired) + countEvents(events, EventBootstrapFailed); n != 0 {
		t.Fatalf("expected no failure events, got %d", n)
	}
	if n := countEvents(events, EventSessionLogout); n != 1 {
		t.Fatalf("expected one logout event, got %d", n)
	}
}

func TestClientReconcileDeniedTwiceEndsSession(t *testing.T) {
	h := newClientHarness(t, nil)
	h.persist(t, "u1", time.Hour)
	h.srv.SetVerifyStatus(http.StatusUnauthorized)

	phase, err := h.client.Bootstrap(context.Background())
	if err != nil || phase != state.PhaseHydrated {
		t.Fatalf("expected HYDRATED, got %s err=%v", phase, err)
	}
	h.client.WaitReconciled()

	if h.srv.VerifyCalls() != 2 || h.srv.RefreshCalls() != 1 {
		t.Fatalf("expected verify/refresh/verify, got %d verifies %d refreshes", h.srv.VerifyCalls(), h.srv.RefreshCalls())
	}
	if s := h.client.State(); s.IsAuthenticated || s.Phase != state.PhaseFailed || s.Error != "session expired" {
		t.Fatalf("expected expired record, got %+v", s)
	}
	if _, ok := h.client.store.Load(context.Background()); ok {
		t.Fatal("expected credentials cleared")
	}
	if n := countEvents(h.events(), EventSessionExpired); n != 1 {
		t.Fatalf("expected one session_expired event, got %d", n)
	}
}

func TestClientSubscriberCanLogOutOnExpiry(t *testing.T) {
	h := newClientHarness(t, nil)
	h.establish(t, "u1")
	h.srv.DenyAll(true)

	var logoutErr error
	var reacted sync.Once
	h.client.Subscribe(func(s state.State) {
		if s.Phase == state.PhaseFailed {
			reacted.Do(func() { logoutErr = h.client.Logout(context.Background()) })
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if resp, err := h.get(t, "/api/items"); err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("logout from a state subscriber deadlocked")
	}

	if logoutErr != nil {
		t.Fatalf("logout: %v", logoutErr)
	}
	if s := h.client.State(); s.IsAuthenticated || s.Phase != state.PhaseNoSession {
		t.Fatalf("expected signed-out record, got %+v", s)
	}
	events := h.events()
	if countEvents(events, EventSessionExpired) != 1 || countEvents(events, EventSessionLogout) != 1 {
		t.Fatalf("expected one expiry then one logout, got %+v", events)
	}
}
