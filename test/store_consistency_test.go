//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"
	"time"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/internal/authtest"
	"github.com/MrEthical07/goAuthClient/state"
)

func TestStoreConsistencyLogoutDuringRenewalDiscardsResult(t *testing.T) {
	ctx := context.Background()
	it := newIntegration(t, authtest.Options{RotateRefresh: true})
	it.srv.SetRefreshDelay(150 * time.Millisecond)
	c := it.client(t, func(cfg *goAuthClient.Config) {
		cfg.Authorizer.RevokeOnLogout = false
	})

	if err := c.Establish(ctx, it.srv.IssuePair("u1"), nil); err != nil {
		t.Fatalf("establish: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for it.srv.RefreshCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("renewal never reached the server")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if err := <-done; !errors.Is(err, goAuthClient.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if keys := it.mr.Keys(); len(keys) != 0 {
		t.Fatalf("renewal result resurrected a cleared session: %v", keys)
	}
	if st := c.State(); st.IsAuthenticated || st.Phase != state.PhaseNoSession {
		t.Fatalf("unexpected state after logout %+v", st)
	}
}

func TestStoreConsistencyLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	it := newIntegration(t, authtest.Options{})
	c := it.client(t, nil)

	if err := c.Establish(ctx, it.srv.IssuePair("u2"), nil); err != nil {
		t.Fatalf("establish: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.Logout(ctx); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if keys := it.mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
	if got := it.srv.LogoutCalls(); got != 1 {
		t.Fatalf("expected one revocation for one session, got %d", got)
	}
}
