//go:build integration
// +build integration

package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/MrEthical07/goAuthClient/internal/authtest"
	"github.com/MrEthical07/goAuthClient/session"
)

func TestRedisBudgetTokenStore(t *testing.T) {
	ctx := context.Background()
	it := newIntegration(t, authtest.Options{})
	store := session.NewTokenStore(session.NewRedisBackend(it.rdb, testPrefix), nil)

	store.Store(ctx, session.Credentials{AccessToken: "a1", RefreshToken: "r1"})
	if got := it.counter.Pipelines(); got != 1 {
		t.Fatalf("Store: expected 1 transaction, got %d", got)
	}

	it.counter.Reset()
	if _, ok := store.Load(ctx); !ok {
		t.Fatal("expected stored pair")
	}
	if got, p := it.counter.Commands(), it.counter.Pipelines(); got != 2 || p != 0 {
		t.Fatalf("Load: expected 2 GETs, got %d commands %d pipelines", got, p)
	}

	it.counter.Reset()
	store.Clear(ctx)
	if got := it.counter.Commands(); got != 1 {
		t.Fatalf("Clear: expected 1 DEL, got %d commands", got)
	}
}

func TestRedisBudgetAuthorizedRequestIsReadOnly(t *testing.T) {
	ctx := context.Background()
	it := newIntegration(t, authtest.Options{})
	c := it.client(t, nil)
	if err := c.Establish(ctx, it.srv.IssuePair("u1"), nil); err != nil {
		t.Fatalf("establish: %v", err)
	}

	it.counter.Reset()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, it.srv.URL+"/api/items", nil)
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if p := it.counter.Pipelines(); p != 0 {
		t.Fatalf("a request with a valid token must not write, got %d transactions", p)
	}
	if got := it.counter.Commands(); got != 2 {
		t.Fatalf("expected 2 GETs per request, got %d", got)
	}
}
