//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/internal/authtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPrefix = "itest"

type integration struct {
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	srv     *authtest.Server
	counter *cmdCounter
}

// newIntegration starts miniredis and a fake authentication server. Both are
// closed by t.Cleanup.
func newIntegration(t *testing.T, opts authtest.Options) *integration {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	counter := &cmdCounter{}
	rdb.AddHook(counter)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter.Reset()

	srv := authtest.NewServer(opts)
	t.Cleanup(srv.Close)

	return &integration{mr: mr, rdb: rdb, srv: srv, counter: counter}
}

// client builds a session client over the shared Redis instance.
func (it *integration) client(t *testing.T, mutate func(*goAuthClient.Config)) *goAuthClient.Client {
	t.Helper()

	cfg := goAuthClient.DefaultConfig()
	cfg.Endpoints.BaseURL = it.srv.URL
	cfg.Storage.KeyPrefix = testPrefix
	cfg.Renewal.Proactive = false
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := goAuthClient.New().WithConfig(cfg).WithRedis(it.rdb).Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func (it *integration) key(slot string) string {
	return testPrefix + ":" + slot
}

// cmdCounter is a go-redis Hook that counts Redis round trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }
