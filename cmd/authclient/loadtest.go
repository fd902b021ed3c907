package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/internal/authtest"
	promexport "github.com/MrEthical07/goAuthClient/metrics/export/prometheus"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type loadtestOptions struct {
	concurrency  int
	ops          int
	rounds       int
	redisAddr    string
	prefix       string
	refreshDelay time.Duration
	prometheus   bool
}

func loadtestCmd() *cobra.Command {
	var opts loadtestOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent authorized requests against an in-process auth server",
		Long: `loadtest starts an in-process authentication server, establishes a session
persisted in Redis (miniredis unless --redis-addr or REDIS_ADDR is set) and runs
two phases: steady authorized requests, then renewal storms in which every
worker hits an expired token at once. Each storm must cost one renewal request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.concurrency <= 0 || opts.ops <= 0 || opts.rounds <= 0 {
				return fmt.Errorf("concurrency, ops and rounds must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 5000, "requests in the steady phase")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 20, "renewal storms to run")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "gac-loadtest", "credential key prefix")
	cmd.Flags().DurationVar(&opts.refreshDelay, "refresh-delay", 20*time.Millisecond, "artificial renewal latency on the server")
	cmd.Flags().BoolVar(&opts.prometheus, "prometheus", false, "print Prometheus exposition after the run")
	return cmd
}

func runLoadtest(ctx context.Context, w io.Writer, opts loadtestOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var rdb redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(w, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(w, "using redis at %s\n", addr)
	}
	rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer rdb.Close()

	srv := authtest.NewServer(authtest.Options{RotateRefresh: true})
	defer srv.Close()
	srv.SetRefreshDelay(opts.refreshDelay)

	cfg := goAuthClient.DefaultConfig()
	cfg.Endpoints.BaseURL = srv.URL
	cfg.Storage.KeyPrefix = opts.prefix
	cfg.Renewal.Proactive = false
	client, err := goAuthClient.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer client.Close()

	const userID = "loadtest-user"
	if err := client.Establish(ctx, srv.IssuePair(userID), nil); err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	backend := session.NewRedisBackend(rdb, opts.prefix)

	steady := runRequestPhase(client.HTTPClient(), srv.URL+"/api/items", opts.ops, opts.concurrency)

	var stormLatencies []time.Duration
	var stormFailures int64
	stormStart := time.Now()
	renewalsBefore := srv.RefreshCalls()
	for r := 0; r < opts.rounds; r++ {
		expired := srv.MintAccess(userID, -time.Minute)
		if err := backend.SetMany(ctx, map[string]string{session.KeyAccessToken: expired}); err != nil {
			return fmt.Errorf("expire stored token: %w", err)
		}
		s := runRequestPhase(client.HTTPClient(), srv.URL+"/api/items", opts.concurrency, opts.concurrency)
		stormLatencies = append(stormLatencies, s.samples...)
		stormFailures += s.failures
	}
	storm := computeStats(time.Since(stormStart), stormLatencies, stormFailures)
	renewals := srv.RefreshCalls() - renewalsBefore

	fmt.Fprintln(w, "---- results ----")
	printStats(w, "steady", steady.phaseStats)
	printStats(w, "storm", storm)
	fmt.Fprintf(w, "renewals: rounds=%d callers/round=%d renewal_requests=%d\n", opts.rounds, opts.concurrency, renewals)
	if renewals != opts.rounds {
		fmt.Fprintf(w, "WARNING: expected %d renewal requests, saw %d\n", opts.rounds, renewals)
	}

	if opts.prometheus {
		h, err := promexport.Handler(promexport.NewCollector(client))
		if err != nil {
			return err
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		fmt.Fprintln(w, "---- prometheus ----")
		_, _ = io.Copy(w, rec.Body)
	}
	return nil
}

type phaseResult struct {
	phaseStats
	samples []time.Duration
}

func runRequestPhase(hc *http.Client, url string, ops, concurrency int) phaseResult {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				resp, err := hc.Get(url)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					if resp.StatusCode != http.StatusOK {
						atomic.AddInt64(&failures, 1)
					}
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	samples := append([]time.Duration(nil), latencies...)
	return phaseResult{phaseStats: computeStats(total, latencies, failures), samples: samples}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
