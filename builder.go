package goAuthClient

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goAuthClient/authapi"
	"github.com/MrEthical07/goAuthClient/authorizer"
	"github.com/MrEthical07/goAuthClient/bootstrap"
	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/state"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a [Client]. Configure it during initialization, call
// Build once, then discard it.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	backend    session.Backend
	httpClient *http.Client
	logger     *slog.Logger
	eventSink  EventSink
	now        func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis persists credentials in client under Storage.KeyPrefix. The
// client is not closed by [Client.Close].
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend overrides both WithRedis and Storage.Backend.
func (b *Builder) WithBackend(backend session.Backend) *Builder {
	b.backend = backend
	return b
}

// WithHTTPClient supplies the client used for authentication server calls.
// Its Transport also becomes the base of the authorizing transport.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithEventSink enables session events and delivers them to sink.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	b.config.Events.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for every expiry decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component. Nothing is
// read from storage until [Client.Bootstrap].
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		now:     now,
		state:   state.NewContainer(),
		metrics: NewMetrics(cfg.Metrics),
		events:  newEventDispatcher(cfg.Events, b.eventSink),
	}
	// No live session until bootstrap hydrates or Establish succeeds.
	c.ended.Store(true)

	// -------- STORAGE --------
	backend, owned, err := b.resolveBackend(cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.ownedRedis = owned
	c.store = session.NewTokenStore(backend, logger)

	// -------- AUTH SERVER --------
	apiHTTP := b.httpClient
	if apiHTTP == nil {
		apiHTTP = &http.Client{Timeout: cfg.Endpoints.RequestTimeout}
	}
	api, err := authapi.New(authapi.Options{
		BaseURL:     cfg.Endpoints.BaseURL,
		RefreshPath: cfg.Endpoints.RefreshPath,
		VerifyPath:  cfg.Endpoints.VerifyPath,
		LogoutPath:  cfg.Endpoints.LogoutPath,
		HTTPClient:  apiHTTP,
		UserAgent:   cfg.Endpoints.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	c.api = api

	// -------- RENEWAL --------
	coord, err := refresh.NewCoordinator(refresh.Options{
		Store:   c.store,
		Renewer: api,
		Timeout: cfg.Renewal.Timeout,
		Logger:  logger,
		Now:     now,
		Hooks: refresh.Hooks{
			OnRenewed:  c.onRenewed,
			OnFatal:    c.onRenewalFatal,
			OnCall:     func() { c.metrics.Inc(MetricRenewalNetworkCall) },
			OnShared:   func() { c.metrics.Inc(MetricRenewalShared) },
			OnComplete: c.onRenewalComplete,
		},
	})
	if err != nil {
		return nil, err
	}
	c.coord = coord

	scheduler, err := refresh.NewScheduler(refresh.SchedulerOptions{
		Refresher:    coord,
		Source:       c.store,
		Interval:     cfg.Renewal.CheckInterval,
		LowWaterMark: cfg.Renewal.LowWaterMark,
		Logger:       logger,
		Now:          now,
		OnTick:       c.onSchedulerTick,
	})
	if err != nil {
		return nil, err
	}
	c.scheduler = scheduler

	// -------- AUTHORIZER --------
	var base http.RoundTripper
	if b.httpClient != nil {
		base = b.httpClient.Transport
	}
	transport, err := authorizer.New(authorizer.Options{
		Base:            base,
		Source:          c.store,
		Refresher:       coord,
		Classifier:      authorizer.NewPrefixClassifier(cfg.Authorizer.PublicPaths...),
		RequestIDHeader: cfg.Authorizer.RequestIDHeader,
		Logger:          logger,
		Now:             now,
		Hooks: authorizer.Hooks{
			OnRenewBeforeSend: func() { c.metrics.Inc(MetricRequestRenewBeforeSend) },
			OnReplay:          func() { c.metrics.Inc(MetricRequestReplay) },
			OnDenied:          c.onDenied,
			OnRejected:        func(error) { c.metrics.Inc(MetricRequestRejected) },
		},
	})
	if err != nil {
		return nil, err
	}
	c.transport = transport
	c.httpClient = &http.Client{Transport: transport, Timeout: cfg.Endpoints.RequestTimeout}

	// -------- BOOTSTRAP --------
	var sched bootstrap.Scheduler
	if cfg.Renewal.Proactive {
		sched = scheduler
	}
	boot, err := bootstrap.New(bootstrap.Options{
		Store:            c.store,
		State:            c.state,
		Refresher:        coord,
		Verifier:         api,
		Scheduler:        sched,
		LowWaterMark:     cfg.Renewal.LowWaterMark,
		ReconcileTimeout: cfg.Renewal.ReconcileTimeout,
		Logger:           logger,
		Now:              now,
		OnHydrated:       c.onHydrated,
		OnReconciled:     c.onReconciled,
		OnDenied:         c.onVerifyDenied,
	})
	if err != nil {
		return nil, err
	}
	c.boot = boot

	b.built = true
	return c, nil
}

// resolveBackend applies the precedence explicit backend, injected Redis
// client, configured backend. owned is non-nil when Build dialed Redis itself.
func (b *Builder) resolveBackend(cfg StorageConfig) (session.Backend, redis.UniversalClient, error) {
	if b.backend != nil {
		return b.backend, nil, nil
	}
	if b.redis != nil {
		return session.NewRedisBackend(b.redis, cfg.KeyPrefix), nil, nil
	}

	switch cfg.Backend {
	case StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return session.NewRedisBackend(rdb, cfg.KeyPrefix), rdb, nil
	case StorageFile:
		return session.NewFileBackend(cfg.FilePath), nil, nil
	case StorageMemory, "":
		return session.NewMemoryBackend(), nil, nil
	default:
		return nil, nil, errors.New("unknown storage backend " + string(cfg.Backend))
	}
}
