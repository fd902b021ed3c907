package goAuthClient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every tunable of a [Client]. Build it with [DefaultConfig] or
// [LoadConfig], adjust, then hand it to [Builder.WithConfig]. The builder keeps
// its own copy.
type Config struct {
	Endpoints  EndpointsConfig  `yaml:"endpoints"`
	Storage    StorageConfig    `yaml:"storage"`
	Renewal    RenewalConfig    `yaml:"renewal"`
	Authorizer AuthorizerConfig `yaml:"authorizer"`
	Events     EventsConfig     `yaml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

/*
====================================
ENDPOINTS CONFIG
====================================
*/

// EndpointsConfig locates the authentication server.
type EndpointsConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RefreshPath    string        `yaml:"refresh_path"`
	VerifyPath     string        `yaml:"verify_path"`
	LogoutPath     string        `yaml:"logout_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageBackend selects where credentials are persisted.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageRedis  StorageBackend = "redis"
	StorageFile   StorageBackend = "file"
)

// StorageConfig is ignored when the builder receives an explicit backend or
// Redis client.
type StorageConfig struct {
	Backend       StorageBackend `yaml:"backend"`
	RedisAddr     string         `yaml:"redis_addr"`
	RedisPassword string         `yaml:"redis_password"`
	RedisDB       int            `yaml:"redis_db"`
	KeyPrefix     string         `yaml:"key_prefix"`
	FilePath      string         `yaml:"file_path"`
}

/*
====================================
RENEWAL CONFIG
====================================
*/

// RenewalConfig tunes the refresh coordinator and the proactive scheduler.
type RenewalConfig struct {
	// Timeout bounds one renewal attempt, independent of any caller context.
	Timeout time.Duration `yaml:"timeout"`
	// Proactive enables the background scheduler.
	Proactive     bool          `yaml:"proactive"`
	CheckInterval time.Duration `yaml:"check_interval"`
	// LowWaterMark is the remaining lifetime below which a token is renewed
	// ahead of expiry, both by the scheduler and at bootstrap.
	LowWaterMark     time.Duration `yaml:"low_water_mark"`
	ReconcileTimeout time.Duration `yaml:"reconcile_timeout"`
}

/*
====================================
AUTHORIZER CONFIG
====================================
*/

// AuthorizerConfig tunes outgoing request authorization.
type AuthorizerConfig struct {
	// PublicPaths are path prefixes that may be called without a session.
	PublicPaths     []string `yaml:"public_paths"`
	RequestIDHeader string   `yaml:"request_id_header"`
	// RevokeOnLogout asks the server to revoke the refresh token on Logout.
	RevokeOnLogout bool `yaml:"revoke_on_logout"`
}

/*
====================================
EVENTS / METRICS CONFIG
====================================
*/

// EventsConfig controls asynchronous session event delivery.
type EventsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	// DropIfFull drops non-terminal events while the buffer is full. Expiry,
	// logout and bootstrap failure always wait for room.
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the production defaults. BaseURL is left empty and
// must be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Endpoints: EndpointsConfig{
			RefreshPath:    "/auth/refresh",
			VerifyPath:     "/auth/verify",
			LogoutPath:     "/auth/logout",
			RequestTimeout: 15 * time.Second,
			UserAgent:      "goAuthClient",
		},
		Storage: StorageConfig{
			Backend:   StorageMemory,
			KeyPrefix: "gac",
		},
		Renewal: RenewalConfig{
			Timeout:          10 * time.Second,
			Proactive:        true,
			CheckInterval:    time.Minute,
			LowWaterMark:     5 * time.Minute,
			ReconcileTimeout: 15 * time.Second,
		},
		Authorizer: AuthorizerConfig{
			RequestIDHeader: "X-Request-ID",
			RevokeOnLogout:  true,
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Authorizer.PublicPaths = append([]string(nil), cfg.Authorizer.PublicPaths...)
	return out
}

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	base := strings.TrimSpace(c.Endpoints.BaseURL)
	if base == "" {
		return errors.New("endpoints.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("endpoints.base_url must be an absolute http(s) URL, got %q", c.Endpoints.BaseURL)
	}
	if c.Endpoints.RequestTimeout <= 0 {
		return errors.New("endpoints.request_timeout must be > 0")
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageRedis:
	case StorageFile:
		if strings.TrimSpace(c.Storage.FilePath) == "" {
			return errors.New("storage.file_path is required for the file backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.RedisDB < 0 {
		return errors.New("storage.redis_db must be >= 0")
	}

	if c.Renewal.Timeout <= 0 {
		return errors.New("renewal.timeout must be > 0")
	}
	if c.Renewal.LowWaterMark <= 0 {
		return errors.New("renewal.low_water_mark must be > 0")
	}
	if c.Renewal.ReconcileTimeout <= 0 {
		return errors.New("renewal.reconcile_timeout must be > 0")
	}
	if c.Renewal.Proactive {
		if c.Renewal.CheckInterval <= 0 {
			return errors.New("renewal.check_interval must be > 0 when proactive renewal is enabled")
		}
		// A check interval as long as the window could skip over it entirely.
		if c.Renewal.CheckInterval >= c.Renewal.LowWaterMark {
			return errors.New("renewal.check_interval must be shorter than renewal.low_water_mark")
		}
	}

	for _, p := range c.Authorizer.PublicPaths {
		if strings.TrimSpace(p) == "" {
			return errors.New("authorizer.public_paths must not contain blank entries")
		}
	}
	if strings.ContainsAny(c.Authorizer.RequestIDHeader, " \t\r\n:") {
		return fmt.Errorf("authorizer.request_id_header %q is not a valid header name", c.Authorizer.RequestIDHeader)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("events.buffer_size must be > 0 when events are enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("metrics.enable_latency_histograms requires metrics.enabled")
	}

	return nil
}
