package goAuthClient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override read by [LoadConfig].
const EnvPrefix = "GOAUTHCLIENT_"

// LoadConfig reads a YAML file over [DefaultConfig], then applies
// GOAUTHCLIENT_* environment overrides. Variables are first loaded from
// envFiles, or from ./.env when none are given and it exists; variables already
// set in the process environment win. An empty path skips the YAML step.
//
// The result is not validated; [Builder.Build] does that.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("BASE_URL", &cfg.Endpoints.BaseURL)
	e.str("REFRESH_PATH", &cfg.Endpoints.RefreshPath)
	e.str("VERIFY_PATH", &cfg.Endpoints.VerifyPath)
	e.str("LOGOUT_PATH", &cfg.Endpoints.LogoutPath)
	e.duration("REQUEST_TIMEOUT", &cfg.Endpoints.RequestTimeout)
	e.str("USER_AGENT", &cfg.Endpoints.UserAgent)

	var backend string
	if e.str("STORAGE_BACKEND", &backend) {
		cfg.Storage.Backend = StorageBackend(strings.ToLower(backend))
	}
	e.str("REDIS_ADDR", &cfg.Storage.RedisAddr)
	e.str("REDIS_PASSWORD", &cfg.Storage.RedisPassword)
	e.integer("REDIS_DB", &cfg.Storage.RedisDB)
	e.str("KEY_PREFIX", &cfg.Storage.KeyPrefix)
	e.str("FILE_PATH", &cfg.Storage.FilePath)

	e.duration("RENEWAL_TIMEOUT", &cfg.Renewal.Timeout)
	e.boolean("PROACTIVE_RENEWAL", &cfg.Renewal.Proactive)
	e.duration("CHECK_INTERVAL", &cfg.Renewal.CheckInterval)
	e.duration("LOW_WATER_MARK", &cfg.Renewal.LowWaterMark)
	e.duration("RECONCILE_TIMEOUT", &cfg.Renewal.ReconcileTimeout)

	e.list("PUBLIC_PATHS", &cfg.Authorizer.PublicPaths)
	e.str("REQUEST_ID_HEADER", &cfg.Authorizer.RequestIDHeader)
	e.boolean("REVOKE_ON_LOGOUT", &cfg.Authorizer.RevokeOnLogout)

	e.boolean("EVENTS_ENABLED", &cfg.Events.Enabled)
	e.integer("EVENTS_BUFFER_SIZE", &cfg.Events.BufferSize)
	e.boolean("EVENTS_DROP_IF_FULL", &cfg.Events.DropIfFull)

	e.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	e.boolean("METRICS_LATENCY_HISTOGRAMS", &cfg.Metrics.EnableLatencyHistograms)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.raw(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = b
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
