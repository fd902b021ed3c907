package goAuthClient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Endpoints.BaseURL = "https://auth.example.com"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with base url",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name:      "missing base url",
			mutate:    func(c *Config) { c.Endpoints.BaseURL = "" },
			wantValid: false,
		},
		{
			name:      "relative base url",
			mutate:    func(c *Config) { c.Endpoints.BaseURL = "/auth" },
			wantValid: false,
		},
		{
			name:      "non http scheme",
			mutate:    func(c *Config) { c.Endpoints.BaseURL = "ftp://auth.example.com" },
			wantValid: false,
		},
		{
			name:      "zero request timeout",
			mutate:    func(c *Config) { c.Endpoints.RequestTimeout = 0 },
			wantValid: false,
		},
		{
			name:      "redis backend",
			mutate:    func(c *Config) { c.Storage.Backend = StorageRedis },
			wantValid: true,
		},
		{
			name:      "file backend without path",
			mutate:    func(c *Config) { c.Storage.Backend = StorageFile },
			wantValid: false,
		},
		{
			name: "file backend with path",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageFile
				c.Storage.FilePath = "/tmp/session.json"
			},
			wantValid: true,
		},
		{
			name:      "unknown backend",
			mutate:    func(c *Config) { c.Storage.Backend = "etcd" },
			wantValid: false,
		},
		{
			name:      "negative redis db",
			mutate:    func(c *Config) { c.Storage.RedisDB = -1 },
			wantValid: false,
		},
		{
			name:      "zero renewal timeout",
			mutate:    func(c *Config) { c.Renewal.Timeout = 0 },
			wantValid: false,
		},
		{
			name: "check interval not shorter than window",
			mutate: func(c *Config) {
				c.Renewal.CheckInterval = 5 * time.Minute
				c.Renewal.LowWaterMark = 5 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "check interval ignored when not proactive",
			mutate: func(c *Config) {
				c.Renewal.Proactive = false
				c.Renewal.CheckInterval = 0
			},
			wantValid: true,
		},
		{
			name:      "blank public path",
			mutate:    func(c *Config) { c.Authorizer.PublicPaths = []string{"/public", " "} },
			wantValid: false,
		},
		{
			name:      "invalid request id header",
			mutate:    func(c *Config) { c.Authorizer.RequestIDHeader = "X Request" },
			wantValid: false,
		},
		{
			name: "events without buffer",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name:      "histograms without metrics",
			mutate:    func(c *Config) { c.Metrics.EnableLatencyHistograms = true },
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigValidateNil(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestCloneConfigCopiesPublicPaths(t *testing.T) {
	cfg := validTestConfig()
	cfg.Authorizer.PublicPaths = []string{"/public"}

	clone := cloneConfig(cfg)
	cfg.Authorizer.PublicPaths[0] = "/mutated"
	if clone.Authorizer.PublicPaths[0] != "/public" {
		t.Fatal("clone must not share the public path slice")
	}
}

func TestLoadConfigYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	data := strings.Join([]string{
		"endpoints:",
		"  base_url: https://auth.example.com",
		"  refresh_path: /v2/refresh",
		"storage:",
		"  backend: redis",
		"  redis_addr: 127.0.0.1:6380",
		"renewal:",
		"  low_water_mark: 2m",
		"  check_interval: 30s",
		"authorizer:",
		"  public_paths: [/public, /health]",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoints.BaseURL != "https://auth.example.com" || cfg.Endpoints.RefreshPath != "/v2/refresh" {
		t.Fatalf("unexpected endpoints %+v", cfg.Endpoints)
	}
	if cfg.Endpoints.VerifyPath != "/auth/verify" {
		t.Fatalf("expected default verify path to survive, got %q", cfg.Endpoints.VerifyPath)
	}
	if cfg.Storage.Backend != StorageRedis || cfg.Storage.RedisAddr != "127.0.0.1:6380" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Renewal.LowWaterMark != 2*time.Minute || cfg.Renewal.CheckInterval != 30*time.Second {
		t.Fatalf("unexpected renewal %+v", cfg.Renewal)
	}
	if len(cfg.Authorizer.PublicPaths) != 2 {
		t.Fatalf("unexpected public paths %v", cfg.Authorizer.PublicPaths)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected loaded config to validate: %v", err)
	}
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte("endpoints:\n  base_url: https://yaml.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPrefix+"BASE_URL", "https://env.example.com")
	t.Setenv(EnvPrefix+"PROACTIVE_RENEWAL", "false")
	t.Setenv(EnvPrefix+"PUBLIC_PATHS", "/a, /b ,,")
	t.Setenv(EnvPrefix+"REDIS_DB", "3")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoints.BaseURL != "https://env.example.com" {
		t.Fatalf("expected env to win, got %q", cfg.Endpoints.BaseURL)
	}
	if cfg.Renewal.Proactive {
		t.Fatal("expected proactive renewal disabled by env")
	}
	if got := cfg.Authorizer.PublicPaths; len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Fatalf("unexpected public paths %v", got)
	}
	if cfg.Storage.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.Storage.RedisDB)
	}
}

func TestLoadConfigEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "client.env")
	data := EnvPrefix + "USER_AGENT=from-file\n" + EnvPrefix + "KEY_PREFIX=file-prefix\n"
	if err := os.WriteFile(envFile, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPrefix+"USER_AGENT", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv(EnvPrefix + "KEY_PREFIX") })

	cfg, err := LoadConfig("", envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoints.UserAgent != "from-process" {
		t.Fatalf("expected process env to win, got %q", cfg.Endpoints.UserAgent)
	}
	if cfg.Storage.KeyPrefix != "file-prefix" {
		t.Fatalf("expected env file value, got %q", cfg.Storage.KeyPrefix)
	}
}

func TestLoadConfigReportsEveryBadEnvValue(t *testing.T) {
	t.Setenv(EnvPrefix+"RENEWAL_TIMEOUT", "soon")
	t.Setenv(EnvPrefix+"EVENTS_ENABLED", "maybe")

	_, err := LoadConfig("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"RENEWAL_TIMEOUT", "EVENTS_ENABLED"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %v", key, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
