package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
site:
  base_url: https://example.com/blog
  document_root: /var/www/html
  cdn_hosts:
    all: ["cdn.example.com"]
    css_and_js: ["static.example.net"]
assets:
  cache_dir: /tmp/warmup
  user_agent: warmup-test
  timeout_seconds: 45
  rate_per_host: 0.5
  burst: 2
pages:
  headless_enabled: true
  headless_max_parallel: 2
dispatcher:
  workers: 4
  retry_interval: 5s
  drain_limit: 50
storage:
  backend: sqlite
  sqlite_path: /tmp/warmup.db
  resources_table: wp_rucss_resources
archive:
  backend: local
  local_dir: /tmp/archive
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if got := cfg.Site.CDNHosts["css_and_js"]; len(got) != 1 || got[0] != "static.example.net" {
		t.Fatalf("expected cdn hosts to load, got %+v", cfg.Site.CDNHosts)
	}
	if cfg.Dispatcher.RetryInterval != 5*time.Second || cfg.Dispatcher.Workers != 4 {
		t.Fatalf("expected dispatcher overrides, got %+v", cfg.Dispatcher)
	}
	if cfg.Storage.ResourcesTable != "wp_rucss_resources" {
		t.Fatalf("expected table override, got %q", cfg.Storage.ResourcesTable)
	}
	if cfg.Storage.PendingTable != "rucss_pending" {
		t.Fatalf("expected default pending table, got %q", cfg.Storage.PendingTable)
	}
	if cfg.Assets.RatePerHost != 0.5 || cfg.Assets.MaxBytes != 5<<20 {
		t.Fatalf("expected asset settings, got %+v", cfg.Assets)
	}
	if got := cfg.AssetTimeout(); got != 45*time.Second {
		t.Fatalf("expected asset timeout 45s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Archive.Backend != ArchiveNone {
		t.Fatalf("expected in-memory defaults, got %+v %+v", cfg.Storage, cfg.Archive)
	}
	if !cfg.Storage.AutoInstall {
		t.Fatalf("expected auto install by default")
	}
	if cfg.Dispatcher.RetryInterval != 30*time.Second {
		t.Fatalf("expected 30s retry interval, got %v", cfg.Dispatcher.RetryInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WARMUP_SERVER_PORT", "7070")
	t.Setenv("WARMUP_STORAGE_BACKEND", "postgres")
	t.Setenv("WARMUP_STORAGE_POSTGRES_DSN", "postgres://localhost/warmup")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.PostgresDSN == "" {
		t.Fatalf("expected postgres backend from env, got %+v", cfg.Storage)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Site:       SiteConfig{BaseURL: "https://example.com", DocumentRoot: "/srv"},
		Assets:     AssetsConfig{CacheDir: "/tmp/c", TimeoutSeconds: 10},
		Dispatcher: DispatcherConfig{Workers: 1, RetryInterval: time.Second},
		Storage:    StorageConfig{Backend: BackendMemory},
		Archive:    ArchiveConfig{Backend: ArchiveNone},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		cfg  func(c Config) Config
		want string
	}{
		{"invalid port", func(c Config) Config { c.Server.Port = 0; return c }, "server.port"},
		{"auth missing api key", func(c Config) Config { c.Auth.Enabled = true; return c }, "auth.api_key"},
		{"relative base url", func(c Config) Config { c.Site.BaseURL = "/blog"; return c }, "site.base_url"},
		{"missing document root", func(c Config) Config { c.Site.DocumentRoot = ""; return c }, "site.document_root"},
		{"missing cache dir", func(c Config) Config { c.Assets.CacheDir = ""; return c }, "assets.cache_dir"},
		{"invalid timeout", func(c Config) Config { c.Assets.TimeoutSeconds = 0; return c }, "assets.timeout_seconds"},
		{"negative rate", func(c Config) Config { c.Assets.RatePerHost = -1; return c }, "assets.rate_per_host"},
		{"headless missing max parallel", func(c Config) Config {
			c.Pages.HeadlessEnabled = true
			return c
		}, "pages.headless_max_parallel"},
		{"no workers", func(c Config) Config { c.Dispatcher.Workers = 0; return c }, "dispatcher.workers"},
		{"no retry interval", func(c Config) Config { c.Dispatcher.RetryInterval = 0; return c }, "dispatcher.retry_interval"},
		{"unknown backend", func(c Config) Config { c.Storage.Backend = "mysql"; return c }, "storage.backend"},
		{"sqlite without path", func(c Config) Config { c.Storage.Backend = BackendSQLite; return c }, "storage.sqlite_path"},
		{"postgres without dsn", func(c Config) Config { c.Storage.Backend = BackendPostgres; return c }, "storage.postgres_dsn"},
		{"gcs without bucket", func(c Config) Config { c.Archive.Backend = ArchiveGCS; return c }, "archive.gcs_bucket"},
		{"unknown archive", func(c Config) Config { c.Archive.Backend = "s3"; return c }, "archive.backend"},
		{"topic without project", func(c Config) Config { c.PubSub.TopicName = "t"; return c }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg(base).Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
