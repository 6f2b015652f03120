package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"whisperd/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("WHISPERD_ALLOWED_DOMAINS", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "whisperd")
	if cfg.Daemon.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Daemon.StateDir, wantState)
	}
	if cfg.Daemon.LockPath != filepath.Join(wantState, "whisperd.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.Daemon.LockPath)
	}
	if cfg.Audit.Path != filepath.Join(wantState, "audit.db") {
		t.Fatalf("unexpected audit path: %q", cfg.Audit.Path)
	}
	if cfg.IdleTimeout() != 300*time.Second {
		t.Fatalf("unexpected idle timeout: %s", cfg.IdleTimeout())
	}
	if cfg.CheckInterval() != 10*time.Second {
		t.Fatalf("unexpected check interval: %s", cfg.CheckInterval())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("unexpected request timeout: %s", cfg.RequestTimeout())
	}
	if cfg.Engine.Model != "base" {
		t.Fatalf("unexpected model: %q", cfg.Engine.Model)
	}
	if cfg.Fetch.AllowedDomains != nil {
		t.Fatalf("expected no allowlist by default, got %v", cfg.Fetch.AllowedDomains)
	}
	if cfg.MaxDownloadBytes() != 512_000_000 {
		t.Fatalf("unexpected max download bytes: %d", cfg.MaxDownloadBytes())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Daemon.StateDir, cfg.Logging.Dir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "whisperd.toml")

	type payload struct {
		Daemon struct {
			IdleTimeout   int `toml:"idle_timeout"`
			CheckInterval int `toml:"check_interval"`
		} `toml:"daemon"`
		Fetch struct {
			AllowedDomains  []string `toml:"allowed_domains"`
			MaxDownloadSize string   `toml:"max_download_size"`
		} `toml:"fetch"`
		Engine struct {
			Model string `toml:"model"`
		} `toml:"engine"`
	}
	custom := payload{}
	custom.Daemon.IdleTimeout = 60
	custom.Daemon.CheckInterval = 5
	custom.Fetch.AllowedDomains = []string{" Trusted-CDN.com ", "trusted-cdn.com", ".media.example.org."}
	custom.Fetch.MaxDownloadSize = "10 MiB"
	custom.Engine.Model = "small"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.IdleTimeout() != time.Minute {
		t.Fatalf("unexpected idle timeout: %s", cfg.IdleTimeout())
	}
	want := []string{"trusted-cdn.com", "media.example.org"}
	if strings.Join(cfg.Fetch.AllowedDomains, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected allowlist: %v", cfg.Fetch.AllowedDomains)
	}
	if cfg.MaxDownloadBytes() != 10*1024*1024 {
		t.Fatalf("unexpected max download bytes: %d", cfg.MaxDownloadBytes())
	}
	if cfg.Engine.Model != "small" {
		t.Fatalf("unexpected model: %q", cfg.Engine.Model)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "whisperd.yaml")
	content := "daemon:\n  idle_timeout: 120\nengine:\n  device: cpu\nfetch:\n  allowed_domains: [cdn.example.com]\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Daemon.IdleTimeout != 120 || cfg.Engine.Device != "cpu" {
		t.Fatalf("unexpected yaml values: %+v %+v", cfg.Daemon, cfg.Engine)
	}
	if len(cfg.Fetch.AllowedDomains) != 1 || cfg.Fetch.AllowedDomains[0] != "cdn.example.com" {
		t.Fatalf("unexpected allowlist: %v", cfg.Fetch.AllowedDomains)
	}
}

func TestAllowedDomainsEnvFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WHISPERD_ALLOWED_DOMAINS", "a.example.com, B.example.com")
	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if strings.Join(cfg.Fetch.AllowedDomains, ",") != "a.example.com,b.example.com" {
		t.Fatalf("unexpected allowlist: %v", cfg.Fetch.AllowedDomains)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "whisperd.toml")
	if err := os.WriteFile(configPath, []byte("[daemon]\nidle_timout = 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to fail")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero idle", func(c *config.Config) { c.Daemon.IdleTimeout = 0 }, "daemon.idle_timeout"},
		{"interval exceeds idle", func(c *config.Config) { c.Daemon.IdleTimeout = 5; c.Daemon.CheckInterval = 10 }, "check_interval"},
		{"bad device", func(c *config.Config) { c.Engine.Device = "tpu" }, "engine.device"},
		{"pyannote without token", func(c *config.Config) { c.Engine.VADMethod = "pyannote" }, "hf_token"},
		{"zero fetch timeout", func(c *config.Config) { c.Fetch.RequestTimeout = 0 }, "fetch.request_timeout"},
		{"domain with path", func(c *config.Config) { c.Fetch.AllowedDomains = []string{"cdn.example.com/x"} }, "allowed_domains"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "none.toml"))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(encoded, "idle_timeout = 300") {
		t.Fatalf("expected encoded config to include idle_timeout, got:\n%s", encoded)
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WHISPERD_ALLOWED_DOMAINS", "")
	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Apply(config.Overrides{
		IdleTimeout:    5,
		Model:          " large-v3 ",
		LogLevel:       "DEBUG",
		AllowedDomains: []string{"CDN.Example.com.", "cdn.example.com"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if cfg.IdleTimeout() != 5*time.Second || cfg.CheckInterval() != 5*time.Second {
		t.Fatalf("unexpected timers idle=%s check=%s", cfg.IdleTimeout(), cfg.CheckInterval())
	}
	if cfg.Engine.Model != "large-v3" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Engine, cfg.Logging)
	}
	if len(cfg.Fetch.AllowedDomains) != 1 || cfg.Fetch.AllowedDomains[0] != "cdn.example.com" {
		t.Fatalf("unexpected domains %v", cfg.Fetch.AllowedDomains)
	}

	if err := cfg.Apply(config.Overrides{LogLevel: "loud"}); err == nil {
		t.Fatal("expected invalid log level to be rejected")
	}
}
