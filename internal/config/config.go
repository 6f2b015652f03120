package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Daemon contains lifecycle settings for the resident worker process.
type Daemon struct {
	IdleTimeout   int    `toml:"idle_timeout" yaml:"idle_timeout"`
	CheckInterval int    `toml:"check_interval" yaml:"check_interval"`
	StateDir      string `toml:"state_dir" yaml:"state_dir"`
	LockPath      string `toml:"lock_path" yaml:"lock_path"`
	TempDir       string `toml:"temp_dir" yaml:"temp_dir"`
}

// Engine contains settings forwarded to the external transcription engine.
type Engine struct {
	Model     string `toml:"model" yaml:"model"`
	Device    string `toml:"device" yaml:"device"`
	Command   string `toml:"command" yaml:"command"`
	VADMethod string `toml:"vad_method" yaml:"vad_method"`
	HFToken   string `toml:"hf_token" yaml:"hf_token"`
	Timeout   int    `toml:"timeout" yaml:"timeout"`
	WorkDir   string `toml:"work_dir" yaml:"work_dir"`
}

// Fetch contains the URL policy and download limits.
type Fetch struct {
	RequestTimeout  int      `toml:"request_timeout" yaml:"request_timeout"`
	AllowedDomains  []string `toml:"allowed_domains" yaml:"allowed_domains"`
	MaxDownloadSize string   `toml:"max_download_size" yaml:"max_download_size"`
	MaxRedirects    int      `toml:"max_redirects" yaml:"max_redirects"`
	UserAgent       string   `toml:"user_agent" yaml:"user_agent"`

	maxDownloadBytes int64
}

// Audit contains configuration for the request ledger.
type Audit struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format" yaml:"format"`
	Level         string `toml:"level" yaml:"level"`
	Dir           string `toml:"dir" yaml:"dir"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
}

// Config encapsulates all configuration values for whisperd.
//
// Configuration sections by subsystem:
//   - Daemon: idle timeout, idle check cadence, lock and temp locations
//   - Engine: model name, device, and the engine command line
//   - Fetch: domain allowlist, request timeout, redirect and size limits
//   - Audit: request/security ledger
//   - Logging: log format, level, directory, and retention
type Config struct {
	Daemon  Daemon  `toml:"daemon" yaml:"daemon"`
	Engine  Engine  `toml:"engine" yaml:"engine"`
	Fetch   Fetch   `toml:"fetch" yaml:"fetch"`
	Audit   Audit   `toml:"audit" yaml:"audit"`
	Logging Logging `toml:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("whisperd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories required for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Daemon.StateDir, c.Logging.Dir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) != "" {
		if err := os.MkdirAll(filepath.Dir(c.Audit.Path), 0o755); err != nil {
			return fmt.Errorf("create audit directory: %w", err)
		}
	}
	return nil
}

// IdleTimeout returns the inactivity window before auto-shutdown.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Daemon.IdleTimeout) * time.Second
}

// CheckInterval returns how often the idle checker wakes.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Daemon.CheckInterval) * time.Second
}

// RequestTimeout returns the bound applied to each fetch.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Fetch.RequestTimeout) * time.Second
}

// EngineTimeout returns the bound applied to each engine invocation.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.Timeout) * time.Second
}

// MaxDownloadBytes returns the parsed fetch.max_download_size.
func (c *Config) MaxDownloadBytes() int64 {
	return c.Fetch.maxDownloadBytes
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

// Overrides carries command-line values that replace file settings. Zero
// values leave the loaded setting untouched.
type Overrides struct {
	IdleTimeout    int
	Model          string
	LogLevel       string
	AllowedDomains []string
}

// Apply merges overrides into the configuration and validates the result.
func (c *Config) Apply(o Overrides) error {
	if o.IdleTimeout > 0 {
		c.Daemon.IdleTimeout = o.IdleTimeout
		if c.Daemon.CheckInterval > o.IdleTimeout {
			c.Daemon.CheckInterval = o.IdleTimeout
		}
	}
	if model := strings.TrimSpace(o.Model); model != "" {
		c.Engine.Model = model
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if len(o.AllowedDomains) > 0 {
		c.Fetch.AllowedDomains = normalizeDomains(o.AllowedDomains)
	}
	return c.Validate()
}
