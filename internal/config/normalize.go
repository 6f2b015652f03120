package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

func (c *Config) normalize() error {
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeEngine()
	if err := c.normalizeFetch(); err != nil {
		return err
	}
	if err := c.normalizeAudit(); err != nil {
		return err
	}
	return c.normalizeLogging()
}

func (c *Config) normalizeDaemon() error {
	var err error
	if strings.TrimSpace(c.Daemon.StateDir) == "" {
		c.Daemon.StateDir = defaultStateDir
	}
	if c.Daemon.StateDir, err = expandPath(c.Daemon.StateDir); err != nil {
		return fmt.Errorf("daemon.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Daemon.LockPath) == "" {
		c.Daemon.LockPath = filepath.Join(c.Daemon.StateDir, defaultLockName)
	}
	if c.Daemon.LockPath, err = expandPath(c.Daemon.LockPath); err != nil {
		return fmt.Errorf("daemon.lock_path: %w", err)
	}
	if strings.TrimSpace(c.Daemon.TempDir) == "" {
		c.Daemon.TempDir = os.TempDir()
	}
	if c.Daemon.TempDir, err = expandPath(c.Daemon.TempDir); err != nil {
		return fmt.Errorf("daemon.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.Model = strings.TrimSpace(c.Engine.Model)
	if c.Engine.Model == "" {
		c.Engine.Model = defaultModel
	}
	c.Engine.Device = strings.ToLower(strings.TrimSpace(c.Engine.Device))
	if c.Engine.Device == "" {
		c.Engine.Device = defaultDevice
	}
	c.Engine.Command = strings.TrimSpace(c.Engine.Command)
	if c.Engine.Command == "" {
		c.Engine.Command = defaultEngineCommand
	}
	c.Engine.VADMethod = strings.ToLower(strings.TrimSpace(c.Engine.VADMethod))
	if c.Engine.VADMethod == "" {
		c.Engine.VADMethod = defaultVADMethod
	}
	if c.Engine.HFToken == "" {
		if value, ok := os.LookupEnv("WHISPERD_HF_TOKEN"); ok {
			c.Engine.HFToken = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Engine.WorkDir) != "" {
		if expanded, err := expandPath(c.Engine.WorkDir); err == nil {
			c.Engine.WorkDir = expanded
		}
	}
}

func (c *Config) normalizeFetch() error {
	if len(c.Fetch.AllowedDomains) == 0 {
		if value, ok := os.LookupEnv("WHISPERD_ALLOWED_DOMAINS"); ok {
			c.Fetch.AllowedDomains = strings.Split(value, ",")
		}
	}
	c.Fetch.AllowedDomains = normalizeDomains(c.Fetch.AllowedDomains)

	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}

	c.Fetch.MaxDownloadSize = strings.TrimSpace(c.Fetch.MaxDownloadSize)
	if c.Fetch.MaxDownloadSize == "" {
		c.Fetch.MaxDownloadSize = defaultMaxDownloadSize
	}
	size, err := humanize.ParseBytes(c.Fetch.MaxDownloadSize)
	if err != nil {
		return fmt.Errorf("fetch.max_download_size: %w", err)
	}
	c.Fetch.maxDownloadBytes = int64(size)
	return nil
}

func (c *Config) normalizeAudit() error {
	if strings.TrimSpace(c.Audit.Path) == "" {
		c.Audit.Path = filepath.Join(c.Daemon.StateDir, defaultAuditName)
	}
	var err error
	if c.Audit.Path, err = expandPath(c.Audit.Path); err != nil {
		return fmt.Errorf("audit.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

// normalizeDomains lowercases entries, strips surrounding dots and blanks, and
// drops duplicates while preserving order.
func normalizeDomains(domains []string) []string {
	if len(domains) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, domain := range domains {
		trimmed := strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
