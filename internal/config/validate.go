package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDaemon() error {
	if err := ensurePositiveMap(map[string]int{
		"daemon.idle_timeout":   c.Daemon.IdleTimeout,
		"daemon.check_interval": c.Daemon.CheckInterval,
	}); err != nil {
		return err
	}
	if c.Daemon.CheckInterval > c.Daemon.IdleTimeout {
		return errors.New("daemon.check_interval must not exceed daemon.idle_timeout")
	}
	return nil
}

func (c *Config) validateEngine() error {
	switch c.Engine.Device {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
	default:
		return fmt.Errorf("engine.device: unsupported value %q (use auto, cpu, or cuda)", c.Engine.Device)
	}
	switch c.Engine.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("engine.vad_method: unsupported value %q (use silero or pyannote)", c.Engine.VADMethod)
	}
	if c.Engine.VADMethod == "pyannote" && strings.TrimSpace(c.Engine.HFToken) == "" {
		return errors.New("engine.hf_token must be set when engine.vad_method is pyannote (or set WHISPERD_HF_TOKEN)")
	}
	if c.Engine.Timeout <= 0 {
		return errors.New("engine.timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.RequestTimeout <= 0 {
		return errors.New("fetch.request_timeout must be positive (seconds)")
	}
	if c.Fetch.MaxRedirects < 0 {
		return errors.New("fetch.max_redirects must not be negative")
	}
	if c.Fetch.maxDownloadBytes <= 0 {
		return errors.New("fetch.max_download_size must be greater than zero")
	}
	for _, domain := range c.Fetch.AllowedDomains {
		if strings.ContainsAny(domain, "/:@ ") {
			return fmt.Errorf("fetch.allowed_domains: %q must be a bare hostname", domain)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use auto, console, or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
