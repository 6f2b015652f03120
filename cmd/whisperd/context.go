package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"whisperd/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once per invocation. Directories are
// created by the daemon itself, so read-only commands leave the disk alone.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// effectiveConfig returns a copy of the loaded configuration with overrides
// applied, leaving the shared value untouched.
func (c *commandContext) effectiveConfig(o config.Overrides) (*config.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	effective := *cfg
	effective.Fetch.AllowedDomains = append([]string(nil), cfg.Fetch.AllowedDomains...)
	if err := effective.Apply(o); err != nil {
		return nil, err
	}
	return &effective, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
