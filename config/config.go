// Package config defines the bot's configuration tree and a layered JSON
// loader with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// Config is the root configuration.
type Config struct {
	Version  string         `json:"version"`
	Bot      BotConfig      `json:"bot"`
	Manager  ManagerConfig  `json:"manager"`
	Services ServiceConfigs `json:"services"`
}

// BotConfig holds Discord connection settings. The token is normally
// injected via the DETERNA_BOT_TOKEN environment variable rather than
// written into a config file.
type BotConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`
	AppID   string `json:"app_id"`
	Status  string `json:"status"`
}

// ManagerConfig tunes the service manager and the ops HTTP server.
type ManagerConfig struct {
	HealthInterval  Duration `json:"health_interval"`
	RestartDelay    Duration `json:"restart_delay"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	// OpsPort serves /health, /services and /metrics. 0 disables the
	// ops server.
	OpsPort int `json:"ops_port"`
}

// ServiceConfig carries one service's lifecycle settings plus an opaque
// payload the service's constructor parses itself.
type ServiceConfig struct {
	Enabled        bool            `json:"enabled"`
	Priority       int             `json:"priority"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	Timeout        Duration        `json:"timeout,omitempty"`
	RestartOnError bool            `json:"restart_on_error,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// ServiceConfigs maps service identifier to its configuration.
type ServiceConfigs map[string]ServiceConfig

// Default manager settings, applied by Validate when fields are zero.
const (
	DefaultHealthInterval  = 30 * time.Second
	DefaultRestartDelay    = time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Defaults returns the shipped configuration: the standard service set
// with conservative lifecycle settings. Webhook ingestion stays disabled
// until a listener address and secret are configured.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Bot: BotConfig{
			Status: "watching the community",
		},
		Manager: ManagerConfig{
			HealthInterval:  Duration(DefaultHealthInterval),
			RestartDelay:    Duration(DefaultRestartDelay),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			OpsPort:         8090,
		},
		Services: ServiceConfigs{
			"database": {
				Enabled:  true,
				Priority: 100,
				Timeout:  Duration(30 * time.Second),
				Config:   json.RawMessage(`{"path":"deterna.db"}`),
			},
			"discord-gateway": {
				Enabled:        true,
				Priority:       90,
				Timeout:        Duration(60 * time.Second),
				RestartOnError: true,
			},
			"tickets": {
				Enabled:      true,
				Priority:     50,
				Dependencies: []string{"database", "discord-gateway"},
				Timeout:      Duration(30 * time.Second),
			},
			"webhooks": {
				Enabled:        false,
				Priority:       40,
				Dependencies:   []string{"discord-gateway"},
				Timeout:        Duration(30 * time.Second),
				RestartOnError: true,
			},
		},
	}
}

// Validate checks the configuration for internal consistency and fills
// zero-valued manager durations with defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "version is required")
	}
	if c.Bot.Token == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "bot token is required (set DETERNA_BOT_TOKEN)")
	}

	if c.Manager.HealthInterval <= 0 {
		c.Manager.HealthInterval = Duration(DefaultHealthInterval)
	}
	if c.Manager.RestartDelay <= 0 {
		c.Manager.RestartDelay = Duration(DefaultRestartDelay)
	}
	if c.Manager.ShutdownTimeout <= 0 {
		c.Manager.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Manager.OpsPort < 0 || c.Manager.OpsPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("ops_port %d out of range", c.Manager.OpsPort))
	}

	for name, svc := range c.Services {
		if name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "service with empty identifier")
		}
		if svc.Timeout < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("service %s: negative timeout", name))
		}
		for _, dep := range svc.Dependencies {
			depCfg, ok := c.Services[dep]
			if !ok {
				return errors.WrapInvalid(errors.ErrUnknownDependency, "Config", "Validate",
					fmt.Sprintf("service %s depends on unknown service %s", name, dep))
			}
			if svc.Enabled && !depCfg.Enabled {
				return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
					fmt.Sprintf("service %s is enabled but its dependency %s is disabled", name, dep))
			}
		}
	}

	return nil
}
