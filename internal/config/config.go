package config

import (
	"errors"
	"fmt"

	"github.com/leslieo2/go-template-reload/internal/constants"
)

// Config represents the unified configuration structure
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Templates     TemplatesConfig     `json:"templates" yaml:"templates"`
	LiveReload    LiveReloadConfig    `json:"live_reload" yaml:"live_reload"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Security      SecurityConfig      `json:"security" yaml:"security"`
	Proxy         ProxyConfig         `json:"proxy" yaml:"proxy"`
	TLS           TLSConfig           `json:"tls" yaml:"tls"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Templates:     DefaultTemplatesConfig(),
		LiveReload:    DefaultLiveReloadConfig(),
		Observability: DefaultObservabilityConfig(),
		Security:      DefaultSecurityConfig(),
		Proxy:         DefaultProxyConfig(),
		TLS:           DefaultTLSConfig(),
	}
}

// Validate validates the entire configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Templates.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("templates: %w", err))
	}
	if err := c.LiveReload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("live_reload: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security: %w", err))
	}
	if err := c.Proxy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("proxy: %w", err))
	}
	if err := c.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tls: %w", err))
	}
	if err := c.validateRoutes(); err != nil {
		errs = append(errs, fmt.Errorf("routes: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateRoutes rejects endpoint paths that would collide on the main
// listener. The page handler takes every path left over.
func (c *Config) validateRoutes() error {
	owners := map[string]string{
		constants.PathHealth: "health",
		constants.PathReady:  "readiness",
	}
	var errs []error
	claim := func(path, owner string) {
		if other, taken := owners[path]; taken {
			errs = append(errs, fmt.Errorf("%s path %s is already used by %s", owner, path, other))
			return
		}
		owners[path] = owner
	}

	if c.Observability.Metrics.Enabled && c.Server.MetricsPort == "" {
		claim(c.Observability.Metrics.Path, "metrics")
	}
	if c.LiveReload.Enabled {
		claim(c.LiveReload.Path, "live reload")
	}
	return errors.Join(errs...)
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetMetricsAddress returns the full metrics server address
func (c *Config) GetMetricsAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.MetricsPort)
}
