package config

import (
	"fmt"
	"net/url"
	"time"
)

// ProxyConfig controls forwarding of non-page requests to an application backend
type ProxyConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Target  string        `json:"target" yaml:"target"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultProxyConfig returns default proxy configuration
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Enabled: false,
		Timeout: 30 * time.Second,
	}
}

// Validate validates the proxy configuration
func (p ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Target == "" {
		return fmt.Errorf("target cannot be empty when proxy is enabled")
	}
	u, err := url.Parse(p.Target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", p.Target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target %q must use http or https", p.Target)
	}
	if u.Host == "" {
		return fmt.Errorf("target %q has no host", p.Target)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
