package config

import (
	"errors"
	"fmt"
	"os"
)

// TLSConfig contains TLS-specific configuration
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
}

// DefaultTLSConfig returns default TLS configuration
func DefaultTLSConfig() TLSConfig {
	return TLSConfig{}
}

// Validate checks that both key pair files are named and present
func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	for field, path := range map[string]string{"cert_file": c.CertFile, "key_file": c.KeyFile} {
		if path == "" {
			errs = append(errs, fmt.Errorf("%s is required when TLS is enabled", field))
			continue
		}
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	return errors.Join(errs...)
}
