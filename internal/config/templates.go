package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leslieo2/go-template-reload/internal/constants"
)

// TemplatesConfig describes where templates live and how pages map onto them
type TemplatesConfig struct {
	Root        string   `json:"root" yaml:"root"`
	Index       string   `json:"index" yaml:"index"`
	Extensions  []string `json:"extensions" yaml:"extensions"`
	Development bool     `json:"development" yaml:"development"`
}

// DefaultTemplatesConfig returns default template configuration
func DefaultTemplatesConfig() TemplatesConfig {
	return TemplatesConfig{
		Root:        "templates",
		Index:       "index.html",
		Extensions:  []string{".html", ".jinja", ".j2", ".tmpl"},
		Development: true,
	}
}

// Validate validates the template configuration
func (t *TemplatesConfig) Validate() error {
	var errs []error

	if t.Root == "" {
		errs = append(errs, errors.New("root cannot be empty"))
	}
	if t.Index == "" {
		errs = append(errs, errors.New("index cannot be empty"))
	}
	for _, ext := range t.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("extension %q must start with '.'", ext))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LiveReloadConfig represents live reload configuration
type LiveReloadConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Path      string        `json:"path" yaml:"path"`
	KeepAlive time.Duration `json:"keep_alive" yaml:"keep_alive"`
	Retry     time.Duration `json:"retry" yaml:"retry"`
}

// DefaultLiveReloadConfig returns default live reload configuration
func DefaultLiveReloadConfig() LiveReloadConfig {
	return LiveReloadConfig{
		Enabled:   true,
		Path:      constants.PathLiveReload,
		KeepAlive: constants.LiveReloadKeepAlive,
		Retry:     constants.LiveReloadRetry,
	}
}

// Validate validates live reload configuration
func (l LiveReloadConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	if !strings.HasPrefix(l.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if l.KeepAlive <= 0 {
		return fmt.Errorf("keep_alive must be positive")
	}
	if l.Retry <= 0 {
		return fmt.Errorf("retry must be positive")
	}
	return nil
}
