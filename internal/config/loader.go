package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration with precedence:
// 1. Explicitly set CLI flags (highest priority)
// 2. Environment variables
// 3. Configuration file values
// 4. Default configuration values (lowest priority)
//
// The template root is resolved to an absolute path before validation.
func LoadConfig(configFile string, cliFlags *CLIFlags) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(config)

	if cliFlags != nil {
		overrideWithCLI(config, cliFlags)
	}

	if config.Templates.Root != "" {
		root, err := filepath.Abs(config.Templates.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve template root %s: %w", config.Templates.Root, err)
		}
		config.Templates.Root = root
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// CLIFlags carries CLI flag values that can override configuration.
// A value is applied only when FlagSet reports the flag as changed.
type CLIFlags struct {
	FlagSet *pflag.FlagSet

	Host             *string
	Port             *string
	MetricsPort      *string
	TemplateRoot     *string
	TemplateIndex    *string
	Development      *bool
	LiveReload       *bool
	LiveReloadPath   *string
	KeepAlive        *time.Duration
	LogLevel         *string
	LogFormat        *string
	RateLimitEnabled *bool
	ProxyEnabled     *bool
	ProxyTarget      *string
	TLSEnabled       *bool
	TLSCertFile      *string
	TLSKeyFile       *string
}

func (f *CLIFlags) changed(name string) bool {
	if f.FlagSet == nil {
		return false
	}
	flag := f.FlagSet.Lookup(name)
	return flag != nil && flag.Changed
}

// loadFromFile decodes a YAML or JSON file on top of the given configuration,
// so keys absent from the file keep their current values.
func loadFromFile(filePath string, config *Config) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", filePath, err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 - operator-supplied config path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(config)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
// Values that fail to parse are ignored.
func loadFromEnv(config *Config) {
	envString(constants.EnvHost, &config.Server.Host)
	envString(constants.EnvPort, &config.Server.Port)
	envString(constants.EnvMetricsPort, &config.Server.MetricsPort)
	envDuration(constants.EnvReadTimeout, &config.Server.ReadTimeout)
	envDuration(constants.EnvIdleTimeout, &config.Server.IdleTimeout)
	envDuration(constants.EnvShutdownTimeout, &config.Server.ShutdownTimeout)
	if val := os.Getenv(constants.EnvMaxRequestSize); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Server.MaxRequestSize = size
		}
	}

	envString(constants.EnvTemplateRoot, &config.Templates.Root)
	envString(constants.EnvTemplateIndex, &config.Templates.Index)
	envBool(constants.EnvDevelopment, &config.Templates.Development)

	envBool(constants.EnvLiveReload, &config.LiveReload.Enabled)
	envString(constants.EnvLiveReloadPath, &config.LiveReload.Path)
	envDuration(constants.EnvKeepAlive, &config.LiveReload.KeepAlive)

	envString(constants.EnvLogLevel, &config.Observability.Logging.Level)
	envString(constants.EnvLogFormat, &config.Observability.Logging.Format)

	envBool(constants.EnvRateLimitEnabled, &config.Security.RateLimit.Enabled)

	envBool(constants.EnvProxyEnabled, &config.Proxy.Enabled)
	envString(constants.EnvProxyTarget, &config.Proxy.Target)
	envDuration(constants.EnvProxyTimeout, &config.Proxy.Timeout)

	envBool(constants.EnvTLSEnabled, &config.TLS.Enabled)
	envString(constants.EnvTLSCertFile, &config.TLS.CertFile)
	envString(constants.EnvTLSKeyFile, &config.TLS.KeyFile)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// overrideWithCLI overrides configuration with explicitly set CLI flags
func overrideWithCLI(config *Config, flags *CLIFlags) {
	setString(flags, "host", flags.Host, &config.Server.Host)
	setString(flags, "port", flags.Port, &config.Server.Port)
	setString(flags, "metrics-port", flags.MetricsPort, &config.Server.MetricsPort)

	setString(flags, "root", flags.TemplateRoot, &config.Templates.Root)
	setString(flags, "index", flags.TemplateIndex, &config.Templates.Index)
	setBool(flags, "dev", flags.Development, &config.Templates.Development)

	setBool(flags, "live-reload", flags.LiveReload, &config.LiveReload.Enabled)
	setString(flags, "live-reload-path", flags.LiveReloadPath, &config.LiveReload.Path)
	if flags.KeepAlive != nil && flags.changed("keep-alive") {
		config.LiveReload.KeepAlive = *flags.KeepAlive
	}

	setString(flags, "log-level", flags.LogLevel, &config.Observability.Logging.Level)
	setString(flags, "log-format", flags.LogFormat, &config.Observability.Logging.Format)

	setBool(flags, "rate-limit-enabled", flags.RateLimitEnabled, &config.Security.RateLimit.Enabled)

	setBool(flags, "proxy-enabled", flags.ProxyEnabled, &config.Proxy.Enabled)
	setString(flags, "proxy-target", flags.ProxyTarget, &config.Proxy.Target)

	setBool(flags, "tls-enabled", flags.TLSEnabled, &config.TLS.Enabled)
	setString(flags, "tls-cert-file", flags.TLSCertFile, &config.TLS.CertFile)
	setString(flags, "tls-key-file", flags.TLSKeyFile, &config.TLS.KeyFile)
}

func setString(flags *CLIFlags, name string, src *string, dst *string) {
	if src != nil && flags.changed(name) {
		*dst = *src
	}
}

func setBool(flags *CLIFlags, name string, src *bool, dst *bool) {
	if src != nil && flags.changed(name) {
		*dst = *src
	}
}
