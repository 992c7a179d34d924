package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leslieo2/go-template-reload/internal/config"
	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/server"
	"github.com/leslieo2/go-template-reload/internal/templates"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cliFlags := &config.CLIFlags{}

	cmd := &cobra.Command{
		Use:   "go-template-reload",
		Short: "Development server for templates with live reload",
		Long: `go-template-reload renders the templates under a directory and pushes a
reload to every open browser tab whenever a file below that directory changes.

Configuration precedence: flags > environment (GO_TEMPLATE_RELOAD_*) > config file > defaults.`,
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile, cliFlags)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.SetVersionTemplate("go-template-reload version {{.Version}}\n")

	flags := cmd.PersistentFlags()
	cliFlags.FlagSet = flags

	flags.StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")

	// Server
	cliFlags.Host = flags.String("host", "localhost", "Host to listen on")
	cliFlags.Port = flags.StringP("port", "p", "3000", "Port to listen on")
	cliFlags.MetricsPort = flags.String("metrics-port", "", "Serve /metrics on a separate port")

	// Templates
	cliFlags.TemplateRoot = flags.StringP("root", "r", "templates", "Template root directory")
	cliFlags.TemplateIndex = flags.String("index", "index.html", "Template rendered for /")
	cliFlags.Development = flags.Bool("dev", true, "Development mode: inject the reload script and show template errors")

	// Live reload
	cliFlags.LiveReload = flags.Bool("live-reload", true, "Serve the live reload event stream")
	cliFlags.LiveReloadPath = flags.String("live-reload-path", constants.PathLiveReload, "Mount path of the live reload event stream")
	cliFlags.KeepAlive = flags.Duration("keep-alive", constants.LiveReloadKeepAlive, "Interval between keep-alive frames on idle streams")

	// Logging
	cliFlags.LogLevel = flags.String("log-level", "info", "Log level: debug, info, warn, error")
	cliFlags.LogFormat = flags.String("log-format", "console", "Log format: console or json")

	// Security, proxy and TLS
	cliFlags.RateLimitEnabled = flags.Bool("rate-limit-enabled", false, "Rate limit live reload connections per client")
	cliFlags.ProxyEnabled = flags.Bool("proxy-enabled", false, "Forward requests no template answers")
	cliFlags.ProxyTarget = flags.String("proxy-target", "", "Upstream URL for proxied requests")
	cliFlags.TLSEnabled = flags.Bool("tls-enabled", false, "Serve HTTPS")
	cliFlags.TLSCertFile = flags.String("tls-cert-file", "", "TLS certificate file")
	cliFlags.TLSKeyFile = flags.String("tls-key-file", "", "TLS private key file")

	cmd.AddCommand(newCheckCmd(&configFile, cliFlags))
	return cmd
}

// newCheckCmd compiles every template once and reports all errors, which
// suits pre-commit hooks and CI.
func newCheckCmd(configFile *string, cliFlags *config.CLIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile all templates and report errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configFile, cliFlags)
			if err != nil {
				return err
			}

			env, err := templates.Compile(cfg.Templates.Root, 1)
			if err != nil {
				return fmt.Errorf("templates in %s failed to compile:\n%w", cfg.Templates.Root, err)
			}

			for _, name := range env.Names() {
				cmd.Println(name)
			}
			cmd.Printf("%d templates compiled from %s\n", env.Len(), env.Root())
			return nil
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	server.Version = version

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	err = srv.Run(ctx)
	var setupErr *templates.SetupError
	if errors.As(err, &setupErr) {
		return fmt.Errorf("failed to %s templates: %w", setupErr.Op, err)
	}
	return err
}
