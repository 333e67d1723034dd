// Command agentrelay serves the relay over HTTP or runs a single turn from
// the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/internal/bootstrap"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

var (
	bold   = color.New(color.Bold).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

type cli struct {
	configDir string
	envFile   string
	logLevel  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Relay conversation turns between cooperating agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configDir, "config-dir", "configs", "Directory holding common.yaml and <APP_ENV>.yaml")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Dotenv file loaded before the configuration")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(c.serveCommand(), c.runCommand(), versionCommand())
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentrelay %s\n", bold(version))
		},
	}
}

func (c *cli) load() (*config.Config, error) {
	cfg, err := config.Load(func(o *config.LoadOptions) {
		o.ConfigDirs = []string{c.configDir}
		o.EnvFiles = []string{c.envFile}
	})
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.RelayLogger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:       logging.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		Output:      os.Stderr,
		Component:   "agentrelay",
		CustomAttrs: map[string]any{"env": string(cfg.Env)},
	})
}

func (c *cli) build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*bootstrap.App, *metrics.Metrics, error) {
	m := metrics.MustNewMetrics(prometheus.DefaultRegisterer)
	app, err := bootstrap.Build(ctx, cfg, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return app, m, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
