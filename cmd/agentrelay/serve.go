package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/server"
	"github.com/hupe1980/agentrelay/stream"
)

func (c *cli) serveCommand() *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := newLogger(cfg)
			logger.Info("Starting agentrelay", "version", version, "config", cfg.String())

			ctx, stop := signalContext()
			defer stop()

			app, m, err := c.build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Warn("Closing backends failed", "error", err)
				}
			}()

			srv := server.New(app.Relay.Orchestrator(), app.Relay.Stores(), func(o *server.Options) {
				o.Logger = logger.WithComponent("server")
				o.Gatherer = prometheus.DefaultGatherer
				o.Checks = app.Checks
				o.Agents = app.Relay.Agents()
				o.A2APath = cfg.Server.A2APath
				o.Debug = debug
				o.Stream = func(so *stream.Options) {
					so.Logger = logger.WithComponent("stream")
					so.MaxLifetime = cfg.Stream.Watchdog
					so.IdleGap = cfg.Stream.IdleGap
					so.JSONBufferLimit = cfg.Stream.JSONBufferLimit
					so.Metrics = m
				}
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, cfg.Server.Addr) })
			g.Go(func() error {
				<-gctx.Done()
				// Let detached evaluations finish before the stores close.
				app.Relay.Wait()
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}
			logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Run gin in debug mode")
	return cmd
}
