package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/config"
	"github.com/neboloop/pagerelay/internal/daemon"
	"github.com/neboloop/pagerelay/internal/lifecycle"
	"github.com/neboloop/pagerelay/internal/mcp"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/relay"
	"github.com/neboloop/pagerelay/internal/server"
	"github.com/neboloop/pagerelay/internal/tokenstore"
)

func ServeCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the orchestrator, the bridge socket and the capture and token routes
on one HTTP server. Relay timeouts follow edits to the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runServe(ctx, c, quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no request log")
	return cmd
}

func runServe(ctx context.Context, c config.Config, quiet bool) error {
	logger := setupLogging(c)
	m := metrics.New()

	store, err := tokenstore.Open(tokenstore.Config{
		Driver:         c.Store.Driver,
		SQLitePath:     c.Store.SQLitePath,
		RedisURL:       c.Store.RedisURL,
		KeyringService: c.Store.KeyringService,
		Encrypt:        c.Store.Encrypt,
		KeyFile:        c.Store.KeyFile,
	})
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer store.Close()

	frameOpts := []relay.FrameServerOption{relay.WithFrameLogger(logger)}
	if c.Server.AllowRemoteBridges {
		frameOpts = append(frameOpts, relay.WithRemoteBridges())
	}
	frame := relay.NewFrameServer(c.Relay.TrustedOrigin, frameOpts...)

	orch := relay.New(frame, c.Relay.TrustedOrigin,
		relay.WithTimeouts(relayTimeouts(c)),
		relay.WithRetry(retryPolicy(c)),
		relay.WithLogger(logger),
		relay.WithMetrics(m),
	)
	defer orch.Close()

	var listener *capture.Listener
	if c.Capture.Enabled {
		listener = capture.NewListener(c.Relay.TrustedOrigin, store,
			capture.WithLogger(logger),
			capture.WithMetrics(m),
		)
	}

	monitor, err := daemon.NewMonitor(daemon.MonitorConfig{
		ProbeSchedule: c.Monitor.ProbeSchedule,
		PruneSchedule: c.Monitor.PruneSchedule,
		Pinger:        orch,
		Pruner:        store,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	defer lifecycle.Reset()
	lifecycle.OnServerStarted(func(addr string) {
		go monitor.RunPrune(ctx)
	})
	lifecycle.OnShutdown(func() {
		logger.Info("stopping monitor")
		monitor.Stop()
	})
	lifecycle.Subscribe(lifecycle.EventTokenCaptured, func(tok capture.Token) {
		logger.Info("token captured", "origin", tok.Origin, "source", tok.Source, "expires", tok.ExpiresAt())
	})
	lifecycle.OnBridgeAttached(func(origin string) {
		logger.Info("bridge attached", "origin", origin)
		go monitor.RunProbe(ctx)
	})
	lifecycle.OnBridgeDetached(func(origin string) {
		logger.Warn("bridge detached", "origin", origin)
		m.SetBridgeUp(false)
	})

	if path := configPath(); path != "" {
		go func() {
			err := config.Watch(ctx, defaultConfig, path, func(nc config.Config) {
				orch.SetTimeouts(relayTimeouts(nc))
			})
			if err != nil {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	return server.Run(ctx, server.Options{
		Addr:          c.Addr(),
		TrustedOrigin: c.Relay.TrustedOrigin,
		Relay:         orch,
		Frame:         frame,
		Tokens:        store,
		Capture:       listener,
		Metrics:       m,
		MCP:           mcp.Handler(mcp.NewServer(orch, store, Version)),
		Logger:        logger,
		Quiet:         quiet,
	})
}
