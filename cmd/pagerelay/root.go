package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/config"
	"github.com/neboloop/pagerelay/internal/logging"
	"github.com/neboloop/pagerelay/internal/relay"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(defaults []byte) *cobra.Command {
	defaultConfig = defaults

	rootCmd := &cobra.Command{
		Use:   "pagerelay",
		Short: "pagerelay - run HTTP requests inside a logged-in page",
		Long: `pagerelay relays HTTP requests through a bridge that lives on a trusted
site, so they carry the site's cookies, and captures the bearer tokens the
site's own scripts use.

Start the relay with 'pagerelay serve', attach a bridge with
'pagerelay bridge', then use 'pagerelay fetch' or the MCP and native
messaging front ends.`,
		SilenceUsage: true,
		Version:      Version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $PAGERELAY_DATA_DIR/pagerelay.yaml or ~/.pagerelay/pagerelay.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	// Add commands
	rootCmd.AddCommand(InitCmd())
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(BridgeCmd())
	rootCmd.AddCommand(PingCmd())
	rootCmd.AddCommand(FetchCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(HookCmd())
	rootCmd.AddCommand(NativeCmd())
	rootCmd.AddCommand(MCPCmd())

	return rootCmd
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// setupLogging always writes to stderr: stdout belongs to the native
// messaging and MCP streams.
func setupLogging(c config.Config) *slog.Logger {
	level := c.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.Setup(os.Stderr, level, c.Log.Format)
}

func relayTimeouts(c config.Config) relay.Timeouts {
	return relay.Timeouts{Ping: c.Relay.PingTimeout, Fetch: c.Relay.FetchTimeout}
}

func retryPolicy(c config.Config) relay.RetryPolicy {
	return relay.RetryPolicy{
		Attempts: c.Relay.PingAttempts,
		WaitMin:  c.Relay.RetryWaitMin,
		WaitMax:  c.Relay.RetryWaitMax,
	}
}

// clientTimeout leaves room for the server's own fetch timeout.
func clientTimeout(c config.Config) time.Duration {
	fetch := c.Relay.FetchTimeout
	if fetch <= 0 {
		fetch = relay.DefaultFetchTimeout
	}
	return fetch + 5*time.Second
}
