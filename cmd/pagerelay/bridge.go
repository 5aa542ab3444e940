package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/bridge"
	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/client"
	"github.com/neboloop/pagerelay/internal/config"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

func BridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Attach a page bridge to the relay server",
		Long: `Connect to the server's bridge socket as the trusted origin and execute
relayed requests, either with a cookie jar (executor: http) or inside a
Chrome tab parked on the site (executor: chrome). Tokens seen on the way
are forwarded to the server when capture is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runBridge(ctx, c)
		},
	}
}

func runBridge(ctx context.Context, c config.Config) error {
	logger := setupLogging(c)
	cl := client.New(c.BaseURL(), clientTimeout(c))

	var listener *capture.Listener
	if c.Capture.Enabled {
		listener = capture.NewListener(c.Bridge.Origin, cl.Sink(), capture.WithLogger(logger))
	}

	exec, closeExec, err := newExecutor(c, listener, logger)
	if err != nil {
		return err
	}
	defer closeExec()

	b := bridge.New(c.Relay.TrustedOrigin, exec, bridge.WithLogger(logger))

	for attempt := 0; ; attempt++ {
		err := b.Serve(ctx, c.Bridge.OrchestratorURL, c.Relay.TrustedOrigin)
		if ctx.Err() != nil {
			return nil
		}
		wait := retryablehttp.DefaultBackoff(reconnectMin, reconnectMax, attempt, nil)
		logger.Warn("bridge disconnected", "url", c.Bridge.OrchestratorURL, "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func newExecutor(c config.Config, listener *capture.Listener, logger *slog.Logger) (bridge.Executor, func(), error) {
	if c.Bridge.Executor == "chrome" {
		ce := bridge.NewChromeExecutor(bridge.ChromeConfig{
			Origin:   c.Bridge.Origin,
			Headless: c.Bridge.Headless,
			Timeout:  c.Bridge.RequestTimeout,
		})
		if err := ce.Open(); err != nil {
			ce.Close()
			return nil, nil, fmt.Errorf("open %s in chrome: %w", c.Bridge.Origin, err)
		}
		if listener != nil {
			obs := capture.NewCDPObserver(listener)
			if err := obs.Observe(ce.TabContext()); err != nil {
				logger.Warn("token observer disabled", "error", err)
			}
			if err := obs.ScanStorage(ce.TabContext()); err != nil {
				logger.Debug("storage scan failed", "error", err)
			}
		}
		return ce, ce.Close, nil
	}

	opts := []bridge.HTTPOption{
		bridge.WithRateLimit(c.Bridge.RateLimit, c.Bridge.RateBurst),
		bridge.WithRequestTimeout(c.Bridge.RequestTimeout),
		bridge.WithUserAgent(c.Bridge.UserAgent),
	}
	if listener != nil {
		opts = append(opts, bridge.WithTransport(capture.NewTransport(nil, listener)))
	}
	he, err := bridge.NewHTTPExecutor(c.Bridge.Origin, opts...)
	if err != nil {
		return nil, nil, err
	}
	if c.Bridge.Cookies != "" {
		cookies, err := http.ParseCookie(c.Bridge.Cookies)
		if err != nil {
			return nil, nil, fmt.Errorf("bridge.cookies: %w", err)
		}
		for _, ck := range cookies {
			ck.Path = "/"
		}
		he.SetCookies(cookies)
	}
	return he, func() {}, nil
}
