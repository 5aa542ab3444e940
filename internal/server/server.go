// Package server mounts the relay, the bridge socket, capture and the
// token routes on one chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/httputil"
	"github.com/neboloop/pagerelay/internal/lifecycle"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/middleware"
	"github.com/neboloop/pagerelay/internal/protocol"
	"github.com/neboloop/pagerelay/internal/relay"
	"github.com/neboloop/pagerelay/internal/tokenstore"
)

// Options holds the server's dependencies. Nil optional fields leave the
// matching routes unmounted.
type Options struct {
	Addr          string
	TrustedOrigin string
	Relay         *relay.Orchestrator
	Frame         *relay.FrameServer
	Tokens        tokenstore.Store  // optional
	Capture       *capture.Listener // optional
	Metrics       *metrics.Metrics  // optional
	MCP           http.Handler      // optional
	Logger        *slog.Logger
	Quiet         bool // no request log
}

// NewRouter builds the HTTP handler.
func NewRouter(o Options) http.Handler {
	r := chi.NewRouter()

	if !o.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(o.TrustedOrigin))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, map[string]any{"status": "ok", "attached": o.Frame.Attached()})
	})

	// The frame server checks the peer address itself, so it must see the
	// real RemoteAddr rather than a forwarded one.
	r.Get("/relay/bridge", o.Frame.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimw.RealIP)
		r.With(
			middleware.SameOrigin(o.TrustedOrigin),
			middleware.RequireJSON,
			middleware.NoStore,
		).Mount("/relay", o.Relay.Handler())

		r.Get("/hook.js", hookHandler)
		if o.Capture != nil {
			r.Post("/capture", captureHandler(o.TrustedOrigin, o.Capture))
		}
		if o.Tokens != nil {
			r.With(middleware.NoStore).Get("/tokens/latest", latestTokenHandler(o.Tokens))
		}
		if o.Metrics != nil {
			r.Handle("/metrics", o.Metrics.Handler())
		}
		if o.MCP != nil {
			r.With(middleware.SameOrigin(o.TrustedOrigin)).Handle("/mcp", o.MCP)
		}
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, o Options) error {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", o.Addr, err)
	}

	// No ReadTimeout/WriteTimeout: they would cut the hijacked bridge socket.
	httpServer := &http.Server{
		Handler:           NewRouter(o),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("server ready", "addr", ln.Addr().String(), "trusted_origin", o.TrustedOrigin)
	lifecycle.Emit(lifecycle.EventServerStarted, ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")
	lifecycle.Emit(lifecycle.EventShutdownStarted, nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	o.Frame.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, capture.HookScript())
}

// captureHandler accepts a CAPTURE_TOKEN forwarded by the content script.
// The token is validated and stored by the listener; the caller always gets
// 202 so a page cannot probe what was kept. Posts from a page on another
// origin are dropped.
func captureHandler(trusted string, l *capture.Listener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && origin != trusted {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
		if err != nil {
			httputil.BadRequest(w, err)
			return
		}
		msg, err := protocol.Decode(body)
		if err != nil {
			httputil.BadRequest(w, err)
			return
		}
		ct, ok := msg.(protocol.CaptureToken)
		if !ok {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "expected "+string(protocol.KindCaptureToken))
			return
		}
		src := capture.ParseSource(httputil.QueryString(r, "source", ""),
			capture.ParseSource(ct.Source, capture.SourceHeader))
		l.Report(r.Context(), ct.Token, src)
		w.WriteHeader(http.StatusAccepted)
	}
}

type latestTokenQuery struct {
	Origin string `form:"origin"`
}

func latestTokenHandler(store tokenstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q latestTokenQuery
		if err := httputil.Parse(r, &q); err != nil {
			httputil.BadRequest(w, err)
			return
		}
		tok, err := store.Latest(r.Context(), q.Origin)
		if errors.Is(err, tokenstore.ErrNotFound) {
			httputil.NotFound(w, "no token captured")
			return
		}
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.OkJSON(w, tok)
	}
}
