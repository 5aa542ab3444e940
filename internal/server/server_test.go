package server

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/pagerelay/internal/bridge"
	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/client"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/protocol"
	"github.com/neboloop/pagerelay/internal/relay"
	"github.com/neboloop/pagerelay/internal/tokenstore"
)

const trusted = "https://shop.example.com"

type fixture struct {
	srv    *httptest.Server
	frame  *relay.FrameServer
	relay  *relay.Orchestrator
	tokens tokenstore.Store
}

func newFixture(t *testing.T, origin string) *fixture {
	t.Helper()
	fs := relay.NewFrameServer(origin)
	o := relay.New(fs, origin, relay.WithTimeouts(relay.Timeouts{Ping: 200 * time.Millisecond, Fetch: 2 * time.Second}))
	tokens := tokenstore.NewMemory()

	srv := httptest.NewServer(NewRouter(Options{
		TrustedOrigin: origin,
		Relay:         o,
		Frame:         fs,
		Tokens:        tokens,
		Capture:       capture.NewListener(origin, tokens),
		Metrics:       metrics.New(),
		Quiet:         true,
	}))
	t.Cleanup(func() {
		srv.Close()
		o.Close()
		fs.Close()
	})
	return &fixture{srv: srv, frame: fs, relay: o, tokens: tokens}
}

func jwtShaped() string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + enc.EncodeToString([]byte(`{"sub":"7"}`)) + ".c2ln"
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, trusted)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"attached":false`)
}

func TestRelayWithoutBridge(t *testing.T) {
	f := newFixture(t, trusted)
	c := client.New(f.srv.URL, 5*time.Second)

	start := time.Now()
	got := c.Fetch(context.Background(), "/api/profile", nil)
	assert.Equal(t, protocol.NoFrame(), got)
	assert.Less(t, time.Since(start), 2*time.Second, "no-frame must not wait for the fetch timeout")

	got = c.HandleMessage(context.Background(), protocol.CallerMessage{Type: "WS_DELETE_EVERYTHING"})
	assert.Equal(t, protocol.BadRequest(), got)
}

func TestHookScript(t *testing.T) {
	f := newFixture(t, trusted)
	resp, err := http.Get(f.srv.URL + "/hook.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/javascript"))
	assert.Equal(t, capture.HookScript(), string(body))
}

func TestCaptureAndLatest(t *testing.T) {
	f := newFixture(t, trusted)
	c := client.New(f.srv.URL, 5*time.Second)
	ctx := context.Background()

	_, err := c.Latest(ctx, "")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)

	post := func(body string) int {
		resp, err := http.Post(f.srv.URL+"/capture?source=storage", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	tok := jwtShaped()
	assert.Equal(t, http.StatusAccepted, post(`{"type":"CAPTURE_TOKEN","token":"not-a-token"}`))
	_, err = c.Latest(ctx, trusted)
	assert.ErrorIs(t, err, tokenstore.ErrNotFound, "non-JWT values are dropped")

	assert.Equal(t, http.StatusAccepted, post(`{"type":"CAPTURE_TOKEN","token":"`+tok+`"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"type":"WS_PING"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{`))

	got, err := c.Latest(ctx, trusted)
	require.NoError(t, err)
	assert.Equal(t, tok, got.Value)
	assert.Equal(t, capture.SourceStorage, got.Source)
	assert.Equal(t, "7", got.Claims["sub"])

	_, err = c.Latest(ctx, "https://other.example.com")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound, "origin query selects the store entry")
}

func TestCaptureIgnoresOtherOrigins(t *testing.T) {
	f := newFixture(t, trusted)
	body := `{"type":"CAPTURE_TOKEN","token":"` + jwtShaped() + `"}`

	send := func(origin, contentType string) int {
		req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/capture", strings.NewReader(body))
		req.Header.Set("Origin", origin)
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, send("https://evil.example.net", "text/plain"))
	assert.Equal(t, http.StatusAccepted, send("http://localhost:5173", "application/json"))
	_, err := f.tokens.Latest(context.Background(), trusted)
	assert.ErrorIs(t, err, tokenstore.ErrNotFound, "a token posted by another page must not be stored")

	assert.Equal(t, http.StatusAccepted, send(trusted, "application/json"))
	got, err := f.tokens.Latest(context.Background(), trusted)
	require.NoError(t, err)
	assert.Equal(t, jwtShaped(), got.Value)
}

func TestRelayRefusesCrossSitePosts(t *testing.T) {
	var posts atomic.Int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
	}))
	defer site.Close()
	origin := site.URL

	f := newFixture(t, origin)
	exec, err := bridge.NewHTTPExecutor(origin)
	require.NoError(t, err)
	b := bridge.New(origin, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/relay/bridge", origin)
	require.Eventually(t, f.frame.Attached, 2*time.Second, 5*time.Millisecond)

	body := `{"type":"WS_RELAY_FETCH","payload":{"url":"/account/delete","init":{"method":"POST"}}}`
	send := func(from, contentType string) int {
		req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/relay/message", strings.NewReader(body))
		if from != "" {
			req.Header.Set("Origin", from)
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, send("https://evil.example.net", "text/plain"))
	assert.Equal(t, http.StatusForbidden, send("https://evil.example.net", "application/json"))
	assert.Equal(t, http.StatusUnsupportedMediaType, send("", "text/plain"))
	assert.Zero(t, posts.Load(), "refused calls must not reach the site")

	assert.Equal(t, http.StatusOK, send(origin, "application/json"))
	assert.Equal(t, int32(1), posts.Load())
}

func TestCORS(t *testing.T) {
	f := newFixture(t, trusted)

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/capture", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, trusted, preflight(trusted).Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "http://localhost:5173", preflight("http://localhost:5173").Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, preflight("https://evil.example.net").Header.Get("Access-Control-Allow-Origin"))
}

func TestRelayThroughSocketBridge(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer site.Close()
	origin := site.URL

	f := newFixture(t, origin)

	exec, err := bridge.NewHTTPExecutor(origin)
	require.NoError(t, err)
	exec.SetCookies([]*http.Cookie{{Name: "session", Value: "abc", Path: "/"}})
	b := bridge.New(origin, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/relay/bridge", origin)

	require.Eventually(t, f.frame.Attached, 2*time.Second, 5*time.Millisecond)

	c := client.New(f.srv.URL, 5*time.Second)
	assert.Equal(t, protocol.Alive(), c.Ping(context.Background()))

	got := c.Fetch(context.Background(), "/api/profile", nil)
	assert.True(t, got.OK)
	assert.Equal(t, `{"name":"Ada"}`, got.BodyText)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Attached)
	assert.Zero(t, st.InFlight)
}

func TestRunShutsDown(t *testing.T) {
	fs := relay.NewFrameServer(trusted)
	o := relay.New(fs, trusted)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{Addr: "127.0.0.1:0", TrustedOrigin: trusted, Relay: o, Frame: fs, Quiet: true})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
