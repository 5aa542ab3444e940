package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/neboloop/pagerelay/internal/protocol"
)

// HTTPExecutor runs requests with a cookie jar standing in for the page's
// cookie store. Requests are never retried: a relayed call fails or
// succeeds exactly once.
type HTTPExecutor struct {
	base      *url.URL
	jar       *cookiejar.Jar
	limiter   *rate.Limiter
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper

	withCookies *resty.Client
	anonymous   *resty.Client
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(e *HTTPExecutor) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithRequestTimeout bounds a single request.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) HTTPOption {
	return func(e *HTTPExecutor) { e.userAgent = ua }
}

// WithTransport sends requests through rt, for example a capture.Transport
// watching for bearer tokens.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(e *HTTPExecutor) { e.transport = rt }
}

// NewHTTPExecutor creates an executor for pages on origin. Relative URLs
// resolve against origin.
func NewHTTPExecutor(origin string, opts ...HTTPOption) (*HTTPExecutor, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	e := &HTTPExecutor{
		base:    base,
		jar:     jar,
		limiter: rate.NewLimiter(rate.Inf, 0),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.withCookies = e.newClient().SetCookieJar(jar)
	e.anonymous = e.newClient().SetCookieJar(nil)
	return e, nil
}

func (e *HTTPExecutor) newClient() *resty.Client {
	c := resty.New().
		SetTimeout(e.timeout).
		SetRetryCount(0)
	if e.userAgent != "" {
		c.SetHeader("User-Agent", e.userAgent)
	}
	if e.transport != nil {
		c.SetTransport(e.transport)
	}
	return c
}

// SetCookies seeds the jar, for example with cookies exported from a
// browser profile.
func (e *HTTPExecutor) SetCookies(cookies []*http.Cookie) {
	e.jar.SetCookies(e.base, cookies)
}

// Cookies returns the cookies the jar would send to the page's origin.
func (e *HTTPExecutor) Cookies() []*http.Cookie {
	return e.jar.Cookies(e.base)
}

// Execute performs the request.
func (e *HTTPExecutor) Execute(ctx context.Context, rawURL string, init protocol.RequestInit) (*Response, error) {
	target, err := e.base.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	method := strings.ToUpper(init.Method)
	if method == "" {
		method = http.MethodGet
	}
	req := e.clientFor(target, init.Credentials).R().
		SetContext(ctx).
		SetHeaders(init.Headers)
	if init.Body != "" {
		req.SetBody(init.Body)
	}

	resp, err := req.Execute(method, target.String())
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:     resp.StatusCode(),
		StatusText: protocol.StatusText(resp.StatusCode(), resp.Status()),
		Header:     resp.Header(),
		Body:       string(resp.Body()),
	}, nil
}

func (e *HTTPExecutor) clientFor(target *url.URL, mode protocol.Credentials) *resty.Client {
	switch mode {
	case protocol.CredentialsOmit:
		return e.anonymous
	case protocol.CredentialsSameOrigin:
		if !strings.EqualFold(target.Scheme, e.base.Scheme) || !strings.EqualFold(target.Host, e.base.Host) {
			return e.anonymous
		}
	}
	return e.withCookies
}
