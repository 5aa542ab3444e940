package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/neboloop/pagerelay/internal/protocol"
)

// ChromeConfig configures a ChromeExecutor.
type ChromeConfig struct {
	Origin   string        // page the tab is parked on; its cookies apply
	Headless bool          // run Chrome without a window
	Timeout  time.Duration // per request (default: 30s)
}

// ChromeExecutor runs fetch inside a real Chrome tab parked on the trusted
// origin, so requests carry exactly the cookies the site would send.
type ChromeExecutor struct {
	cfg ChromeConfig

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	once    sync.Once
	openErr error
}

// NewChromeExecutor prepares a Chrome allocator. The browser starts on the
// first request.
func NewChromeExecutor(cfg ChromeConfig) *ChromeExecutor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	return &ChromeExecutor{
		cfg:         cfg,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}
}

// TabContext is the chromedp context of the tab, for listeners that want to
// observe its traffic.
func (c *ChromeExecutor) TabContext() context.Context {
	return c.tabCtx
}

// Open starts Chrome and navigates the tab to the trusted origin.
func (c *ChromeExecutor) Open() error {
	c.once.Do(func() {
		c.openErr = chromedp.Run(c.tabCtx, chromedp.Navigate(c.cfg.Origin))
	})
	return c.openErr
}

// Close shuts the tab and the browser down.
func (c *ChromeExecutor) Close() {
	c.tabCancel()
	c.allocCancel()
}

type pageResult struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	BodyText   string            `json:"bodyText"`
	Error      string            `json:"error"`
}

// Execute runs the request through the page's own fetch.
func (c *ChromeExecutor) Execute(ctx context.Context, rawURL string, init protocol.RequestInit) (*Response, error) {
	if err := c.Open(); err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	script, err := pageFetchScript(rawURL, init)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(c.tabCtx, c.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var out pageResult
	err = chromedp.Run(runCtx, chromedp.Evaluate(script, &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, errors.New(out.Error)
	}

	header := make(http.Header, len(out.Headers))
	for k, v := range out.Headers {
		header.Set(k, v)
	}
	return &Response{
		Status:     out.Status,
		StatusText: out.StatusText,
		Header:     header,
		Body:       out.BodyText,
	}, nil
}

// pageFetchScript builds the expression evaluated in the tab. The URL and
// init are embedded as JSON literals so no caller input is parsed as code.
func pageFetchScript(rawURL string, init protocol.RequestInit) (string, error) {
	u, err := json.Marshal(rawURL)
	if err != nil {
		return "", err
	}
	opts := map[string]any{
		"method":      init.Method,
		"headers":     init.Headers,
		"credentials": string(init.Credentials),
	}
	if init.Body != "" {
		opts["body"] = init.Body
	}
	if init.Mode != "" {
		opts["mode"] = init.Mode
	}
	if init.Cache != "" {
		opts["cache"] = init.Cache
	}
	o, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`(async function () {
  try {
    var res = await fetch(%s, %s);
    var headers = {};
    res.headers.forEach(function (value, key) { headers[key.toLowerCase()] = value; });
    var bodyText = await res.text();
    return { status: res.status, statusText: res.statusText, headers: headers, bodyText: bodyText };
  } catch (e) {
    return { error: String((e && e.message) || e) };
  }
})()`, u, o), nil
}
