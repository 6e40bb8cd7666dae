// Package headless renders pages in headless Chrome so that stylesheets and scripts
// injected at runtime show up in the HTML handed to the scanner.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for late script and link tags.
	Settle time.Duration
	// ExecPath points at a specific Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
}

// Fetcher implements warmup.Fetcher using chromedp.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer. No browser is started until the first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the page and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request warmup.FetchRequest) (warmup.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return warmup.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	// Tie the tab to the caller without cancelling the shared browser.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	tracker := newPageTracker()
	chromedp.ListenTarget(taskCtx, tracker.handle)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, request)
	if err != nil {
		return warmup.FetchResponse{}, err
	}

	status, headers, docURL := tracker.document(request.URL, finalURL)
	css, js := tracker.subresources()
	f.logger.Debug("page rendered",
		zap.String("url", docURL),
		zap.Int("status", status),
		zap.Int("stylesheets", css),
		zap.Int("scripts", js),
		zap.Duration("duration", time.Since(start)),
	)

	return warmup.FetchResponse{
		URL:          docURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request warmup.FetchRequest) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{
		f.setupNetwork(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("render %s: %w", request.URL, err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) setupNetwork(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

// pageTracker records the main document response and counts the stylesheet and
// script responses the page pulled in while rendering.
type pageTracker struct {
	mu          sync.Mutex
	status      int
	headers     http.Header
	url         string
	stylesheets int
	scripts     int
}

func newPageTracker() *pageTracker {
	return &pageTracker{headers: http.Header{}}
}

func (p *pageTracker) handle(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		p.observe(resp)
	}
}

func (p *pageTracker) observe(event *network.EventResponseReceived) {
	if event.Response == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch event.Type {
	case network.ResourceTypeStylesheet:
		p.stylesheets++
	case network.ResourceTypeScript:
		p.scripts++
	case network.ResourceTypeDocument:
		if p.url != "" {
			// Frames also report documents; keep the first one.
			return
		}
		p.status = int(event.Response.Status)
		p.headers = fromNetworkHeaders(event.Response.Headers)
		p.url = event.Response.URL
	}
}

func (p *pageTracker) document(requestURL, finalURL string) (int, http.Header, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, url := p.status, p.url
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, p.headers.Clone(), url
}

func (p *pageTracker) subresources() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stylesheets, p.scripts
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
