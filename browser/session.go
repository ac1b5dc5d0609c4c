// Package browser drives a headless Chrome instance over the DevTools
// protocol. Sessions route all traffic through the capture proxy so
// everything the browser does lands in the proxy history.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
)

const maxContentChars = 50000

// PageState is a snapshot of the current page.
type PageState struct {
	URL     string
	Title   string
	Content string
}

// Session is one browser tab bound to the proxy.
type Session struct {
	mu          sync.Mutex
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
}

// NewSession launches Chrome. proxyURL may be empty to connect
// directly.
func NewSession(cfg config.BrowserConfig, proxyURL string, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	logger.Info("browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.String("proxy", proxyURL))

	return &Session{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// run executes chromedp actions with the configured navigation
// timeout.
func (s *Session) run(actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("browser session closed")
	}

	ctx := s.ctx
	if s.cfg.NavTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NavTimeout)
		defer cancel()
	}
	return chromedp.Run(ctx, actions...)
}

// Navigate loads a URL and waits for the page to settle.
func (s *Session) Navigate(url string) error {
	s.logger.Debug("navigating", zap.String("url", url))
	return s.run(
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// State returns URL, title and the page HTML, truncated.
func (s *Session) State() (*PageState, error) {
	state := &PageState{}
	var content string

	err := s.run(
		chromedp.Location(&state.URL),
		chromedp.Title(&state.Title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			content, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	state.Content = Truncate(content, maxContentChars)
	return state, nil
}

// Screenshot captures the full page as PNG-encoded bytes.
func (s *Session) Screenshot() ([]byte, error) {
	var buf []byte
	if err := s.run(chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Eval runs JavaScript in the page and returns the JSON-encoded
// result.
func (s *Session) Eval(expr string) (string, error) {
	// a []byte target makes chromedp return the raw JSON value
	var result []byte
	err := s.run(chromedp.Evaluate(expr, &result))
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	return string(result), nil
}

// Click clicks the first element matching the CSS selector.
func (s *Session) Click(selector string) error {
	return s.run(chromedp.Click(selector, chromedp.ByQuery))
}

// Type clears a field and types into it.
func (s *Session) Type(selector, text string) error {
	return s.run(
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Wait blocks until the selector is visible or the nav timeout fires.
func (s *Session) Wait(selector string) error {
	return s.run(chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing browser session")

	done := make(chan struct{})
	go func() {
		s.cancel()
		s.allocCancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

// Truncate cuts s to at most n characters, appending a marker when
// content was dropped.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... [truncated]"
}
