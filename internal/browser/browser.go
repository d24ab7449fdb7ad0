// Package browser connects the engine to a live page through the Chrome
// DevTools protocol: it captures DOM snapshots with computed visibility and
// layout, waits for the page to settle and performs input for the smoke run.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/wait"
)

// Browser owns one Chrome tab.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	clock       wait.Clock
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ dom.Source = (*Browser)(nil)

// DefaultAllocatorOptions builds the Chrome launch flags for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Launch starts Chrome and opens cfg.URL. The session lasts until Close or
// until ctx is done.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		clock:       wait.NewRealClock(),
		logger:      logger.Named("browser"),
	}

	if err := chromedp.Run(tabCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if cfg.URL != "" {
		if err := b.Navigate(ctx, cfg.URL); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

// Navigate loads url and waits for the body to be ready.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	timeout := b.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	err := b.run(ctx, timeout, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	b.logger.Info("Page loaded.", zap.String("url", url))
	return nil
}

// run executes actions on the tab, bounded by the caller's ctx and timeout.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("browser is closed")
	}

	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Snapshot captures the current page. It makes Browser a dom.Source.
func (b *Browser) Snapshot(ctx context.Context) (*dom.Document, error) {
	return b.Capture(ctx)
}

// Capture takes a DOM snapshot with the computed styles and layout bounds
// the validator relies on.
func (b *Browser) Capture(ctx context.Context) (*dom.Document, error) {
	var (
		docs []*domsnapshot.DocumentSnapshot
		strs []string
		size [2]float64
	)
	err := b.run(ctx, 0,
		chromedp.ActionFunc(func(c context.Context) error {
			var err error
			docs, strs, err = domsnapshot.CaptureSnapshot(snapshotStyles).WithIncludeDOMRects(true).Do(c)
			return err
		}),
		chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &size),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	doc, err := FromSnapshot(docs, strs, dom.Rect{Width: size[0], Height: size[1]})
	if err != nil {
		return nil, err
	}
	b.logger.Debug("Snapshot captured.", zap.Int("elements", len(doc.Elements())))
	return doc, nil
}

// Settle waits until the number of elements on the page stops changing
// between two polls, or the settle timeout elapses. A timeout is not an
// error: a page that keeps mutating is scanned as it is.
func (b *Browser) Settle(ctx context.Context) error {
	sample := func(ctx context.Context) (int, error) {
		var n int
		err := b.run(ctx, 0, chromedp.Evaluate(`document.getElementsByTagName('*').length`, &n))
		return n, err
	}
	err := wait.Stable(ctx, b.clock, sample, b.cfg.SettleTimeout, b.cfg.SettleInterval)
	if errors.Is(err, wait.ErrTimeout) {
		b.logger.Debug("Page did not settle before the timeout.", zap.Duration("timeout", b.cfg.SettleTimeout))
		return nil
	}
	return err
}

// Interactor returns input primitives bound to this tab.
func (b *Browser) Interactor() *Interactor { return &Interactor{browser: b} }

// Close shuts the tab and the browser process.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
	b.allocCancel()
	b.logger.Debug("Browser closed.")
}
