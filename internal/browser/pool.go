// Package browser drives the target site through chromedp: bringing up
// the shared browser context, handing each worker its own page, and
// guarding the one browser interaction workers cannot safely share
// concurrently — opening the PDF popup tab.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// PoolConfig configures the shared browser context.
type PoolConfig struct {
	Headless       bool
	BlockResources bool
	UserAgent      string
}

// Pool owns one browser context shared by every worker page. Workers
// never launch their own context; the site enforces a single active
// session and rejects concurrent logins from a second one.
type Pool struct {
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	mu    sync.Mutex
	pages []context.Context

	logger arbor.ILogger
}

// NewPool launches the browser and its single shared context. It does
// not create any worker pages; call NewPage for the first page and
// subsequent ones once the first is authenticated (§4.2 steps 1-5).
func NewPool(cfg PoolConfig, logger arbor.ILogger) (*Pool, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	if cfg.BlockResources {
		if err := installResourceBlock(browserCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to install resource blocking, continuing without it")
		}
	}

	logger.Info().Bool("headless", cfg.Headless).Bool("blockResources", cfg.BlockResources).Msg("browser launched")

	return &Pool{
		allocatorCtx:    allocatorCtx,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
	}, nil
}

// NewPage creates a new tab in the shared context and registers it with
// the pool, returning its index.
func (p *Pool) NewPage(ctx context.Context) (int, context.Context, error) {
	pageCtx, _ := chromedp.NewContext(p.browserCtx)
	if err := chromedp.Run(pageCtx, chromedp.Navigate("about:blank")); err != nil {
		return -1, nil, fmt.Errorf("open new page: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, pageCtx)
	return len(p.pages) - 1, pageCtx, nil
}

// Page returns the context for worker page index i.
func (p *Pool) Page(i int) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages[i]
}

// PageCount returns the number of pages created so far.
func (p *Pool) PageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

// BrowserContext exposes the shared context, needed by the PDF critical
// section to enumerate every page when scanning for stray popups.
func (p *Pool) BrowserContext() context.Context {
	return p.browserCtx
}

// Close tears down every page context and the browser, in that order,
// with a bounded timeout so a wedged renderer cannot hang shutdown
// indefinitely.
func (p *Pool) Close() {
	done := make(chan struct{})
	go func() {
		p.browserCancel()
		p.allocatorCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().Msg("browser shutdown timed out, forcing cancellation")
	}
}

func installResourceBlock(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return blockResourceTypes(ctx, []string{"Image", "Stylesheet", "Font", "Media"})
	}))
}
