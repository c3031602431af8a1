package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeOptions configures the headless Chrome surface
type ChromeOptions struct {
	Width       int
	Height      int
	LoadTimeout time.Duration
	ExecPath    string // empty lets chromedp find the browser
}

// DefaultChromeOptions returns a 360x100 viewport with a 10s load bound
func DefaultChromeOptions() ChromeOptions {
	return ChromeOptions{
		Width:       360,
		Height:      100,
		LoadTimeout: 10 * time.Second,
	}
}

// Chrome is an Engine backed by one headless Chrome process and one tab
type Chrome struct {
	opts      ChromeOptions
	logger    *zap.Logger
	parentCtx context.Context

	// mu serializes launch, render and teardown on the single tab
	mu          sync.Mutex
	ready       atomic.Bool
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// NewChrome creates a Down handle. parentCtx is the root of the browser
// process; cancelling it kills Chrome.
func NewChrome(parentCtx context.Context, opts ChromeOptions, logger *zap.Logger) *Chrome {
	def := DefaultChromeOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = def.LoadTimeout
	}

	return &Chrome{
		opts:      opts,
		logger:    logger,
		parentCtx: parentCtx,
	}
}

// Ready reports whether the browser and tab are up
func (c *Chrome) Ready() bool {
	return c.ready.Load()
}

// EnsureReady launches Chrome and prepares the tab if the handle is Down
func (c *Chrome) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tabCtx != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &LaunchError{Err: err}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(c.opts.Width, c.opts.Height),
	)
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}

	start := time.Now()
	allocCtx, allocCancel := chromedp.NewExecAllocator(c.parentCtx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
		chromedp.WithErrorf(c.logger.Sugar().Debugf),
	)

	// The first Run allocates the browser, so it must use the long-lived
	// tab context rather than a timeout child.
	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height)),
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return &LaunchError{Err: fmt.Errorf("start chrome: %w", err)}
	}

	c.tabCtx = tabCtx
	c.tabCancel = tabCancel
	c.allocCancel = allocCancel
	c.ready.Store(true)

	c.logger.Info("Render engine launched",
		zap.Int("viewport_width", c.opts.Width),
		zap.Int("viewport_height", c.opts.Height),
		zap.Duration("startup", time.Since(start)))

	return nil
}

// RenderToImage replaces the tab's document with markup, waits for the body
// to be attached and captures the viewport. Network idle is not awaited.
func (c *Chrome) RenderToImage(ctx context.Context, markup string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tabCtx == nil {
		return nil, &RenderError{Stage: "load", Err: ErrNotReady}
	}

	opCtx, cancel := context.WithTimeout(c.tabCtx, c.opts.LoadTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, &RenderError{Stage: "load", Err: err}
	}

	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, &RenderError{Stage: "capture", Err: err}
	}

	return buf, nil
}

// Teardown closes the browser, ignoring close errors, and leaves the handle Down
func (c *Chrome) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tabCtx == nil {
		return
	}

	if err := chromedp.Cancel(c.tabCtx); err != nil {
		c.logger.Debug("Error closing browser", zap.Error(err))
	}
	c.tabCancel()
	c.allocCancel()

	c.tabCtx = nil
	c.tabCancel = nil
	c.allocCancel = nil
	c.ready.Store(false)

	c.logger.Info("Render engine torn down")
}
