package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// ChromeLauncher launches Chrome processes via chromedp.
type ChromeLauncher struct {
	cfg config.BrowserConfig
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher builds a launcher from browser configuration.
func NewChromeLauncher(cfg config.BrowserConfig) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg}
}

// Launch starts a fresh Chrome process with an isolated profile.
func (l *ChromeLauncher) Launch(ctx context.Context) (Instance, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &chromeInstance{
		cfg:           l.cfg,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

type chromeInstance struct {
	cfg           config.BrowserConfig
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

var _ Instance = (*chromeInstance)(nil)

// NewTab opens a new target in the running browser.
func (i *chromeInstance) NewTab(ctx context.Context) (Tab, error) {
	tabCtx, cancel := chromedp.NewContext(i.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	return &chromeTab{cfg: i.cfg, tabCtx: tabCtx, cancel: cancel}, nil
}

// Close cancels the browser context, killing the process and every open tab.
func (i *chromeInstance) Close() error {
	i.cancelBrowser()
	i.cancelAlloc()
	return nil
}

type chromeTab struct {
	cfg    config.BrowserConfig
	tabCtx context.Context
	cancel context.CancelFunc
}

var _ Tab = (*chromeTab)(nil)

func (t *chromeTab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := t.tabCtx
	var cancel context.CancelFunc

	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
	} else if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	}
	if cancel != nil {
		defer cancel()
	}

	return chromedp.Run(runCtx, actions...)
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	timeout := t.cfg.NavTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return t.run(ctx, timeout, chromedp.Navigate(url))
}

func (t *chromeTab) URL(ctx context.Context) (string, error) {
	var url string
	err := t.run(ctx, 5*time.Second, chromedp.Location(&url))
	return url, err
}

func (t *chromeTab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, 10*time.Second, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (t *chromeTab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, 10*time.Second, chromedp.Click(selector, chromedp.ByQuery))
}

func (t *chromeTab) Type(ctx context.Context, selector, text string) error {
	return t.run(ctx, 15*time.Second,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (t *chromeTab) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	err := t.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// timeout on an absent element is an expected probe result
		return false, nil
	}
	return true, nil
}

func (t *chromeTab) Exists(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return t.WaitVisible(ctx, selector, timeout)
}

func (t *chromeTab) Bounds(ctx context.Context, selector string) (Rect, error) {
	var rect Rect
	js := fmt.Sprintf(`(function() {
		const el = document.querySelector(%q);
		if (!el) { return {x: 0, y: 0, width: 0, height: 0}; }
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, selector)

	err := t.run(ctx, 5*time.Second, chromedp.Evaluate(js, &rect))
	return rect, err
}

func (t *chromeTab) MoveMouse(ctx context.Context, x, y float64) error {
	return t.run(ctx, 3*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
}

func (t *chromeTab) ClickAt(ctx context.Context, x, y float64) error {
	return t.run(ctx, 5*time.Second, chromedp.MouseClickXY(x, y))
}

func (t *chromeTab) Cookie(ctx context.Context, name string) (string, error) {
	var value string
	err := t.run(ctx, 5*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if c.Name == name {
				value = c.Value
				return nil
			}
		}
		return nil
	}))
	return value, err
}

func (t *chromeTab) Close() error {
	t.cancel()
	return nil
}
