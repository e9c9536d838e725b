// Package cdp drives Chrome through chromedp
package cdp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/locator"
	"dev/bravebird/flow-verify/pkg/models"
)

const pollInterval = 100 * time.Millisecond

// Driver launches Chrome through a chromedp exec allocator
type Driver struct {
	opts driver.Options
}

// New creates a chromedp driver
func New(opts driver.Options) *Driver {
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return "chromedp" }

func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if d.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if d.opts.Width > 0 && d.opts.Height > 0 {
		opts = append(opts, chromedp.WindowSize(d.opts.Width, d.opts.Height))
	}

	bin := d.opts.ChromeBin
	if bin == "" {
		bin = os.Getenv("CHROME_BIN")
	}
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}
	return opts
}

// Open starts a browser and its first tab.
// The browser lives until Close; ctx only bounds the startup.
func (d *Driver) Open(ctx context.Context) (driver.Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	p := &Page{tab: tabCtx, cancel: func() {
		tabCancel()
		allocCancel()
	}}

	// The first Run starts the browser
	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if d.opts.Width > 0 && d.opts.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(d.opts.Width), int64(d.opts.Height), 1, false))
	}
	if err := p.run(ctx, actions...); err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return p, nil
}

// Page is a chromedp backed tab
type Page struct {
	tab    context.Context
	cancel context.CancelFunc
}

type probeResult struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// run executes actions on the tab, aborting them when ctx is done
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return &driver.NavigationError{URL: url, Err: err}
	}
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return p.wait(ctx, loc, driver.StateVisible, timeout, "")
}

func (p *Page) WaitHidden(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return p.wait(ctx, loc, driver.StateHidden, timeout, "")
}

func (p *Page) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	mark := uuid.NewString()
	if err := p.wait(ctx, loc, driver.StateVisible, timeout, mark); err != nil {
		return err
	}

	sel := fmt.Sprintf("[%s=%q]", locator.MarkAttribute, mark)
	desc := locator.Describe(loc)
	err := driver.WithinTimeout(ctx, desc, driver.StateVisible, timeout, func(ctx context.Context) error {
		return p.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
	})
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", desc, err)
	}
	return nil
}

// wait polls the probe inside the page until the target reaches want.
// A non-empty mark tags the visible element so a follow-up query can find it.
func (p *Page) wait(ctx context.Context, loc models.Locator, want driver.State, timeout time.Duration, mark string) error {
	q, err := locator.Compile(loc)
	if err != nil {
		return err
	}
	desc := locator.Describe(loc)

	var res probeResult
	err = p.run(ctx, chromedp.PollFunction(locator.ProbeJS(), &res,
		chromedp.WithPollingArgs(q, string(want), mark),
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(pollInterval),
	))
	switch {
	case errors.Is(err, chromedp.ErrPollingTimeout):
		return &driver.TimeoutError{Locator: desc, State: want, Timeout: timeout}
	case err != nil:
		return err
	case res.Count > 1:
		return &driver.StrictModeError{Locator: desc, Count: res.Count}
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

// Close cancels the tab and the allocator, which terminates the browser
func (p *Page) Close() error {
	p.cancel()
	return nil
}
