// Package gorod drives Chrome through go-rod
package gorod

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/locator"
	"dev/bravebird/flow-verify/pkg/models"
)

const (
	pollInit = 50 * time.Millisecond
	pollMax  = 500 * time.Millisecond
)

// Driver launches Chrome with go-rod's launcher
type Driver struct {
	opts driver.Options
}

// New creates a go-rod driver
func New(opts driver.Options) *Driver {
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return "rod" }

// Open launches a browser and returns a blank page
func (d *Driver) Open(ctx context.Context) (driver.Page, error) {
	l := launcher.New().Context(ctx)

	// Use CHROME_BIN if set (Docker environment)
	if d.opts.ChromeBin != "" {
		l = l.Bin(d.opts.ChromeBin)
	} else if chromeBin := os.Getenv("CHROME_BIN"); chromeBin != "" {
		l = l.Bin(chromeBin)
	}

	l = l.Headless(d.opts.Headless)
	if d.opts.NoSandbox {
		l = l.Set("no-sandbox")
	}
	l = l.Set("disable-gpu")
	l = l.Set("disable-dev-shm-usage")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		l.Cleanup()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if d.opts.Width > 0 && d.opts.Height > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             d.opts.Width,
			Height:            d.opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			browser.Close()
			l.Cleanup()
			return nil, fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	return &Page{browser: browser, page: page, launcher: l}, nil
}

// Page is a go-rod backed page
type Page struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return &driver.NavigationError{URL: url, Err: err}
	}
	if err := pg.WaitLoad(); err != nil {
		return &driver.NavigationError{URL: url, Err: err}
	}
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	_, err := p.wait(ctx, loc, driver.StateVisible, timeout)
	return err
}

func (p *Page) WaitHidden(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	_, err := p.wait(ctx, loc, driver.StateHidden, timeout)
	return err
}

func (p *Page) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	el, err := p.wait(ctx, loc, driver.StateVisible, timeout)
	if err != nil {
		return err
	}
	desc := locator.Describe(loc)
	err = driver.WithinTimeout(ctx, desc, driver.StateVisible, timeout, func(ctx context.Context) error {
		return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	})
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", desc, err)
	}
	return nil
}

// wait polls the resolver until the target reaches want, returning the
// visible element when want is StateVisible
func (p *Page) wait(ctx context.Context, loc models.Locator, want driver.State, timeout time.Duration) (*rod.Element, error) {
	q, err := locator.Compile(loc)
	if err != nil {
		return nil, err
	}
	desc := locator.Describe(loc)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pg := p.page.Context(waitCtx)

	var found *rod.Element
	err = utils.Retry(waitCtx, utils.BackoffSleeper(pollInit, pollMax, nil), func() (bool, error) {
		els, err := pg.ElementsByJS(rod.Eval(locator.QueryJS(), q))
		if err != nil {
			return true, err
		}
		if len(els) > 1 {
			return true, &driver.StrictModeError{Locator: desc, Count: len(els)}
		}

		visible := false
		if len(els) == 1 {
			if visible, err = els[0].Visible(); err != nil {
				return true, err
			}
		}

		switch {
		case want == driver.StateVisible && visible:
			found = els[0]
			return true, nil
		case want == driver.StateHidden && !visible:
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, driver.Timeout(ctx, err, desc, want, timeout)
	}
	return found, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	data, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

// Close shuts the browser down and removes its profile directory
func (p *Page) Close() error {
	err := p.browser.Close()
	p.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
