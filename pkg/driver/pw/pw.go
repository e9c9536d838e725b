// Package pw drives Chromium through playwright-go
package pw

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/locator"
	"dev/bravebird/flow-verify/pkg/models"
)

// Driver launches Chromium through the Playwright driver process.
// The browsers must be installed beforehand (playwright install chromium).
type Driver struct {
	opts driver.Options
}

// New creates a playwright driver
func New(opts driver.Options) *Driver {
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return "playwright" }

func (d *Driver) Open(ctx context.Context) (driver.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	// Tooltips resolve through the shared resolver, registered before any page exists
	engine := playwright.Script{Content: playwright.String(locator.SelectorEngineJS())}
	if err := pw.Selectors.Register(locator.SelectorEngine, engine); err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to register selector engine: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
	}
	if d.opts.NoSandbox {
		launch.Args = []string{"--no-sandbox", "--disable-dev-shm-usage"}
	}
	if bin := d.opts.ChromeBin; bin != "" {
		launch.ExecutablePath = playwright.String(bin)
	} else if bin := os.Getenv("CHROME_BIN"); bin != "" {
		launch.ExecutablePath = playwright.String(bin)
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	pageOpts := playwright.BrowserNewPageOptions{}
	if d.opts.Width > 0 && d.opts.Height > 0 {
		pageOpts.Viewport = &playwright.Size{Width: d.opts.Width, Height: d.opts.Height}
	}
	page, err := browser.NewPage(pageOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &Page{pw: pw, browser: browser, page: page}, nil
}

// Page is a playwright backed page
type Page struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url); err != nil {
		return &driver.NavigationError{URL: url, Err: err}
	}
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return p.wait(ctx, loc, driver.StateVisible, timeout)
}

func (p *Page) WaitHidden(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return p.wait(ctx, loc, driver.StateHidden, timeout)
}

func (p *Page) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	if err := p.wait(ctx, loc, driver.StateVisible, timeout); err != nil {
		return err
	}
	err := p.locate(loc).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return p.convert(err, loc, driver.StateVisible, timeout)
	}
	return nil
}

func (p *Page) wait(ctx context.Context, loc models.Locator, want driver.State, timeout time.Duration) error {
	if err := locator.Validate(loc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	state := playwright.WaitForSelectorStateVisible
	if want == driver.StateHidden {
		state = playwright.WaitForSelectorStateHidden
	}
	err := p.locate(loc).WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return p.convert(err, loc, want, timeout)
	}
	return nil
}

// convert maps playwright errors onto the driver error taxonomy
func (p *Page) convert(err error, loc models.Locator, want driver.State, timeout time.Duration) error {
	desc := locator.Describe(loc)
	switch {
	case strings.Contains(err.Error(), "strict mode violation"):
		count, _ := p.locate(loc).Count()
		return &driver.StrictModeError{Locator: desc, Count: count}
	case errors.Is(err, playwright.ErrTimeout):
		return &driver.TimeoutError{Locator: desc, State: want, Timeout: timeout}
	}
	return err
}

// locate builds the native playwright locator for l
func (p *Page) locate(l models.Locator) playwright.Locator {
	var within playwright.Locator
	if l.Within != nil {
		within = p.locate(*l.Within)
	}

	var out playwright.Locator
	switch {
	case l.Role != "":
		role := playwright.AriaRole(l.Role)
		if within != nil {
			opts := playwright.LocatorGetByRoleOptions{Exact: playwright.Bool(l.Exact)}
			if l.Name != "" {
				opts.Name = l.Name
			}
			out = within.GetByRole(role, opts)
		} else {
			opts := playwright.PageGetByRoleOptions{Exact: playwright.Bool(l.Exact)}
			if l.Name != "" {
				opts.Name = l.Name
			}
			out = p.page.GetByRole(role, opts)
		}
	case l.Tooltip != "":
		// title, data-tooltip and aria-describedby alike, as on the other backends
		sel, _ := locator.EngineSelector(models.Locator{Tooltip: l.Tooltip, Exact: l.Exact})
		if within != nil {
			out = within.Locator(sel)
		} else {
			out = p.page.Locator(sel)
		}
	default:
		if within != nil {
			out = within.Locator(l.CSS)
		} else {
			out = p.page.Locator(l.CSS)
		}
	}

	if l.Has != nil {
		out = out.Filter(playwright.LocatorFilterOptions{Has: p.locate(*l.Has)})
	}
	return out
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	if _, err := p.page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)}); err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}
	return nil
}

// Close closes the browser and stops the playwright driver process
func (p *Page) Close() error {
	err := p.browser.Close()
	if stopErr := p.pw.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
