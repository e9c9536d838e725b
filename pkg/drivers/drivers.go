// Package drivers selects a browser driver backend by name
package drivers

import (
	"fmt"
	"sort"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/driver/cdp"
	"dev/bravebird/flow-verify/pkg/driver/gorod"
	"dev/bravebird/flow-verify/pkg/driver/pw"
)

// Default is the backend used when no name is given
const Default = "rod"

// Factory creates a driver from launch options
type Factory func(opts driver.Options) driver.Driver

var factories = map[string]Factory{
	"rod":        func(opts driver.Options) driver.Driver { return gorod.New(opts) },
	"chromedp":   func(opts driver.Options) driver.Driver { return cdp.New(opts) },
	"playwright": func(opts driver.Options) driver.Driver { return pw.New(opts) },
}

// New returns the driver registered under name
func New(name string, opts driver.Options) (driver.Driver, error) {
	if name == "" {
		name = Default
	}
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", driver.ErrUnknownDriver, name, Names())
	}
	return f(opts), nil
}

// Names lists the registered backends
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
