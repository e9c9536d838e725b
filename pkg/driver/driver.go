package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dev/bravebird/flow-verify/pkg/models"
)

// State is the visibility state a wait expects
type State string

const (
	StateVisible State = "visible"
	StateHidden  State = "hidden"
)

// Driver launches browser pages
type Driver interface {
	Name() string
	Open(ctx context.Context) (Page, error)
}

// Page is a single browser tab driven by a scenario.
// Wait and click operations are strict: a locator matching more than one
// element fails immediately with a StrictModeError.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error
	WaitHidden(ctx context.Context, loc models.Locator, timeout time.Duration) error
	Click(ctx context.Context, loc models.Locator, timeout time.Duration) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Options configures how a driver launches the browser
type Options struct {
	Headless  bool
	ChromeBin string
	NoSandbox bool
	Width     int
	Height    int
}

// DefaultOptions returns headless options sized like a desktop viewport
func DefaultOptions() Options {
	return Options{
		Headless:  true,
		NoSandbox: true,
		Width:     1280,
		Height:    800,
	}
}

// ==================== Errors ====================

var (
	// ErrTimeout matches any TimeoutError
	ErrTimeout = errors.New("timeout")
	// ErrStrictMode matches any StrictModeError
	ErrStrictMode = errors.New("strict mode violation")
	// ErrNavigation matches any NavigationError
	ErrNavigation = errors.New("navigation failed")
	// ErrUnknownDriver is returned by New for unregistered names
	ErrUnknownDriver = errors.New("unknown driver")
)

// TimeoutError is returned when a target does not reach the wanted state in time
type TimeoutError struct {
	Locator string
	State   State
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout %s exceeded waiting for %s to be %s", e.Timeout, e.Locator, e.State)
}

// Is reports whether target is ErrTimeout
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// StrictModeError is returned when a locator resolves to more than one element
type StrictModeError struct {
	Locator string
	Count   int
}

func (e *StrictModeError) Error() string {
	return fmt.Sprintf("strict mode violation: %s resolved to %d elements", e.Locator, e.Count)
}

// Is reports whether target is ErrStrictMode
func (e *StrictModeError) Is(target error) bool {
	return target == ErrStrictMode
}

// NavigationError is returned when the target address cannot be loaded,
// typically because the application is not running
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("failed to navigate to %s (is the application running?): %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrNavigation
func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

// Timeout converts a wait that ended because its own deadline passed into a TimeoutError.
// Cancellation of the caller's context is returned unchanged.
func Timeout(parent context.Context, err error, loc string, state State, d time.Duration) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Locator: loc, State: state, Timeout: d}
	}
	return err
}

// WithinTimeout runs an action on an already visible target under its own
// deadline. An action still blocked when the deadline passes fails with a TimeoutError.
func WithinTimeout(ctx context.Context, loc string, state State, d time.Duration, action func(context.Context) error) error {
	actionCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := action(actionCtx)
	if err != nil && actionCtx.Err() != nil {
		return Timeout(ctx, context.DeadlineExceeded, loc, state, d)
	}
	return err
}
