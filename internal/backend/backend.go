// File: internal/backend/backend.go

// Package backend provides the automation backend variants the engine drives
// pages with, and the selector that picks a working one. Three variants
// exist: a CDP-driven headless Chrome (chromedp), a Playwright-driven
// Chromium, and a static HTTP fetcher that needs no external process.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/voyager/api/schemas"
)

// State is the lifecycle state of a backend instance.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateBusy
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Backend is the common capability surface of all automation variants.
// Implementations are not safe for concurrent actions; the owning session
// serializes access. A backend that enters StateFailed must be discarded and
// replaced through the Selector.
type Backend interface {
	Kind() schemas.BackendKind
	Capabilities() schemas.Capabilities
	State() State

	// Navigate loads url and blocks until the page is ready or the timeout
	// elapses.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// CurrentURL returns the URL of the loaded page, empty before the first
	// navigation.
	CurrentURL() string
	// PageSource returns the current document serialized as HTML.
	PageSource(ctx context.Context) (string, error)
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Click dispatches a click on the first element matching the CSS selector.
	Click(ctx context.Context, selector string) error
	// TypeText types text into the element matching the CSS selector.
	TypeText(ctx context.Context, selector, text string) error
	// Scroll moves the viewport by distance pixels in direction ("up"/"down").
	Scroll(ctx context.Context, direction string, distance int) error
	// SubmitForm submits values to action with the given method ("get" or
	// "post") and loads the resulting page.
	SubmitForm(ctx context.Context, action, method string, values map[string][]string, timeout time.Duration) error
	// SetHeaders applies extra HTTP headers to all subsequent requests,
	// merged over the configured defaults.
	SetHeaders(ctx context.Context, headers map[string]string) error

	// Close releases every resource the backend holds, including any external
	// browser process. It is safe to call more than once.
	Close(ctx context.Context) error
}

// lifecycle implements the shared Uninitialized -> Ready -> Busy ->
// Ready|Failed state machine. Backends embed it and bracket each action with
// begin/finish.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) markReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateReady
}

func (l *lifecycle) markFailed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateFailed
}

// begin transitions Ready -> Busy. Actions on a failed or uninitialized
// instance are refused.
func (l *lifecycle) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateReady:
		l.state = StateBusy
		return nil
	case StateBusy:
		return fmt.Errorf("backend is busy: concurrent action on one instance")
	default:
		return fmt.Errorf("backend is %s: %w", l.state, ErrBackendUnavailable)
	}
}

// finish transitions Busy -> Ready on success, Busy -> Failed on error.
// A refused capability-gated action leaves the instance healthy.
func (l *lifecycle) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil && !errors.Is(err, ErrActionUnsupported) {
		l.state = StateFailed
		return
	}
	l.state = StateReady
}
