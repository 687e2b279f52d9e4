// File: internal/backend/cdp.go
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/config"
)

const cdpProbeTimeout = 30 * time.Second

// CDPBackend drives a headless Chrome process over the Chrome DevTools
// Protocol. One browser process is owned per instance; Close releases it on
// every exit path.
type CDPBackend struct {
	lifecycle

	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

var _ Backend = (*CDPBackend)(nil)

// NewCDPBackend launches the browser process and probes it with a cheap
// navigation. A probe failure tears the process down and is reported to the
// selector as a soft error.
func NewCDPBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*CDPBackend, error) {
	b := &CDPBackend{logger: logger.Named("cdp")}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel

	probeCtx, cancelProbe := context.WithTimeout(browserCtx, cdpProbeTimeout)
	defer cancelProbe()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	b.markReady()
	b.logger.Debug("Chrome launched and responsive.")
	return b, nil
}

// buildAllocatorOptions assembles the flags for a stable headless instance.
func buildAllocatorOptions(cfg *config.Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.Browser.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Browser.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.Browser.UserAgent),
	)
	for _, arg := range cfg.Browser.Args {
		if name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "="); found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
		}
	}
	return opts
}

func (b *CDPBackend) Kind() schemas.BackendKind { return schemas.BackendCDP }

func (b *CDPBackend) Capabilities() schemas.Capabilities {
	return schemas.Capabilities{
		SupportsJS:          true,
		SupportsScreenshot:  true,
		SupportsInteraction: true,
	}
}

// run executes chromedp actions against the browser context, bounded by ctx
// and the optional timeout, and classifies deadline errors.
func (b *CDPBackend) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := combineContext(b.browserCtx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
		defer cancelTimeout()
	}

	err := chromedp.Run(opCtx, actions...)
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrActionTimeout, err)
	}
	return err
}

func (b *CDPBackend) Navigate(ctx context.Context, target string, timeout time.Duration) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.run(ctx, timeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil && !errors.Is(err, ErrActionTimeout) {
		err = fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}
	b.finish(err)
	return err
}

func (b *CDPBackend) CurrentURL() string {
	var location string
	ctx, cancel := context.WithTimeout(b.browserCtx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return ""
	}
	if location == "about:blank" {
		return ""
	}
	return location
}

func (b *CDPBackend) PageSource(ctx context.Context) (string, error) {
	if err := b.begin(); err != nil {
		return "", err
	}
	var source string
	err := b.run(ctx, 0, chromedp.OuterHTML("html", &source, chromedp.ByQuery))
	b.finish(err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return source, nil
}

func (b *CDPBackend) Screenshot(ctx context.Context) ([]byte, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	var buf []byte
	err := b.run(ctx, 0, chromedp.CaptureScreenshot(&buf))
	b.finish(err)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *CDPBackend) Click(ctx context.Context, selector string) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
	b.finish(err)
	return err
}

func (b *CDPBackend) TypeText(ctx context.Context, selector, text string) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	b.finish(err)
	return err
}

func (b *CDPBackend) Scroll(ctx context.Context, direction string, distance int) error {
	if err := b.begin(); err != nil {
		return err
	}
	delta := distance
	if strings.EqualFold(direction, "up") {
		delta = -distance
	}
	err := b.run(ctx, 0,
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta), nil),
	)
	b.finish(err)
	return err
}

// SubmitForm loads the form target. GET submissions navigate directly with
// the encoded query; POST submissions inject and submit a synthetic form so
// the browser performs a real document POST.
func (b *CDPBackend) SubmitForm(ctx context.Context, action, method string, values map[string][]string, timeout time.Duration) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.submitForm(ctx, action, method, values, timeout)
	b.finish(err)
	return err
}

func (b *CDPBackend) submitForm(ctx context.Context, action, method string, values map[string][]string, timeout time.Duration) error {
	if !strings.EqualFold(method, "post") {
		target, err := mergeQuery(action, values)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
		}
		return b.run(ctx, timeout,
			chromedp.Navigate(target),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}

	fieldsJSON, err := jsoniter.MarshalToString(values)
	if err != nil {
		return fmt.Errorf("failed to encode form values: %w", err)
	}
	actionJSON, _ := jsoniter.MarshalToString(action)
	script := fmt.Sprintf(`(function(action, fields) {
		const form = document.createElement('form');
		form.method = 'POST';
		form.action = action;
		for (const [name, list] of Object.entries(fields)) {
			for (const value of list) {
				const input = document.createElement('input');
				input.type = 'hidden';
				input.name = name;
				input.value = value;
				form.appendChild(input);
			}
		}
		document.body.appendChild(form);
		form.submit();
	})(%s, %s)`, actionJSON, fieldsJSON)

	return b.run(ctx, timeout,
		chromedp.Evaluate(script, nil),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// SetHeaders applies extra headers to every subsequent request through the
// DevTools network domain.
func (b *CDPBackend) SetHeaders(ctx context.Context, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	extra := make(network.Headers, len(headers))
	for k, v := range headers {
		extra[k] = v
	}
	return b.run(ctx, 0,
		network.Enable(),
		network.SetExtraHTTPHeaders(extra),
	)
}

// Close tears down the browser context and the allocator, terminating the
// external Chrome process. Safe to call multiple times.
func (b *CDPBackend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
		b.logger.Debug("Chrome process released.")
	})
	return nil
}

// mergeQuery appends encoded values to the action URL's query string.
func mergeQuery(action string, values map[string][]string) (string, error) {
	parsed, err := url.Parse(action)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	for name, list := range values {
		for _, value := range list {
			query.Add(name, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// combineContext derives a context cancelled when either parent is done.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
