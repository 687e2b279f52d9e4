// File: internal/backend/playwright.go
package backend

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/config"
)

// PlaywrightBackend drives Chromium through the Playwright protocol. It is the
// second rich variant in the fallback chain: same capability surface as the
// CDP backend, different driver, so a chromedp-specific failure does not take
// out JS rendering entirely.
type PlaywrightBackend struct {
	lifecycle

	logger *zap.Logger

	pw        *playwright.Playwright
	browser   playwright.Browser
	bCtx      playwright.BrowserContext
	page      playwright.Page
	closeOnce sync.Once
}

var _ Backend = (*PlaywrightBackend)(nil)

// NewPlaywrightBackend starts the Playwright driver and opens a fresh browser
// context with one page. The driver binary must already be installed; a
// missing driver surfaces as a soft initialization failure and the selector
// moves on.
func NewPlaywrightBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*PlaywrightBackend, error) {
	b := &PlaywrightBackend{logger: logger.Named("playwright")}

	pw, err := playwright.Run(&playwright.RunOptions{Verbose: false, Stdout: io.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	b.pw = pw

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Browser.Headless),
		Args:     cfg.Browser.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	b.browser = browser

	bCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(cfg.Browser.UserAgent),
		IgnoreHttpsErrors: playwright.Bool(cfg.Browser.IgnoreTLSErrors),
		Viewport:          &playwright.Size{Width: 1280, Height: 800},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	b.bCtx = bCtx

	if len(cfg.Network.Headers) > 0 {
		if err := bCtx.SetExtraHTTPHeaders(cfg.Network.Headers); err != nil {
			b.logger.Warn("Failed to apply extra headers.", zap.Error(err))
		}
	}

	page, err := bCtx.NewPage()
	if err != nil {
		_ = bCtx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	b.page = page

	b.markReady()
	b.logger.Debug("Playwright Chromium launched.")
	return b, nil
}

func (b *PlaywrightBackend) Kind() schemas.BackendKind { return schemas.BackendPlaywright }

func (b *PlaywrightBackend) Capabilities() schemas.Capabilities {
	return schemas.Capabilities{
		SupportsJS:          true,
		SupportsScreenshot:  true,
		SupportsInteraction: true,
	}
}

// classify maps Playwright errors onto the shared failure taxonomy. The
// driver does not export its timeout error type, so deadline overruns are
// recognized by message.
func classify(err error, fallback error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "Timeout") || strings.Contains(err.Error(), "timeout") {
		return fmt.Errorf("%w: %v", ErrActionTimeout, err)
	}
	if fallback != nil {
		return fmt.Errorf("%w: %v", fallback, err)
	}
	return err
}

func (b *PlaywrightBackend) Navigate(ctx context.Context, target string, timeout time.Duration) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.goTo(target, timeout)
	b.finish(err)
	return err
}

func (b *PlaywrightBackend) goTo(target string, timeout time.Duration) error {
	opts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	_, err := b.page.Goto(target, opts)
	return classify(err, ErrNavigationFailed)
}

func (b *PlaywrightBackend) CurrentURL() string {
	u := b.page.URL()
	if u == "about:blank" {
		return ""
	}
	return u
}

func (b *PlaywrightBackend) PageSource(ctx context.Context) (string, error) {
	if err := b.begin(); err != nil {
		return "", err
	}
	source, err := b.page.Content()
	err = classify(err, ErrExtractionFailed)
	b.finish(err)
	return source, err
}

func (b *PlaywrightBackend) Screenshot(ctx context.Context) ([]byte, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	buf, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	err = classify(err, nil)
	b.finish(err)
	return buf, err
}

func (b *PlaywrightBackend) Click(ctx context.Context, selector string) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := classify(b.page.Click(selector), nil)
	b.finish(err)
	return err
}

func (b *PlaywrightBackend) TypeText(ctx context.Context, selector, text string) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := classify(b.page.Fill(selector, text), nil)
	b.finish(err)
	return err
}

func (b *PlaywrightBackend) Scroll(ctx context.Context, direction string, distance int) error {
	if err := b.begin(); err != nil {
		return err
	}
	delta := distance
	if strings.EqualFold(direction, "up") {
		delta = -distance
	}
	_, err := b.page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta))
	err = classify(err, nil)
	b.finish(err)
	return err
}

// SubmitForm mirrors the CDP variant: GET navigates with the encoded query,
// POST injects a synthetic form and submits it for a real document POST.
func (b *PlaywrightBackend) SubmitForm(ctx context.Context, action, method string, values map[string][]string, timeout time.Duration) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.submitForm(action, method, values, timeout)
	b.finish(err)
	return err
}

func (b *PlaywrightBackend) submitForm(action, method string, values map[string][]string, timeout time.Duration) error {
	if !strings.EqualFold(method, "post") {
		parsed, err := url.Parse(action)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
		}
		query := parsed.Query()
		for name, list := range values {
			for _, value := range list {
				query.Add(name, value)
			}
		}
		parsed.RawQuery = query.Encode()
		return b.goTo(parsed.String(), timeout)
	}

	fieldsJSON, err := jsoniter.MarshalToString(values)
	if err != nil {
		return fmt.Errorf("failed to encode form values: %w", err)
	}
	actionJSON, _ := jsoniter.MarshalToString(action)
	script := fmt.Sprintf(`(() => {
		const form = document.createElement('form');
		form.method = 'POST';
		form.action = %s;
		for (const [name, list] of Object.entries(%s)) {
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
	})()`, actionJSON, fieldsJSON)

	if _, err := b.page.Evaluate(script); err != nil {
		return classify(err, ErrNavigationFailed)
	}

	waitOpts := playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	}
	if timeout > 0 {
		waitOpts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	return classify(b.page.WaitForLoadState(waitOpts), ErrNavigationFailed)
}

// SetHeaders applies extra headers on the browser context for all subsequent
// requests.
func (b *PlaywrightBackend) SetHeaders(ctx context.Context, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	return b.bCtx.SetExtraHTTPHeaders(headers)
}

// Close shuts the page, context, browser and driver down in order. Errors on
// teardown are logged, not propagated.
func (b *PlaywrightBackend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		if b.page != nil {
			if err := b.page.Close(); err != nil {
				b.logger.Debug("Page close failed.", zap.Error(err))
			}
		}
		if b.bCtx != nil {
			if err := b.bCtx.Close(); err != nil {
				b.logger.Debug("Browser context close failed.", zap.Error(err))
			}
		}
		if b.browser != nil {
			if err := b.browser.Close(); err != nil {
				b.logger.Debug("Browser close failed.", zap.Error(err))
			}
		}
		if b.pw != nil {
			if err := b.pw.Stop(); err != nil {
				b.logger.Debug("Driver stop failed.", zap.Error(err))
			}
		}
		b.logger.Debug("Playwright released.")
	})
	return nil
}
