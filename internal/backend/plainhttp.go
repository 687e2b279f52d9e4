// File: internal/backend/plainhttp.go
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/config"
	"github.com/xkilldash9x/voyager/internal/netutil"
)

const maxRedirects = 10

// PlainHTTPBackend fetches pages with a bare HTTP client and parses them into
// a static DOM. It has no external process dependency and always initializes,
// making it the guaranteed last resort in the fallback chain. JS execution,
// interaction and screenshots are out of its reach.
type PlainHTTPBackend struct {
	lifecycle

	logger    *zap.Logger
	client    *http.Client
	userAgent string
	headers   map[string]string

	mu         sync.RWMutex
	currentURL *url.URL
	currentDOM *html.Node
}

var _ Backend = (*PlainHTTPBackend)(nil)

// NewPlainHTTPBackend builds the static fetch backend. It cannot fail: the
// selector relies on it being always selectable.
func NewPlainHTTPBackend(cfg *config.Config, logger *zap.Logger) *PlainHTTPBackend {
	jar, _ := cookiejar.New(nil)
	b := &PlainHTTPBackend{
		logger:    logger.Named("plainhttp"),
		userAgent: cfg.Browser.UserAgent,
		headers:   cfg.Network.Headers,
		client: &http.Client{
			Transport: netutil.NewCompressionMiddleware(nil),
			Jar:       jar,
			// Redirects are followed manually for full control over state
			// updates along the chain.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	b.markReady()
	return b
}

func (b *PlainHTTPBackend) Kind() schemas.BackendKind { return schemas.BackendPlainHTTP }

func (b *PlainHTTPBackend) Capabilities() schemas.Capabilities {
	return schemas.Capabilities{
		SupportsJS:          false,
		SupportsScreenshot:  false,
		SupportsInteraction: false,
	}
}

// Navigate performs a GET and replaces the current document.
func (b *PlainHTTPBackend) Navigate(ctx context.Context, target string, timeout time.Duration) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.navigate(ctx, http.MethodGet, target, "", timeout)
	b.finish(err)
	return err
}

func (b *PlainHTTPBackend) navigate(ctx context.Context, method, target, body string, timeout time.Duration) error {
	resolved, err := b.resolveURL(target)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %q: %v", ErrNavigationFailed, target, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	b.prepareHeaders(req)

	return b.execute(ctx, req)
}

// execute sends the request and walks the redirect chain.
func (b *PlainHTTPBackend) execute(ctx context.Context, req *http.Request) error {
	current := req
	for i := 0; i < maxRedirects; i++ {
		b.logger.Debug("Executing request",
			zap.String("method", current.Method), zap.String("url", current.URL.String()))

		resp, err := b.client.Do(current)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", ErrActionTimeout, err)
			}
			return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			next, err := b.nextRedirectRequest(ctx, resp, current)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
			}
			current = next
			continue
		}

		return b.processResponse(resp)
	}
	return fmt.Errorf("%w: more than %d redirects", ErrNavigationFailed, maxRedirects)
}

func (b *PlainHTTPBackend) nextRedirectRequest(ctx context.Context, resp *http.Response, original *http.Request) (*http.Request, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("redirect response missing Location header")
	}
	nextURL, err := original.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("bad redirect Location %q: %w", location, err)
	}

	// 301/302/303 rewrite non-HEAD methods to GET and drop the body.
	method := original.Method
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, nextURL.String(), nil)
	if err != nil {
		return nil, err
	}
	b.prepareHeaders(req)
	req.Header.Set("Referer", original.URL.String())
	return req, nil
}

func (b *PlainHTTPBackend) processResponse(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Drain for connection reuse; an error page is still a failure.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("%w: server returned status %d for %s",
			ErrNavigationFailed, resp.StatusCode, resp.Request.URL)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") &&
		!strings.Contains(contentType, "application/xhtml") {
		b.logger.Debug("Response is not HTML, keeping URL without DOM.",
			zap.String("content_type", contentType))
		b.updateState(resp.Request.URL, nil)
		return nil
	}

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		b.updateState(resp.Request.URL, nil)
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	b.updateState(resp.Request.URL, doc)
	return nil
}

func (b *PlainHTTPBackend) updateState(newURL *url.URL, doc *html.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentURL = newURL
	b.currentDOM = doc
}

func (b *PlainHTTPBackend) CurrentURL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.currentURL == nil {
		return ""
	}
	return b.currentURL.String()
}

// PageSource serializes the parsed DOM back to HTML.
func (b *PlainHTTPBackend) PageSource(ctx context.Context) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.currentDOM == nil {
		return "<html><head></head><body></body></html>", nil
	}
	var sb strings.Builder
	if err := html.Render(&sb, b.currentDOM); err != nil {
		return "", fmt.Errorf("%w: failed to render DOM: %v", ErrExtractionFailed, err)
	}
	return sb.String(), nil
}

func (b *PlainHTTPBackend) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("screenshot: %w", ErrActionUnsupported)
}

func (b *PlainHTTPBackend) Click(ctx context.Context, selector string) error {
	return fmt.Errorf("click: %w", ErrActionUnsupported)
}

func (b *PlainHTTPBackend) TypeText(ctx context.Context, selector, text string) error {
	return fmt.Errorf("type: %w", ErrActionUnsupported)
}

func (b *PlainHTTPBackend) Scroll(ctx context.Context, direction string, distance int) error {
	return fmt.Errorf("scroll: %w", ErrActionUnsupported)
}

// SubmitForm encodes values per the form method and navigates to the result.
// GET appends the query string; POST sends a urlencoded body.
func (b *PlainHTTPBackend) SubmitForm(ctx context.Context, action, method string, values map[string][]string, timeout time.Duration) error {
	if err := b.begin(); err != nil {
		return err
	}
	err := b.submitForm(ctx, action, method, values, timeout)
	b.finish(err)
	return err
}

func (b *PlainHTTPBackend) submitForm(ctx context.Context, action, method string, values map[string][]string, timeout time.Duration) error {
	encoded := url.Values(values).Encode()
	if strings.EqualFold(method, "post") {
		return b.navigate(ctx, http.MethodPost, action, encoded, timeout)
	}

	target, err := b.resolveURL(action)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve form action %q: %v", ErrNavigationFailed, action, err)
	}
	withQuery := *target
	if withQuery.RawQuery == "" {
		withQuery.RawQuery = encoded
	} else {
		withQuery.RawQuery += "&" + encoded
	}
	return b.navigate(ctx, http.MethodGet, withQuery.String(), "", timeout)
}

// SetHeaders merges extra headers over the configured defaults for all
// subsequent requests.
func (b *PlainHTTPBackend) SetHeaders(ctx context.Context, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make(map[string]string, len(b.headers)+len(headers))
	for k, v := range b.headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}
	b.headers = merged
	return nil
}

// Close releases idle connections. The static backend holds no process.
func (b *PlainHTTPBackend) Close(ctx context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *PlainHTTPBackend) resolveURL(target string) (*url.URL, error) {
	b.mu.RLock()
	current := b.currentURL
	b.mu.RUnlock()

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	if current == nil {
		return nil, fmt.Errorf("relative URL %q without a loaded page", target)
	}
	return current.ResolveReference(parsed), nil
}

func (b *PlainHTTPBackend) prepareHeaders(req *http.Request) {
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	b.mu.RLock()
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	if b.currentURL != nil && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", b.currentURL.String())
	}
	b.mu.RUnlock()
}
