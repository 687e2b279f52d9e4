// File: internal/engine/engine.go

// Package engine is the inbound surface of the acquisition engine. Every
// public operation returns a structured result; no error or panic from the
// layers below crosses this boundary uncaught.
package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/backend"
	"github.com/xkilldash9x/voyager/internal/cache"
	"github.com/xkilldash9x/voyager/internal/config"
	"github.com/xkilldash9x/voyager/internal/executor"
	"github.com/xkilldash9x/voyager/internal/extract"
	"github.com/xkilldash9x/voyager/internal/fetch"
	"github.com/xkilldash9x/voyager/internal/session"
)

const searchEndpoint = "https://html.duckduckgo.com/html/"

// Engine wires the cache, session registry, backend selection and parallel
// coordination behind a small operation set.
type Engine struct {
	cfg         *config.Config
	logger      *zap.Logger
	cache       *cache.Manager
	sessions    *session.Registry
	executor    *executor.Executor
	coordinator *fetch.Coordinator
}

// New assembles a ready engine from configuration.
func New(cfg *config.Config, logger *zap.Logger) *Engine {
	return NewWithSelector(cfg, logger, backend.NewSelector(cfg, logger))
}

// NewWithSelector accepts a custom selector; tests use it to inject fake
// backend factories.
func NewWithSelector(cfg *config.Config, logger *zap.Logger, selector *backend.Selector) *Engine {
	extractor := extract.New(extract.Limits{
		MaxTextLen: cfg.Engine.MaxTextLen,
		MaxLinks:   cfg.Engine.MaxLinks,
		MaxImages:  cfg.Engine.MaxImages,
	})
	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		cache:    cache.New(cfg.Cache, logger),
		sessions: session.NewRegistry(logger),
		executor: executor.New(cfg, selector, extractor, logger),
	}
	e.coordinator = fetch.NewCoordinator(cfg, e.cache, e.fetchOnce, logger)
	return e
}

// Navigate acquires url in a fresh session and keeps the session open for
// follow-up actions; the result carries its id. With caching on, a fresh hit
// is returned directly and no session is created.
func (e *Engine) Navigate(ctx context.Context, req schemas.FetchRequest) *schemas.FetchResult {
	key := cache.Fingerprint(req.URL, req.RequireJS)
	if req.UseCache {
		if hit, ok := e.cache.Get(key); ok {
			hit.FromCache = true
			e.logger.Debug("Returning cached result.", zap.String("url", req.URL))
			return hit
		}
	}

	sess := e.sessions.Create()
	result := e.navigate(ctx, sess, req)
	if !result.Success {
		sess.Close(ctx)
		return result
	}

	e.storeInCache(key, result)
	return result
}

// fetchOnce is the coordinator's single-URL path: same as Navigate but the
// session is always released before returning.
func (e *Engine) fetchOnce(ctx context.Context, req schemas.FetchRequest) *schemas.FetchResult {
	sess := e.sessions.Create()
	defer sess.Close(ctx)

	result := e.navigate(ctx, sess, req)
	if result.Success {
		e.storeInCache(cache.Fingerprint(req.URL, req.RequireJS), result)
	}
	result.SessionID = ""
	return result
}

func (e *Engine) navigate(ctx context.Context, sess *session.Session, req schemas.FetchRequest) *schemas.FetchResult {
	params := schemas.ActionParams{
		URL:       req.URL,
		Timeout:   req.Timeout,
		Headers:   req.Headers,
		RequireJS: req.RequireJS,
	}
	if err := e.executor.Execute(ctx, sess, schemas.ActionNavigate, params); err != nil {
		return &schemas.FetchResult{Success: false, URL: req.URL, Error: err.Error()}
	}

	result := e.buildResult(sess)
	if req.Screenshot {
		e.captureScreenshot(ctx, sess, result)
	}
	return result
}

// Act executes one action in an existing session and returns the resulting
// page state.
func (e *Engine) Act(ctx context.Context, sessionID string, action schemas.ActionType, params schemas.ActionParams) *schemas.FetchResult {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return &schemas.FetchResult{Success: false, Error: fmt.Sprintf("unknown session %q", sessionID)}
	}

	if err := e.executor.Execute(ctx, sess, action, params); err != nil {
		return &schemas.FetchResult{
			Success:   false,
			URL:       sess.CurrentURL(),
			SessionID: sess.ID(),
			Error:     err.Error(),
		}
	}

	result := e.buildResult(sess)
	if action == schemas.ActionScreenshot {
		if shot := sess.Screenshot(); len(shot) > 0 {
			result.Screenshot = dataURI(shot)
		}
	}
	return result
}

// Analyze returns the structural summary of the session's current page.
func (e *Engine) Analyze(ctx context.Context, sessionID string) (*schemas.PageAnalysis, error) {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	page := sess.Page()
	if page == nil {
		return nil, fmt.Errorf("session %s has no loaded page", sessionID)
	}
	return &schemas.PageAnalysis{
		URL:      sess.CurrentURL(),
		Title:    page.Title,
		Forms:    page.Forms,
		Links:    page.Links,
		Images:   page.Images,
		Headings: page.Headings,
	}, nil
}

// Search runs query against the DuckDuckGo HTML endpoint, extracts the first
// n result URLs and fetches them in parallel.
func (e *Engine) Search(ctx context.Context, query string, n int) []*schemas.FetchResult {
	if n <= 0 {
		n = 5
	}

	searchURL := searchEndpoint + "?q=" + url.QueryEscape(query)
	page := e.fetchOnce(ctx, schemas.FetchRequest{URL: searchURL})
	if !page.Success {
		return []*schemas.FetchResult{page}
	}

	targets := resultLinks(page.Links, n)
	if len(targets) == 0 {
		return nil
	}

	reqs := make([]schemas.FetchRequest, len(targets))
	for i, target := range targets {
		reqs[i] = schemas.FetchRequest{URL: target, UseCache: true}
	}
	return e.FetchAll(ctx, reqs)
}

// FetchAll acquires every request in parallel, results in input order.
func (e *Engine) FetchAll(ctx context.Context, reqs []schemas.FetchRequest) []*schemas.FetchResult {
	return e.coordinator.FetchAll(ctx, reqs)
}

// CloseSession releases one session and its backend.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) {
	if sess, ok := e.sessions.Get(sessionID); ok {
		sess.Close(ctx)
	}
}

// ClearCache drops the given key, or everything when key is empty.
func (e *Engine) ClearCache(key string) {
	if key == "" {
		e.cache.ClearAll()
		return
	}
	e.cache.Clear(key)
}

// Shutdown drains every live session, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("Engine shutting down, draining sessions.",
		zap.Int("open_sessions", e.sessions.Len()))
	return e.sessions.Shutdown(ctx)
}

func (e *Engine) buildResult(sess *session.Session) *schemas.FetchResult {
	result := &schemas.FetchResult{
		Success:   true,
		URL:       sess.CurrentURL(),
		HTML:      sess.HTML(),
		SessionID: sess.ID(),
	}
	if b := sess.Backend(); b != nil {
		result.Backend = b.Kind()
	}
	if page := sess.Page(); page != nil {
		result.Title = page.Title
		result.Text = page.Text
		result.Truncated = page.Truncated
		result.Forms = page.Forms
		result.Links = page.Links
		result.Images = page.Images
	}
	return result
}

func (e *Engine) captureScreenshot(ctx context.Context, sess *session.Session, result *schemas.FetchResult) {
	if b := sess.Backend(); b == nil || !b.Capabilities().SupportsScreenshot {
		return
	}
	if err := e.executor.Execute(ctx, sess, schemas.ActionScreenshot, schemas.ActionParams{}); err != nil {
		e.logger.Warn("Screenshot capture failed.", zap.Error(err))
		return
	}
	if shot := sess.Screenshot(); len(shot) > 0 {
		result.Screenshot = dataURI(shot)
	}
}

// storeInCache persists a copy stripped of session affinity: a cache hit must
// not hand out a session id that no longer exists.
func (e *Engine) storeInCache(key string, result *schemas.FetchResult) {
	stored := *result
	stored.SessionID = ""
	e.cache.Put(key, &stored)
}

func dataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// resultLinks filters a search result page's links down to external targets,
// unwrapping the redirect indirection the HTML endpoint uses.
func resultLinks(links []string, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, link := range links {
		target := unwrapRedirect(link)
		parsed, err := url.Parse(target)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			continue
		}
		host := strings.ToLower(parsed.Hostname())
		if host == "" || strings.HasSuffix(host, "duckduckgo.com") {
			continue
		}
		if seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
		if len(out) >= n {
			break
		}
	}
	return out
}

func unwrapRedirect(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if uddg := parsed.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	return link
}
