// File: internal/executor/executor.go

// Package executor runs page actions for a session, selecting and replacing
// backends as they fail. It is the only place fallback decisions are made:
// a hard backend failure marks the kind dead for the session and the next
// candidate takes over, until the chain is exhausted.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/backend"
	"github.com/xkilldash9x/voyager/internal/config"
	"github.com/xkilldash9x/voyager/internal/extract"
	"github.com/xkilldash9x/voyager/internal/session"
)

// maxAttempts bounds the fallback loop. One attempt per backend kind is
// enough; anything more would retry a kind that already failed.
const maxAttempts = 3

// Executor dispatches actions onto a session's backend with fallback.
type Executor struct {
	cfg       *config.Config
	selector  *backend.Selector
	extractor *extract.Extractor
	logger    *zap.Logger
}

func New(cfg *config.Config, selector *backend.Selector, extractor *extract.Extractor, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		selector:  selector,
		extractor: extractor,
		logger:    logger.Named("executor"),
	}
}

// needsRichBackend reports whether the action requires a JS-capable driver.
// The static backend can navigate and submit forms; everything else needs a
// real browser.
func needsRichBackend(action schemas.ActionType, requireJS bool) bool {
	if requireJS {
		return true
	}
	switch action {
	case schemas.ActionNavigate, schemas.ActionSubmit:
		return false
	default:
		return true
	}
}

// Execute performs one action for the session, falling back across backend
// kinds on hard failures. Session state is only updated on success; a failed
// action leaves the previous page state intact. A panicking driver is
// converted into an ordinary error.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, action schemas.ActionType, params schemas.ActionParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Backend panicked during action.",
				zap.String("action", string(action)), zap.Any("panic", r))
			err = fmt.Errorf("internal error during %q: %v", action, r)
		}
	}()

	requireJS := needsRichBackend(action, params.RequireJS)

	var reasons []string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		b, err := e.ensureBackend(ctx, sess, requireJS)
		if err != nil {
			reasons = append(reasons, err.Error())
			break
		}

		err = e.perform(ctx, sess, b, action, params)
		sess.Record(session.ActionRecord{
			Type:    action,
			Params:  params,
			Backend: b.Kind(),
			Err:     errString(err),
		})
		if err == nil {
			return nil
		}

		if errors.Is(err, backend.ErrActionUnsupported) {
			// The instance is still healthy, it just cannot do this. Force a
			// rich backend on the next pass without burning the kind.
			e.logger.Debug("Backend lacks capability, escalating.",
				zap.String("kind", string(b.Kind())), zap.String("action", string(action)))
			requireJS = true
			reasons = append(reasons, fmt.Sprintf("%s: %v", b.Kind(), err))
			continue
		}

		reasons = append(reasons, fmt.Sprintf("%s: %v", b.Kind(), err))
		if b.State() == backend.StateFailed {
			e.logger.Warn("Backend failed, discarding and falling back.",
				zap.String("kind", string(b.Kind())), zap.Error(err))
			sess.MarkFailed(b.Kind())
			sess.SwapBackend(ctx, nil)
			continue
		}

		// Healthy backend, failing action (e.g. HTTP 404). Retrying on a
		// different driver will not change the answer.
		return err
	}

	return fmt.Errorf("action %q failed on every backend: %s", action, strings.Join(reasons, "; "))
}

// ensureBackend returns the session's backend, selecting a fresh one when the
// session has none or the current one is unusable.
func (e *Executor) ensureBackend(ctx context.Context, sess *session.Session, requireJS bool) (backend.Backend, error) {
	if b := sess.Backend(); b != nil && b.State() == backend.StateReady {
		if !requireJS || b.Capabilities().SupportsJS {
			return b, nil
		}
		// Current backend cannot serve this action; replace it but keep the
		// kind selectable for later static work.
	}

	b, err := e.selector.Select(ctx, e.cfg.Browser.Preferred, sess.FailedKinds(), requireJS)
	if err != nil {
		return nil, err
	}
	sess.SwapBackend(ctx, b)
	return b, nil
}

func (e *Executor) perform(ctx context.Context, sess *session.Session, b backend.Backend, action schemas.ActionType, params schemas.ActionParams) error {
	switch action {
	case schemas.ActionNavigate:
		if len(params.Headers) > 0 {
			if err := b.SetHeaders(ctx, params.Headers); err != nil {
				e.logger.Warn("Could not apply extra headers.", zap.Error(err))
			}
		}
		if err := b.Navigate(ctx, params.URL, e.navTimeout(params)); err != nil {
			return err
		}
		e.refreshPage(ctx, sess, b)
		return nil

	case schemas.ActionClick:
		actionCtx, cancel := e.actionContext(ctx, params)
		defer cancel()
		if err := b.Click(actionCtx, params.Selector); err != nil {
			return err
		}
		e.refreshPage(ctx, sess, b)
		return nil

	case schemas.ActionTypeText:
		actionCtx, cancel := e.actionContext(ctx, params)
		defer cancel()
		if err := b.TypeText(actionCtx, params.Selector, params.Text); err != nil {
			return err
		}
		e.refreshPage(ctx, sess, b)
		return nil

	case schemas.ActionScroll:
		actionCtx, cancel := e.actionContext(ctx, params)
		defer cancel()
		if err := b.Scroll(actionCtx, params.Direction, params.Distance); err != nil {
			return err
		}
		e.refreshPage(ctx, sess, b)
		return nil

	case schemas.ActionScreenshot:
		actionCtx, cancel := e.actionContext(ctx, params)
		defer cancel()
		data, err := b.Screenshot(actionCtx)
		if err != nil {
			return err
		}
		sess.SetScreenshot(data)
		return nil

	case schemas.ActionSubmit:
		return e.submit(ctx, sess, b, params)

	default:
		return fmt.Errorf("unknown action type %q", action)
	}
}

// submit resolves the target form from the current page, merges the caller's
// field values over the form defaults, and submits.
func (e *Executor) submit(ctx context.Context, sess *session.Session, b backend.Backend, params schemas.ActionParams) error {
	page := sess.Page()
	if page == nil || len(page.Forms) == 0 {
		return fmt.Errorf("no form on the current page")
	}
	if params.FormIndex < 0 || params.FormIndex >= len(page.Forms) {
		return fmt.Errorf("form index %d out of range (%d forms)", params.FormIndex, len(page.Forms))
	}
	form := page.Forms[params.FormIndex]

	values := make(map[string][]string)
	for _, field := range form.Fields {
		if field.Name == "" {
			continue
		}
		if field.DefaultValue != "" {
			values[field.Name] = []string{field.DefaultValue}
		}
	}
	for name, value := range params.Fields {
		values[name] = []string{value}
	}

	if err := b.SubmitForm(ctx, form.Action, form.Method, values, e.navTimeout(params)); err != nil {
		return err
	}
	e.refreshPage(ctx, sess, b)
	return nil
}

// refreshPage re-derives the session's page state from the live document.
// Extraction trouble degrades to a URL-only state instead of failing the
// action that got us here.
func (e *Executor) refreshPage(ctx context.Context, sess *session.Session, b backend.Backend) {
	currentURL := b.CurrentURL()

	source, err := b.PageSource(ctx)
	if err != nil {
		e.logger.Warn("Could not read page source after action.", zap.Error(err))
		sess.UpdatePage(currentURL, &extract.Result{}, "")
		return
	}

	base, err := url.Parse(currentURL)
	if err != nil {
		base = &url.URL{}
	}
	result, err := e.extractor.Extract(source, base)
	if err != nil {
		e.logger.Warn("Content extraction failed, keeping partial state.", zap.Error(err))
		sess.UpdatePage(currentURL, &extract.Result{}, source)
		return
	}
	sess.UpdatePage(currentURL, result, source)
}

func (e *Executor) navTimeout(params schemas.ActionParams) time.Duration {
	if params.Timeout > 0 {
		return params.Timeout
	}
	return e.cfg.Network.NavigationTimeout
}

func (e *Executor) actionContext(ctx context.Context, params schemas.ActionParams) (context.Context, context.CancelFunc) {
	timeout := e.cfg.Network.ActionTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
