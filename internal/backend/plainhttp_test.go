// File: internal/backend/plainhttp_test.go
package backend_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/backend"
	"github.com/xkilldash9x/voyager/internal/config"
)

func newPlainBackend(t *testing.T) *backend.PlainHTTPBackend {
	t.Helper()
	cfg := config.NewDefaultConfig()
	b := backend.NewPlainHTTPBackend(cfg, zap.NewNop())
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestPlainHTTP_NavigateAndPageSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<html><head><title>static</title></head><body><p>hi</p></body></html>`)
	}))
	defer srv.Close()

	b := newPlainBackend(t)
	require.NoError(t, b.Navigate(context.Background(), srv.URL, 5*time.Second))
	assert.Equal(t, backend.StateReady, b.State())
	assert.Equal(t, srv.URL, b.CurrentURL())

	source, err := b.PageSource(context.Background())
	require.NoError(t, err)
	assert.Contains(t, source, "<title>static</title>")
}

func TestPlainHTTP_Capabilities(t *testing.T) {
	b := newPlainBackend(t)
	caps := b.Capabilities()
	assert.False(t, caps.SupportsJS)
	assert.False(t, caps.SupportsScreenshot)
	assert.False(t, caps.SupportsInteraction)
	assert.Equal(t, schemas.BackendPlainHTTP, b.Kind())
}

func TestPlainHTTP_FollowsRedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>arrived</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newPlainBackend(t)
	require.NoError(t, b.Navigate(context.Background(), srv.URL+"/start", 5*time.Second))
	assert.Equal(t, srv.URL+"/end", b.CurrentURL(), "CurrentURL reflects the final hop")
}

func TestPlainHTTP_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	b := newPlainBackend(t)
	err := b.Navigate(context.Background(), srv.URL+"/loop", 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNavigationFailed)
}

func TestPlainHTTP_ErrorStatusFailsNavigation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	b := newPlainBackend(t)
	err := b.Navigate(context.Background(), srv.URL, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNavigationFailed)
	assert.Equal(t, backend.StateFailed, b.State())
}

func TestPlainHTTP_UnsupportedActions(t *testing.T) {
	b := newPlainBackend(t)
	ctx := context.Background()

	assert.ErrorIs(t, b.Click(ctx, "#x"), backend.ErrActionUnsupported)
	assert.ErrorIs(t, b.TypeText(ctx, "#x", "text"), backend.ErrActionUnsupported)
	assert.ErrorIs(t, b.Scroll(ctx, "down", 100), backend.ErrActionUnsupported)
	_, err := b.Screenshot(ctx)
	assert.ErrorIs(t, err, backend.ErrActionUnsupported)

	// Capability refusals never poison the instance.
	assert.Equal(t, backend.StateReady, b.State())
}

func TestPlainHTTP_SubmitFormGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><form action="/search"><input name="q"></form></body></html>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>query=%s</body></html>", r.URL.Query().Get("q"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newPlainBackend(t)
	require.NoError(t, b.Navigate(context.Background(), srv.URL, 5*time.Second))
	require.NoError(t, b.SubmitForm(context.Background(), srv.URL+"/search", "get",
		map[string][]string{"q": {"voyager"}}, 5*time.Second))

	source, err := b.PageSource(context.Background())
	require.NoError(t, err)
	assert.Contains(t, source, "query=voyager")
}

func TestPlainHTTP_SubmitFormPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		fmt.Fprintf(w, "<html><body>welcome %s</body></html>", r.PostFormValue("user"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newPlainBackend(t)
	require.NoError(t, b.SubmitForm(context.Background(), srv.URL+"/login", "post",
		map[string][]string{"user": {"alice"}, "pass": {"secret"}}, 5*time.Second))

	source, err := b.PageSource(context.Background())
	require.NoError(t, err)
	assert.Contains(t, source, "welcome alice")
}

func TestPlainHTTP_CookiesPersistAcrossNavigations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123"})
		fmt.Fprint(w, "<html><body>set</body></html>")
	})
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("sid")
		if err != nil {
			http.Error(w, "no cookie", http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, "<html><body>sid=%s</body></html>", cookie.Value)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newPlainBackend(t)
	require.NoError(t, b.Navigate(context.Background(), srv.URL+"/set", 5*time.Second))
	require.NoError(t, b.Navigate(context.Background(), srv.URL+"/check", 5*time.Second))

	source, err := b.PageSource(context.Background())
	require.NoError(t, err)
	assert.Contains(t, source, "sid=abc123")
}

func TestPlainHTTP_SetHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()

	b := newPlainBackend(t)
	require.NoError(t, b.SetHeaders(context.Background(), map[string]string{"X-Custom": "yes"}))
	require.NoError(t, b.Navigate(context.Background(), srv.URL, 5*time.Second))
	assert.Equal(t, "yes", gotHeader)
}

func TestPlainHTTP_RelativeURLWithoutPageFails(t *testing.T) {
	b := newPlainBackend(t)
	err := b.Navigate(context.Background(), "/relative/only", 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNavigationFailed)
}
