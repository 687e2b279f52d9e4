// File: internal/session/session_test.go
package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/backend"
	"github.com/xkilldash9x/voyager/internal/extract"
	"github.com/xkilldash9x/voyager/internal/session"
)

// closableBackend counts Close calls; everything else is inert.
type closableBackend struct {
	kind   schemas.BackendKind
	closed int
}

func (c *closableBackend) Kind() schemas.BackendKind          { return c.kind }
func (c *closableBackend) Capabilities() schemas.Capabilities { return schemas.Capabilities{} }
func (c *closableBackend) State() backend.State               { return backend.StateReady }
func (c *closableBackend) Navigate(context.Context, string, time.Duration) error { return nil }
func (c *closableBackend) CurrentURL() string                 { return "" }
func (c *closableBackend) PageSource(context.Context) (string, error) { return "", nil }
func (c *closableBackend) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (c *closableBackend) Click(context.Context, string) error        { return nil }
func (c *closableBackend) TypeText(context.Context, string, string) error { return nil }
func (c *closableBackend) Scroll(context.Context, string, int) error      { return nil }
func (c *closableBackend) SubmitForm(context.Context, string, string, map[string][]string, time.Duration) error {
	return nil
}
func (c *closableBackend) SetHeaders(context.Context, map[string]string) error { return nil }
func (c *closableBackend) Close(context.Context) error {
	c.closed++
	return nil
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())

	s1 := r.Create()
	s2 := r.Create()
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(s1.ID())
	require.True(t, ok)
	assert.Same(t, s1, got)

	_, ok = r.Get("no-such-session")
	assert.False(t, ok)

	s1.Close(context.Background())
	s2.Close(context.Background())
}

func TestSession_CloseReleasesBackendOnce(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	s := r.Create()

	b := &closableBackend{kind: schemas.BackendCDP}
	s.SwapBackend(context.Background(), b)

	s.Close(context.Background())
	s.Close(context.Background())

	assert.Equal(t, 1, b.closed, "Close is idempotent")
	assert.Equal(t, 0, r.Len(), "closed sessions deregister")
}

func TestSession_SwapClosesReplacedBackend(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	s := r.Create()
	defer s.Close(context.Background())

	old := &closableBackend{kind: schemas.BackendCDP}
	s.SwapBackend(context.Background(), old)

	replacement := &closableBackend{kind: schemas.BackendPlaywright}
	s.SwapBackend(context.Background(), replacement)

	assert.Equal(t, 1, old.closed)
	assert.Same(t, replacement, s.Backend())
}

func TestSession_FailedKindsAreCopied(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	s := r.Create()
	defer s.Close(context.Background())

	s.MarkFailed(schemas.BackendCDP)

	kinds := s.FailedKinds()
	assert.True(t, kinds[schemas.BackendCDP])

	// Mutating the copy must not leak back into the session.
	kinds[schemas.BackendPlaywright] = true
	assert.False(t, s.FailedKinds()[schemas.BackendPlaywright])
}

func TestSession_PageStateAndHistory(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	s := r.Create()
	defer s.Close(context.Background())

	page := &extract.Result{Title: "doc"}
	s.UpdatePage("https://example.com/", page, "<html></html>")
	assert.Equal(t, "https://example.com/", s.CurrentURL())
	assert.Equal(t, "doc", s.Page().Title)
	assert.Equal(t, "<html></html>", s.HTML())

	s.SetScreenshot([]byte("png"))
	assert.Equal(t, []byte("png"), s.Screenshot())

	// A page update invalidates the previous capture.
	s.UpdatePage("https://example.com/next", page, "")
	assert.Nil(t, s.Screenshot())

	s.Record(session.ActionRecord{Type: schemas.ActionNavigate, Backend: schemas.BackendCDP})
	s.Record(session.ActionRecord{Type: schemas.ActionClick, Backend: schemas.BackendCDP, Err: "boom"})

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, schemas.ActionNavigate, history[0].Type)
	assert.False(t, history[0].At.IsZero())
	assert.Equal(t, "boom", history[1].Err)
}

func TestRegistry_ShutdownDrainsAllSessions(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())

	backends := []*closableBackend{
		{kind: schemas.BackendCDP},
		{kind: schemas.BackendPlaywright},
	}
	for _, b := range backends {
		s := r.Create()
		s.SwapBackend(context.Background(), b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	assert.Equal(t, 0, r.Len())
	for _, b := range backends {
		assert.Equal(t, 1, b.closed)
	}
}

func TestRegistry_ShutdownIsReentrantSafe(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	s := r.Create()
	s.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx), "shutdown after all sessions closed is a no-op")
}
