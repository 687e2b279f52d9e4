// File: internal/backend/selector_test.go
package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/backend"
	"github.com/xkilldash9x/voyager/internal/config"
)

// fakeBackend is a minimal healthy backend for selector tests.
type fakeBackend struct {
	kind schemas.BackendKind
	caps schemas.Capabilities
}

func (f *fakeBackend) Kind() schemas.BackendKind          { return f.kind }
func (f *fakeBackend) Capabilities() schemas.Capabilities { return f.caps }
func (f *fakeBackend) State() backend.State               { return backend.StateReady }
func (f *fakeBackend) Navigate(context.Context, string, time.Duration) error { return nil }
func (f *fakeBackend) CurrentURL() string                 { return "" }
func (f *fakeBackend) PageSource(context.Context) (string, error) { return "", nil }
func (f *fakeBackend) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (f *fakeBackend) Click(context.Context, string) error        { return nil }
func (f *fakeBackend) TypeText(context.Context, string, string) error { return nil }
func (f *fakeBackend) Scroll(context.Context, string, int) error      { return nil }
func (f *fakeBackend) SubmitForm(context.Context, string, string, map[string][]string, time.Duration) error {
	return nil
}
func (f *fakeBackend) SetHeaders(context.Context, map[string]string) error { return nil }
func (f *fakeBackend) Close(context.Context) error                         { return nil }

func richCaps() schemas.Capabilities {
	return schemas.Capabilities{SupportsJS: true, SupportsScreenshot: true, SupportsInteraction: true}
}

func workingFactory(kind schemas.BackendKind, caps schemas.Capabilities) backend.Factory {
	return func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
		return &fakeBackend{kind: kind, caps: caps}, nil
	}
}

func brokenFactory(reason string) backend.Factory {
	return func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
		return nil, errors.New(reason)
	}
}

func newSelector(t *testing.T, factories map[schemas.BackendKind]backend.Factory) *backend.Selector {
	t.Helper()
	return backend.NewSelectorWithFactories(config.NewDefaultConfig(), zap.NewNop(), factories)
}

func TestSelector_PriorityOrder(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        workingFactory(schemas.BackendCDP, richCaps()),
		schemas.BackendPlaywright: workingFactory(schemas.BackendPlaywright, richCaps()),
		schemas.BackendPlainHTTP:  workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	b, err := s.Select(context.Background(), "", nil, false)
	require.NoError(t, err)
	assert.Equal(t, schemas.BackendCDP, b.Kind(), "richest driver wins by default")
}

func TestSelector_PreferredFirst(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        workingFactory(schemas.BackendCDP, richCaps()),
		schemas.BackendPlaywright: workingFactory(schemas.BackendPlaywright, richCaps()),
		schemas.BackendPlainHTTP:  workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	b, err := s.Select(context.Background(), schemas.BackendPlaywright, nil, false)
	require.NoError(t, err)
	assert.Equal(t, schemas.BackendPlaywright, b.Kind())
}

func TestSelector_SoftFailureFallsThrough(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        brokenFactory("no chrome binary"),
		schemas.BackendPlaywright: brokenFactory("driver not installed"),
		schemas.BackendPlainHTTP:  workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	b, err := s.Select(context.Background(), "", nil, false)
	require.NoError(t, err)
	assert.Equal(t, schemas.BackendPlainHTTP, b.Kind(), "plainhttp is the guaranteed last resort")
}

func TestSelector_ExcludesFailedKinds(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        workingFactory(schemas.BackendCDP, richCaps()),
		schemas.BackendPlaywright: workingFactory(schemas.BackendPlaywright, richCaps()),
		schemas.BackendPlainHTTP:  workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	exclude := map[schemas.BackendKind]bool{schemas.BackendCDP: true}
	b, err := s.Select(context.Background(), "", exclude, false)
	require.NoError(t, err)
	assert.Equal(t, schemas.BackendPlaywright, b.Kind())
}

func TestSelector_PreferredExcludedFallsBackToPriority(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        workingFactory(schemas.BackendCDP, richCaps()),
		schemas.BackendPlaywright: workingFactory(schemas.BackendPlaywright, richCaps()),
		schemas.BackendPlainHTTP:  workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	exclude := map[schemas.BackendKind]bool{schemas.BackendPlaywright: true}
	b, err := s.Select(context.Background(), schemas.BackendPlaywright, exclude, false)
	require.NoError(t, err)
	assert.Equal(t, schemas.BackendCDP, b.Kind())
}

func TestSelector_RequireJSSkipsPlainHTTP(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        brokenFactory("no chrome binary"),
		schemas.BackendPlaywright: brokenFactory("driver not installed"),
		schemas.BackendPlainHTTP:  workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	_, err := s.Select(context.Background(), "", nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "JavaScript")
}

func TestSelector_ExhaustionAccumulatesReasons(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendCDP:        brokenFactory("no chrome binary"),
		schemas.BackendPlaywright: brokenFactory("driver not installed"),
		schemas.BackendPlainHTTP:  brokenFactory("network namespace sealed"),
	})

	_, err := s.Select(context.Background(), "", nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "no chrome binary")
	assert.Contains(t, err.Error(), "driver not installed")
	assert.Contains(t, err.Error(), "network namespace sealed")
}

func TestSelector_AllExcluded(t *testing.T) {
	s := newSelector(t, map[schemas.BackendKind]backend.Factory{
		schemas.BackendPlainHTTP: workingFactory(schemas.BackendPlainHTTP, schemas.Capabilities{}),
	})

	exclude := map[schemas.BackendKind]bool{schemas.BackendPlainHTTP: true}
	_, err := s.Select(context.Background(), "", exclude, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}
