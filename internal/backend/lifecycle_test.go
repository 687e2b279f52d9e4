// File: internal/backend/lifecycle_test.go
package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_Transitions(t *testing.T) {
	var l lifecycle
	assert.Equal(t, StateUninitialized, l.State())

	// Actions before initialization are refused.
	err := l.begin()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	l.markReady()
	assert.Equal(t, StateReady, l.State())

	require.NoError(t, l.begin())
	assert.Equal(t, StateBusy, l.State())

	// Concurrent action on one instance is refused without killing it.
	err = l.begin()
	require.Error(t, err)
	assert.Equal(t, StateBusy, l.State())

	l.finish(nil)
	assert.Equal(t, StateReady, l.State())
}

func TestLifecycle_HardErrorMarksFailed(t *testing.T) {
	var l lifecycle
	l.markReady()

	require.NoError(t, l.begin())
	l.finish(fmt.Errorf("%w: connection refused", ErrNavigationFailed))
	assert.Equal(t, StateFailed, l.State())

	// A failed instance stays failed.
	err := l.begin()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestLifecycle_UnsupportedActionLeavesInstanceHealthy(t *testing.T) {
	var l lifecycle
	l.markReady()

	require.NoError(t, l.begin())
	l.finish(fmt.Errorf("click: %w", ErrActionUnsupported))
	assert.Equal(t, StateReady, l.State(), "a capability refusal is not a failure")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "busy", StateBusy.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestErrorTaxonomyIsClassifiable(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("%w: inner detail", ErrActionTimeout))
	assert.True(t, errors.Is(wrapped, ErrActionTimeout))
	assert.False(t, errors.Is(wrapped, ErrNavigationFailed))
}
