// File: internal/backend/errors.go
package backend

import "errors"

// Sentinel errors forming the failure taxonomy of the acquisition engine.
// Callers classify failures with errors.Is; concrete causes are wrapped.
var (
	// ErrBackendUnavailable means no backend in the candidate list could be
	// initialized. This is the only hard failure the selector produces.
	ErrBackendUnavailable = errors.New("no automation backend available")

	// ErrActionTimeout marks a backend call that exceeded its deadline.
	ErrActionTimeout = errors.New("action timed out")

	// ErrActionUnsupported is returned by capability-gated actions invoked on
	// a backend that lacks the capability (e.g. click on the static backend).
	ErrActionUnsupported = errors.New("action not supported by this backend")

	// ErrNavigationFailed marks a network or HTTP level navigation failure.
	ErrNavigationFailed = errors.New("navigation failed")

	// ErrExtractionFailed marks a parse failure on an otherwise successful
	// navigation. Consumers degrade to a partial result instead of failing
	// the request.
	ErrExtractionFailed = errors.New("content extraction failed")
)
