// File: internal/session/session.go

// Package session tracks live page state per browsing session: which backend
// instance drives it, what the current page looks like, and which backend
// kinds already failed so the selector never retries them for this session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/backend"
	"github.com/xkilldash9x/voyager/internal/extract"
)

// ActionRecord is one entry of the per-session action history.
type ActionRecord struct {
	Type    schemas.ActionType   `json:"type"`
	Params  schemas.ActionParams `json:"params"`
	Backend schemas.BackendKind  `json:"backend"`
	At      time.Time           `json:"at"`
	Err     string              `json:"error,omitempty"`
}

// Session owns one backend instance and the page state derived from it.
// Methods are safe for concurrent use, but actions against the backend are
// serialized by the executor.
type Session struct {
	id     string
	logger *zap.Logger

	mu          sync.RWMutex
	backend     backend.Backend
	failedKinds map[schemas.BackendKind]bool
	currentURL  string
	page        *extract.Result
	rawHTML     string
	screenshot  []byte
	history     []ActionRecord

	closeOnce sync.Once
	onClose   func()
}

func newSession(logger *zap.Logger, onClose func()) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		logger:      logger.With(zap.String("session_id", id)),
		failedKinds: make(map[schemas.BackendKind]bool),
		onClose:     onClose,
	}
}

func (s *Session) ID() string { return s.id }

// Backend returns the current backend instance, nil before the first
// selection.
func (s *Session) Backend() backend.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// SwapBackend replaces the session's backend, closing the previous instance.
// Used on first selection and on fallback after a failure.
func (s *Session) SwapBackend(ctx context.Context, b backend.Backend) {
	s.mu.Lock()
	old := s.backend
	s.backend = b
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			s.logger.Debug("Failed to close replaced backend.", zap.Error(err))
		}
	}
}

// MarkFailed records that a backend kind failed for this session. Failed
// kinds are excluded from future selections until the session ends.
func (s *Session) MarkFailed(kind schemas.BackendKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedKinds[kind] = true
	s.logger.Debug("Backend kind marked as failed for this session.",
		zap.String("kind", string(kind)))
}

// FailedKinds returns a copy of the session's exclusion set.
func (s *Session) FailedKinds() map[schemas.BackendKind]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[schemas.BackendKind]bool, len(s.failedKinds))
	for k, v := range s.failedKinds {
		out[k] = v
	}
	return out
}

// UpdatePage replaces the derived page state after a successful navigation or
// interaction. rawHTML is the serialized document the state was derived from.
func (s *Session) UpdatePage(url string, page *extract.Result, rawHTML string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = url
	s.page = page
	s.rawHTML = rawHTML
	s.screenshot = nil
}

// HTML returns the serialized source of the current page.
func (s *Session) HTML() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rawHTML
}

// SetScreenshot stores the most recent capture.
func (s *Session) SetScreenshot(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshot = data
}

func (s *Session) CurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentURL
}

// Page returns the extraction result of the current page, nil before the
// first navigation.
func (s *Session) Page() *extract.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

func (s *Session) Screenshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screenshot
}

// Record appends an entry to the action history.
func (s *Session) Record(rec ActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	s.history = append(s.history, rec)
}

// History returns a copy of the recorded actions in order.
func (s *Session) History() []ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Close releases the backend and deregisters the session. Safe to call more
// than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		b := s.backend
		s.backend = nil
		s.mu.Unlock()

		if b != nil {
			if err := b.Close(ctx); err != nil {
				s.logger.Debug("Backend close reported an error.", zap.Error(err))
			}
		}
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session closed.")
	})
}

// Registry tracks live sessions and drains them on shutdown.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create registers a new empty session. The caller attaches a backend through
// the executor on first use.
func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wg.Add(1)
	var s *Session
	s = newSession(r.logger, func() {
		r.mu.Lock()
		delete(r.sessions, s.id)
		r.mu.Unlock()
		r.wg.Done()
	})
	r.sessions[s.id] = s
	return s
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every live session and waits for them to drain, bounded by
// ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	for _, s := range open {
		s.Close(ctx)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("All sessions drained.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
