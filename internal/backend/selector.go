// File: internal/backend/selector.go
package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/config"
)

// Factory constructs one backend variant. Construction failures are soft:
// the selector logs them and tries the next candidate.
type Factory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error)

// defaultPriority is the fallback order: richest driver first, the static
// fetcher as the guaranteed last resort.
var defaultPriority = []schemas.BackendKind{
	schemas.BackendCDP,
	schemas.BackendPlaywright,
	schemas.BackendPlainHTTP,
}

// Selector picks a working backend by walking the priority order, skipping
// excluded kinds, and probing each candidate. It is safe for concurrent use.
type Selector struct {
	cfg       *config.Config
	logger    *zap.Logger
	factories map[schemas.BackendKind]Factory
	priority  []schemas.BackendKind
}

// NewSelector wires the built-in factories. Tests swap factories through
// NewSelectorWithFactories to avoid launching real browsers.
func NewSelector(cfg *config.Config, logger *zap.Logger) *Selector {
	return NewSelectorWithFactories(cfg, logger, map[schemas.BackendKind]Factory{
		schemas.BackendCDP: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
			return NewCDPBackend(ctx, cfg, logger)
		},
		schemas.BackendPlaywright: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
			return NewPlaywrightBackend(ctx, cfg, logger)
		},
		schemas.BackendPlainHTTP: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
			return NewPlainHTTPBackend(cfg, logger), nil
		},
	})
}

func NewSelectorWithFactories(cfg *config.Config, logger *zap.Logger, factories map[schemas.BackendKind]Factory) *Selector {
	return &Selector{
		cfg:       cfg,
		logger:    logger.Named("selector"),
		factories: factories,
		priority:  defaultPriority,
	}
}

// Select returns the first candidate that initializes, honoring the preferred
// kind, the exclusion set (kinds that already failed for this session) and an
// optional JS requirement. When every candidate is exhausted the accumulated
// reasons are wrapped under ErrBackendUnavailable.
func (s *Selector) Select(ctx context.Context, preferred schemas.BackendKind, exclude map[schemas.BackendKind]bool, requireJS bool) (Backend, error) {
	candidates := s.candidateOrder(preferred)

	var reasons []string
	for _, kind := range candidates {
		if exclude[kind] {
			s.logger.Debug("Skipping backend that already failed.", zap.String("kind", string(kind)))
			continue
		}
		factory, ok := s.factories[kind]
		if !ok {
			continue
		}
		if requireJS && kind == schemas.BackendPlainHTTP {
			reasons = append(reasons, fmt.Sprintf("%s: cannot execute JavaScript", kind))
			continue
		}

		instance, err := factory(ctx, s.cfg, s.logger)
		if err != nil {
			s.logger.Warn("Backend initialization failed, trying next candidate.",
				zap.String("kind", string(kind)), zap.Error(err))
			reasons = append(reasons, fmt.Sprintf("%s: %v", kind, err))
			continue
		}

		s.logger.Info("Backend selected.", zap.String("kind", string(kind)))
		return instance, nil
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "all candidates excluded")
	}
	return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, strings.Join(reasons, "; "))
}

// candidateOrder moves the preferred kind to the front without dropping the
// rest of the chain.
func (s *Selector) candidateOrder(preferred schemas.BackendKind) []schemas.BackendKind {
	if preferred == "" {
		return s.priority
	}
	order := make([]schemas.BackendKind, 0, len(s.priority))
	order = append(order, preferred)
	for _, kind := range s.priority {
		if kind != preferred {
			order = append(order, kind)
		}
	}
	return order
}
