// File: internal/fetch/coordinator.go

// Package fetch coordinates parallel page acquisition: a bounded worker pool
// with per-host politeness limits, cache short-circuiting, and per-URL
// failure isolation. One bad URL never costs the others their results.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/cache"
	"github.com/xkilldash9x/voyager/internal/config"
)

// FetchFunc performs one acquisition. The coordinator stays agnostic of how a
// page is actually fetched; the engine plugs its single-URL path in here.
type FetchFunc func(ctx context.Context, req schemas.FetchRequest) *schemas.FetchResult

// Coordinator fans fetch requests out to a bounded number of workers.
type Coordinator struct {
	cfg    *config.Config
	cache  *cache.Manager
	fetch  FetchFunc
	logger *zap.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewCoordinator(cfg *config.Config, cacheMgr *cache.Manager, fetch FetchFunc, logger *zap.Logger) *Coordinator {
	bound := cfg.Engine.WorkerBound
	if bound <= 0 {
		bound = 1
	}
	return &Coordinator{
		cfg:      cfg,
		cache:    cacheMgr,
		fetch:    fetch,
		logger:   logger.Named("fetch"),
		sem:      semaphore.NewWeighted(int64(bound)),
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchAll acquires every request and returns results in input order. Each
// request is checked against the cache before it costs a worker slot; cached
// URLs never wait behind live fetches. Failures are isolated per URL.
func (c *Coordinator) FetchAll(ctx context.Context, reqs []schemas.FetchRequest) []*schemas.FetchResult {
	results := make([]*schemas.FetchResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		if req.UseCache {
			key := cache.Fingerprint(req.URL, req.RequireJS)
			if hit, ok := c.cache.Get(key); ok {
				hit.FromCache = true
				results[i] = hit
				c.logger.Debug("Cache hit, skipping dispatch.", zap.String("url", req.URL))
				continue
			}
		}

		wg.Add(1)
		go func(i int, req schemas.FetchRequest) {
			defer wg.Done()
			results[i] = c.fetchOne(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return results
}

func (c *Coordinator) fetchOne(ctx context.Context, req schemas.FetchRequest) (res *schemas.FetchResult) {
	// A panicking worker surfaces as a failed result, never as a crash of the
	// whole batch.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Fetch worker panicked.",
				zap.String("url", req.URL), zap.Any("panic", r))
			res = failure(req.URL, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return failure(req.URL, fmt.Errorf("cancelled while waiting for a worker slot: %w", err))
	}
	defer c.sem.Release(1)

	if err := c.waitForHost(ctx, req.URL); err != nil {
		return failure(req.URL, err)
	}

	return c.fetch(ctx, req)
}

// waitForHost enforces the per-host request rate so a batch of URLs on one
// site does not hammer it.
func (c *Coordinator) waitForHost(ctx context.Context, rawURL string) error {
	if c.cfg.Network.HostRateLimit <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	host := strings.ToLower(parsed.Host)

	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.Network.HostRateLimit), 1)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cancelled while rate limited for host %s: %w", host, err)
	}
	return nil
}

func failure(url string, err error) *schemas.FetchResult {
	return &schemas.FetchResult{
		Success: false,
		URL:     url,
		Error:   err.Error(),
	}
}
