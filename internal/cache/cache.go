// File: internal/cache/cache.go

// Package cache implements the two-tier result cache: an in-process LRU map
// in front of a TTL-checked JSON file store. Cache trouble is never fatal;
// disk errors degrade to a miss and get logged.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrCacheIO tags disk-tier failures. It is never returned to callers; cache
// trouble is logged and treated as a miss.
var ErrCacheIO = errors.New("cache io failure")

// envelope is the on-disk record. The write timestamp travels with the
// payload so the TTL can be enforced on read.
type envelope struct {
	Timestamp time.Time           `json:"timestamp"`
	Payload   schemas.FetchResult `json:"payload"`
}

type memoryEntry struct {
	result     schemas.FetchResult
	storedAt   time.Time
	lastAccess time.Time
	seq        uint64
}

// Manager is the two-tier cache. All methods are safe for concurrent use.
type Manager struct {
	cfg    config.CacheConfig
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*memoryEntry
	seq     uint64
}

// New builds the cache manager. With caching disabled every lookup misses and
// every store is a no-op, so callers never branch on the setting.
func New(cfg config.CacheConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger.Named("cache"),
		entries: make(map[string]*memoryEntry),
	}
}

// Fingerprint derives the cache key for a request. The URL is normalized so
// trivially different spellings of the same address share an entry, and the
// JS requirement is part of the key because it changes what a fetch returns.
func Fingerprint(rawURL string, requireJS bool) string {
	normalized := normalizeURL(rawURL)
	return fmt.Sprintf("%s|js=%t", normalized, requireJS)
}

func normalizeURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	if host, port, found := strings.Cut(parsed.Host, ":"); found {
		if (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443") {
			parsed.Host = host
		}
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String()
}

// Get returns the cached result for key, checking memory first and falling
// back to disk. Expired entries are evicted on sight. A disk hit is promoted
// into memory.
func (m *Manager) Get(key string) (*schemas.FetchResult, bool) {
	if !m.cfg.Enabled {
		return nil, false
	}

	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		if time.Since(entry.storedAt) < m.cfg.TTL {
			entry.lastAccess = time.Now()
			result := entry.result
			m.mu.Unlock()
			return &result, true
		}
		delete(m.entries, key)
	}
	m.mu.Unlock()

	return m.getFromDisk(key)
}

func (m *Manager) getFromDisk(key string) (*schemas.FetchResult, bool) {
	path := m.filePath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("Cache file corrupted, it will be ignored.",
			zap.Error(err), zap.String("path", path))
		_ = os.Remove(path)
		return nil, false
	}

	if time.Since(env.Timestamp) >= m.cfg.TTL {
		m.logger.Debug("Cache file expired, removing.", zap.String("path", path))
		_ = os.Remove(path)
		return nil, false
	}

	m.promote(key, env.Payload, env.Timestamp)
	result := env.Payload
	return &result, true
}

// Put stores a result under key in both tiers. Only successful results are
// worth keeping; failures must stay retryable.
func (m *Manager) Put(key string, result *schemas.FetchResult) {
	if !m.cfg.Enabled || result == nil || !result.Success {
		return
	}

	now := time.Now()
	m.promote(key, *result, now)
	m.writeToDisk(key, envelope{Timestamp: now, Payload: *result})
}

// promote inserts into the memory tier, evicting the least recently used
// entry when full. Ties on access time break by insertion order.
func (m *Manager) promote(key string, result schemas.FetchResult, storedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.cfg.MaxEntries > 0 && len(m.entries) >= m.cfg.MaxEntries {
		m.evictOldestLocked()
	}

	m.seq++
	m.entries[key] = &memoryEntry{
		result:     result,
		storedAt:   storedAt,
		lastAccess: time.Now(),
		seq:        m.seq,
	}
}

func (m *Manager) evictOldestLocked() {
	var victim string
	var victimEntry *memoryEntry
	for key, entry := range m.entries {
		if victimEntry == nil ||
			entry.lastAccess.Before(victimEntry.lastAccess) ||
			(entry.lastAccess.Equal(victimEntry.lastAccess) && entry.seq < victimEntry.seq) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		delete(m.entries, victim)
	}
}

// writeToDisk persists the envelope with a write-then-rename so a concurrent
// reader never observes a torn file.
func (m *Manager) writeToDisk(key string, env envelope) {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		m.logger.Warn("Could not create cache directory.",
			zap.Error(fmt.Errorf("%w: %v", ErrCacheIO, err)))
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("Failed to marshal cache entry. Entry not saved.", zap.Error(err))
		return
	}

	// A unique temp name per write keeps concurrent stores of the same key
	// from publishing each other's partial bytes through the rename.
	tmpFile, err := os.CreateTemp(m.cfg.Dir, "entry-*.tmp")
	if err != nil {
		m.logger.Warn("Could not create cache temp file.",
			zap.Error(fmt.Errorf("%w: %v", ErrCacheIO, err)))
		return
	}
	tmp := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmp)
		m.logger.Warn("Could not write cache file.",
			zap.Error(fmt.Errorf("%w: %v", ErrCacheIO, err)), zap.String("path", tmp))
		return
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmp)
		m.logger.Warn("Could not write cache file.",
			zap.Error(fmt.Errorf("%w: %v", ErrCacheIO, err)), zap.String("path", tmp))
		return
	}

	path := m.filePath(key)
	if err := os.Rename(tmp, path); err != nil {
		m.logger.Warn("Could not finalize cache file.",
			zap.Error(fmt.Errorf("%w: %v", ErrCacheIO, err)), zap.String("path", path))
		_ = os.Remove(tmp)
	}
}

// Clear removes the entry for key from both tiers.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	if err := os.Remove(m.filePath(key)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Could not remove cache file.", zap.Error(err))
	}
}

// ClearAll drops the memory tier and deletes every cache file in the
// configured directory.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	m.entries = make(map[string]*memoryEntry)
	m.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(m.cfg.Dir, "*.json"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("Could not remove cache file.", zap.Error(err), zap.String("path", path))
		}
	}
}

// Keys returns the keys currently resident in the memory tier, sorted for
// deterministic inspection.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) filePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(m.cfg.Dir, hex.EncodeToString(sum[:])+".json")
}
