// Package cache implements the two-level permission cache: a fast in-memory
// local tier with least-hits-then-oldest eviction, backed by a distributed
// tier behind the KVStore interface. The distributed tier is the cross-session
// source of truth; a periodic synchronization reloads its unexpired entries
// into the local tier, so callers must tolerate staleness within one sync
// interval. The cache is an optimization, never a source of truth.
package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source tells callers which tier answered a lookup.
type Source string

const (
	SourceLocalHit       Source = "local_hit"
	SourceDistributedHit Source = "distributed_hit"
	SourceMiss           Source = "miss"
)

// Level selects the tiers a Set writes to.
type Level string

const (
	LevelLocal       Level = "local"
	LevelDistributed Level = "distributed"
	LevelBoth        Level = "both"
)

// LocalConfig tunes the in-memory tier.
type LocalConfig struct {
	Enabled        bool
	TTL            time.Duration
	MaxSize        int
	PreloadEnabled bool
}

// DistributedConfig tunes the shared tier.
type DistributedConfig struct {
	Enabled   bool
	KeyPrefix string
	TTL       time.Duration
	// Entries whose serialized size exceeds CompressionThreshold bytes are
	// gzip-compressed inside the envelope.
	CompressionEnabled   bool
	CompressionThreshold int
	SyncInterval         time.Duration
}

// Config is the full two-level configuration.
type Config struct {
	Local       LocalConfig
	Distributed DistributedConfig
	// PrefetchedPermissions are seeded as local placeholder entries by
	// PreloadFrequentPermissions to absorb cold-start misses.
	PrefetchedPermissions []string
}

// DefaultConfig carries the tunings the permission service was profiled with.
func DefaultConfig() Config {
	return Config{
		Local: LocalConfig{
			Enabled:        true,
			TTL:            5 * time.Minute,
			MaxSize:        1000,
			PreloadEnabled: true,
		},
		Distributed: DistributedConfig{
			Enabled:              true,
			KeyPrefix:            "perm:",
			TTL:                  30 * time.Minute,
			CompressionEnabled:   true,
			CompressionThreshold: 10 * 1024,
			SyncInterval:         time.Minute,
		},
	}
}

// Stats is the running counter snapshot returned by GetStats.
type Stats struct {
	LocalHits           int64
	DistributedHits     int64
	Misses              int64
	LocalEvictions      int64
	DistributedSaves    int64
	DistributedLoads    int64
	TotalLookups        int64
	PreloadedEntries    int64
	LocalCacheSize      int
	HitRate             float64
	LocalHitRate        float64
	DistributedHitRate  float64
}

type localEntry struct {
	value     any
	timestamp time.Time
	hits      int64
}

// envelope is the serialization wrapper for distributed entries. When
// Compressed is set, Value holds a base64 string of the gzipped value JSON.
type envelope struct {
	Value      json.RawMessage `json:"value"`
	Timestamp  int64           `json:"timestamp"`
	Compressed bool            `json:"compressed"`
}

// Cache is the two-level permission cache. Safe for concurrent use.
type Cache struct {
	log   *logrus.Logger
	store KVStore

	mu    sync.Mutex
	cfg   Config
	local map[string]*localEntry
	stats Stats

	syncMu     sync.Mutex
	syncStopCh chan struct{}
	syncDoneCh chan struct{}
}

// New builds a cache over the given distributed store, primes the local tier
// from it, and starts the periodic synchronization.
func New(log *logrus.Logger, store KVStore, cfg Config) *Cache {
	c := &Cache{
		log:   log,
		store: store,
		cfg:   cfg,
		local: make(map[string]*localEntry),
	}
	c.loadDistributed(context.Background())
	c.startSync()
	return c
}

// Configure replaces the configuration and restarts the synchronization.
func (c *Cache) Configure(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.startSync()
}

// Get checks the local tier first, then the distributed tier. A distributed
// hit repopulates the local tier. Distributed access failures are logged and
// treated as a miss so the local tier keeps the service alive.
func (c *Cache) Get(ctx context.Context, key string) (any, Source) {
	c.mu.Lock()
	c.stats.TotalLookups++
	cfg := c.cfg

	if cfg.Local.Enabled {
		if entry, ok := c.local[key]; ok {
			if time.Since(entry.timestamp) < cfg.Local.TTL {
				entry.hits++
				c.stats.LocalHits++
				value := entry.value
				c.mu.Unlock()
				cacheHits.WithLabelValues("local").Inc()
				return value, SourceLocalHit
			}
			delete(c.local, key)
		}
	}
	c.mu.Unlock()

	if cfg.Distributed.Enabled {
		value, ok := c.getDistributed(ctx, key, cfg.Distributed)
		if ok {
			if cfg.Local.Enabled {
				c.setLocal(key, value)
			}
			c.mu.Lock()
			c.stats.DistributedHits++
			c.mu.Unlock()
			cacheHits.WithLabelValues("distributed").Inc()
			return value, SourceDistributedHit
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	cacheMisses.Inc()
	return nil, SourceMiss
}

// GetBool is Get for the common boolean permission-check result.
func (c *Cache) GetBool(ctx context.Context, key string) (bool, Source) {
	value, source := c.Get(ctx, key)
	if source == SourceMiss {
		return false, source
	}
	b, ok := value.(bool)
	if !ok {
		return false, SourceMiss
	}
	return b, source
}

// GetStrings is Get for cached permission lists. Distributed entries come
// back from JSON as []any and are converted here.
func (c *Cache) GetStrings(ctx context.Context, key string) ([]string, Source) {
	value, source := c.Get(ctx, key)
	if source == SourceMiss {
		return nil, source
	}
	switch v := value.(type) {
	case []string:
		return v, source
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, SourceMiss
			}
			out = append(out, s)
		}
		return out, source
	default:
		return nil, SourceMiss
	}
}

// Set writes the value to the tiers selected by level.
func (c *Cache) Set(ctx context.Context, key string, value any, level Level) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if (level == LevelLocal || level == LevelBoth) && cfg.Local.Enabled {
		c.setLocal(key, value)
	}
	if (level == LevelDistributed || level == LevelBoth) && cfg.Distributed.Enabled {
		c.setDistributed(ctx, key, value, cfg.Distributed)
	}
}

func (c *Cache) setLocal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Overwriting an existing key cannot grow the map, so it never evicts.
	if _, exists := c.local[key]; !exists {
		c.evictIfNeededLocked()
	}
	c.local[key] = &localEntry{value: value, timestamp: time.Now()}
}

// evictIfNeededLocked enforces the max size by dropping the lowest-hit
// entries, oldest first on ties, in batches of 10% (at least 10) rather than
// one-at-a-time LRU.
func (c *Cache) evictIfNeededLocked() {
	if c.cfg.Local.MaxSize <= 0 || len(c.local) < c.cfg.Local.MaxSize {
		return
	}

	type candidate struct {
		key   string
		entry *localEntry
	}
	candidates := make([]candidate, 0, len(c.local))
	for key, entry := range c.local {
		candidates = append(candidates, candidate{key: key, entry: entry})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].entry.hits != candidates[j].entry.hits {
			return candidates[i].entry.hits < candidates[j].entry.hits
		}
		return candidates[i].entry.timestamp.Before(candidates[j].entry.timestamp)
	})

	toRemove := c.cfg.Local.MaxSize / 10
	if toRemove < 10 {
		toRemove = 10
	}
	for i := 0; i < toRemove && i < len(candidates); i++ {
		delete(c.local, candidates[i].key)
		c.stats.LocalEvictions++
		cacheEvictions.Inc()
	}
}

func (c *Cache) setDistributed(ctx context.Context, key string, value any, cfg DistributedConfig) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warnf("cache: serialize entry %s: %v", key, err)
		return
	}

	env := envelope{Value: raw, Timestamp: time.Now().UnixMilli()}
	if cfg.CompressionEnabled && len(raw) > cfg.CompressionThreshold {
		compressed, err := gzipBytes(raw)
		if err != nil {
			c.log.Warnf("cache: compress entry %s: %v", key, err)
		} else {
			encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(compressed))
			env.Value = encoded
			env.Compressed = true
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		c.log.Warnf("cache: serialize envelope %s: %v", key, err)
		return
	}
	if err := c.store.Set(ctx, cfg.KeyPrefix+key, payload, cfg.TTL); err != nil {
		c.log.Warnf("cache: distributed store write failed for %s: %v", key, err)
		return
	}
	c.mu.Lock()
	c.stats.DistributedSaves++
	c.mu.Unlock()
}

func (c *Cache) getDistributed(ctx context.Context, key string, cfg DistributedConfig) (any, bool) {
	payload, ok, err := c.store.Get(ctx, cfg.KeyPrefix+key)
	if err != nil {
		c.log.Warnf("cache: distributed store read failed for %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	value, fresh, err := decodeEnvelope(payload, cfg.TTL)
	if err != nil {
		c.log.Warnf("cache: corrupt distributed entry %s: %v", key, err)
		_ = c.store.Delete(ctx, cfg.KeyPrefix+key)
		return nil, false
	}
	if !fresh {
		_ = c.store.Delete(ctx, cfg.KeyPrefix+key)
		return nil, false
	}
	return value, true
}

// decodeEnvelope unwraps a distributed entry, decompressing when flagged, and
// reports whether it is still within the distributed TTL.
func decodeEnvelope(payload []byte, ttl time.Duration) (any, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if time.Since(time.UnixMilli(env.Timestamp)) >= ttl {
		return nil, false, nil
	}

	raw := []byte(env.Value)
	if env.Compressed {
		var encoded string
		if err := json.Unmarshal(env.Value, &encoded); err != nil {
			return nil, false, fmt.Errorf("unmarshal compressed value: %w", err)
		}
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, false, fmt.Errorf("decode compressed value: %w", err)
		}
		raw, err = gunzipBytes(compressed)
		if err != nil {
			return nil, false, fmt.Errorf("decompress value: %w", err)
		}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("unmarshal value: %w", err)
	}
	return value, true, nil
}

// Invalidate removes a key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.local, key)
	prefix := c.cfg.Distributed.KeyPrefix
	distributed := c.cfg.Distributed.Enabled
	c.mu.Unlock()

	if distributed {
		if err := c.store.Delete(ctx, prefix+key); err != nil {
			c.log.Warnf("cache: distributed delete failed for %s: %v", key, err)
		}
	}
}

// InvalidateByPrefix removes all entries in both tiers whose key starts with
// prefix and returns the count removed. This is how a permission change for
// one subject invalidates only that subject's cached checks.
func (c *Cache) InvalidateByPrefix(ctx context.Context, prefix string) int {
	count := 0

	c.mu.Lock()
	for key := range c.local {
		if strings.HasPrefix(key, prefix) {
			delete(c.local, key)
			count++
		}
	}
	keyPrefix := c.cfg.Distributed.KeyPrefix
	distributed := c.cfg.Distributed.Enabled
	c.mu.Unlock()

	if distributed {
		removed, err := c.store.DeleteByPrefix(ctx, keyPrefix+prefix)
		if err != nil {
			c.log.Warnf("cache: distributed prefix invalidation failed for %s: %v", prefix, err)
		} else {
			count += removed
		}
	}

	if count > 0 {
		c.log.Debugf("cache: invalidated %d entries with prefix %q", count, prefix)
	}
	return count
}

// Clear empties both tiers entirely.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.local = make(map[string]*localEntry)
	keyPrefix := c.cfg.Distributed.KeyPrefix
	distributed := c.cfg.Distributed.Enabled
	c.mu.Unlock()

	if distributed {
		if _, err := c.store.DeleteByPrefix(ctx, keyPrefix); err != nil {
			c.log.Warnf("cache: distributed clear failed: %v", err)
		}
	}
}

// PreloadFrequentPermissions seeds local placeholder entries (value true) for
// the configured frequent permissions of one user, absorbing cold-start
// misses. Placeholders are overwritten by the first real check. The key
// layout is shared with the permission service.
func (c *Cache) PreloadFrequentPermissions(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Local.PreloadEnabled || userID == "" {
		return
	}

	for _, permission := range c.cfg.PrefetchedPermissions {
		keys := []string{
			fmt.Sprintf("userId=%s|permission=%s|targetUser=|targetDept=", userID, permission),
			fmt.Sprintf("userId=%s|permission=%s|targetUser=%s|targetDept=", userID, permission, userID),
		}
		for _, key := range keys {
			c.local[key] = &localEntry{value: true, timestamp: time.Now()}
			c.stats.PreloadedEntries++
		}
	}
}

// loadDistributed pulls every unexpired distributed entry into the local
// tier, preserving the original write timestamps. Expired or corrupt entries
// are dropped from the store along the way.
func (c *Cache) loadDistributed(ctx context.Context) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if !cfg.Distributed.Enabled || !cfg.Local.Enabled {
		return
	}

	keys, err := c.store.Keys(ctx, cfg.Distributed.KeyPrefix)
	if err != nil {
		c.log.Warnf("cache: distributed sync listing failed: %v", err)
		return
	}

	var loaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, fullKey := range keys {
		g.Go(func() error {
			payload, ok, err := c.store.Get(gctx, fullKey)
			if err != nil || !ok {
				return nil
			}

			var env envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				_ = c.store.Delete(gctx, fullKey)
				return nil
			}
			value, fresh, err := decodeEnvelope(payload, cfg.Distributed.TTL)
			if err != nil || !fresh {
				_ = c.store.Delete(gctx, fullKey)
				return nil
			}

			key := strings.TrimPrefix(fullKey, cfg.Distributed.KeyPrefix)
			c.mu.Lock()
			c.local[key] = &localEntry{value: value, timestamp: time.UnixMilli(env.Timestamp)}
			c.mu.Unlock()
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	c.stats.DistributedLoads++
	c.mu.Unlock()

	if n := loaded.Load(); n > 0 {
		c.log.Debugf("cache: loaded %d entries from distributed tier", n)
	}
}

func (c *Cache) startSync() {
	c.StopSync()

	c.mu.Lock()
	enabled := c.cfg.Distributed.Enabled
	interval := c.cfg.Distributed.SyncInterval
	c.mu.Unlock()

	if !enabled || interval <= 0 {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	c.syncMu.Lock()
	c.syncStopCh, c.syncDoneCh = stop, done
	c.syncMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.loadDistributed(context.Background())
			}
		}
	}()
}

// StopSync halts the periodic distributed-to-local reload.
func (c *Cache) StopSync() {
	c.syncMu.Lock()
	stop, done := c.syncStopCh, c.syncDoneCh
	c.syncStopCh, c.syncDoneCh = nil, nil
	c.syncMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Dispose stops background work. The cache remains usable as a plain
// two-tier lookup afterwards.
func (c *Cache) Dispose() {
	c.StopSync()
}

// GetStats snapshots the counters with derived hit rates.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.LocalCacheSize = len(c.local)
	if stats.TotalLookups > 0 {
		total := float64(stats.TotalLookups)
		stats.HitRate = float64(stats.LocalHits+stats.DistributedHits) / total
		stats.LocalHitRate = float64(stats.LocalHits) / total
		stats.DistributedHitRate = float64(stats.DistributedHits) / total
	}
	return stats
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
