package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mathilda/internal/platform/logger"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// Tests drive synchronization explicitly.
	cfg.Distributed.SyncInterval = 0
	return cfg
}

type CacheSuite struct {
	suite.Suite
	ctx   context.Context
	kv    *MemoryKV
	cache *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.ctx = context.Background()
	s.kv = NewMemoryKV()
	s.cache = New(logger.Discard(), s.kv, testConfig())
}

func (s *CacheSuite) TearDownTest() {
	s.cache.Dispose()
}

func (s *CacheSuite) TestMiss() {
	_, source := s.cache.Get(s.ctx, "absent")
	s.Equal(SourceMiss, source)
}

func (s *CacheSuite) TestLocalHit() {
	s.cache.Set(s.ctx, "k", true, LevelLocal)

	value, source := s.cache.GetBool(s.ctx, "k")
	s.Equal(SourceLocalHit, source)
	s.True(value)
}

func (s *CacheSuite) TestDistributedHitRepopulatesLocal() {
	s.cache.Set(s.ctx, "k", true, LevelDistributed)

	value, source := s.cache.GetBool(s.ctx, "k")
	s.Equal(SourceDistributedHit, source)
	s.True(value)

	_, source = s.cache.GetBool(s.ctx, "k")
	s.Equal(SourceLocalHit, source, "distributed hit writes through to the local tier")
}

func (s *CacheSuite) TestLocalTTLExpiry() {
	cfg := testConfig()
	cfg.Local.TTL = 10 * time.Millisecond
	cfg.Distributed.Enabled = false
	s.cache.Configure(cfg)

	s.cache.Set(s.ctx, "k", true, LevelLocal)
	time.Sleep(20 * time.Millisecond)

	_, source := s.cache.Get(s.ctx, "k")
	s.Equal(SourceMiss, source)
}

func (s *CacheSuite) TestDistributedTTLExpiry() {
	cfg := testConfig()
	cfg.Local.Enabled = false
	cfg.Distributed.TTL = 10 * time.Millisecond
	s.cache.Configure(cfg)

	s.cache.Set(s.ctx, "k", true, LevelDistributed)
	time.Sleep(20 * time.Millisecond)

	_, source := s.cache.Get(s.ctx, "k")
	s.Equal(SourceMiss, source)

	_, ok, err := s.kv.Get(s.ctx, cfg.Distributed.KeyPrefix+"k")
	s.Require().NoError(err)
	s.False(ok, "expired distributed entries are removed on read")
}

func (s *CacheSuite) TestEvictionKeepsHotEntries() {
	cfg := testConfig()
	cfg.Local.MaxSize = 20
	cfg.Distributed.Enabled = false
	s.cache.Configure(cfg)

	for i := range 20 {
		s.cache.Set(s.ctx, fmt.Sprintf("key-%d", i), i, LevelLocal)
	}
	// Touch the second half so the first half carries the fewest hits.
	for i := 10; i < 20; i++ {
		_, source := s.cache.Get(s.ctx, fmt.Sprintf("key-%d", i))
		s.Require().Equal(SourceLocalHit, source)
	}

	s.cache.Set(s.ctx, "overflow", true, LevelLocal)

	stats := s.cache.GetStats()
	s.Equal(int64(10), stats.LocalEvictions, "a tenth of MaxSize but at least ten entries go")

	for i := 10; i < 20; i++ {
		_, source := s.cache.Get(s.ctx, fmt.Sprintf("key-%d", i))
		s.Equal(SourceLocalHit, source, "hot entries survive eviction")
	}
	_, source := s.cache.Get(s.ctx, "key-0")
	s.Equal(SourceMiss, source, "cold entries are evicted first")
}

func (s *CacheSuite) TestOverwriteAtCapacityDoesNotEvict() {
	cfg := testConfig()
	cfg.Local.MaxSize = 20
	cfg.Distributed.Enabled = false
	s.cache.Configure(cfg)

	for i := range 20 {
		s.cache.Set(s.ctx, fmt.Sprintf("key-%d", i), i, LevelLocal)
	}

	// Refreshing an existing key at capacity replaces it in place.
	s.cache.Set(s.ctx, "key-5", "refreshed", LevelLocal)

	stats := s.cache.GetStats()
	s.Equal(int64(0), stats.LocalEvictions)
	s.Equal(20, stats.LocalCacheSize)

	value, source := s.cache.Get(s.ctx, "key-5")
	s.Equal(SourceLocalHit, source)
	s.Equal("refreshed", value)
}

func (s *CacheSuite) TestInvalidate() {
	s.cache.Set(s.ctx, "k", true, LevelBoth)
	s.cache.Invalidate(s.ctx, "k")

	_, source := s.cache.Get(s.ctx, "k")
	s.Equal(SourceMiss, source)
}

func (s *CacheSuite) TestInvalidateByPrefix() {
	s.cache.Set(s.ctx, "userId=u1|permission=a", true, LevelBoth)
	s.cache.Set(s.ctx, "userId=u1|permission=b", true, LevelBoth)
	s.cache.Set(s.ctx, "userId=u2|permission=a", true, LevelBoth)

	count := s.cache.InvalidateByPrefix(s.ctx, "userId=u1")
	s.Equal(4, count, "two local and two distributed entries")

	_, source := s.cache.Get(s.ctx, "userId=u1|permission=a")
	s.Equal(SourceMiss, source)
	_, source = s.cache.Get(s.ctx, "userId=u2|permission=a")
	s.NotEqual(SourceMiss, source, "other users keep their entries")
}

func (s *CacheSuite) TestClear() {
	s.cache.Set(s.ctx, "a", true, LevelBoth)
	s.cache.Set(s.ctx, "b", true, LevelBoth)
	s.cache.Clear(s.ctx)

	_, source := s.cache.Get(s.ctx, "a")
	s.Equal(SourceMiss, source)
	s.Equal(0, s.cache.GetStats().LocalCacheSize)
}

func (s *CacheSuite) TestPreloadFrequentPermissions() {
	cfg := testConfig()
	cfg.PrefetchedPermissions = []string{"leaves.view.own", "leaves.request"}
	s.cache.Configure(cfg)

	s.cache.PreloadFrequentPermissions("u1")

	value, source := s.cache.GetBool(s.ctx,
		"userId=u1|permission=leaves.view.own|targetUser=|targetDept=")
	s.Equal(SourceLocalHit, source)
	s.True(value, "placeholders are optimistic")

	stats := s.cache.GetStats()
	s.Equal(int64(4), stats.PreloadedEntries, "two keys per prefetched permission")

	s.Run("disabled preload is inert", func() {
		cfg.Local.PreloadEnabled = false
		s.cache.Configure(cfg)
		s.cache.PreloadFrequentPermissions("u2")

		_, source := s.cache.Get(s.ctx,
			"userId=u2|permission=leaves.view.own|targetUser=|targetDept=")
		s.Equal(SourceMiss, source)
	})
}

func (s *CacheSuite) TestCompressionRoundTrip() {
	cfg := testConfig()
	cfg.Distributed.CompressionThreshold = 32
	s.cache.Configure(cfg)

	big := strings.Repeat("leaves.view.own,", 64)
	s.cache.Set(s.ctx, "big", big, LevelDistributed)

	payload, ok, err := s.kv.Get(s.ctx, cfg.Distributed.KeyPrefix+"big")
	s.Require().NoError(err)
	s.Require().True(ok)
	var env struct {
		Compressed bool `json:"compressed"`
	}
	s.Require().NoError(json.Unmarshal(payload, &env))
	s.True(env.Compressed, "entries over the threshold are compressed")

	value, source := s.cache.Get(s.ctx, "big")
	s.Equal(SourceDistributedHit, source)
	s.Equal(big, value)
}

func (s *CacheSuite) TestSmallEntriesStayUncompressed() {
	s.cache.Set(s.ctx, "small", true, LevelDistributed)

	payload, ok, err := s.kv.Get(s.ctx, testConfig().Distributed.KeyPrefix+"small")
	s.Require().NoError(err)
	s.Require().True(ok)
	var env struct {
		Compressed bool `json:"compressed"`
	}
	s.Require().NoError(json.Unmarshal(payload, &env))
	s.False(env.Compressed)
}

func (s *CacheSuite) TestNewLoadsDistributedTier() {
	s.cache.Set(s.ctx, "warm", "value", LevelDistributed)

	fresh := New(logger.Discard(), s.kv, testConfig())
	defer fresh.Dispose()

	value, source := fresh.Get(s.ctx, "warm")
	s.Equal(SourceLocalHit, source, "startup sync fills the local tier")
	s.Equal("value", value)
}

func (s *CacheSuite) TestCorruptDistributedEntryIsDropped() {
	key := testConfig().Distributed.KeyPrefix + "bad"
	s.Require().NoError(s.kv.Set(s.ctx, key, []byte("not json"), 0))

	_, source := s.cache.Get(s.ctx, "bad")
	s.Equal(SourceMiss, source)

	_, ok, err := s.kv.Get(s.ctx, key)
	s.Require().NoError(err)
	s.False(ok, "corrupt entries are purged")
}

func (s *CacheSuite) TestGetStrings() {
	s.cache.Set(s.ctx, "perms", []string{"a", "b"}, LevelDistributed)

	// Coming back from the distributed tier the slice is []any.
	values, source := s.cache.GetStrings(s.ctx, "perms")
	s.Equal(SourceDistributedHit, source)
	s.Equal([]string{"a", "b"}, values)
}

func (s *CacheSuite) TestStats() {
	s.cache.Set(s.ctx, "k", true, LevelLocal)
	s.cache.Get(s.ctx, "k")
	s.cache.Get(s.ctx, "absent")

	stats := s.cache.GetStats()
	s.Equal(int64(1), stats.LocalHits)
	s.Equal(int64(1), stats.Misses)
	s.Equal(int64(2), stats.TotalLookups)
	s.InDelta(0.5, stats.HitRate, 0.001)
}
