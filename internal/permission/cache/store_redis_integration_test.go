//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mathilda/internal/permission/cache"
	"mathilda/internal/platform/logger"
	"mathilda/pkg/testutil/containers"
)

type RedisKVSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	kv    *cache.RedisKV
}

func TestRedisKVSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := &RedisKVSuite{redis: containers.NewRedisContainer(t)}
	suite.Run(t, s)
}

func (s *RedisKVSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.kv = cache.NewRedisKV(s.redis.Client)
}

func (s *RedisKVSuite) TestGetSetDelete() {
	_, found, err := s.kv.Get(s.ctx, "perm:absent")
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.kv.Set(s.ctx, "perm:k", []byte("v"), 0))

	value, found, err := s.kv.Get(s.ctx, "perm:k")
	s.Require().NoError(err)
	s.True(found)
	s.Equal([]byte("v"), value)

	s.Require().NoError(s.kv.Delete(s.ctx, "perm:k"))
	_, found, err = s.kv.Get(s.ctx, "perm:k")
	s.Require().NoError(err)
	s.False(found)
}

func (s *RedisKVSuite) TestTTLExpiry() {
	s.Require().NoError(s.kv.Set(s.ctx, "perm:ephemeral", []byte("v"), 100*time.Millisecond))

	_, found, err := s.kv.Get(s.ctx, "perm:ephemeral")
	s.Require().NoError(err)
	s.True(found)

	s.Eventually(func() bool {
		_, found, err := s.kv.Get(s.ctx, "perm:ephemeral")
		return err == nil && !found
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisKVSuite) TestKeysAndDeleteByPrefix() {
	s.Require().NoError(s.kv.Set(s.ctx, "perm:userId=a|p1", []byte("1"), 0))
	s.Require().NoError(s.kv.Set(s.ctx, "perm:userId=a|p2", []byte("2"), 0))
	s.Require().NoError(s.kv.Set(s.ctx, "perm:userId=b|p1", []byte("3"), 0))

	keys, err := s.kv.Keys(s.ctx, "perm:userId=a")
	s.Require().NoError(err)
	s.Len(keys, 2)

	removed, err := s.kv.DeleteByPrefix(s.ctx, "perm:userId=a")
	s.Require().NoError(err)
	s.Equal(2, removed)

	remaining, err := s.kv.Keys(s.ctx, "perm:")
	s.Require().NoError(err)
	s.Equal([]string{"perm:userId=b|p1"}, remaining)

	s.Run("empty prefix match is a no-op", func() {
		removed, err := s.kv.DeleteByPrefix(s.ctx, "perm:userId=zzz")
		s.Require().NoError(err)
		s.Zero(removed)
	})
}

func (s *RedisKVSuite) TestCacheOverRedis() {
	log := logger.Discard()
	cfg := cache.DefaultConfig()
	cfg.Distributed.SyncInterval = 0

	first := cache.New(log, s.kv, cfg)
	defer first.Dispose()
	first.Set(s.ctx, "userId=a|permission=x|targetUser=|targetDept=", true, cache.LevelBoth)

	// A second instance over the same Redis sees the entry.
	second := cache.New(log, s.kv, cfg)
	defer second.Dispose()
	value, source := second.GetBool(s.ctx, "userId=a|permission=x|targetUser=|targetDept=")
	s.True(value)
	s.NotEqual(cache.SourceMiss, source)
}
