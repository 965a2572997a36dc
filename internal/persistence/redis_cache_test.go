package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/pkg/api"
)

const redisTestPrefix = "dealflow:test:"

// countingVersions counts the lookups that reach the backing repository.
type countingVersions struct {
	api.VersionRepository
	byID   int
	active int
}

func (c *countingVersions) FindByID(ctx context.Context, id string) (*api.WorkflowVersion, error) {
	c.byID++
	return c.VersionRepository.FindByID(ctx, id)
}

func (c *countingVersions) FindActive(ctx context.Context, workflowID string) (*api.WorkflowVersion, error) {
	c.active++
	return c.VersionRepository.FindActive(ctx, workflowID)
}

type RedisVersionCacheTestSuite struct {
	suite.Suite
	client *redis.Client
	ctx    context.Context
	next   *countingVersions
	cache  *RedisVersionCache
}

func TestRedisVersionCacheTestSuite(t *testing.T) {
	addr := testutil.GetRedisAddress(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	suite.Run(t, &RedisVersionCacheTestSuite{client: client})
}

func (r *RedisVersionCacheTestSuite) SetupTest() {
	r.ctx = context.Background()

	// Clean up all keys with this prefix.
	iter := r.client.Scan(r.ctx, 0, redisTestPrefix+"*", 0).Iterator()
	for iter.Next(r.ctx) {
		r.Require().NoError(r.client.Del(r.ctx, iter.Val()).Err())
	}
	r.Require().NoError(iter.Err(), "redis SCAN failed")

	r.next = &countingVersions{VersionRepository: NewInMemoryStore()}
	r.cache = NewRedisVersionCache(r.next, r.client, redisTestPrefix, time.Minute, nil)

	src := string(testutil.FastLeaseTemplate())
	tpl, err := template.ParseString(src)
	r.Require().NoError(err)
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, v := range []*api.WorkflowVersion{
		{ID: "ver-1", WorkflowID: "fast-lease-v1", Version: "1", Source: src, Template: tpl, Checksum: "a", IsActive: true, CreatedAt: created},
		{ID: "ver-2", WorkflowID: "fast-lease-v1", Version: "2", Source: src, Template: tpl, Checksum: "b", CreatedAt: created.Add(time.Hour)},
	} {
		r.Require().NoError(r.cache.Insert(r.ctx, v))
	}
}

func (r *RedisVersionCacheTestSuite) TestFindByIDReadsThrough() {
	first, err := r.cache.FindByID(r.ctx, "ver-1")
	r.Require().NoError(err)
	second, err := r.cache.FindByID(r.ctx, "ver-1")
	r.Require().NoError(err)

	r.Equal(1, r.next.byID, "second lookup must be served from redis")
	r.Equal(first.Checksum, second.Checksum)
	r.True(first.CreatedAt.Equal(second.CreatedAt))
	r.Require().NotNil(second.Template)
	r.Equal("fast-lease-v1", second.Template.Workflow.ID)

	exists, err := r.client.Exists(r.ctx, redisTestPrefix+"version:ver-1").Result()
	r.Require().NoError(err)
	r.EqualValues(1, exists)
}

func (r *RedisVersionCacheTestSuite) TestMissIsNotCached() {
	_, err := r.cache.FindByID(r.ctx, "missing")
	r.ErrorIs(err, api.ErrVersionNotFound)
	_, err = r.cache.FindByID(r.ctx, "missing")
	r.ErrorIs(err, api.ErrVersionNotFound)
	r.Equal(2, r.next.byID)
}

func (r *RedisVersionCacheTestSuite) TestMarkActiveInvalidates() {
	active, err := r.cache.FindActive(r.ctx, "fast-lease-v1")
	r.Require().NoError(err)
	r.Equal("ver-1", active.ID)
	_, err = r.cache.FindActive(r.ctx, "fast-lease-v1")
	r.Require().NoError(err)
	r.Equal(1, r.next.active)

	r.Require().NoError(r.cache.MarkActive(r.ctx, "fast-lease-v1", "ver-2"))

	active, err = r.cache.FindActive(r.ctx, "fast-lease-v1")
	r.Require().NoError(err)
	r.Equal("ver-2", active.ID)
	r.Equal(2, r.next.active)

	old, err := r.cache.FindByID(r.ctx, "ver-1")
	r.Require().NoError(err)
	r.False(old.IsActive, "stale active flag must not survive activation")
}
