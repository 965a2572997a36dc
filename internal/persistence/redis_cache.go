package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/pkg/api"
)

// RedisVersionCache is a read-through cache in front of a VersionRepository.
// Versions are immutable apart from their active flag, so entries are only
// dropped when the active version of a workflow changes.
//
// Key layout:
//
//	<prefix>version:<id>        => JSON cachedVersion
//	<prefix>active:<workflow>   => id of the active version
//	<prefix>idx:wf:<workflow>   => SET of cached version ids of a workflow
type RedisVersionCache struct {
	next   api.VersionRepository
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ api.VersionRepository = (*RedisVersionCache)(nil)

// NewRedisVersionCache wraps next. prefix defaults to "dealflow:" and a
// non-positive ttl keeps entries until invalidated.
func NewRedisVersionCache(next api.VersionRepository, client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisVersionCache {
	if prefix == "" {
		prefix = "dealflow:"
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisVersionCache{
		next:   next,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

type cachedVersion struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflowId"`
	Version     string    `json:"version"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	Checksum    string    `json:"checksum"`
	IsActive    bool      `json:"isActive"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (c *RedisVersionCache) keyVersion(id string) string {
	return c.prefix + "version:" + id
}

func (c *RedisVersionCache) keyActive(workflowID string) string {
	return c.prefix + "active:" + workflowID
}

func (c *RedisVersionCache) keyWorkflow(workflowID string) string {
	return c.prefix + "idx:wf:" + workflowID
}

func (c *RedisVersionCache) Insert(ctx context.Context, v *api.WorkflowVersion) error {
	if err := c.next.Insert(ctx, v); err != nil {
		return err
	}
	if v.IsActive {
		c.invalidate(ctx, v.WorkflowID)
	}
	return nil
}

func (c *RedisVersionCache) List(ctx context.Context, workflowID string) ([]*api.WorkflowVersion, error) {
	return c.next.List(ctx, workflowID)
}

func (c *RedisVersionCache) FindByVersion(ctx context.Context, workflowID, version string) (*api.WorkflowVersion, error) {
	return c.next.FindByVersion(ctx, workflowID, version)
}

// FindByID serves the hot path of deals pinned to a version.
func (c *RedisVersionCache) FindByID(ctx context.Context, id string) (*api.WorkflowVersion, error) {
	if v, ok := c.load(ctx, id); ok {
		return v, nil
	}
	v, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, v)
	return v, nil
}

func (c *RedisVersionCache) FindActive(ctx context.Context, workflowID string) (*api.WorkflowVersion, error) {
	id, err := c.client.Get(ctx, c.keyActive(workflowID)).Result()
	switch {
	case err == nil:
		if v, ok := c.load(ctx, id); ok && v.IsActive {
			return v, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "version_cache_read_failed", "workflow_id", workflowID, "error", err)
	}

	v, err := c.next.FindActive(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if c.store(ctx, v) {
		if err := c.client.Set(ctx, c.keyActive(workflowID), v.ID, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "version_cache_write_failed", "workflow_id", workflowID, "error", err)
		}
	}
	return v, nil
}

// MarkActive delegates and then drops every cached entry of the workflow,
// since the active flag of at least two versions changed.
func (c *RedisVersionCache) MarkActive(ctx context.Context, workflowID, versionID string) error {
	if err := c.next.MarkActive(ctx, workflowID, versionID); err != nil {
		return err
	}
	c.invalidate(ctx, workflowID)
	return nil
}

func (c *RedisVersionCache) load(ctx context.Context, id string) (*api.WorkflowVersion, bool) {
	data, err := c.client.Get(ctx, c.keyVersion(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "version_cache_read_failed", "version_id", id, "error", err)
		}
		return nil, false
	}
	v, err := decodeCachedVersion(data)
	if err != nil {
		c.logger.WarnContext(ctx, "version_cache_decode_failed", "version_id", id, "error", err)
		return nil, false
	}
	return v, true
}

// store caches v and reports whether it succeeded. Cache failures never
// fail the caller.
func (c *RedisVersionCache) store(ctx context.Context, v *api.WorkflowVersion) bool {
	data, err := encodeCachedVersion(v)
	if err != nil {
		c.logger.WarnContext(ctx, "version_cache_encode_failed", "version_id", v.ID, "error", err)
		return false
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.keyVersion(v.ID), data, c.ttl)
	pipe.SAdd(ctx, c.keyWorkflow(v.WorkflowID), v.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WarnContext(ctx, "version_cache_write_failed", "version_id", v.ID, "error", err)
		return false
	}
	return true
}

func (c *RedisVersionCache) invalidate(ctx context.Context, workflowID string) {
	ids, err := c.client.SMembers(ctx, c.keyWorkflow(workflowID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "version_cache_invalidate_failed", "workflow_id", workflowID, "error", err)
	}
	keys := []string{c.keyActive(workflowID), c.keyWorkflow(workflowID)}
	for _, id := range ids {
		keys = append(keys, c.keyVersion(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "version_cache_invalidate_failed", "workflow_id", workflowID, "error", err)
	}
}

func encodeCachedVersion(v *api.WorkflowVersion) ([]byte, error) {
	source := v.Source
	if source == "" && v.Template != nil {
		data, err := template.Encode(v.Template)
		if err != nil {
			return nil, err
		}
		source = string(data)
	}
	return json.Marshal(cachedVersion{
		ID:          v.ID,
		WorkflowID:  v.WorkflowID,
		Version:     v.Version,
		Title:       v.Title,
		Description: v.Description,
		Source:      source,
		Checksum:    v.Checksum,
		IsActive:    v.IsActive,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
	})
}

func decodeCachedVersion(data []byte) (*api.WorkflowVersion, error) {
	var cv cachedVersion
	if err := json.Unmarshal(data, &cv); err != nil {
		return nil, err
	}
	tpl, err := template.ParseString(cv.Source)
	if err != nil {
		return nil, fmt.Errorf("cached version %s: %w", cv.ID, err)
	}
	return &api.WorkflowVersion{
		ID:          cv.ID,
		WorkflowID:  cv.WorkflowID,
		Version:     cv.Version,
		Title:       cv.Title,
		Description: cv.Description,
		Source:      cv.Source,
		Template:    tpl,
		Checksum:    cv.Checksum,
		IsActive:    cv.IsActive,
		CreatedBy:   cv.CreatedBy,
		CreatedAt:   cv.CreatedAt,
	}, nil
}
