package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

const (
	slaPoliciesCacheKey     = "sde:rules:sla_policies"
	assignmentRulesCacheKey = "sde:rules:assignment"
	escalationRulesCacheKey = "sde:rules:escalation"
)

// RuleCache keeps short-lived JSON snapshots of configuration tables in redis.
// Cache failures fall through to the wrapped repository.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRuleCache returns nil when client is nil or ttl is zero; callers should
// then use the underlying repositories directly.
func NewRuleCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RuleCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &RuleCache{client: client, ttl: ttl, logger: logger}
}

// Invalidate drops every cached snapshot. A nil cache has nothing to drop.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, slaPoliciesCacheKey, assignmentRulesCacheKey, escalationRulesCacheKey).Err()
}

func cached[T any](ctx context.Context, c *RuleCache, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var out []T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		c.logger.Warn("discarding corrupt rule snapshot", zap.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("rule cache read failed", zap.String("key", key), zap.Error(err))
	}

	out, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(out); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("rule cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

type cachedSLAPolicies struct {
	next  SLAPolicyRepository
	cache *RuleCache
}

// WithSLAPolicyCache decorates repo with the redis snapshot cache.
func WithSLAPolicyCache(repo SLAPolicyRepository, cache *RuleCache) SLAPolicyRepository {
	if cache == nil {
		return repo
	}
	return &cachedSLAPolicies{next: repo, cache: cache}
}

func (r *cachedSLAPolicies) ListEnabled(ctx context.Context) ([]domain.SLAPolicy, error) {
	return cached(ctx, r.cache, slaPoliciesCacheKey, r.next.ListEnabled)
}

type cachedAssignmentRules struct {
	next  AssignmentRuleRepository
	cache *RuleCache
}

// WithAssignmentRuleCache decorates repo with the redis snapshot cache.
func WithAssignmentRuleCache(repo AssignmentRuleRepository, cache *RuleCache) AssignmentRuleRepository {
	if cache == nil {
		return repo
	}
	return &cachedAssignmentRules{next: repo, cache: cache}
}

func (r *cachedAssignmentRules) ListActive(ctx context.Context) ([]domain.AssignmentRule, error) {
	return cached(ctx, r.cache, assignmentRulesCacheKey, r.next.ListActive)
}

type cachedEscalationRules struct {
	next  EscalationRuleRepository
	cache *RuleCache
}

// WithEscalationRuleCache decorates repo with the redis snapshot cache.
func WithEscalationRuleCache(repo EscalationRuleRepository, cache *RuleCache) EscalationRuleRepository {
	if cache == nil {
		return repo
	}
	return &cachedEscalationRules{next: repo, cache: cache}
}

func (r *cachedEscalationRules) ListActive(ctx context.Context) ([]domain.EscalationRule, error) {
	return cached(ctx, r.cache, escalationRulesCacheKey, r.next.ListActive)
}
