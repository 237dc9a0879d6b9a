package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
)

// ErrRedisDisabled is returned when no REDIS_ADDR was configured.
var ErrRedisDisabled = errors.New("redis client not configured")

// Redis wraps the go-redis client. A nil Client means Redis is disabled.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; rule cache and scan lock disabled")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Enabled reports whether a client is configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`

// Lock is a held SET NX lease.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// TryLock acquires key for ttl. It returns (nil, nil) when another holder owns it.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if !r.Enabled() {
		return nil, ErrRedisDisabled
	}
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: r.Client, key: key, token: token}, nil
}

// Release drops the lease if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Err()
}

// ScanLocker adapts TryLock to a fixed key and lease.
type ScanLocker struct {
	redis *Redis
	key   string
	ttl   time.Duration
}

// NewScanLocker returns nil when Redis is disabled.
func NewScanLocker(r *Redis, key string, ttl time.Duration) *ScanLocker {
	if !r.Enabled() {
		return nil
	}
	return &ScanLocker{redis: r, key: key, ttl: ttl}
}

// TryAcquire takes the lease; release drops it with a fresh context.
func (l *ScanLocker) TryAcquire(ctx context.Context) (func(), bool, error) {
	lock, err := l.redis.TryLock(ctx, l.key, l.ttl)
	if err != nil || lock == nil {
		return nil, false, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, true, nil
}
