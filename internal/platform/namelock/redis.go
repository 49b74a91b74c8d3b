package namelock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/promptbridge-backend/internal/platform/envutil"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	PollEvery time.Duration `yaml:"poll_every"`
}

func RedisConfigFromEnv() RedisConfig {
	return RedisConfig{
		Addr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Prefix:    envutil.String("NAME_LOCK_PREFIX", "promptbridge:namelock:"),
		TTL:       time.Duration(envutil.Int("NAME_LOCK_TTL_SECONDS", 60)) * time.Second,
		PollEvery: time.Duration(envutil.Int("NAME_LOCK_POLL_MS", 50)) * time.Millisecond,
	}
}

// Redis is a lease lock shared by every process pointing at the same Redis.
// The lease expires after TTL so a crashed holder cannot wedge a name forever.
type Redis struct {
	log *logger.Logger
	rdb goredis.UniversalClient
	cfg RedisConfig
}

func NewRedis(log *logger.Logger, cfg RedisConfig) (*Redis, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(log, rdb, cfg), nil
}

func NewRedisWithClient(log *logger.Logger, rdb goredis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 50 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "promptbridge:namelock:"
	}
	return &Redis{log: log.With("service", "RedisNameLock"), rdb: rdb, cfg: cfg}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.PollEvery)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire name lock %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.rdb, []string{redisKey}, token).Err(); err != nil {
			r.log.Warn("name lock release failed", "key", key, "error", err)
		}
	}, nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
