package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Maronee/appscale/internal/compute"
	"github.com/Maronee/appscale/internal/config"
)

// RedisSink stores the latest result per proxy under
// "<prefix>:proxy:<host>:<proxy>" with a TTL and announces every update on
// the "<prefix>:updates" channel.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// DialRedis connects to the Redis instance in cfg and verifies it with PING.
func DialRedis(ctx context.Context, cfg config.PublishConfig) (*RedisSink, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("publish: parse redis url: %w", err)
	}
	if pw := cfg.Password(); pw != "" {
		opt.Password = pw
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("publish: connect to redis: %w", err)
	}
	return &RedisSink{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

// Send writes res and publishes it in one transaction.
func (s *RedisSink) Send(ctx context.Context, res *compute.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("%w: encode result: %v", ErrPermanent, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(res), data, s.ttl)
	pipe.Publish(ctx, s.channel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish: redis exec: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) key(res *compute.Result) string {
	return s.prefix + ":proxy:" + res.Host + ":" + res.Proxy
}

func (s *RedisSink) channel() string {
	return s.prefix + ":updates"
}
