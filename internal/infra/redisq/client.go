package redisq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"taskq/internal/config"
)

// Client is the Redis Streams transport: one durable stream per task type
// consumed by workers, plus a single result stream consumed by the manager.
type Client struct {
	Cfg config.Redis
	Rdb *redis.Client

	mu      sync.Mutex
	drained map[string]bool // stream|consumer pairs whose pending backlog was drained
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c, drained: make(map[string]bool)}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

// Init connects and ensures the result stream and its consumer group exist.
// Task streams are created lazily per type via EnsureTaskQueue.
func (c *Client) Init(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.ensureGroup(ctx, c.resultStream(), c.Cfg.ResultGroup); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("stream", c.resultStream()).
		Str("group", c.Cfg.ResultGroup).
		Msg("result stream and consumer group ready")
	return nil
}

func (c *Client) taskStream(taskType string) string {
	return fmt.Sprintf("%s:tasks:%s", c.Cfg.StreamPrefix, taskType)
}

func (c *Client) resultStream() string {
	return fmt.Sprintf("%s:results", c.Cfg.StreamPrefix)
}

func (c *Client) ensureGroup(ctx context.Context, stream, group string) error {
	err := c.Rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP Consumer Group name already exists") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}
