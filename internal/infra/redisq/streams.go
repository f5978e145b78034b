package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskq/internal/ports"
)

var _ ports.Transport = (*Client)(nil)

func (c *Client) EnsureTaskQueue(ctx context.Context, taskType string) error {
	return c.ensureGroup(ctx, c.taskStream(taskType), c.Cfg.TaskGroup)
}

func (c *Client) PublishTask(ctx context.Context, msg ports.DispatchMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.taskStream(msg.TaskType),
		Values: map[string]interface{}{"dispatch": b},
	}).Err()
}

func (c *Client) ClaimTask(ctx context.Context, taskType, consumer string, block time.Duration) (*ports.DispatchMessage, string, error) {
	raw, id, err := c.claim(ctx, c.taskStream(taskType), c.Cfg.TaskGroup, consumer, block, "dispatch")
	if err != nil {
		return nil, id, err
	}
	if raw == nil {
		return nil, "", nil
	}
	var msg ports.DispatchMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, id, fmt.Errorf("decode dispatch message %s: %w", id, err)
	}
	return &msg, id, nil
}

func (c *Client) AckTask(ctx context.Context, taskType, deliveryID string) error {
	return c.Rdb.XAck(ctx, c.taskStream(taskType), c.Cfg.TaskGroup, deliveryID).Err()
}

func (c *Client) PublishResult(ctx context.Context, msg ports.ResultMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.resultStream(),
		Values: map[string]interface{}{"result": b},
	}).Err()
}

func (c *Client) ClaimResult(ctx context.Context, consumer string, block time.Duration) (*ports.ResultMessage, string, error) {
	raw, id, err := c.claim(ctx, c.resultStream(), c.Cfg.ResultGroup, consumer, block, "result")
	if err != nil {
		return nil, id, err
	}
	if raw == nil {
		return nil, "", nil
	}
	var msg ports.ResultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, id, fmt.Errorf("decode result message %s: %w", id, err)
	}
	return &msg, id, nil
}

func (c *Client) AckResult(ctx context.Context, deliveryID string) error {
	return c.Rdb.XAck(ctx, c.resultStream(), c.Cfg.ResultGroup, deliveryID).Err()
}

// claim reads one message for the consumer, blocking up to block. A nil
// payload with nil error means the read timed out with nothing delivered.
//
// A message claimed before a crash stays in the group's pending list and a
// ">" read never returns it again, so the consumer's first reads drain its
// own backlog from "0" before asking for new deliveries.
func (c *Client) claim(ctx context.Context, stream, group, consumer string, block time.Duration, field string) ([]byte, string, error) {
	cursor := ">"
	if !c.backlogDrained(stream, consumer) {
		cursor = "0"
	}
	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, cursor},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			if cursor == "0" {
				c.markBacklogDrained(stream, consumer)
			}
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		if cursor == "0" {
			c.markBacklogDrained(stream, consumer)
		}
		return nil, "", nil
	}

	msg := res[0].Messages[0]
	switch v := msg.Values[field].(type) {
	case string:
		return []byte(v), msg.ID, nil
	case []byte:
		return v, msg.ID, nil
	default:
		return nil, msg.ID, fmt.Errorf("unexpected %s payload type: %T", field, v)
	}
}

func (c *Client) backlogDrained(stream, consumer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drained[stream+"|"+consumer]
}

func (c *Client) markBacklogDrained(stream, consumer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drained == nil {
		c.drained = make(map[string]bool)
	}
	c.drained[stream+"|"+consumer] = true
}
