package redisq

import (
	"context"
	"fmt"

	"syncq/internal/domain"
	"syncq/internal/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.QueueStore = (*Client)(nil)

// Layout: <prefix>:queue:<type> is a list of command ids in queue order,
// <prefix>:command:<id> a hash holding the command record and
// <prefix>:commands the set of all stored ids.

func (c *Client) queueKey(qt domain.QueueType) string { return c.key("queue", string(qt)) }
func (c *Client) commandKey(id string) string         { return c.key("command", id) }
func (c *Client) indexKey() string                    { return c.key("commands") }

func (c *Client) Load(ctx context.Context, qt domain.QueueType) ([]*domain.Command, error) {
	ids, err := c.Rdb.LRange(ctx, c.queueKey(qt), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s queue: %w", qt, err)
	}
	out := make([]*domain.Command, 0, len(ids))
	for _, id := range ids {
		rec, err := c.Rdb.HGetAll(ctx, c.commandKey(id)).Result()
		if err != nil {
			return out, fmt.Errorf("read command %s: %w", id, err)
		}
		if len(rec) == 0 {
			continue
		}
		cmd, err := domain.CommandFromRecord(rec)
		if err != nil {
			return out, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

// Save drops everything stored before and writes snapshot in one transaction.
func (c *Client) Save(ctx context.Context, snapshot map[domain.QueueType][]*domain.Command) error {
	old, err := c.Rdb.SMembers(ctx, c.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read command index: %w", err)
	}

	_, err = c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		stale := []string{c.indexKey()}
		for _, qt := range domain.QueueTypes {
			stale = append(stale, c.queueKey(qt))
		}
		for _, id := range old {
			stale = append(stale, c.commandKey(id))
		}
		pipe.Del(ctx, stale...)

		for qt, cmds := range snapshot {
			if len(cmds) == 0 {
				continue
			}
			ids := make([]any, 0, len(cmds))
			for _, cmd := range cmds {
				rec := cmd.Record()
				fields := make(map[string]any, len(rec))
				for k, v := range rec {
					fields[k] = v
				}
				pipe.HSet(ctx, c.commandKey(cmd.ID), fields)
				pipe.SAdd(ctx, c.indexKey(), cmd.ID)
				ids = append(ids, cmd.ID)
			}
			pipe.RPush(ctx, c.queueKey(qt), ids...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write command queue: %w", err)
	}
	return nil
}
