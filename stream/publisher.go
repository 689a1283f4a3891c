package stream

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"unity-api/domain"
)

// RedisPublisher pushes committed aggregate snapshots onto a Redis pub/sub
// channel, from which every API instance feeds its local broker. Publishing
// is best effort: the mutation has already committed by the time this runs.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher for the given pub/sub channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish emits one full-state event for the committed aggregate.
func (p *RedisPublisher) Publish(ctx context.Context, t domain.Task) error {
	ev := Event{
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Version:   t.Version,
		Task:      t,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
