package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"live-auction/internal/models"
	"live-auction/utils"
)

// DefaultChannel is the Redis Pub/Sub channel carrying lot events between nodes
const DefaultChannel = "lot_events_broadcast"

// RedisRelay fans lot events out across service instances. Publish sends an
// event to Redis; every instance, the sender included, receives it through
// its subscription and hands it to its local Hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, hub: hub}
}

// Publish sends ev to every instance. When Redis is unreachable the event is
// still delivered to local subscribers.
func (r *RedisRelay) Publish(ctx context.Context, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = r.client.Publish(ctx, r.channel, payload).Err()
	}
	if err != nil {
		utils.Warn("Redis publish failed, delivering locally", map[string]any{
			"lot_id": ev.LotID,
			"type":   ev.Type,
			"error":  err.Error(),
		})
		r.hub.Broadcast(ctx, ev)
	}
}

// Start subscribes to the channel and relays messages to the hub until ctx is done.
// It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis relay: subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					utils.Warn("Redis relay: invalid payload", map[string]any{"error": err.Error()})
					continue
				}
				r.hub.Broadcast(ctx, ev)
			}
		}
	}()
	return nil
}
