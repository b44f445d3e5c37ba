package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "usi:events:"

// RedisSink publishes each event as JSON on channel <prefix><topic>.
type RedisSink struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisSink(rdb *redis.Client, prefix string) *RedisSink {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisSink{rdb: rdb, prefix: prefix}
}

// Channel returns the pub/sub channel used for topic.
func (s *RedisSink) Channel(topic string) string { return s.prefix + topic }

func (s *RedisSink) Emit(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(Event{Topic: topic, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.Channel(topic), raw).Err()
}
