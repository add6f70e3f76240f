package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSubscriber 订阅 Redis pub/sub 频道。用于数据库不支持 LISTEN 的部署（例如经过连接池代理）。
type RedisSubscriber struct {
	client  *redis.Client
	channel string
}

func NewRedisSubscriber(client *redis.Client, channel string) *RedisSubscriber {
	return &RedisSubscriber{client: client, channel: channel}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context) (Subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel)
	// 等待订阅确认。
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

// RedisPublisher 在消息写入成功后发布通知，和 RedisSubscriber 配对使用。
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := EncodePayload(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, b).Err()
}
