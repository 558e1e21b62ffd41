package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisDispatcher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisDispatcher(client *redis.Client, log *zap.Logger) *RedisDispatcher {
	return &RedisDispatcher{client: client, log: log}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, name string, payload map[string]any) error {
	data, err := json.Marshal(Event{Name: name, Payload: payload})
	if err != nil {
		return err
	}
	if err := d.client.Publish(ctx, ChannelEscrow, string(data)).Err(); err != nil {
		d.log.Warn("event dispatch failed", zap.String("event", name), zap.Error(err))
		return err
	}
	return nil
}

type RedisSubscriber struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, log *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string, handler func(Event)) error {
	pubsub := s.client.Subscribe(ctx, channel)
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.log.Error("failed to unmarshal event", zap.Error(err))
					continue
				}
				handler(event)
			}
		}
	}()

	return nil
}
