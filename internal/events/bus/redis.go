package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/config"
	"github.com/codi-dev/codi/internal/common/logger"
)

// RedisEventBus implements EventBus over Redis pub/sub. This is the
// default cross-process bus: worker processes publish progress events
// and the gateway process subscribes and fans out to WebSockets.
type RedisEventBus struct {
	client *redis.Client
	logger *logger.Logger

	mu     sync.Mutex
	subs   []*redisSubscription
	closed bool
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	mu     sync.Mutex
	active bool
}

// Unsubscribe stops the receive loop and closes the Redis subscription.
func (s *redisSubscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()

	s.cancel()
	return s.pubsub.Close()
}

// IsValid returns whether the subscription is still active.
func (s *redisSubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewRedisEventBus connects to Redis and verifies the connection.
func NewRedisEventBus(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisEventBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info("connected to redis event bus", zap.String("addr", cfg.Addr))

	return &RedisEventBus{
		client: client,
		logger: log.Named("redisbus"),
	}, nil
}

// Publish sends an event to a channel. Subscribers connected after the
// publish do not receive it; Redis pub/sub has no replay.
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("failed to publish event",
			zap.String("channel", channel),
			zap.String("event_type", event.Type),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("published event",
		zap.String("channel", channel),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}

// Subscribe creates a subscription and starts a receive loop that
// decodes envelopes and invokes the handler. Handler errors are logged
// and do not stop the loop.
func (b *RedisEventBus) Subscribe(channel string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("event bus is closed")
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channel)

	// Wait for the subscription to be established so callers can rely
	// on receiving messages published after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		cancel: cancel,
		active: true,
	}

	go func() {
		ch := pubsub.Channel()
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
					b.logger.Error("failed to unmarshal event",
						zap.String("channel", msg.Channel),
						zap.Error(err))
					continue
				}
				if err := handler(ctx, &event); err != nil {
					b.logger.Error("event handler failed",
						zap.String("channel", msg.Channel),
						zap.String("event_id", event.ID),
						zap.String("event_type", event.Type),
						zap.Error(err))
				}
			}
		}
	}()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug("subscribed to channel", zap.String("channel", channel))
	return sub, nil
}

// Close closes all subscriptions and the Redis connection.
func (b *RedisEventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if err := b.client.Close(); err != nil {
		b.logger.Warn("error closing redis connection", zap.Error(err))
	}
	b.logger.Info("redis event bus closed")
}

// IsConnected reports whether the Redis connection is usable.
func (b *RedisEventBus) IsConnected() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}
