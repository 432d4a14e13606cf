package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/logger"
)

// MemoryEventBus implements EventBus in-process. It is the default for
// single-process deployments and for tests.
type MemoryEventBus struct {
	subscriptions map[string][]*memorySubscription
	mu            sync.RWMutex
	logger        *logger.Logger
	closed        bool
}

type memorySubscription struct {
	bus     *MemoryEventBus
	channel string
	handler EventHandler
	active  bool
	mu      sync.Mutex
}

// Unsubscribe removes the subscription.
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscriptions[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid returns whether the subscription is still active.
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        log.Named("membus"),
	}
}

// Publish delivers the event to every subscriber of the channel. Each
// handler runs on its own goroutine so a slow subscriber cannot stall
// the publisher.
func (b *MemoryEventBus) Publish(ctx context.Context, channel string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	subs := make([]*memorySubscription, len(b.subscriptions[channel]))
	copy(subs, b.subscriptions[channel])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if !active {
			continue
		}

		go func(s *memorySubscription, e *Event) {
			if err := s.handler(context.WithoutCancel(ctx), e); err != nil {
				b.logger.Error("event handler error",
					zap.String("channel", channel),
					zap.String("event_type", e.Type),
					zap.Error(err))
			}
		}(sub, event)
	}

	b.logger.Debug("published event",
		zap.String("channel", channel),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}

// Subscribe creates a subscription to a channel.
func (b *MemoryEventBus) Subscribe(channel string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		channel: channel,
		handler: handler,
		active:  true,
	}
	b.subscriptions[channel] = append(b.subscriptions[channel], sub)

	b.logger.Debug("subscribed to channel", zap.String("channel", channel))
	return sub, nil
}

// Close closes the event bus.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)
}

// IsConnected returns true while the bus is open.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
