package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codi-dev/codi/internal/common/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) handler(ctx context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("ws.message", "codi-core", map[string]interface{}{"k": "v"})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "ws.message", e.Type)
	assert.Equal(t, "codi-core", e.Source)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "v", e.Data["k"])
}

func TestMemoryEventBus(t *testing.T) {
	ctx := context.Background()
	log := logger.Default()

	t.Run("delivers to all channel subscribers", func(t *testing.T) {
		b := NewMemoryEventBus(log)
		defer b.Close()

		first, second, other := &recorder{}, &recorder{}, &recorder{}
		_, err := b.Subscribe("alpha", first.handler)
		require.NoError(t, err)
		_, err = b.Subscribe("alpha", second.handler)
		require.NoError(t, err)
		_, err = b.Subscribe("beta", other.handler)
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, "alpha", NewEvent("test", "t", nil)))

		require.Eventually(t, func() bool {
			return first.count() == 1 && second.count() == 1
		}, time.Second, 2*time.Millisecond)
		assert.Equal(t, 0, other.count())
	})

	t.Run("unsubscribed handlers stop receiving", func(t *testing.T) {
		b := NewMemoryEventBus(log)
		defer b.Close()

		r := &recorder{}
		sub, err := b.Subscribe("alpha", r.handler)
		require.NoError(t, err)
		assert.True(t, sub.IsValid())

		require.NoError(t, sub.Unsubscribe())
		assert.False(t, sub.IsValid())

		require.NoError(t, b.Publish(ctx, "alpha", NewEvent("test", "t", nil)))
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, r.count())
	})

	t.Run("a failing handler does not affect others", func(t *testing.T) {
		b := NewMemoryEventBus(log)
		defer b.Close()

		r := &recorder{}
		_, err := b.Subscribe("alpha", func(ctx context.Context, e *Event) error {
			return assert.AnError
		})
		require.NoError(t, err)
		_, err = b.Subscribe("alpha", r.handler)
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, "alpha", NewEvent("test", "t", nil)))
		require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 2*time.Millisecond)
	})

	t.Run("close rejects further use", func(t *testing.T) {
		b := NewMemoryEventBus(log)
		assert.True(t, b.IsConnected())

		b.Close()
		assert.False(t, b.IsConnected())
		assert.Error(t, b.Publish(ctx, "alpha", NewEvent("test", "t", nil)))
		_, err := b.Subscribe("alpha", func(ctx context.Context, e *Event) error { return nil })
		assert.Error(t, err)
	})

	t.Run("publish does not block on slow subscribers", func(t *testing.T) {
		b := NewMemoryEventBus(log)
		defer b.Close()

		release := make(chan struct{})
		_, err := b.Subscribe("alpha", func(ctx context.Context, e *Event) error {
			<-release
			return nil
		})
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			_ = b.Publish(ctx, "alpha", NewEvent("test", "t", nil))
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a slow subscriber")
		}
		close(release)
	})
}
