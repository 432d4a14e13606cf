package appctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetached(t *testing.T) {
	t.Run("survives the caller's cancellation", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		detached, cancel := Detached(0)
		defer cancel()

		cancelParent()
		require.Error(t, parent.Err())
		assert.NoError(t, detached.Err())
	})

	t.Run("zero timeout means no deadline", func(t *testing.T) {
		ctx, cancel := Detached(0)
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)

		cancel()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("positive timeout expires", func(t *testing.T) {
		ctx, cancel := Detached(10 * time.Millisecond)
		defer cancel()

		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)

		select {
		case <-ctx.Done():
			assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
		case <-time.After(time.Second):
			t.Fatal("context never expired")
		}
	})
}

func TestTurnRoundTrip(t *testing.T) {
	turn := Turn{ProjectID: "p1", UserID: "u1", TaskID: "t1", SessionID: "s1"}
	ctx := WithTurn(context.Background(), turn)
	assert.Equal(t, turn, TurnFrom(ctx))

	// Absent turn identity reads as the zero value.
	assert.Equal(t, Turn{}, TurnFrom(context.Background()))
}
