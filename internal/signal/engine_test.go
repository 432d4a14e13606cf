package signal

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(logger.Default())
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unknown signal", func(t *testing.T) {
		e := newTestEngine(t)
		err := e.Subscribe("builder", Signal("not_a_signal"), func(ctx context.Context, ev *Event) error { return nil }, 0)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnknownSignal))
	})

	t.Run("is idempotent per agent and signal", func(t *testing.T) {
		e := newTestEngine(t)
		calls := 0
		require.NoError(t, e.Subscribe("builder", NeedsBuild, func(ctx context.Context, ev *Event) error {
			calls++
			return nil
		}, 0))
		require.NoError(t, e.Subscribe("builder", NeedsBuild, func(ctx context.Context, ev *Event) error {
			calls += 10
			return nil
		}, 0))

		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, 10, calls, "re-subscribing replaces the handler")
		assert.Equal(t, []string{"builder"}, e.Subscribers(NeedsBuild))
	})

	t.Run("orders subscribers by priority descending", func(t *testing.T) {
		e := newTestEngine(t)
		var order []string
		handler := func(name string) Handler {
			return func(ctx context.Context, ev *Event) error {
				order = append(order, name)
				return nil
			}
		}
		require.NoError(t, e.Subscribe("low", NeedsBuild, handler("low"), 1))
		require.NoError(t, e.Subscribe("high", NeedsBuild, handler("high"), 10))
		require.NoError(t, e.Subscribe("mid", NeedsBuild, handler("mid"), 5))

		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"high", "mid", "low"}, order)
	})

	t.Run("equal priorities keep registration order", func(t *testing.T) {
		e := newTestEngine(t)
		var order []string
		for _, name := range []string{"a", "b", "c"} {
			name := name
			require.NoError(t, e.Subscribe(name, NeedsBuild, func(ctx context.Context, ev *Event) error {
				order = append(order, name)
				return nil
			}, 3))
		}
		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})
}

func TestSubscriptionUniquenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	signals := All()

	properties.Property("at most one subscription per agent and signal", prop.ForAll(
		func(agents []int, sigIdx []int) bool {
			e := NewEngine(logger.Default())
			for i := range agents {
				name := fmt.Sprintf("agent-%d", agents[i]%5)
				sig := signals[sigIdx[i%len(sigIdx)]%len(signals)]
				if err := e.Subscribe(name, sig, func(ctx context.Context, ev *Event) error { return nil }, agents[i]); err != nil {
					return false
				}
			}
			for _, sig := range signals {
				seen := make(map[string]bool)
				for _, name := range e.Subscribers(sig) {
					if seen[name] {
						return false
					}
					seen[name] = true
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 100)),
		gen.SliceOfN(20, gen.IntRange(0, len(signals)-1)),
	))

	properties.TestingRun(t)
}

func TestEmit(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unknown signal", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Emit(ctx, Signal("bogus"), "p1", EmitOptions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnknownSignal))
	})

	t.Run("defaults source and priority", func(t *testing.T) {
		e := newTestEngine(t)
		event, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, "system", event.Source)
		assert.Equal(t, PriorityNormal, event.Priority)
		assert.NotEmpty(t, event.CorrelationID)
		assert.False(t, event.EmittedAt.IsZero())
	})

	t.Run("adds the signal to the active set", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.True(t, e.IsActive(NeedsBuild, "p1"))
		assert.False(t, e.IsActive(NeedsBuild, "p2"))
	})

	t.Run("handler error does not fail emit or other handlers", func(t *testing.T) {
		e := newTestEngine(t)
		secondRan := false
		require.NoError(t, e.Subscribe("broken", NeedsBuild, func(ctx context.Context, ev *Event) error {
			return stderrors.New("boom")
		}, 10))
		require.NoError(t, e.Subscribe("healthy", NeedsBuild, func(ctx context.Context, ev *Event) error {
			secondRan = true
			return nil
		}, 1))

		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.True(t, secondRan)
	})

	t.Run("handler panic is contained and reported", func(t *testing.T) {
		e := newTestEngine(t)
		var reportedAgent string
		var reportedErr error
		e.SetCrashReporter(func(agentName string, event *Event, err error) {
			reportedAgent = agentName
			reportedErr = err
		})
		require.NoError(t, e.Subscribe("crasher", NeedsBuild, func(ctx context.Context, ev *Event) error {
			panic("kaboom")
		}, 0))

		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, "crasher", reportedAgent)
		require.Error(t, reportedErr)
		assert.Contains(t, reportedErr.Error(), "kaboom")
	})

	t.Run("global handlers run after subscribers", func(t *testing.T) {
		e := newTestEngine(t)
		var order []string
		require.NoError(t, e.Subscribe("builder", NeedsBuild, func(ctx context.Context, ev *Event) error {
			order = append(order, "builder")
			return nil
		}, 0))
		e.RegisterGlobalHandler("audit", func(ctx context.Context, ev *Event) error {
			order = append(order, "audit")
			return nil
		})

		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"builder", "audit"}, order)
	})
}

func TestIncompatibility(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		emit  Signal
		voids Signal
	}{
		{PlanApproved, PlanRejected},
		{PlanRejected, PlanApproved},
		{ErrorOccurred, ErrorResolved},
		{ErrorResolved, ErrorOccurred},
	}
	for _, tc := range cases {
		t.Run(string(tc.emit)+" voids "+string(tc.voids), func(t *testing.T) {
			e := newTestEngine(t)
			_, err := e.Emit(ctx, tc.voids, "p1", EmitOptions{})
			require.NoError(t, err)
			require.True(t, e.IsActive(tc.voids, "p1"))

			_, err = e.Emit(ctx, tc.emit, "p1", EmitOptions{})
			require.NoError(t, err)
			assert.True(t, e.IsActive(tc.emit, "p1"))
			assert.False(t, e.IsActive(tc.voids, "p1"))
		})
	}

	t.Run("incompatibility is project scoped", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Emit(ctx, ErrorOccurred, "p1", EmitOptions{})
		require.NoError(t, err)
		_, err = e.Emit(ctx, ErrorResolved, "p2", EmitOptions{})
		require.NoError(t, err)
		assert.True(t, e.IsActive(ErrorOccurred, "p1"))
		assert.True(t, e.IsActive(ErrorResolved, "p2"))
	})
}

func TestResolveAndActive(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
	require.NoError(t, err)
	_, err = e.Emit(ctx, NeedsPreview, "p1", EmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, []Signal{NeedsBuild, NeedsPreview}, e.Active("p1"))

	e.Resolve(NeedsBuild, "p1")
	assert.Equal(t, []Signal{NeedsPreview}, e.Active("p1"))

	e.ClearProject("p1")
	assert.Empty(t, e.Active("p1"))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by project and signal, newest first", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
		require.NoError(t, err)
		_, err = e.Emit(ctx, NeedsPreview, "p1", EmitOptions{})
		require.NoError(t, err)
		_, err = e.Emit(ctx, NeedsBuild, "p2", EmitOptions{})
		require.NoError(t, err)

		all := e.History(HistoryFilter{})
		require.Len(t, all, 3)
		assert.Equal(t, NeedsBuild, all[0].Signal)
		assert.Equal(t, "p2", all[0].ProjectID)

		p1 := e.History(HistoryFilter{ProjectID: "p1"})
		require.Len(t, p1, 2)
		assert.Equal(t, NeedsPreview, p1[0].Signal)

		builds := e.History(HistoryFilter{Signal: NeedsBuild, Limit: 1})
		require.Len(t, builds, 1)
		assert.Equal(t, "p2", builds[0].ProjectID)
	})

	t.Run("is bounded", func(t *testing.T) {
		e := newTestEngine(t)
		for i := 0; i < historyCap+50; i++ {
			_, err := e.Emit(ctx, TaskComplete, "p1", EmitOptions{})
			require.NoError(t, err)
		}
		assert.Len(t, e.History(HistoryFilter{}), historyCap)
	})
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	calls := 0
	handler := func(ctx context.Context, ev *Event) error {
		calls++
		return nil
	}
	require.NoError(t, e.Subscribe("builder", NeedsBuild, handler, 0))
	require.NoError(t, e.Subscribe("builder", TestsFailing, handler, 0))
	require.NoError(t, e.Subscribe("sage", NeedsBuild, handler, 0))

	e.Unsubscribe("builder", NeedsBuild)
	assert.Equal(t, []string{"sage"}, e.Subscribers(NeedsBuild))

	e.UnsubscribeAll("builder")
	assert.Empty(t, e.Subscribers(TestsFailing))

	_, err := e.Emit(ctx, NeedsBuild, "p1", EmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestParse(t *testing.T) {
	sig, ok := Parse(" Needs_Build ")
	assert.True(t, ok)
	assert.Equal(t, NeedsBuild, sig)

	_, ok = Parse("nope")
	assert.False(t, ok)
}
