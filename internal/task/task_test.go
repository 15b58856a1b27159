package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// results collects callback invocations for assertions.
type results[T any] struct {
	mu       sync.Mutex
	values   []T
	failures []error
	signal   chan struct{}
}

func newResults[T any]() *results[T] {
	return &results[T]{signal: make(chan struct{}, 16)}
}

func (r *results[T]) callbacks() Callbacks[T] {
	return Callbacks[T]{
		OnSuccess: func(v T) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
			r.signal <- struct{}{}
		},
		OnFailure: func(err error) {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.mu.Unlock()
			r.signal <- struct{}{}
		},
	}
}

func (r *results[T]) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func (r *results[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values) + len(r.failures)
}

func TestStartDeliversSuccess(t *testing.T) {
	g := NewGroup(Inline())
	r := newResults[string]()

	h := Start(g, "work", func(ctx context.Context) (string, error) {
		return "done", nil
	}, r.callbacks())
	r.wait(t)

	assert.NotEmpty(t, h.ID())
	assert.Equal(t, []string{"done"}, r.values)
	assert.Empty(t, r.failures)
	assert.False(t, g.Running("work"))
}

func TestStartDeliversFailure(t *testing.T) {
	g := NewGroup(Inline())
	r := newResults[int]()
	boom := errors.New("boom")

	Start(g, "work", func(ctx context.Context) (int, error) {
		return 0, boom
	}, r.callbacks())
	r.wait(t)

	require.Len(t, r.failures, 1)
	assert.ErrorIs(t, r.failures[0], boom)
	assert.Empty(t, r.values)
}

func TestPanicBecomesFailure(t *testing.T) {
	g := NewGroup(Inline())
	r := newResults[int]()

	Start(g, "work", func(ctx context.Context) (int, error) {
		panic("kaboom")
	}, r.callbacks())
	r.wait(t)

	require.Len(t, r.failures, 1)
	var pe *PanicError
	require.ErrorAs(t, r.failures[0], &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Contains(t, pe.Error(), "kaboom")
}

func TestStopSuppressesResult(t *testing.T) {
	g := NewGroup(Inline())
	r := newResults[int]()
	started := make(chan struct{})

	h := Start(g, "work", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 1, nil
	}, r.callbacks())
	<-started

	assert.True(t, g.Running("work"))
	assert.True(t, h.Stop())
	assert.True(t, h.Stop(), "second stop is a no-op")
	assert.False(t, h.Current())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.count())
}

func TestStopAbandonsAfterGrace(t *testing.T) {
	g := NewGroup(Inline(), WithGrace(30*time.Millisecond))
	r := newResults[int]()
	release := make(chan struct{})
	defer close(release)

	h := Start(g, "stuck", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}, r.callbacks())

	begin := time.Now()
	assert.False(t, h.Stop())
	assert.Less(t, time.Since(begin), time.Second)
	assert.Zero(t, r.count())
}

func TestLastRequestWins(t *testing.T) {
	g := NewGroup(Inline())
	r := newResults[string]()
	firstCanceled := make(chan struct{})

	first := Start(g, "load", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(firstCanceled)
		return "first", nil
	}, r.callbacks())

	second := Start(g, "load", func(ctx context.Context) (string, error) {
		return "second", nil
	}, r.callbacks())
	r.wait(t)

	select {
	case <-firstCanceled:
	case <-time.After(time.Second):
		t.Fatal("first task was not cancelled")
	}

	assert.Equal(t, []string{"second"}, r.values)
	assert.False(t, first.Current())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestStaleResultDroppedWhileQueued(t *testing.T) {
	loop := NewLoop()
	g := NewGroup(loop)
	r := newResults[int]()

	h := Start(g, "work", func(ctx context.Context) (int, error) {
		return 7, nil
	}, r.callbacks())
	<-h.Done()

	// the result is queued on the loop but the task is stopped before it runs
	h.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	assert.Zero(t, r.count())
}

func TestStopFromOwnCallback(t *testing.T) {
	g := NewGroup(Inline(), WithGrace(time.Second))
	stopped := make(chan time.Duration, 1)

	Start(g, "work", func(ctx context.Context) (int, error) {
		return 1, nil
	}, Callbacks[int]{
		OnSuccess: func(int) {
			begin := time.Now()
			g.Stop("work")
			stopped <- time.Since(begin)
		},
	})

	select {
	case d := <-stopped:
		assert.Less(t, d, 500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("stop inside callback blocked")
	}
}

func TestStopFromOtherGoroutineSilencesLoopDelivery(t *testing.T) {
	loop := NewLoop()
	g := NewGroup(loop)
	r := newResults[int]()

	h := Start(g, "work", func(ctx context.Context) (int, error) {
		return 3, nil
	}, r.callbacks())
	<-h.Done()

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.True(t, h.Stop())
	}()
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)
	assert.Zero(t, r.count())
}

func TestSlotsAreIndependent(t *testing.T) {
	g := NewGroup(Inline())
	r := newResults[string]()
	hold := make(chan struct{})

	Start(g, "a", func(ctx context.Context) (string, error) {
		<-hold
		return "a", nil
	}, r.callbacks())
	Start(g, "b", func(ctx context.Context) (string, error) {
		return "b", nil
	}, r.callbacks())
	r.wait(t)

	assert.True(t, g.Running("a"))
	assert.False(t, g.Running("b"))
	assert.False(t, g.Running("missing"))

	close(hold)
	r.wait(t)
	assert.ElementsMatch(t, []string{"a", "b"}, r.values)
}

func TestStopAll(t *testing.T) {
	g := NewGroup(Inline())
	var exited atomic.Int32
	block := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		exited.Add(1)
		return 0, ctx.Err()
	}
	r := newResults[int]()

	Start(g, "a", block, r.callbacks())
	Start(g, "b", block, r.callbacks())
	g.StopAll()

	assert.Equal(t, int32(2), exited.Load())
	assert.False(t, g.Running("a"))
	assert.False(t, g.Running("b"))
	assert.Zero(t, r.count())
}

func TestCallbacksRunOnLoop(t *testing.T) {
	loop := NewLoop()
	g := NewGroup(loop)

	got := make(chan string, 1)
	Start(g, "work", func(ctx context.Context) (string, error) {
		return "hello", nil
	}, Callbacks[string]{
		OnSuccess: func(s string) {
			got <- s
			loop.Close()
		},
	})

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, "hello", <-got)
}

func TestLoopRunsInOrder(t *testing.T) {
	loop := NewLoop()
	var order []int
	for i := 0; i < 5; i++ {
		loop.Post(func() { order = append(order, i) })
	}
	loop.Close()
	loop.Post(func() { order = append(order, 99) })

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLoopStopsOnContext(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
}
