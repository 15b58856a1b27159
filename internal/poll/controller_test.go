package poll

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htbdesk/htb/internal/task"
)

type fixture struct {
	ctl     *Controller[int]
	tickers *tickers
	fetches atomic.Int32
	logs    *syncBuffer

	mu   sync.Mutex
	seen []int
}

// newFixture builds a controller whose fetch returns the call number, or
// the result of next when it is set.
func newFixture(t *testing.T, next func(ctx context.Context, n int) (int, error)) *fixture {
	t.Helper()
	f := &fixture{tickers: &tickers{}, logs: &syncBuffer{}}
	g := task.NewGroup(task.Inline(), task.WithGrace(200*time.Millisecond))

	fetch := func(ctx context.Context) (int, error) {
		n := int(f.fetches.Add(1))
		if next != nil {
			return next(ctx, n)
		}
		return n, nil
	}
	f.ctl = NewController[int](g, "activity", fetch, Options{
		Unit:      time.Second,
		NewTicker: f.tickers.New,
		Logger:    testLogger(f.logs),
	})
	f.ctl.OnData(func(v int) {
		f.mu.Lock()
		f.seen = append(f.seen, v)
		f.mu.Unlock()
	})
	t.Cleanup(f.ctl.Stop)
	return f
}

func (f *fixture) values() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.seen...)
}

func (f *fixture) waitData(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := f.ctl.Data()
		return ok && v == want
	}, waitFor, pollEvery)
}

func TestStartRefreshesImmediately(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ctl.Start(15))
	assert.Equal(t, Active, f.ctl.State())

	f.waitData(t, 1)
	assert.Equal(t, []int{1}, f.values())
	assert.Equal(t, 15, f.ctl.Remaining())
}

func TestRefreshEveryInterval(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctl.Start(15))
	f.waitData(t, 1)

	tk := f.tickers.last()
	for i := 0; i < 14; i++ {
		tk.tick(t)
	}
	require.Eventually(t, func() bool { return f.ctl.Remaining() == 1 }, waitFor, pollEvery)
	assert.Equal(t, int32(1), f.fetches.Load())

	tk.tick(t)
	f.waitData(t, 2)
	assert.Equal(t, int32(2), f.fetches.Load())
	assert.Equal(t, 15, f.ctl.Remaining())
	assert.Equal(t, []int{1, 2}, f.values())
}

func TestOnTickReportsCountdown(t *testing.T) {
	f := newFixture(t, nil)

	var mu sync.Mutex
	var ticks []int
	f.ctl.OnTick(func(remaining int) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	})

	require.NoError(t, f.ctl.Start(3))
	f.waitData(t, 1)

	tk := f.tickers.last()
	for i := 0; i < 3; i++ {
		tk.tick(t)
	}
	f.waitData(t, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 3}, ticks)
}

func TestStartWhileActive(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctl.Start(5))
	assert.ErrorIs(t, f.ctl.Start(5), ErrAlreadyActive)
	assert.Error(t, NewController[int](nil, "x", nil, Options{}).Start(0))
}

func TestStopHaltsSession(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctl.Start(2))
	f.waitData(t, 1)
	tk := f.tickers.last()

	f.ctl.Stop()
	assert.Equal(t, Idle, f.ctl.State())
	assert.True(t, tk.stopped.Load())

	// the loop goroutine is gone, nothing receives further ticks
	select {
	case tk.c <- time.Now():
		t.Fatal("tick delivered after stop")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, int32(1), f.fetches.Load())

	f.ctl.Stop()
	assert.Equal(t, Idle, f.ctl.State())
}

func TestStopDropsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, n int) (int, error) {
		close(started)
		<-ctx.Done()
		return 42, nil
	})

	require.NoError(t, f.ctl.Start(10))
	<-started
	f.ctl.Stop()

	time.Sleep(20 * time.Millisecond)
	_, ok := f.ctl.Data()
	assert.False(t, ok)
	assert.Empty(t, f.values())
}

func TestFailureKeepsData(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("rate limited")
		}
		return n * 10, nil
	})

	require.NoError(t, f.ctl.Start(1))
	f.waitData(t, 10)

	tk := f.tickers.last()
	tk.tick(t)
	require.Eventually(t, func() bool {
		return f.fetches.Load() == 2 && !f.ctl.g.Running(f.ctl.slot)
	}, waitFor, pollEvery)
	require.Eventually(t, func() bool {
		return strings.Contains(f.logs.String(), "refresh failed")
	}, waitFor, pollEvery)
	assert.Contains(t, f.logs.String(), "rate limited")

	v, ok := f.ctl.Data()
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, Active, f.ctl.State())

	tk.tick(t)
	f.waitData(t, 30)
}

func TestRefreshSkippedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return n, nil
	})

	require.NoError(t, f.ctl.Start(1))
	f.waitData(t, 1)

	tk := f.tickers.last()
	tk.tick(t)
	require.Eventually(t, func() bool { return f.fetches.Load() == 2 }, waitFor, pollEvery)

	tk.tick(t)
	tk.tick(t)
	assert.Equal(t, int32(2), f.fetches.Load())

	close(release)
	f.waitData(t, 2)
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctl.Start(5))
	f.waitData(t, 1)
	f.ctl.Stop()

	require.NoError(t, f.ctl.Start(5))
	f.waitData(t, 2)
	assert.Len(t, f.tickers.all, 2)
}

func TestCountdown(t *testing.T) {
	assert.Equal(t, "Refreshing in 15s", Countdown(15))
	assert.Equal(t, "Refreshing in 1s", Countdown(1))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "state(9)", State(9).String())
}
