package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htbdesk/htb/internal/htb"
	"github.com/htbdesk/htb/internal/task"
)

type ipFixture struct {
	w       *IPWatcher
	tickers *tickers
	calls   atomic.Int32

	mu      sync.Mutex
	changes []IPStatus
}

func newIPFixture(t *testing.T, maxAttempts int, fetch func(ctx context.Context, n int) (*htb.ActiveMachine, error)) *ipFixture {
	t.Helper()
	f := &ipFixture{tickers: &tickers{}}
	g := task.NewGroup(task.Inline(), task.WithGrace(200*time.Millisecond))
	f.w = NewIPWatcher(g, func(ctx context.Context) (*htb.ActiveMachine, error) {
		return fetch(ctx, int(f.calls.Add(1)))
	}, IPOptions{
		Options:     Options{NewTicker: f.tickers.New},
		MaxAttempts: maxAttempts,
	})
	f.w.OnChange(func(s IPStatus) {
		f.mu.Lock()
		f.changes = append(f.changes, s)
		f.mu.Unlock()
	})
	t.Cleanup(f.w.Stop)
	return f
}

// round advances one interval and waits for the resulting attempt.
func (f *ipFixture) round(t *testing.T, attempt int) {
	t.Helper()
	tk := f.tickers.last()
	for i := 0; i < DefaultIPInterval; i++ {
		tk.tick(t)
	}
	require.Eventually(t, func() bool { return f.w.Attempts() == attempt }, waitFor, pollEvery)
}

func (f *ipFixture) last() IPStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes[len(f.changes)-1]
}

func pending(id int) *htb.ActiveMachine {
	return &htb.ActiveMachine{ID: id, Name: "Lame", IsSpawning: true}
}

func TestIPAcquired(t *testing.T) {
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		if n < 3 {
			return pending(811), nil
		}
		return &htb.ActiveMachine{ID: 811, IP: "10.129.4.1"}, nil
	})

	f.w.Start(811)
	assert.Equal(t, IPPolling, f.w.Status().State)

	f.round(t, 1)
	assert.Equal(t, IPPolling, f.w.Status().State)
	f.round(t, 2)
	f.round(t, 3)

	status := f.w.Status()
	assert.Equal(t, IPAcquired, status.State)
	assert.Equal(t, "10.129.4.1", status.IP)
	assert.Equal(t, status, f.last())
	assert.Equal(t, int32(3), f.calls.Load())

	require.Eventually(t, func() bool { return f.tickers.last().stopped.Load() }, waitFor, pollEvery)
}

func TestIPFirstAttemptAfterOneInterval(t *testing.T) {
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		return pending(1), nil
	})
	f.w.Start(1)

	tk := f.tickers.last()
	tk.tick(t)
	tk.tick(t)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.calls.Load())

	tk.tick(t)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, waitFor, pollEvery)
}

func TestIPTimedOut(t *testing.T) {
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		if n%4 == 0 {
			return nil, errors.New("connection reset")
		}
		return pending(7), nil
	})
	f.w.Start(7)

	for i := 1; i < DefaultIPAttempts; i++ {
		f.round(t, i)
		assert.Equal(t, IPPolling, f.w.Status().State)
	}
	f.round(t, DefaultIPAttempts)

	assert.Equal(t, IPTimedOut, f.w.Status().State)
	assert.Empty(t, f.w.Status().IP)
	assert.Equal(t, IPTimedOut, f.last().State)
	assert.Equal(t, int32(DefaultIPAttempts), f.calls.Load())
}

func TestIPIgnoresOtherMachine(t *testing.T) {
	f := newIPFixture(t, 2, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		return &htb.ActiveMachine{ID: 99, IP: "10.129.9.9"}, nil
	})
	f.w.Start(5)

	f.round(t, 1)
	f.round(t, 2)
	assert.Equal(t, IPTimedOut, f.w.Status().State)
}

func TestIPAnyMachine(t *testing.T) {
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		return &htb.ActiveMachine{ID: 99, IP: "10.129.9.9"}, nil
	})
	f.w.Start(0)

	f.round(t, 1)
	assert.Equal(t, IPStatus{State: IPAcquired, IP: "10.129.9.9", Attempt: 1}, f.w.Status())
}

func TestIPNoActiveMachineKeepsPolling(t *testing.T) {
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		return nil, nil
	})
	f.w.Start(3)

	f.round(t, 1)
	assert.Equal(t, IPPolling, f.w.Status().State)
}

func TestIPStopCancels(t *testing.T) {
	started := make(chan struct{})
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		close(started)
		<-ctx.Done()
		return &htb.ActiveMachine{ID: 1, IP: "10.129.0.1"}, nil
	})
	f.w.Start(1)

	tk := f.tickers.last()
	for i := 0; i < DefaultIPInterval; i++ {
		tk.tick(t)
	}
	<-started

	f.w.Stop()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, IPIdle, f.w.Status().State)
	assert.Zero(t, f.w.Attempts())
	assert.True(t, tk.stopped.Load())
	assert.NotEqual(t, IPAcquired, f.last().State)
}

func TestIPRestart(t *testing.T) {
	f := newIPFixture(t, 0, func(ctx context.Context, n int) (*htb.ActiveMachine, error) {
		return &htb.ActiveMachine{ID: 2, IP: "10.129.0.2"}, nil
	})

	f.w.Start(2)
	f.round(t, 1)
	require.Equal(t, IPAcquired, f.w.Status().State)

	f.w.Start(2)
	assert.Equal(t, IPStatus{State: IPPolling}, f.w.Status())
	f.round(t, 1)
	assert.Equal(t, IPAcquired, f.w.Status().State)
}

func TestIPStateString(t *testing.T) {
	assert.Equal(t, "timed out", IPTimedOut.String())
	assert.Equal(t, "acquired", IPAcquired.String())
}
