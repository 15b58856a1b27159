package task

import (
	"context"
	"sync"
)

// Dispatcher runs callbacks on the goroutine that owns the UI.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Inline returns a Dispatcher that runs callbacks on the calling goroutine,
// which is the worker. A Stop on another goroutine that races a delivery
// already under way does not silence it; only Loop, where Stop and delivery
// share a goroutine, guarantees nothing is delivered after Stop returns.
func Inline() Dispatcher {
	return DispatcherFunc(func(fn func()) { fn() })
}

// Loop is a callback queue drained by a single goroutine. Post never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  chan struct{}
	closeMu sync.Once
}

// NewLoop returns an empty Loop.
func NewLoop() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Post queues fn. Callbacks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.closed:
		return
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Dispatch implements Dispatcher.
func (l *Loop) Dispatch(fn func()) { l.Post(fn) }

// Run executes queued callbacks in order until ctx is done or Close is
// called. Callbacks already queued when Close is called still run.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			l.drain()
			return nil
		case <-l.wake:
		}
	}
}

// Close makes Run return once the queue is empty.
func (l *Loop) Close() {
	l.closeMu.Do(func() { close(l.closed) })
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}
