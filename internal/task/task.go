// Package task runs units of work off the UI goroutine and hands their single
// result back through a Dispatcher. Work is organised in named slots: a slot
// holds at most one task, and starting a new one stops the previous one.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultGrace is how long Stop waits for a worker to exit.
const DefaultGrace = 3 * time.Second

// Work is a unit of background work. It should return promptly once ctx is
// cancelled.
type Work[T any] func(ctx context.Context) (T, error)

// Callbacks receive the terminal signal of a task. Exactly one of them is
// called, on the dispatcher, unless the task was stopped or superseded.
type Callbacks[T any] struct {
	OnSuccess func(T)
	OnFailure func(error)
}

// PanicError is the failure reported when work panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Option configures a Group.
type Option func(*Group)

// WithGrace sets how long Stop waits before abandoning a worker.
func WithGrace(d time.Duration) Option {
	return func(g *Group) {
		if d > 0 {
			g.grace = d
		}
	}
}

// WithLogger sets the logger used for dropped results and abandoned workers.
func WithLogger(l *slog.Logger) Option {
	return func(g *Group) {
		if l != nil {
			g.log = l
		}
	}
}

// Group owns a set of named slots.
type Group struct {
	d     Dispatcher
	grace time.Duration
	log   *slog.Logger

	mu    sync.Mutex
	slots map[string]*Handle
}

// NewGroup returns a Group delivering results through d.
func NewGroup(d Dispatcher, opts ...Option) *Group {
	g := &Group{
		d:     d,
		grace: DefaultGrace,
		log:   slog.New(slog.DiscardHandler),
		slots: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dispatch runs fn on the group's dispatcher.
func (g *Group) Dispatch(fn func()) {
	g.d.Dispatch(fn)
}

// Running reports whether the current task of slot is still working.
func (g *Group) Running(slot string) bool {
	g.mu.Lock()
	h := g.slots[slot]
	g.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop stops the current task of slot, if any.
func (g *Group) Stop(slot string) {
	g.mu.Lock()
	h := g.slots[slot]
	g.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// StopAll stops every slot. Workers are waited for in parallel, so the
// call is bounded by a single grace period.
func (g *Group) StopAll() {
	g.mu.Lock()
	handles := make([]*Handle, 0, len(g.slots))
	for _, h := range g.slots {
		handles = append(handles, h)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.Stop()
		}(h)
	}
	wg.Wait()
}

// Handle refers to one started task.
type Handle struct {
	id   string
	slot string
	g    *Group

	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// ID returns the task's unique id.
func (h *Handle) ID() string { return h.id }

// Done is closed once the work function has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Current reports whether h is still the live task of its slot.
func (h *Handle) Current() bool {
	if h.stopped.Load() {
		return false
	}
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.g.slots[h.slot] == h
}

// Stop cancels the task and suppresses its result. It waits up to the
// group's grace period and reports whether the worker exited in time.
// Stop is safe to call more than once, including from the task's own
// callbacks. Done is closed before delivery, so Stop never waits on a
// callback; see Inline for the ordering that gives.
func (h *Handle) Stop() bool {
	h.stopped.Store(true)
	h.cancel()

	select {
	case <-h.done:
		return true
	default:
	}

	timer := time.NewTimer(h.g.grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		h.g.log.Warn("abandoning task", "slot", h.slot, "id", h.id, "grace", h.g.grace)
		return false
	}
}

// Start runs w in a new goroutine in slot, replacing the slot's previous
// task. The previous task is stopped before w starts.
func Start[T any](g *Group, slot string, w Work[T], cb Callbacks[T]) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     uuid.NewString(),
		slot:   slot,
		g:      g,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	g.mu.Lock()
	prev := g.slots[slot]
	g.slots[slot] = h
	g.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	go run(ctx, h, w, cb)
	return h
}

func run[T any](ctx context.Context, h *Handle, w Work[T], cb Callbacks[T]) {
	var (
		result T
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		result, err = w(ctx)
	}()
	h.cancel()
	close(h.done)

	if !h.Current() {
		h.g.log.Debug("dropping result", "slot", h.slot, "id", h.id)
		return
	}

	h.g.d.Dispatch(func() {
		// stopped or superseded while queued
		if !h.Current() {
			h.g.log.Debug("dropping result", "slot", h.slot, "id", h.id)
			return
		}
		if err != nil {
			if cb.OnFailure != nil {
				cb.OnFailure(err)
			}
			return
		}
		if cb.OnSuccess != nil {
			cb.OnSuccess(result)
		}
	})
}
