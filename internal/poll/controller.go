// Package poll keeps data fresh by re-fetching it on a fixed interval, and
// watches a spawning machine until it is assigned an address.
package poll

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/htbdesk/htb/internal/task"
)

// ErrAlreadyActive is returned by Start on a session that is running.
var ErrAlreadyActive = errors.New("poll session already active")

// Ticker delivers one value per unit of time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop() { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Options configures a Controller.
type Options struct {
	// Unit is the length of one countdown step. Defaults to one second.
	Unit time.Duration
	// NewTicker defaults to NewTimeTicker.
	NewTicker func(time.Duration) Ticker
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Unit <= 0 {
		o.Unit = time.Second
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTimeTicker
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// State is the lifecycle state of a poll session.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// Countdown renders the time left until the next refresh.
func Countdown(remaining int) string {
	return fmt.Sprintf("Refreshing in %ds", remaining)
}

// Controller refreshes data every interval units. Each call to Start opens a
// new session; events from earlier sessions are discarded.
type Controller[T any] struct {
	g     *task.Group
	slot  string
	fetch task.Work[T]
	opts  Options

	mu        sync.Mutex
	state     State
	session   uint64
	interval  int
	remaining int
	data      T
	hasData   bool
	onData    func(T)
	onTick    func(int)
	stop      chan struct{}
	exited    chan struct{}
}

// NewController returns an idle controller running fetch in slot of g.
func NewController[T any](g *task.Group, slot string, fetch task.Work[T], opts Options) *Controller[T] {
	return &Controller[T]{
		g:     g,
		slot:  slot,
		fetch: fetch,
		opts:  opts.withDefaults(),
	}
}

// OnData sets the callback receiving each successful refresh.
func (c *Controller[T]) OnData(fn func(T)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

// OnTick sets the callback receiving the countdown after every unit.
func (c *Controller[T]) OnTick(fn func(remaining int)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// Start refreshes immediately, then again every interval units.
func (c *Controller[T]) Start(interval int) error {
	if interval < 1 {
		return fmt.Errorf("interval must be positive, got %d", interval)
	}

	c.mu.Lock()
	if c.state == Active {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.session++
	session := c.session
	c.state = Active
	c.interval = interval
	c.remaining = interval
	c.stop = make(chan struct{})
	c.exited = make(chan struct{})
	ticker := c.opts.NewTicker(c.opts.Unit)
	stop, exited := c.stop, c.exited
	c.mu.Unlock()

	c.opts.Logger.Debug("poll started", "slot", c.slot, "interval", interval)
	c.refresh(session)
	go c.loop(session, ticker, stop, exited)
	return nil
}

// Stop ends the session. Once it returns no further tick, request or data
// event is produced for that session.
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.state = Idle
	c.session++
	close(c.stop)
	exited := c.exited
	c.mu.Unlock()

	<-exited
	c.g.Stop(c.slot)
	c.opts.Logger.Debug("poll stopped", "slot", c.slot)
}

// State returns the current lifecycle state.
func (c *Controller[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Data returns the last refreshed value and whether there is one.
func (c *Controller[T]) Data() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data, c.hasData
}

// Remaining returns the units left until the next refresh.
func (c *Controller[T]) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Controller[T]) loop(session uint64, ticker Ticker, stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.tick(session)
		}
	}
}

func (c *Controller[T]) tick(session uint64) {
	c.mu.Lock()
	if c.session != session || c.state != Active {
		c.mu.Unlock()
		return
	}
	c.remaining--
	due := c.remaining <= 0
	if due {
		c.remaining = c.interval
	}
	remaining := c.remaining
	onTick := c.onTick
	c.mu.Unlock()

	if onTick != nil {
		c.g.Dispatch(func() {
			if c.live(session) {
				onTick(remaining)
			}
		})
	}

	if !due {
		return
	}
	if c.g.Running(c.slot) {
		c.opts.Logger.Debug("refresh skipped, previous still running", "slot", c.slot)
		return
	}
	c.refresh(session)
}

func (c *Controller[T]) refresh(session uint64) {
	task.Start(c.g, c.slot, c.fetch, task.Callbacks[T]{
		OnSuccess: func(v T) {
			c.mu.Lock()
			if c.session != session {
				c.mu.Unlock()
				return
			}
			c.data = v
			c.hasData = true
			c.remaining = c.interval
			onData := c.onData
			c.mu.Unlock()

			if onData != nil {
				onData(v)
			}
		},
		OnFailure: func(err error) {
			if c.live(session) {
				c.opts.Logger.Warn("refresh failed", "slot", c.slot, "error", err)
			}
		},
	})
}

func (c *Controller[T]) live(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session && c.state == Active
}
