package poll

import (
	"fmt"
	"sync"

	"github.com/htbdesk/htb/internal/htb"
	"github.com/htbdesk/htb/internal/task"
)

const (
	// DefaultIPInterval is the number of units between IP checks.
	DefaultIPInterval = 3
	// DefaultIPAttempts bounds the number of IP checks.
	DefaultIPAttempts = 20

	ipSlot = "ip-watch"
)

// IPState is the state of an IP watch.
type IPState int

const (
	IPIdle IPState = iota
	IPPolling
	IPAcquired
	IPTimedOut
)

func (s IPState) String() string {
	switch s {
	case IPIdle:
		return "idle"
	case IPPolling:
		return "polling"
	case IPAcquired:
		return "acquired"
	case IPTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("ipstate(%d)", s)
	}
}

// IPStatus is reported on every change of an IP watch.
type IPStatus struct {
	State IPState
	IP    string
	// Attempt is the number of completed checks.
	Attempt int
}

// IPOptions configures an IPWatcher.
type IPOptions struct {
	Options
	Interval    int
	MaxAttempts int
}

// IPWatcher polls the active machine until it reports an address or the
// attempt budget runs out.
type IPWatcher struct {
	g     *task.Group
	fetch task.Work[*htb.ActiveMachine]
	opts  IPOptions

	mu        sync.Mutex
	status    IPStatus
	session   uint64
	machineID int
	launched  int
	remaining int
	onChange  func(IPStatus)
	stop      chan struct{}
	exited    chan struct{}
}

// NewIPWatcher returns an idle watcher. fetch is usually
// (*htb.Service).ActiveMachine.
func NewIPWatcher(g *task.Group, fetch task.Work[*htb.ActiveMachine], opts IPOptions) *IPWatcher {
	opts.Options = opts.Options.withDefaults()
	if opts.Interval < 1 {
		opts.Interval = DefaultIPInterval
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultIPAttempts
	}
	return &IPWatcher{g: g, fetch: fetch, opts: opts}
}

// OnChange sets the callback receiving every status change.
func (w *IPWatcher) OnChange(fn func(IPStatus)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Start begins watching for machineID, or for any machine when machineID is
// zero. A watch already in progress is stopped first. The first check runs
// after one interval.
func (w *IPWatcher) Start(machineID int) {
	w.Stop()

	w.mu.Lock()
	w.session++
	session := w.session
	w.machineID = machineID
	w.launched = 0
	w.remaining = w.opts.Interval
	w.status = IPStatus{State: IPPolling}
	w.stop = make(chan struct{})
	w.exited = make(chan struct{})
	ticker := w.opts.NewTicker(w.opts.Unit)
	stop, exited := w.stop, w.exited
	w.mu.Unlock()

	w.opts.Logger.Debug("ip watch started", "machine", machineID)
	w.emit(session, IPStatus{State: IPPolling})
	go w.loop(session, ticker, stop, exited)
}

// Stop cancels a watch in progress and returns it to idle. A finished watch
// keeps its terminal status.
func (w *IPWatcher) Stop() {
	w.mu.Lock()
	exited := w.exited
	if w.status.State != IPPolling {
		w.mu.Unlock()
		// a finished watch may still be winding down its ticker
		if exited != nil {
			<-exited
		}
		return
	}
	w.session++
	w.status = IPStatus{State: IPIdle}
	close(w.stop)
	machineID := w.machineID
	w.mu.Unlock()

	<-exited
	w.g.Stop(ipSlot)
	w.opts.Logger.Debug("ip watch stopped", "machine", machineID)
}

// Status returns the current status.
func (w *IPWatcher) Status() IPStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Attempts returns the number of completed checks.
func (w *IPWatcher) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Attempt
}

func (w *IPWatcher) loop(session uint64, ticker Ticker, stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			w.tick(session)
		}
	}
}

func (w *IPWatcher) tick(session uint64) {
	w.mu.Lock()
	if w.session != session || w.status.State != IPPolling {
		w.mu.Unlock()
		return
	}
	w.remaining--
	if w.remaining > 0 {
		w.mu.Unlock()
		return
	}
	w.remaining = w.opts.Interval
	if w.launched >= w.opts.MaxAttempts || w.g.Running(ipSlot) {
		w.mu.Unlock()
		return
	}
	w.launched++
	attempt := w.launched
	w.mu.Unlock()

	task.Start(w.g, ipSlot, w.fetch, task.Callbacks[*htb.ActiveMachine]{
		OnSuccess: func(m *htb.ActiveMachine) {
			w.complete(session, attempt, m, nil)
		},
		OnFailure: func(err error) {
			w.complete(session, attempt, nil, err)
		},
	})
}

func (w *IPWatcher) complete(session uint64, attempt int, m *htb.ActiveMachine, err error) {
	w.mu.Lock()
	if w.session != session || w.status.State != IPPolling {
		w.mu.Unlock()
		return
	}

	if err != nil {
		w.opts.Logger.Warn("ip check failed", "attempt", attempt, "error", err)
	}

	next := IPStatus{State: IPPolling, Attempt: attempt}
	switch {
	case err == nil && m.HasIP() && (w.machineID == 0 || m.ID == w.machineID):
		next.State = IPAcquired
		next.IP = m.IP
	case attempt >= w.opts.MaxAttempts:
		next.State = IPTimedOut
	}
	w.status = next

	if next.State != IPPolling {
		w.session++
		close(w.stop)
	}
	onChange := w.onChange
	w.mu.Unlock()

	if next.State != IPPolling {
		w.opts.Logger.Debug("ip watch finished", "state", next.State, "attempts", attempt)
	}
	if onChange != nil {
		onChange(next)
	}
}

func (w *IPWatcher) emit(session uint64, s IPStatus) {
	w.mu.Lock()
	onChange := w.onChange
	w.mu.Unlock()
	if onChange == nil {
		return
	}
	w.g.Dispatch(func() {
		w.mu.Lock()
		live := w.session == session
		w.mu.Unlock()
		if live {
			onChange(s)
		}
	})
}
