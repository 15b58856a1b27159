package poll

import (
	"bytes"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop() { m.stopped.Store(true) }

// tick hands one tick to the loop goroutine.
func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.c <- time.Now():
	case <-time.After(waitFor):
		t.Fatal("ticker was not drained")
	}
}

type tickers struct {
	mu  sync.Mutex
	all []*manualTicker
}

func (ts *tickers) New(time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tk := &manualTicker{c: make(chan time.Time)}
	ts.all = append(ts.all, tk)
	return tk
}

func (ts *tickers) last() *manualTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.all[len(ts.all)-1]
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
