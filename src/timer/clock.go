package timer

import (
	"sync"
	"time"
)

// Clock supplies the current time and tickers. The session loop only ever
// talks to a Clock so tests can drive time by hand.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until Stop is called.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// ManualClock is a Clock that only moves when Advance is called. Ticks are
// delivered synchronously: Advance returns once every due ticker has either
// handed its tick to a receiver or been stopped.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManualClock returns a ManualClock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timer: non-positive interval for NewTicker")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{
		clock:    m,
		interval: d,
		next:     m.now.Add(d),
		c:        make(chan time.Time),
		stopped:  make(chan struct{}),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward by d. A ticker whose next boundary was
// crossed fires once; missed intermediate ticks are dropped like time.Ticker does.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	var due []*manualTicker
	for _, t := range m.tickers {
		if !now.Before(t.next) {
			for !now.Before(t.next) {
				t.next = t.next.Add(t.interval)
			}
			due = append(due, t)
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
}

// Tickers reports how many tickers are live.
func (m *ManualClock) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *ManualClock) remove(t *manualTicker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.tickers {
		if x == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}

type manualTicker struct {
	clock    *ManualClock
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  chan struct{}
	once     sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.once.Do(func() {
		close(t.stopped)
		t.clock.remove(t)
	})
}
