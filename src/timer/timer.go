package timer

import (
	"fmt"
	"time"
)

// Report is what each tick hands to the presentation layer.
type Report struct {
	Elapsed time.Duration
	Max     time.Duration
}

// Timer tracks active time for one image. It is not safe for concurrent use;
// the session loop owns it.
//
// elapsed is only written when the timer stops (commit) or is reset. While
// running, Elapsed is now - start + elapsed.
type Timer struct {
	clock    Clock
	interval time.Duration
	max      time.Duration

	running bool
	elapsed time.Duration
	start   time.Time
	ticker  Ticker
}

// New creates a stopped timer that ticks every interval while running.
func New(clock Clock, interval, max time.Duration) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Timer{clock: clock, interval: interval, max: max}
}

// Start re-anchors the timer and begins tick delivery. Returns false if it was
// already running.
func (t *Timer) Start() bool {
	if t.running {
		return false
	}
	t.start = t.clock.Now()
	t.ticker = t.clock.NewTicker(t.interval)
	t.running = true
	return true
}

// Stop commits elapsed time and halts tick delivery. Returns false if it was
// already stopped.
func (t *Timer) Stop() bool {
	if !t.running {
		return false
	}
	t.elapsed += t.clock.Now().Sub(t.start)
	t.ticker.Stop()
	t.ticker = nil
	t.running = false
	return true
}

// Reset stops the timer and zeroes elapsed time.
func (t *Timer) Reset() {
	t.Stop()
	t.elapsed = 0
}

// Restart is Reset followed by Start.
func (t *Timer) Restart() {
	t.Reset()
	t.Start()
}

// Running reports whether ticks are being delivered.
func (t *Timer) Running() bool { return t.running }

// Elapsed returns the active time accumulated since the last reset.
func (t *Timer) Elapsed() time.Duration {
	if !t.running {
		return t.elapsed
	}
	return t.clock.Now().Sub(t.start) + t.elapsed
}

// C returns the tick channel, or nil while stopped. A nil channel blocks
// forever in select, so a stopped timer schedules nothing.
func (t *Timer) C() <-chan time.Time {
	if t.ticker == nil {
		return nil
	}
	return t.ticker.C()
}

// Expired reports whether elapsed time is strictly greater than the maximum.
func (t *Timer) Expired() bool {
	return t.Elapsed() > t.max
}

// Max returns the deadline.
func (t *Timer) Max() time.Duration { return t.max }

// Report snapshots elapsed and max.
func (t *Timer) Report() Report {
	return Report{Elapsed: t.Elapsed(), Max: t.max}
}

// Format renders d as "Xm Ys", truncating to whole seconds.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d / time.Second)
	return fmt.Sprintf("%dm %ds", sec/60, sec%60)
}

// FormatReport renders "elapsed / max".
func FormatReport(r Report) string {
	return Format(r.Elapsed) + " / " + Format(r.Max)
}
