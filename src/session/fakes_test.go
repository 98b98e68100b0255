package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"croquis-timer/src/store"
	"croquis-timer/src/timer"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu       sync.Mutex
	records  []store.HistoryEntry
	attached map[int64]string
	failures []bool // consumed per RecordHistory call; true fails
	gate     chan struct{}
	started  chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{attached: map[int64]string{}, started: make(chan struct{}, 16)}
}

func (g *fakeGateway) RecordHistory(ctx context.Context, entry store.HistoryEntry) (int64, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.failures) > 0 {
		fail := g.failures[0]
		g.failures = g.failures[1:]
		if fail {
			return 0, errors.New("database is locked")
		}
	}
	g.records = append(g.records, entry)
	return int64(len(g.records)), nil
}

func (g *fakeGateway) AttachImage(ctx context.Context, historyID int64, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attached[historyID] = path
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

func (g *fakeGateway) entries() []store.HistoryEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]store.HistoryEntry(nil), g.records...)
}

func (g *fakeGateway) failNext(fails ...bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = append(g.failures, fails...)
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
	path  string
	err   error
}

func (f *fakeCapturer) Capture(ctx context.Context, savePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.path, f.err
}

func (f *fakeCapturer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPresenter struct {
	mu       sync.Mutex
	presents []int
	ticks    int
	finished int
}

func (p *recordingPresenter) Present(index, total int, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presents = append(p.presents, index)
}

func (p *recordingPresenter) Tick(timer.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks++
}

func (p *recordingPresenter) TimerChanged(bool) {}

func (p *recordingPresenter) Finished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished++
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

type fixture struct {
	c         *Controller
	clock     *timer.ManualClock
	gateway   *fakeGateway
	capturer  *fakeCapturer
	presenter *recordingPresenter
	notifier  *recordingNotifier
	stop      func()
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	f := &fixture{
		clock:     timer.NewManualClock(epoch),
		gateway:   newFakeGateway(),
		capturer:  &fakeCapturer{path: "/drawings/capture_w1.png"},
		presenter: &recordingPresenter{},
		notifier:  &recordingNotifier{},
	}
	c, err := New(Options{
		Gateway:      f.gateway,
		Capturer:     f.capturer,
		Presenter:    f.presenter,
		Notifier:     f.notifier,
		Clock:        f.clock,
		TickInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	f.c = c

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	f.stop = func() {
		cancel()
		<-done
	}
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) start(t testing.TB, queue []string, p Policy) {
	t.Helper()
	if err := f.c.Start(context.Background(), queue, p); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (f *fixture) snapshot(t testing.TB) Snapshot {
	t.Helper()
	s, err := f.c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return s
}

// waitFor polls the controller until cond holds.
func (f *fixture) waitFor(t testing.TB, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := f.snapshot(t)
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, s)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) awaitSaveStarted(t testing.TB) {
	t.Helper()
	select {
	case <-f.gateway.started:
	case <-time.After(2 * time.Second):
		t.Fatal("save never reached the gateway")
	}
}
