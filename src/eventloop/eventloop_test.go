package eventloop

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	gohook "github.com/robotn/gohook"

	"croquis-timer/src/config"
	"croquis-timer/src/hotkey"
	"croquis-timer/src/session"
	"croquis-timer/src/singleinstance"
)

type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	state    session.State
	image    string
	starts   []session.Policy
	queues   [][]string
	startErr error
	saveRes  session.SaveResult
}

func (f *fakeSession) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Start(_ context.Context, queue []string, policy session.Policy) error {
	f.record("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.queues = append(f.queues, queue)
	f.starts = append(f.starts, policy)
	f.state = session.Running
	f.image = queue[0]
	return nil
}

func (f *fakeSession) StartTimer(context.Context) error {
	f.record("startTimer")
	f.mu.Lock()
	f.state = session.Running
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) StopTimer(context.Context) error {
	f.record("stopTimer")
	f.mu.Lock()
	f.state = session.Stopped
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Next(context.Context) error { f.record("next"); return nil }
func (f *fakeSession) Prev(context.Context) error { f.record("prev"); return nil }

func (f *fakeSession) Save(context.Context, bool) (session.SaveResult, error) {
	f.record("save")
	return f.saveRes, nil
}

func (f *fakeSession) Snapshot(context.Context) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Snapshot{State: f.state, Image: f.image}, nil
}

var testPolicy = session.Policy{AutoSkip: true, MaxTime: time.Minute}

func TestTogglePause(t *testing.T) {
	s := &fakeSession{}
	a := NewActions(s, nil)
	ctx := context.Background()

	if err := a.Start(ctx, []string{"a.png"}, testPolicy); err != nil {
		t.Fatal(err)
	}
	if err := a.TogglePause(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.TogglePause(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"start", "stopTimer", "startTimer"}
	if got := s.Calls(); !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestRestartUsesLatestPolicy(t *testing.T) {
	s := &fakeSession{}
	a := NewActions(s, nil)
	ctx := context.Background()

	if err := a.Restart(ctx); !errors.Is(err, session.ErrNotStarted) {
		t.Fatalf("Restart before Start = %v, want ErrNotStarted", err)
	}
	if err := a.Start(ctx, []string{"a.png", "b.png"}, testPolicy); err != nil {
		t.Fatal(err)
	}
	reloaded := testPolicy
	reloaded.MaxTime = 2 * time.Minute
	a.SetPolicy(reloaded)

	if err := a.Restart(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.starts[len(s.starts)-1]; got != reloaded {
		t.Errorf("restart policy = %+v, want %+v", got, reloaded)
	}
	if got := s.queues[len(s.queues)-1]; !slices.Equal(got, []string{"a.png", "b.png"}) {
		t.Errorf("restart queue = %v", got)
	}
}

func TestFailedStartIsNotRemembered(t *testing.T) {
	s := &fakeSession{startErr: session.ErrInvalidArgument}
	a := NewActions(s, nil)
	if err := a.Start(context.Background(), []string{"a.png"}, testPolicy); err == nil {
		t.Fatal("expected start error")
	}
	if err := a.Restart(context.Background()); !errors.Is(err, session.ErrNotStarted) {
		t.Fatalf("Restart = %v, want ErrNotStarted", err)
	}
}

func TestCopyImage(t *testing.T) {
	s := &fakeSession{}
	var copied string
	a := NewActions(s, func(path string) error { copied = path; return nil })
	ctx := context.Background()

	if err := a.CopyImage(ctx); !errors.Is(err, session.ErrNotStarted) {
		t.Fatalf("CopyImage before start = %v", err)
	}
	_ = a.Start(ctx, []string{"/refs/a.png"}, testPolicy)
	if err := a.CopyImage(ctx); err != nil {
		t.Fatal(err)
	}
	if copied != "/refs/a.png" {
		t.Errorf("copied %q", copied)
	}
}

func TestSaveToleratesCaptureFailure(t *testing.T) {
	s := &fakeSession{saveRes: session.SaveResult{HistoryID: 4, CaptureErr: errors.New("capture cancelled by user")}}
	a := NewActions(s, nil)
	if err := a.Save(context.Background()); err != nil {
		t.Fatalf("Save = %v, want nil when only the capture failed", err)
	}
}

func TestHotkeysDispatchActions(t *testing.T) {
	s := &fakeSession{}
	l := New(NewActions(s, nil), nil)
	defer l.pool.Close()

	hook := hotkey.New()
	keys := config.Hotkeys{Next: "Ctrl+N", Prev: "Ctrl+P", Save: "", Pause: "", Copy: ""}
	if err := l.BindHotkeys(hook, keys); err != nil {
		t.Fatal(err)
	}
	hook.Dispatch(gohook.Event{Kind: gohook.KeyDown, Rawcode: 162})
	hook.Dispatch(gohook.Event{Kind: gohook.KeyDown, Rawcode: 78})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(s.Calls(), "next") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("next not dispatched, calls = %v", s.Calls())
}

func freePorts(t *testing.T) singleinstance.PortRange {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	_ = lis.Close()
	return singleinstance.PortRange{Start: port, End: port}
}

func TestRunServesDelegatedSessions(t *testing.T) {
	ports := freePorts(t)
	s := &fakeSession{}
	l := New(NewActions(s, nil), singleinstance.NewServer(ports))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	client := singleinstance.NewClient(ports)
	var delegated bool
	var err error
	for i := 0; i < 50; i++ {
		delegated, err = client.TryStart(ctx, singleinstance.Request{Queue: []string{"/refs/x.png"}, Policy: testPolicy})
		if delegated {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !delegated || err != nil {
		t.Fatalf("TryStart = %v, %v", delegated, err)
	}
	if got := s.Calls(); !slices.Equal(got, []string{"start"}) {
		t.Fatalf("calls = %v", got)
	}

	// rejected requests report the controller's error
	s.mu.Lock()
	s.startErr = session.ErrInvalidArgument
	s.mu.Unlock()
	delegated, err = client.TryStart(ctx, singleinstance.Request{Queue: []string{"/refs/y.png"}, Policy: testPolicy})
	if !delegated || err == nil {
		t.Fatalf("TryStart = %v, %v; want delegated with error", delegated, err)
	}

	// reloaded configs reach the next restart
	s.mu.Lock()
	s.startErr = nil
	s.mu.Unlock()
	l.ConfigChanged(&config.Config{MaxTimeSec: 30, FolderID: 1})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.actions.mu.Lock()
		maxTime := l.actions.policy.MaxTime
		l.actions.mu.Unlock()
		if maxTime == 30*time.Second {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := l.actions.Restart(ctx); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	last := s.starts[len(s.starts)-1]
	s.mu.Unlock()
	if last.MaxTime != 30*time.Second {
		t.Errorf("restart max time = %v, want 30s", last.MaxTime)
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
