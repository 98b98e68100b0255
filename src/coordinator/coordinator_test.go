package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"croquis-timer/src/messages"
	"croquis-timer/src/screenshot"
)

type sent struct {
	to string
	m  messages.Message
}

type fakeSender struct {
	ch chan sent
}

func (f *fakeSender) SendTo(from, to string, m messages.Message) error {
	if err := messages.Validate(m); err != nil {
		return err
	}
	f.ch <- sent{to: to, m: m}
	return nil
}

type result struct {
	path string
	err  error
}

type harness struct {
	c      *Coordinator
	inbox  chan messages.MessageEnvelope
	out    chan sent
	cancel context.CancelFunc
	done   chan struct{}
}

// newHarness uses an unbuffered inbox: once a deliver returns, the loop has
// taken the message, and once the next one returns the previous was handled.
func newHarness() *harness {
	h := &harness{
		inbox: make(chan messages.MessageEnvelope),
		out:   make(chan sent, 64),
		done:  make(chan struct{}),
	}
	h.c = New(&fakeSender{ch: h.out}, h.inbox)
	n := 0
	h.c.newID = func() string {
		n++
		return fmt.Sprintf("w%d", n)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.c.Run(ctx)
		close(h.done)
	}()
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) capture(ctx context.Context) <-chan result {
	ch := make(chan result, 1)
	go func() {
		path, err := h.c.Capture(ctx, "/drawings")
		ch <- result{path, err}
	}()
	return ch
}

func (h *harness) deliver(m messages.Message) {
	h.inbox <- messages.MessageEnvelope{From: "test", To: messages.ProcessCoordinator, Message: m}
}

// barrier returns once every previously delivered message has been handled.
func (h *harness) barrier() {
	h.deliver(messages.EndSelection{WindowID: "barrier"})
}

func (h *harness) expectSent(t *testing.T, to, typ string) messages.Message {
	t.Helper()
	select {
	case s := <-h.out:
		if s.to != to || s.m.Type() != typ {
			t.Fatalf("sent %s to %s, want %s to %s", s.m.Type(), s.to, typ, to)
		}
		return s.m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to %s", typ, to)
		return nil
	}
}

func expectResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not resolve")
		return result{}
	}
}

func expectPending(t *testing.T, ch <-chan result) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("capture resolved early: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
}

var rect = screenshot.Region{X: 0, Y: 0, Width: 40, Height: 40}

func (h *harness) choose(t *testing.T, id string) {
	t.Helper()
	h.deliver(messages.RectangleChosen{Rect: rect, WindowID: id, SavePath: "/drawings"})
	req := h.expectSent(t, messages.ProcessCapture, messages.TypeCaptureRequest).(messages.CaptureRequest)
	if req.WindowID != id || req.Rect != rect || req.SavePath != "/drawings" {
		t.Fatalf("capture request = %+v", req)
	}
}

func TestCaptureWaitsForBothSignals(t *testing.T) {
	for _, endFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("endFirst=%v", endFirst), func(t *testing.T) {
			h := newHarness()
			defer h.stop()

			res := h.capture(context.Background())
			act := h.expectSent(t, messages.ProcessSurface, messages.TypeActivate).(messages.Activate)
			if act.WindowID != "w1" || act.SavePath != "/drawings" {
				t.Fatalf("activate = %+v", act)
			}
			h.choose(t, "w1")

			first, second := messages.Message(messages.EndSelection{WindowID: "w1"}),
				messages.Message(messages.CaptureCompleted{WindowID: "w1", Path: "/drawings/capture_w1.png"})
			if !endFirst {
				first, second = second, first
			}
			h.deliver(first)
			h.barrier()
			expectPending(t, res)

			h.deliver(second)
			r := expectResult(t, res)
			if r.err != nil || r.path != "/drawings/capture_w1.png" {
				t.Fatalf("result = %+v", r)
			}
		})
	}
}

func TestCaptureFailureResolvesWithoutEndSelection(t *testing.T) {
	h := newHarness()
	defer h.stop()

	res := h.capture(context.Background())
	h.expectSent(t, messages.ProcessSurface, messages.TypeActivate)
	h.choose(t, "w1")

	h.deliver(messages.CaptureCompleted{WindowID: "w1", Reason: "disk full"})
	r := expectResult(t, res)
	var ce *CaptureError
	if !errors.As(r.err, &ce) || ce.Reason != "disk full" {
		t.Fatalf("err = %v, want CaptureError(disk full)", r.err)
	}
	dismiss := h.expectSent(t, messages.ProcessSurface, messages.TypeDismiss).(messages.Dismiss)
	if dismiss.WindowID != "w1" {
		t.Fatalf("dismiss = %+v", dismiss)
	}

	// the late acknowledgement is stale now
	h.deliver(messages.EndSelection{WindowID: "w1"})
	h.barrier()
}

func TestCancelledSelection(t *testing.T) {
	h := newHarness()
	defer h.stop()

	res := h.capture(context.Background())
	h.expectSent(t, messages.ProcessSurface, messages.TypeActivate)

	h.deliver(messages.SelectionCancelled{WindowID: "w1"})
	h.barrier()
	expectPending(t, res)

	h.deliver(messages.EndSelection{WindowID: "w1"})
	if r := expectResult(t, res); !errors.Is(r.err, ErrUserCancelled) {
		t.Fatalf("err = %v, want ErrUserCancelled", r.err)
	}
}

func TestStaleMessagesAreDiscarded(t *testing.T) {
	h := newHarness()
	defer h.stop()

	res := h.capture(context.Background())
	h.expectSent(t, messages.ProcessSurface, messages.TypeActivate)
	h.choose(t, "w1")

	h.deliver(messages.CaptureCompleted{WindowID: "old", Reason: "disk full"})
	h.deliver(messages.EndSelection{WindowID: "old"})
	h.deliver(messages.RectangleChosen{Rect: rect, WindowID: "old", SavePath: "/x"})
	h.barrier()
	expectPending(t, res)

	h.deliver(messages.CaptureCompleted{WindowID: "w1", Path: "/drawings/a.png"})
	h.deliver(messages.EndSelection{WindowID: "w1"})
	if r := expectResult(t, res); r.err != nil || r.path != "/drawings/a.png" {
		t.Fatalf("result = %+v", r)
	}
	select {
	case s := <-h.out:
		t.Fatalf("stale messages caused %s to %s", s.m.Type(), s.to)
	default:
	}
}

func TestNewCaptureSupersedesOutstanding(t *testing.T) {
	h := newHarness()
	defer h.stop()

	first := h.capture(context.Background())
	h.expectSent(t, messages.ProcessSurface, messages.TypeActivate)

	second := h.capture(context.Background())
	if r := expectResult(t, first); !errors.Is(r.err, ErrSuperseded) {
		t.Fatalf("first err = %v, want ErrSuperseded", r.err)
	}
	if d := h.expectSent(t, messages.ProcessSurface, messages.TypeDismiss).(messages.Dismiss); d.WindowID != "w1" {
		t.Fatalf("dismiss = %+v", d)
	}
	if a := h.expectSent(t, messages.ProcessSurface, messages.TypeActivate).(messages.Activate); a.WindowID != "w2" {
		t.Fatalf("activate = %+v", a)
	}

	// the superseded window's result must not leak into the new one
	h.deliver(messages.EndSelection{WindowID: "w1"})
	h.barrier()
	expectPending(t, second)

	h.choose(t, "w2")
	h.deliver(messages.EndSelection{WindowID: "w2"})
	h.deliver(messages.CaptureCompleted{WindowID: "w2", Path: "/drawings/b.png"})
	if r := expectResult(t, second); r.err != nil || r.path != "/drawings/b.png" {
		t.Fatalf("second result = %+v", r)
	}
}

func TestContextCancelAbandonsCapture(t *testing.T) {
	h := newHarness()
	defer h.stop()

	ctx, cancel := context.WithCancel(context.Background())
	res := h.capture(ctx)
	h.expectSent(t, messages.ProcessSurface, messages.TypeActivate)

	cancel()
	if r := expectResult(t, res); !errors.Is(r.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", r.err)
	}
	h.expectSent(t, messages.ProcessSurface, messages.TypeDismiss)
}

func TestCaptureAfterStop(t *testing.T) {
	h := newHarness()
	h.stop()

	if _, err := h.c.Capture(context.Background(), "/drawings"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

// Resolution happens only after both the capture result
// and the end of selection, for any arrival order and any stale traffic.
func TestCaptureJoinProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness()
		defer h.stop()

		res := h.capture(context.Background())
		h.expectSent(t, messages.ProcessSurface, messages.TypeActivate)
		h.choose(t, "w1")

		stale := []messages.Message{
			messages.CaptureCompleted{WindowID: "w0", Reason: "disk full"},
			messages.CaptureCompleted{WindowID: "w0", Path: "/old.png"},
			messages.EndSelection{WindowID: "w0"},
			messages.SelectionCancelled{WindowID: "w0"},
		}
		signals := []messages.Message{
			messages.CaptureCompleted{WindowID: "w1", Path: "/drawings/ok.png"},
			messages.EndSelection{WindowID: "w1"},
		}
		if rapid.Bool().Draw(rt, "endFirst") {
			signals[0], signals[1] = signals[1], signals[0]
		}

		for i, sig := range signals {
			for _, idx := range rapid.SliceOfN(rapid.IntRange(0, len(stale)-1), 0, 3).Draw(rt, fmt.Sprintf("stale%d", i)) {
				h.deliver(stale[idx])
			}
			h.deliver(sig)
			if i == 0 {
				h.barrier()
				select {
				case r := <-res:
					rt.Fatalf("resolved after one signal: %+v", r)
				default:
				}
			}
		}

		r := expectResult(t, res)
		if r.err != nil || r.path != "/drawings/ok.png" {
			rt.Fatalf("result = %+v", r)
		}
	})
}
