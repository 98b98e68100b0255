package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsJob(t *testing.T) {
	p := New("test", 1)
	defer p.Close()

	done := make(chan struct{})
	if !p.Submit(context.Background(), func(ctx context.Context) { close(done) }) {
		t.Fatal("submit rejected on idle pool")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	p := New("test", 1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	// worker busy, queue has one slot
	if !p.Submit(context.Background(), func(ctx context.Context) {}) {
		t.Fatal("expected queued job to be accepted")
	}
	if p.Submit(context.Background(), func(ctx context.Context) {}) {
		t.Fatal("expected job to be dropped when queue is full")
	}
	close(release)
}

func TestCanceledJobIsSkipped(t *testing.T) {
	p := New("test", 1)

	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Submit(ctx, func(ctx context.Context) { ran.Store(true) })
	p.Close()

	if ran.Load() {
		t.Fatal("job with canceled context should not run")
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := New("test", 1)
	defer p.Close()

	p.Submit(context.Background(), func(ctx context.Context) { panic("boom") })
	done := make(chan struct{})
	deadline := time.After(time.Second)
	for !p.Submit(context.Background(), func(ctx context.Context) { close(done) }) {
		select {
		case <-deadline:
			t.Fatal("pool never accepted second job")
		case <-time.After(5 * time.Millisecond):
		}
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p := New("test", 1)
	p.Close()
	if p.Submit(context.Background(), func(ctx context.Context) {}) {
		t.Fatal("submit after close should fail")
	}
	p.Close()
}
