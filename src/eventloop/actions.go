package eventloop

import (
	"context"
	"errors"
	"log"
	"sync"

	"croquis-timer/src/session"
)

// Session is the part of the session controller the frontends drive.
type Session interface {
	Start(ctx context.Context, queue []string, policy session.Policy) error
	StartTimer(ctx context.Context) error
	StopTimer(ctx context.Context) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Save(ctx context.Context, manual bool) (session.SaveResult, error)
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// Actions are the user commands shared by the tray, the hotkeys and the
// terminal frontend. Every method blocks until the controller answers.
type Actions struct {
	session   Session
	copyImage func(path string) error

	mu     sync.Mutex
	queue  []string
	policy session.Policy
}

// NewActions wraps s. copyImage places a reference image on the clipboard.
func NewActions(s Session, copyImage func(path string) error) *Actions {
	return &Actions{session: s, copyImage: copyImage}
}

// Start begins a session and remembers it for Restart.
func (a *Actions) Start(ctx context.Context, queue []string, policy session.Policy) error {
	if err := a.session.Start(ctx, queue, policy); err != nil {
		return err
	}
	a.mu.Lock()
	a.queue = append([]string(nil), queue...)
	a.policy = policy
	a.mu.Unlock()
	return nil
}

// SetPolicy replaces the policy used by the next Restart.
func (a *Actions) SetPolicy(policy session.Policy) {
	a.mu.Lock()
	a.policy = policy
	a.mu.Unlock()
}

// Restart starts the last queue again from its first image.
func (a *Actions) Restart(ctx context.Context) error {
	a.mu.Lock()
	queue, policy := a.queue, a.policy
	a.mu.Unlock()
	if len(queue) == 0 {
		return session.ErrNotStarted
	}
	return a.session.Start(ctx, queue, policy)
}

// TogglePause stops a running timer and resumes a stopped one.
func (a *Actions) TogglePause(ctx context.Context) error {
	snap, err := a.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State == session.Running {
		return a.session.StopTimer(ctx)
	}
	return a.session.StartTimer(ctx)
}

func (a *Actions) Next(ctx context.Context) error { return a.session.Next(ctx) }

func (a *Actions) Prev(ctx context.Context) error { return a.session.Prev(ctx) }

// Save is a manual save of the current image. A failed capture is not an
// error here: the history was written and the controller already notified.
func (a *Actions) Save(ctx context.Context) error {
	res, err := a.session.Save(ctx, true)
	if err != nil {
		return err
	}
	if res.CaptureErr != nil {
		log.Printf("EventLoop: history %d saved without drawing: %v", res.HistoryID, res.CaptureErr)
		return nil
	}
	log.Printf("EventLoop: history %d saved, drawing %q", res.HistoryID, res.ImagePath)
	return nil
}

// CopyImage copies the current reference image to the clipboard.
func (a *Actions) CopyImage(ctx context.Context) error {
	snap, err := a.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Image == "" {
		return session.ErrNotStarted
	}
	if a.copyImage == nil {
		return errors.New("clipboard unavailable")
	}
	return a.copyImage(snap.Image)
}
