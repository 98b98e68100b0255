package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"croquis-timer/src/store"
	"croquis-timer/src/timer"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSaveFailed      = errors.New("save failed")
	ErrCaptureFailed   = errors.New("capture failed")
	ErrBusy            = errors.New("advance already in progress")
	ErrFinished        = errors.New("session finished")
	ErrNotStarted      = errors.New("session not started")
	ErrClosed          = errors.New("session controller closed")
)

// Gateway persists history. *store.Store implements it.
type Gateway interface {
	RecordHistory(ctx context.Context, entry store.HistoryEntry) (int64, error)
	AttachImage(ctx context.Context, historyID int64, imagePath string) error
}

// Capturer lets the user pick a screen region and writes it under savePath.
type Capturer interface {
	Capture(ctx context.Context, savePath string) (string, error)
}

// Presenter shows the session. Methods are called from the controller
// goroutine and must not call back into the controller synchronously.
type Presenter interface {
	Present(index, total int, imagePath string)
	Tick(report timer.Report)
	TimerChanged(running bool)
	Finished()
}

// Notifier surfaces non-fatal errors to the user.
type Notifier interface {
	Notify(title, message string)
}

// Options configures a Controller. Gateway is required.
type Options struct {
	Gateway      Gateway
	Capturer     Capturer
	Presenter    Presenter
	Notifier     Notifier
	Clock        timer.Clock
	TickInterval time.Duration
}

// SaveResult is the outcome of a save. CaptureErr is set when the history
// was written but the drawing could not be captured or attached.
type SaveResult struct {
	HistoryID  int64
	ImagePath  string
	CaptureErr error
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	State       State
	Index       int
	Total       int
	Image       string
	Elapsed     time.Duration
	Max         time.Duration
	Saved       bool
	AutoSkipped bool
	Visit       uint64
	HistoryIDs  []int64
	Policy      Policy
}

// Controller runs one croquis session. All session state is owned by the
// goroutine in Run; the exported methods post commands to it and wait.
type Controller struct {
	gateway   Gateway
	capturer  Capturer
	presenter Presenter
	notifier  Notifier
	clock     timer.Clock
	interval  time.Duration

	cmds   chan func()
	events chan func()
	done   chan struct{}

	// owned by Run
	runCtx      context.Context
	queue       []string
	index       int
	policy      Policy
	historyIDs  []int64
	state       State
	session     uint64
	visit       uint64
	saved       bool
	lastSave    SaveResult
	autoSkipped bool
	timer       *timer.Timer
	pending     *pendingSave
	advance     *pendingSave
}

// New creates a controller. Call Run before using it.
func New(opts Options) (*Controller, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidArgument)
	}
	c := &Controller{
		gateway:   opts.Gateway,
		capturer:  opts.Capturer,
		presenter: opts.Presenter,
		notifier:  opts.Notifier,
		clock:     opts.Clock,
		interval:  opts.TickInterval,
		cmds:      make(chan func()),
		events:    make(chan func(), 16),
		done:      make(chan struct{}),
	}
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	if c.notifier == nil {
		c.notifier = logNotifier{}
	}
	if c.clock == nil {
		c.clock = timer.SystemClock{}
	}
	if c.interval <= 0 {
		c.interval = 50 * time.Millisecond
	}
	return c, nil
}

func (c *Controller) Name() string { return "session" }

// Run serves commands, timer ticks and save results until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	defer func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.abandonSaves()
	}()

	log.Printf("Session: controller running")
	for {
		select {
		case <-ctx.Done():
			log.Printf("Session: controller stopping: %v", ctx.Err())
			return ctx.Err()
		case fn := <-c.cmds:
			fn()
		case fn := <-c.events:
			fn()
		case <-c.tickC():
			c.tick()
		}
	}
}

func (c *Controller) tickC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C()
}

// do runs fn on the controller goroutine and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post hands fn to the controller goroutine from a worker goroutine.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// Start begins a session on queue. It may be called in any state; an
// outstanding advance is abandoned. Nothing changes when the arguments
// are rejected.
func (c *Controller) Start(ctx context.Context, queue []string, policy Policy) error {
	if len(queue) == 0 {
		return fmt.Errorf("%w: queue is empty", ErrInvalidArgument)
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	q := append([]string(nil), queue...)
	return c.do(ctx, func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.session++
		c.queue = q
		c.policy = policy
		c.index = 0
		c.historyIDs = nil
		c.timer = timer.New(c.clock, c.interval, policy.MaxTime)
		c.enterVisit()
		log.Printf("Session: started with %d images, max %v", len(q), policy.MaxTime)
	})
}

// StartTimer resumes the timer. It is a no-op when already running.
func (c *Controller) StartTimer(ctx context.Context) error {
	var err error
	if doErr := c.do(ctx, func() {
		switch c.state {
		case Idle:
			err = ErrNotStarted
		case Finished:
			err = ErrFinished
		case Advancing:
			err = ErrBusy
		case Stopped:
			c.timer.Start()
			c.moveTo(Running)
			c.presenter.TimerChanged(true)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// StopTimer pauses the timer. It is a no-op unless running.
func (c *Controller) StopTimer(ctx context.Context) error {
	var err error
	if doErr := c.do(ctx, func() {
		switch c.state {
		case Idle:
			err = ErrNotStarted
		case Running:
			c.timer.Stop()
			c.moveTo(Stopped)
			c.presenter.TimerChanged(false)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Next moves to the next image. It is a no-op on the last image and never
// waits for a save.
func (c *Controller) Next(ctx context.Context) error {
	return c.navigate(ctx, +1)
}

// Prev moves to the previous image. It is a no-op on the first image.
func (c *Controller) Prev(ctx context.Context) error {
	return c.navigate(ctx, -1)
}

func (c *Controller) navigate(ctx context.Context, step int) error {
	var err error
	if doErr := c.do(ctx, func() {
		if c.state == Idle {
			err = ErrNotStarted
			return
		}
		if c.state == Finished && step > 0 {
			return
		}
		target := c.index + step
		if target < 0 || target >= len(c.queue) {
			return
		}
		if c.advance != nil {
			log.Printf("Session: navigation abandons advance for image %d", c.index)
		}
		c.index = target
		c.enterVisit()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Skip moves on from the current image. automatic marks a deadline-driven
// skip, which honours the auto policy and fires at most once per visit.
// ErrBusy is returned while another skip is being resolved.
func (c *Controller) Skip(ctx context.Context, automatic bool) error {
	var err error
	if doErr := c.do(ctx, func() { err = c.skip(automatic) }); doErr != nil {
		return doErr
	}
	return err
}

func (c *Controller) skip(automatic bool) error {
	switch c.state {
	case Idle:
		return ErrNotStarted
	case Finished:
		return ErrFinished
	case Advancing:
		return ErrBusy
	}
	if automatic && c.autoSkipped {
		return nil
	}
	if automatic {
		c.autoSkipped = true
	}

	c.timer.Stop()
	c.moveTo(Advancing)
	c.presenter.TimerChanged(false)

	if automatic && !c.policy.AutoSkip {
		// deadline without auto-skip only pauses on the current image
		log.Printf("Session: deadline reached on image %d, auto-skip disabled", c.index)
		c.resume()
		return nil
	}

	if automatic && c.policy.AutoSave && !c.saved {
		p, err := c.beginSave(false)
		if err != nil {
			c.resume()
			return err
		}
		c.advance = p
		return nil
	}

	c.advanceNext()
	return nil
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() {
		s = Snapshot{
			State:       c.state,
			Index:       c.index,
			Total:       len(c.queue),
			Saved:       c.saved,
			AutoSkipped: c.autoSkipped,
			Visit:       c.visit,
			HistoryIDs:  append([]int64(nil), c.historyIDs...),
			Policy:      c.policy,
		}
		if len(c.queue) > 0 {
			s.Image = c.queue[c.index]
		}
		if c.timer != nil {
			s.Elapsed = c.timer.Elapsed()
			s.Max = c.timer.Max()
		}
	})
	return s, err
}

func (c *Controller) tick() {
	report := c.timer.Report()
	c.presenter.Tick(report)
	if c.state == Running && c.timer.Expired() && !c.autoSkipped {
		if err := c.skip(true); err != nil {
			log.Printf("Session: automatic skip failed: %v", err)
		}
	}
}

// enterVisit presents the current index with fresh per-visit flags and a
// restarted timer.
func (c *Controller) enterVisit() {
	c.visit++
	c.saved = false
	c.lastSave = SaveResult{}
	c.autoSkipped = false
	c.pending = nil
	c.advance = nil
	c.state = Running
	c.timer.Restart()
	c.presenter.Present(c.index, len(c.queue), c.queue[c.index])
	c.presenter.TimerChanged(true)
}

// resume releases the guard and restarts the timer without resetting it.
func (c *Controller) resume() {
	c.advance = nil
	c.timer.Start()
	c.moveTo(Running)
	c.presenter.TimerChanged(true)
}

func (c *Controller) advanceNext() {
	c.advance = nil
	if c.index >= len(c.queue)-1 {
		c.moveTo(Finished)
		log.Printf("Session: finished after %d images", len(c.queue))
		c.presenter.Finished()
		return
	}
	c.index++
	c.enterVisit()
}

func (c *Controller) moveTo(next State) {
	if !c.state.canMoveTo(next) {
		log.Printf("Session: unexpected transition %s -> %s", c.state, next)
	}
	c.state = next
}

// Presenters fans every update out to each presenter in order.
type Presenters []Presenter

func (ps Presenters) Present(index, total int, imagePath string) {
	for _, p := range ps {
		p.Present(index, total, imagePath)
	}
}

func (ps Presenters) Tick(report timer.Report) {
	for _, p := range ps {
		p.Tick(report)
	}
}

func (ps Presenters) TimerChanged(running bool) {
	for _, p := range ps {
		p.TimerChanged(running)
	}
}

func (ps Presenters) Finished() {
	for _, p := range ps {
		p.Finished()
	}
}

type nopPresenter struct{}

func (nopPresenter) Present(int, int, string) {}
func (nopPresenter) Tick(timer.Report)        {}
func (nopPresenter) TimerChanged(bool)        {}
func (nopPresenter) Finished()                {}

type logNotifier struct{}

func (logNotifier) Notify(title, message string) {
	log.Printf("Session: %s: %s", title, message)
}
