package tray

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/getlantern/systray"

	"croquis-timer/src/timer"
)

// Controls are the session actions offered in the tray menu.
type Controls interface {
	TogglePause(ctx context.Context) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Save(ctx context.Context) error
	CopyImage(ctx context.Context) error
	Restart(ctx context.Context) error
}

type Config struct {
	Title    string
	Controls Controls
	OnExit   func()
}

// Tray is the resident's tray icon. It implements session.Presenter.
type Tray struct {
	cfg   Config
	view  View
	ready atomic.Bool
	last  atomic.Int32

	mPause   *systray.MenuItem
	mNext    *systray.MenuItem
	mPrev    *systray.MenuItem
	mSave    *systray.MenuItem
	mCopy    *systray.MenuItem
	mRestart *systray.MenuItem
	mQuit    *systray.MenuItem
}

func New(cfg Config) *Tray {
	if cfg.Title == "" {
		cfg.Title = "Croquis Timer"
	}
	t := &Tray{cfg: cfg}
	t.last.Store(-1)
	return t
}

// SetControls sets the menu actions. Call it before Run.
func (t *Tray) SetControls(c Controls) { t.cfg.Controls = c }

// Run blocks running the systray loop.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Destroy removes the tray icon.
func (t *Tray) Destroy() {
	if t.ready.Load() {
		systray.Quit()
	}
}

func (t *Tray) onReady() {
	systray.SetTooltip(t.cfg.Title)

	t.mPause = systray.AddMenuItem("Resume", "Pause or resume the timer")
	t.mNext = systray.AddMenuItem("Next", "Skip to the next image")
	t.mPrev = systray.AddMenuItem("Previous", "Go back one image")
	t.mSave = systray.AddMenuItem("Save", "Record this drawing")
	t.mCopy = systray.AddMenuItem("Copy image", "Copy the reference image to the clipboard")
	systray.AddSeparator()
	t.mRestart = systray.AddMenuItem("Restart session", "Start the queue again")
	t.mQuit = systray.AddMenuItem("Quit", "Exit Croquis Timer")

	t.ready.Store(true)
	t.refresh()
	go t.menuLoop()
}

func (t *Tray) onExit() {
	log.Printf("Tray: exiting")
	if t.cfg.OnExit != nil {
		t.cfg.OnExit()
	}
}

func (t *Tray) menuLoop() {
	for {
		select {
		case <-t.mPause.ClickedCh:
			t.invoke("pause", t.cfg.Controls.TogglePause)
		case <-t.mNext.ClickedCh:
			t.invoke("next", t.cfg.Controls.Next)
		case <-t.mPrev.ClickedCh:
			t.invoke("prev", t.cfg.Controls.Prev)
		case <-t.mSave.ClickedCh:
			t.invoke("save", t.cfg.Controls.Save)
		case <-t.mCopy.ClickedCh:
			t.invoke("copy", t.cfg.Controls.CopyImage)
		case <-t.mRestart.ClickedCh:
			t.invoke("restart", t.cfg.Controls.Restart)
		case <-t.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// invoke runs a menu action off the systray goroutine
func (t *Tray) invoke(name string, fn func(context.Context) error) {
	if t.cfg.Controls == nil {
		return
	}
	go func() {
		if err := fn(context.Background()); err != nil {
			log.Printf("Tray: %s failed: %v", name, err)
		}
	}()
}

// refresh pushes the view to the tray. Icon bytes are only re-sent when
// the colour changes.
func (t *Tray) refresh() {
	if !t.ready.Load() {
		return
	}
	systray.SetTitle(t.view.Title())
	systray.SetTooltip(t.view.Tooltip())
	t.mPause.SetTitle(t.view.PauseLabel())

	state := t.view.fill()
	if t.last.Swap(int32(state)) != int32(state) {
		switch state {
		case stateRunning:
			systray.SetIcon(iconBytes(runningFill))
		case statePaused:
			systray.SetIcon(iconBytes(pausedFill))
		default:
			systray.SetIcon(iconBytes(idleFill))
		}
	}
}

func (t *Tray) Present(index, total int, imagePath string) {
	t.view.present(index, total, imagePath)
	t.refresh()
}

func (t *Tray) Tick(report timer.Report) {
	t.view.tick(report)
	t.refresh()
}

func (t *Tray) TimerChanged(running bool) {
	t.view.timerChanged(running)
	t.refresh()
}

func (t *Tray) Finished() {
	t.view.finish()
	t.refresh()
}
