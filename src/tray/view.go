package tray

import (
	"fmt"
	"path/filepath"
	"sync"

	"croquis-timer/src/timer"
)

// View is what the tray shows. It is updated from the session controller
// goroutine and read by the systray glue.
type View struct {
	mu       sync.Mutex
	index    int
	total    int
	image    string
	report   timer.Report
	running  bool
	finished bool
	started  bool
}

func (v *View) present(index, total int, imagePath string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.index, v.total, v.image = index, total, imagePath
	v.finished = false
	v.started = true
}

func (v *View) tick(r timer.Report) {
	v.mu.Lock()
	v.report = r
	v.mu.Unlock()
}

func (v *View) timerChanged(running bool) {
	v.mu.Lock()
	v.running = running
	v.mu.Unlock()
}

func (v *View) finish() {
	v.mu.Lock()
	v.finished = true
	v.running = false
	v.mu.Unlock()
}

// Title is the text next to the tray icon.
func (v *View) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case !v.started:
		return "Croquis"
	case v.finished:
		return "Finished"
	default:
		return timer.FormatReport(v.report)
	}
}

// Tooltip names the current image and its position in the queue.
func (v *View) Tooltip() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started {
		return "Croquis Timer - no session"
	}
	if v.finished {
		return fmt.Sprintf("Croquis Timer - finished %d images", v.total)
	}
	return fmt.Sprintf("Croquis Timer - %d/%d %s", v.index+1, v.total, filepath.Base(v.image))
}

// PauseLabel is the label of the pause menu entry.
func (v *View) PauseLabel() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return "Pause"
	}
	return "Resume"
}

func (v *View) fill() colorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case !v.started || v.finished:
		return stateIdle
	case v.running:
		return stateRunning
	default:
		return statePaused
	}
}

type colorState int

const (
	stateIdle colorState = iota
	stateRunning
	statePaused
)
