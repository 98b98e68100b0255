package viewer

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"croquis-timer/src/imagelist"
	"croquis-timer/src/timer"
)

// Controls are the session actions offered by the window.
type Controls interface {
	TogglePause(ctx context.Context) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Save(ctx context.Context) error
	CopyImage(ctx context.Context) error
}

type Options struct {
	Title    string
	Width    int
	Height   int
	Gray     bool
	Controls Controls
	// OnClose runs when the user closes the window. The window is only
	// hidden and comes back with the next image.
	OnClose func()
}

// Viewer shows the reference image and the timer. It implements
// session.Presenter; presenter methods may be called from any goroutine.
type Viewer struct {
	app  fyne.App
	win  fyne.Window
	opts Options

	// do runs UI updates on the fyne thread
	do     func(func())
	decode func(string) (image.Image, string, error)

	picture *canvas.Image
	status  *widget.Label
	clock   *widget.Label
	pause   *widget.Button
	gray    *widget.Check

	title    string
	seq      atomic.Uint64
	mu       sync.Mutex
	controls Controls
	original image.Image
}

// New builds the window on a. Call Show or Run to display it.
func New(a fyne.App, opts Options) *Viewer {
	if opts.Title == "" {
		opts.Title = "Croquis Timer"
	}
	v := &Viewer{
		app:      a,
		opts:     opts,
		do:       fyne.Do,
		decode:   imagelist.Decode,
		controls: opts.Controls,
	}

	v.picture = canvas.NewImageFromImage(nil)
	v.picture.FillMode = canvas.ImageFillContain
	v.status = widget.NewLabel("No session")
	v.clock = widget.NewLabel(timer.FormatReport(timer.Report{}))
	v.pause = widget.NewButton("Resume", func() { v.invoke("pause", Controls.TogglePause) })
	v.gray = widget.NewCheck("Grayscale", func(on bool) { v.render() })
	v.gray.Checked = opts.Gray

	bar := container.NewHBox(
		widget.NewButton("Previous", func() { v.invoke("prev", Controls.Prev) }),
		v.pause,
		widget.NewButton("Next", func() { v.invoke("next", Controls.Next) }),
		widget.NewButton("Save", func() { v.invoke("save", Controls.Save) }),
		widget.NewButton("Copy", func() { v.invoke("copy", Controls.CopyImage) }),
		v.gray,
	)
	header := container.NewHBox(v.status, v.clock)

	v.win = a.NewWindow(opts.Title)
	v.win.SetContent(container.NewBorder(header, bar, nil, nil, v.picture))
	if opts.Width > 0 && opts.Height > 0 {
		v.win.Resize(fyne.NewSize(float32(opts.Width), float32(opts.Height)))
	}
	v.win.Canvas().SetOnTypedKey(v.typedKey)
	v.win.SetCloseIntercept(func() {
		v.win.Hide()
		if v.opts.OnClose != nil {
			v.opts.OnClose()
		}
	})
	return v
}

// SetControls sets the button actions. Call it before Show.
func (v *Viewer) SetControls(c Controls) {
	v.mu.Lock()
	v.controls = c
	v.mu.Unlock()
}

// Show displays the window.
func (v *Viewer) Show() { v.do(v.win.Show) }

// Run shows the window and blocks in the fyne event loop until Quit.
// It must be called from the main goroutine.
func (v *Viewer) Run() {
	v.win.Show()
	v.app.Run()
}

// Quit stops the event loop started by Run.
func (v *Viewer) Quit() { v.do(v.app.Quit) }

// SetGray switches the grayscale filter.
func (v *Viewer) SetGray(on bool) {
	v.do(func() { v.gray.SetChecked(on) })
}

func (v *Viewer) Present(index, total int, imagePath string) {
	seq := v.seq.Add(1)
	title := fmt.Sprintf("%d/%d %s", index+1, total, filepath.Base(imagePath))
	v.do(func() {
		v.title = title
		v.status.SetText(title)
		v.pause.Enable()
		v.win.Show()
	})

	go func() {
		img, _, err := v.decode(imagePath)
		if err != nil {
			log.Printf("Viewer: %v", err)
		}
		v.do(func() {
			if v.seq.Load() != seq {
				return
			}
			v.mu.Lock()
			v.original = img
			v.mu.Unlock()
			v.render()
		})
	}()
}

func (v *Viewer) Tick(report timer.Report) {
	text := timer.FormatReport(report)
	v.do(func() { v.clock.SetText(text) })
}

func (v *Viewer) TimerChanged(running bool) {
	label := "Resume"
	if running {
		label = "Pause"
	}
	v.do(func() { v.pause.SetText(label) })
}

func (v *Viewer) Finished() {
	v.do(func() {
		v.status.SetText(v.title + " (finished)")
		v.pause.SetText("Resume")
		v.pause.Disable()
	})
}

// render redraws the picture from the decoded original. Runs on the UI thread.
func (v *Viewer) render() {
	v.mu.Lock()
	img := v.original
	v.mu.Unlock()
	if img != nil && v.gray.Checked {
		img = grayscale(img)
	}
	v.picture.Image = img
	v.picture.Refresh()
}

func (v *Viewer) typedKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeyRight:
		v.invoke("next", Controls.Next)
	case fyne.KeyLeft:
		v.invoke("prev", Controls.Prev)
	case fyne.KeySpace:
		v.invoke("pause", Controls.TogglePause)
	case fyne.KeyS:
		v.invoke("save", Controls.Save)
	case fyne.KeyC:
		v.invoke("copy", Controls.CopyImage)
	case fyne.KeyG:
		v.gray.SetChecked(!v.gray.Checked)
	}
}

// invoke runs an action off the UI thread
func (v *Viewer) invoke(name string, fn func(Controls, context.Context) error) {
	v.mu.Lock()
	c := v.controls
	v.mu.Unlock()
	if c == nil {
		return
	}
	go func() {
		if err := fn(c, context.Background()); err != nil {
			log.Printf("Viewer: %s failed: %v", name, err)
		}
	}()
}

func grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}
