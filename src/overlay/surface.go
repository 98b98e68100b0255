package overlay

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"croquis-timer/src/messages"
	"croquis-timer/src/screenshot"
)

// InputKind identifies a pointer or focus event fed to the surface.
type InputKind int

const (
	PointerDown InputKind = iota
	PointerMove
	PointerUp
	FocusLost
)

func (k InputKind) String() string {
	switch k {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	case FocusLost:
		return "focus-lost"
	default:
		return "unknown"
	}
}

// Input is one user event in virtual-screen coordinates.
type Input struct {
	Kind InputKind
	X, Y int

	// window is set for input from a selection window and names the
	// activation that opened it
	window string
}

// Window is a full-screen selection window. It covers the virtual screen,
// takes the pointer away from the applications below and reports its
// input through feed until Close.
type Window interface {
	Open(windowID string, feed func(Input)) error
	Close()
}

// Sender delivers protocol messages. *router.Router implements it.
type Sender interface {
	SendTo(from, to string, m messages.Message) error
}

// Surface is the selection surface actor. It is idle until an Activate
// arrives, then turns pointer input into exactly one RectangleChosen or
// SelectionCancelled, and always finishes with EndSelection.
type Surface struct {
	sender   Sender
	inbox    <-chan messages.MessageEnvelope
	input    chan Input
	settle   time.Duration
	window   Window
	active   atomic.Bool
	windowed atomic.Bool

	// owned by Run
	sel *selection
}

// selection is the state of one activation.
type selection struct {
	windowID string
	savePath string

	anchorSet bool
	ax, ay    int
	dragging  bool

	pending *screenshot.Region
	timer   *time.Timer
}

// New creates a surface reading from inbox and replying through sender.
// settle is how long a chosen rectangle must stand before it is reported;
// zero reports it on release. With a nil window the surface relies on
// input fed from the global hook.
func New(sender Sender, inbox <-chan messages.MessageEnvelope, settle time.Duration, window Window) *Surface {
	if settle < 0 {
		settle = 0
	}
	return &Surface{
		sender: sender,
		inbox:  inbox,
		input:  make(chan Input, 64),
		settle: settle,
		window: window,
	}
}

func (s *Surface) Name() string { return messages.ProcessSurface }

// Active reports whether a selection is in progress. Input drivers use it
// to avoid feeding events to an idle surface.
func (s *Surface) Active() bool { return s.active.Load() }

// Feed queues an input event. Events are dropped while the surface is idle
// or when the queue is full.
func (s *Surface) Feed(in Input) bool {
	if !s.active.Load() {
		return false
	}
	select {
	case s.input <- in:
		return true
	default:
		log.Printf("Surface: input queue full, dropping %s", in.Kind)
		return false
	}
}

// Run processes activations and input until ctx is done or DIENOW arrives.
func (s *Surface) Run(ctx context.Context) error {
	defer s.close(false)
	for {
		var settleC <-chan time.Time
		if s.sel != nil && s.sel.timer != nil {
			settleC = s.sel.timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-s.inbox:
			if !ok {
				return nil
			}
			switch msg := env.Message.(type) {
			case messages.Activate:
				s.activate(msg)
			case messages.Dismiss:
				if s.sel == nil || s.sel.windowID != msg.WindowID {
					log.Printf("Surface: ignoring dismiss for stale window %s", msg.WindowID)
					continue
				}
				log.Printf("Surface: dismissed window %s", msg.WindowID)
				s.close(true)
			case messages.DIENOW:
				log.Printf("Surface: received DIENOW")
				return nil
			default:
				log.Printf("Surface: unexpected message %s", env.Message.Type())
			}

		case in := <-s.input:
			s.handle(in)

		case <-settleC:
			s.choose(*s.sel.pending)
		}
	}
}

func (s *Surface) activate(msg messages.Activate) {
	if s.sel != nil {
		log.Printf("Surface: window %s replaced by %s", s.sel.windowID, msg.WindowID)
		s.close(true)
	}
	// drop input from a previous selection
	for len(s.input) > 0 {
		<-s.input
	}
	s.sel = &selection{windowID: msg.WindowID, savePath: msg.SavePath}
	if s.window != nil {
		id := msg.WindowID
		feed := func(in Input) {
			in.window = id
			s.Feed(in)
		}
		s.windowed.Store(true)
		if err := s.window.Open(id, feed); err != nil {
			log.Printf("Surface: selection window unavailable, using global input: %v", err)
			s.windowed.Store(false)
		}
	}
	s.active.Store(true)
	log.Printf("Surface: selection active for window %s", msg.WindowID)
}

func (s *Surface) handle(in Input) {
	sel := s.sel
	if sel == nil {
		return
	}
	if in.window != "" && in.window != sel.windowID {
		log.Printf("Surface: dropping %s from closed window %s", in.Kind, in.window)
		return
	}
	switch in.Kind {
	case PointerDown:
		if sel.pending != nil {
			// a new press during settle restarts the drag
			sel.stopSettle()
			sel.startDrag(in.X, in.Y)
			return
		}
		if sel.anchorSet && !sel.dragging {
			// second click completes the rectangle from the first
			r := screenshot.RegionBetween(sel.ax, sel.ay, in.X, in.Y)
			if r.Valid() {
				s.arm(r)
				return
			}
		}
		sel.startDrag(in.X, in.Y)

	case PointerMove:
		// the drag rectangle is only read on release

	case PointerUp:
		if !sel.dragging {
			return
		}
		sel.dragging = false
		r := screenshot.RegionBetween(sel.ax, sel.ay, in.X, in.Y)
		if !r.Valid() {
			// too small: keep the anchor for a second click
			log.Printf("Surface: rectangle %dx%d below minimum, still selecting", r.Width, r.Height)
			return
		}
		s.arm(r)

	case FocusLost:
		if sel.pending != nil {
			// the rectangle was already chosen, report it now
			s.choose(*sel.pending)
			return
		}
		log.Printf("Surface: focus lost without a selection for window %s", sel.windowID)
		s.send(messages.SelectionCancelled{WindowID: sel.windowID})
		s.close(true)
	}
}

func (s *Surface) arm(r screenshot.Region) {
	if s.settle == 0 {
		s.choose(r)
		return
	}
	s.sel.pending = &r
	s.sel.timer = time.NewTimer(s.settle)
}

// choose reports r and closes the surface.
func (s *Surface) choose(r screenshot.Region) {
	sel := s.sel
	log.Printf("Surface: rectangle %+v chosen for window %s", r, sel.windowID)
	s.send(messages.RectangleChosen{Rect: r, WindowID: sel.windowID, SavePath: sel.savePath})
	s.close(true)
}

// close hides the surface and, when ack is set, acknowledges with EndSelection.
func (s *Surface) close(ack bool) {
	sel := s.sel
	if sel == nil {
		return
	}
	sel.stopSettle()
	s.sel = nil
	s.active.Store(false)
	if s.windowed.Swap(false) {
		s.window.Close()
	}
	if ack {
		s.send(messages.EndSelection{WindowID: sel.windowID})
	}
}

func (s *Surface) send(m messages.Message) {
	if err := s.sender.SendTo(messages.ProcessSurface, messages.ProcessCoordinator, m); err != nil {
		log.Printf("Surface: failed to send %s: %v", m.Type(), err)
	}
}

func (sel *selection) startDrag(x, y int) {
	sel.anchorSet = true
	sel.ax, sel.ay = x, y
	sel.dragging = true
}

func (sel *selection) stopSettle() {
	if sel.timer != nil {
		sel.timer.Stop()
		sel.timer = nil
	}
	sel.pending = nil
}
