package overlay

import (
	gohook "github.com/robotn/gohook"
)

const (
	leftButton    = 1
	escapeKeycode = 1
	escapeChar    = 27
)

// HandleHookEvent feeds a global hook event to the surface. Register it with
// the process-wide hook so the surface sees mouse input while active. It is
// ignored while a selection window owns the input.
func (s *Surface) HandleHookEvent(ev gohook.Event) {
	if !s.Active() || s.windowed.Load() {
		return
	}
	if in, ok := inputFromEvent(ev); ok {
		s.Feed(in)
	}
}

// inputFromEvent maps a gohook event to surface input. gohook kind names
// follow libuiohook's order: MouseHold is a press and MouseDown a release.
// Escape is treated as losing focus.
func inputFromEvent(ev gohook.Event) (Input, bool) {
	x, y := int(ev.X), int(ev.Y)
	switch ev.Kind {
	case gohook.MouseHold:
		if ev.Button != leftButton {
			return Input{}, false
		}
		return Input{Kind: PointerDown, X: x, Y: y}, true
	case gohook.MouseDown:
		if ev.Button != leftButton {
			return Input{}, false
		}
		return Input{Kind: PointerUp, X: x, Y: y}, true
	case gohook.MouseDrag, gohook.MouseMove:
		return Input{Kind: PointerMove, X: x, Y: y}, true
	case gohook.KeyHold:
		if ev.Keycode == escapeKeycode {
			return Input{Kind: FocusLost}, true
		}
	case gohook.KeyDown:
		if ev.Keychar == escapeChar {
			return Input{Kind: FocusLost}, true
		}
	}
	return Input{}, false
}
