package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
)

// keyState tracks one key of a combination
type keyState struct {
	name     string
	rawcodes []uint16
	pressed  bool
}

type combo struct {
	name     string
	config   string
	keys     []keyState
	callback func()
}

// Hook fans out global input events. Key combinations registered with Bind
// fire their callback; raw listeners registered with Listen see every event.
type Hook struct {
	mu        sync.Mutex
	combos    []*combo
	listeners []func(gohook.Event)

	start   func() chan gohook.Event
	end     func()
	running bool
	stopped chan struct{}
}

// New returns a Hook backed by the process-wide gohook event stream.
func New() *Hook {
	return &Hook{start: gohook.Start, end: gohook.End}
}

// Bind registers callback for a combination such as "Ctrl+Alt+S". An empty
// config disables the binding.
func (h *Hook) Bind(name, hotkeyConfig string, callback func()) error {
	if strings.TrimSpace(hotkeyConfig) == "" {
		log.Printf("Hotkey: %s is unbound", name)
		return nil
	}
	keys := parseHotkey(hotkeyConfig)
	c := &combo{name: name, config: hotkeyConfig, callback: callback}
	for _, keyName := range keys {
		rawcodes := keyNameToRawcodes(keyName)
		if len(rawcodes) == 0 {
			return fmt.Errorf("hotkey %s: cannot map key %q in %q", name, keyName, hotkeyConfig)
		}
		c.keys = append(c.keys, keyState{name: keyName, rawcodes: rawcodes})
	}

	h.mu.Lock()
	h.combos = append(h.combos, c)
	h.mu.Unlock()
	log.Printf("Hotkey: %s bound to %s", name, hotkeyConfig)
	return nil
}

// Listen registers fn to receive every hook event, mouse included.
func (h *Hook) Listen(fn func(gohook.Event)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Start begins reading the global hook. Events are dispatched until ctx is
// done or Stop is called.
func (h *Hook) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.New("hotkey hook already running")
	}
	evChan := h.start()
	if evChan == nil {
		h.mu.Unlock()
		return errors.New("gohook.Start returned nil channel")
	}
	h.running = true
	h.stopped = make(chan struct{})
	stopped := h.stopped
	h.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				h.Stop()
				return
			case ev, ok := <-evChan:
				if !ok {
					log.Printf("Hotkey: event channel closed")
					return
				}
				h.Dispatch(ev)
			}
		}
	}()
	return nil
}

// Stop ends the global hook. It is safe to call more than once.
func (h *Hook) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	h.end()
}

// Dispatch feeds one event through the combinations and raw listeners.
func (h *Hook) Dispatch(ev gohook.Event) {
	h.mu.Lock()
	listeners := append([]func(gohook.Event)(nil), h.listeners...)
	var fired []*combo
	switch ev.Kind {
	case gohook.KeyDown, gohook.KeyHold:
		for _, c := range h.combos {
			if c.press(ev.Rawcode) {
				fired = append(fired, c)
			}
		}
	case gohook.KeyUp:
		for _, c := range h.combos {
			c.release(ev.Rawcode)
		}
	}
	h.mu.Unlock()

	for _, c := range fired {
		log.Printf("Hotkey: %s (%s) activated", c.name, c.config)
		if c.callback != nil {
			c.callback()
		}
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

// press marks rawcode as held and reports whether the whole combination is
// now down. A completed combination resets so it fires once per press.
func (c *combo) press(rawcode uint16) bool {
	matched := false
	for i := range c.keys {
		if c.keys[i].matches(rawcode) {
			c.keys[i].pressed = true
			matched = true
		}
	}
	if !matched {
		return false
	}
	for i := range c.keys {
		if !c.keys[i].pressed {
			return false
		}
	}
	for i := range c.keys {
		c.keys[i].pressed = false
	}
	return true
}

func (c *combo) release(rawcode uint16) {
	for i := range c.keys {
		if c.keys[i].matches(rawcode) {
			c.keys[i].pressed = false
		}
	}
}

func (k keyState) matches(rawcode uint16) bool {
	for _, rc := range k.rawcodes {
		if rc == rawcode {
			return true
		}
	}
	return false
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			keys = append(keys, "ctrl")
		case "win", "cmd", "super":
			keys = append(keys, "cmd")
		default:
			keys = append(keys, part)
		}
	}
	return keys
}

// special maps named keys to Windows virtual key codes. Modifiers carry
// both left and right variants.
var special = map[string][]uint16{
	"ctrl":      {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":       {164, 165}, // VK_LMENU, VK_RMENU
	"shift":     {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"cmd":       {91, 92},   // VK_LWIN, VK_RWIN
	"space":     {32},
	"enter":     {13},
	"return":    {13},
	"esc":       {27},
	"escape":    {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"del":       {46},
	"insert":    {45},
	"ins":       {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pgup":      {33},
	"pagedown":  {34},
	"pgdn":      {34},
	"left":      {37},
	"up":        {38},
	"right":     {39},
	"down":      {40},
}

// keyNameToRawcodes maps a key name to its Windows virtual key code rawcodes
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	if keyName == "win" || keyName == "super" {
		keyName = "cmd"
	}
	if codes, ok := special[keyName]; ok {
		return codes
	}

	if len(keyName) == 1 {
		switch ch := keyName[0]; {
		case ch >= 'a' && ch <= 'z':
			return []uint16{uint16(ch-'a') + 65} // VK 0x41-0x5A
		case ch >= '0' && ch <= '9':
			return []uint16{uint16(ch-'0') + 48} // VK 0x30-0x39
		}
	}

	// F1-F24 are VK 0x70-0x87
	var n int
	if _, err := fmt.Sscanf(keyName, "f%d", &n); err == nil && n >= 1 && n <= 24 && keyName == fmt.Sprintf("f%d", n) {
		return []uint16{uint16(111 + n)}
	}

	log.Printf("WARNING: Unknown key name '%s', cannot map to rawcode", keyName)
	return nil
}
