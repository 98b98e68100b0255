//go:build !windows

package overlay

// NewWindow returns nil: without a selection window the surface is driven
// by the global hook.
func NewWindow() Window { return nil }
