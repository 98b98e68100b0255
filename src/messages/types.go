package messages

import (
	"errors"
	"fmt"
	"strings"

	"croquis-timer/src/screenshot"
)

// Message is the base interface for all messages exchanged between actors
type Message interface {
	Type() string
}

// Validator is implemented by messages with required fields. The router
// rejects messages whose Validate returns an error.
type Validator interface {
	Validate() error
}

// MessageType constants for type identification
const (
	TypeActivate           = "Activate"
	TypeDismiss            = "Dismiss"
	TypeRectangleChosen    = "RectangleChosen"
	TypeSelectionCancelled = "SelectionCancelled"
	TypeEndSelection       = "EndSelection"
	TypeCaptureRequest     = "CaptureRequest"
	TypeCaptureCompleted   = "CaptureCompleted"
	TypeDieNow             = "DIENOW"
)

var errMissingWindowID = errors.New("window id is required")

func checkWindowID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errMissingWindowID
	}
	return nil
}

// Activate - sent by the coordinator to make the selection surface interactive
type Activate struct {
	WindowID string
	SavePath string
}

func (m Activate) Type() string    { return TypeActivate }
func (m Activate) Validate() error { return checkWindowID(m.WindowID) }

// Dismiss - sent by the coordinator to close the surface without a choice
type Dismiss struct {
	WindowID string
}

func (m Dismiss) Type() string    { return TypeDismiss }
func (m Dismiss) Validate() error { return checkWindowID(m.WindowID) }

// RectangleChosen - sent by the surface once the user settled on a rectangle
type RectangleChosen struct {
	Rect     screenshot.Region
	WindowID string
	SavePath string
}

func (m RectangleChosen) Type() string { return TypeRectangleChosen }

func (m RectangleChosen) Validate() error {
	if err := checkWindowID(m.WindowID); err != nil {
		return err
	}
	if !m.Rect.Valid() {
		return fmt.Errorf("rectangle %dx%d is below the %dx%d minimum",
			m.Rect.Width, m.Rect.Height, screenshot.MinSelectionSize, screenshot.MinSelectionSize)
	}
	return nil
}

// SelectionCancelled - sent by the surface when it lost focus before a choice was made
type SelectionCancelled struct {
	WindowID string
}

func (m SelectionCancelled) Type() string    { return TypeSelectionCancelled }
func (m SelectionCancelled) Validate() error { return checkWindowID(m.WindowID) }

// EndSelection - sent by the surface after it has closed itself
type EndSelection struct {
	WindowID string
}

func (m EndSelection) Type() string    { return TypeEndSelection }
func (m EndSelection) Validate() error { return checkWindowID(m.WindowID) }

// CaptureRequest - sent to the capture service to grab, crop and store a region
type CaptureRequest struct {
	WindowID string
	Rect     screenshot.Region
	SavePath string
}

func (m CaptureRequest) Type() string { return TypeCaptureRequest }

func (m CaptureRequest) Validate() error {
	if err := checkWindowID(m.WindowID); err != nil {
		return err
	}
	if strings.TrimSpace(m.SavePath) == "" {
		return errors.New("save path is required")
	}
	return nil
}

// CaptureCompleted - sent by the capture service with the terminal report.
// An empty Reason means the file at Path was written.
type CaptureCompleted struct {
	WindowID string
	Path     string
	Reason   string
}

func (m CaptureCompleted) Type() string { return TypeCaptureCompleted }

func (m CaptureCompleted) Validate() error {
	if err := checkWindowID(m.WindowID); err != nil {
		return err
	}
	if m.Reason == "" && m.Path == "" {
		return errors.New("successful capture must carry a path")
	}
	return nil
}

// Succeeded reports whether the capture produced a file.
func (m CaptureCompleted) Succeeded() bool { return m.Reason == "" }

// DIENOW - emergency shutdown message sent to all actors
type DIENOW struct{}

func (m DIENOW) Type() string { return TypeDieNow }

// Validate runs m.Validate when m has required fields.
func Validate(m Message) error {
	if m == nil {
		return errors.New("message is nil")
	}
	if v, ok := m.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid %s: %w", m.Type(), err)
		}
	}
	return nil
}

// MessageEnvelope wraps messages with metadata for routing
type MessageEnvelope struct {
	From    string  // Source actor name
	To      string  // Destination actor name ("*" for broadcast)
	Message Message // The actual message
}

// Actor names
const (
	ProcessMain        = "main"
	ProcessSession     = "session"
	ProcessCoordinator = "coordinator"
	ProcessSurface     = "surface"
	ProcessCapture     = "capture"
)
