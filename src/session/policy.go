package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy decides what happens at the deadline and on save.
type Policy struct {
	AutoSkip      bool          `json:"autoSkip"`
	AutoSave      bool          `json:"autoSave"`
	AutoCapture   bool          `json:"autoCapture"`
	CaptureOnSave bool          `json:"manualCaptureOnSave"`
	MaxTime       time.Duration `json:"maxTime"`
	SavePath      string        `json:"savePath"`
	FolderID      int64         `json:"folderId"`
}

// Validate rejects a policy that cannot drive a session.
func (p Policy) Validate() error {
	if p.MaxTime <= 0 {
		return fmt.Errorf("max time must be positive, got %v", p.MaxTime)
	}
	if (p.AutoCapture || p.CaptureOnSave) && strings.TrimSpace(p.SavePath) == "" {
		return errors.New("save path is required when capture is enabled")
	}
	if p.FolderID < 0 {
		return fmt.Errorf("folder id must not be negative, got %d", p.FolderID)
	}
	return nil
}

// wantsCapture reports whether a save of the given kind also captures a drawing.
func (p Policy) wantsCapture(manual bool) bool {
	if manual {
		return p.CaptureOnSave
	}
	return p.AutoCapture
}
