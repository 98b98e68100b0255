package messages

import (
	"testing"

	"croquis-timer/src/screenshot"
)

func TestValidate(t *testing.T) {
	valid := screenshot.Region{X: 1, Y: 2, Width: 40, Height: 30}
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"activate", Activate{WindowID: "w1", SavePath: "/tmp"}, false},
		{"activate without id", Activate{SavePath: "/tmp"}, true},
		{"chosen", RectangleChosen{WindowID: "w1", Rect: valid}, false},
		{"chosen below minimum", RectangleChosen{WindowID: "w1", Rect: screenshot.Region{Width: 5, Height: 20}}, true},
		{"cancelled", SelectionCancelled{WindowID: "w1"}, false},
		{"end without id", EndSelection{}, true},
		{"capture request without path", CaptureRequest{WindowID: "w1", Rect: valid}, true},
		{"capture ok", CaptureCompleted{WindowID: "w1", Path: "/tmp/a.png"}, false},
		{"capture failed", CaptureCompleted{WindowID: "w1", Reason: "disk full"}, false},
		{"capture ok without path", CaptureCompleted{WindowID: "w1"}, true},
		{"dienow", DIENOW{}, false},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
