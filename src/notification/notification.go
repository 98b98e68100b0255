package notification

import (
	"log"
	"sync/atomic"
)

const maxMessageLen = 200

// muted suppresses dialogs; messages are only logged. Set by tests and by
// the terminal frontend, which renders notices itself.
var muted atomic.Bool

// Mute stops Notify from opening dialogs.
func Mute(m bool) { muted.Store(m) }

// Notify shows a non-blocking notice to the user. It never waits for the
// user to dismiss it.
func Notify(title, message string) {
	message = truncate(message)
	log.Printf("Notification: %s: %s", title, message)
	if muted.Load() {
		return
	}
	go func() {
		if err := showPopup(title, message); err != nil {
			log.Printf("Failed to show notification: %v", err)
		}
	}()
}

// ShowBlockingError displays an error and waits until the user closes it.
func ShowBlockingError(title, message string) {
	log.Printf("%s: %s", title, message)
	if muted.Load() {
		return
	}
	if err := showPopup(title, message); err != nil {
		log.Printf("Failed to show error dialog: %v", err)
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen]) + "..."
}

// Notifier adapts Notify to the session's notifier interface.
type Notifier struct{}

func (Notifier) Notify(title, message string) { Notify(title, message) }
