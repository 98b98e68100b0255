package coordinator

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"croquis-timer/src/messages"
)

var (
	// ErrUserCancelled is returned when the surface closed without a rectangle.
	ErrUserCancelled = errors.New("capture cancelled by user")
	// ErrSuperseded is returned to a capture replaced by a newer one.
	ErrSuperseded = errors.New("capture superseded")
	// ErrStopped is returned when the coordinator is no longer running.
	ErrStopped = errors.New("capture coordinator stopped")
)

// CaptureError is a failure reported by the capture service.
type CaptureError struct {
	Reason string
}

func (e *CaptureError) Error() string { return "capture failed: " + e.Reason }

// Sender delivers protocol messages. *router.Router implements it.
type Sender interface {
	SendTo(from, to string, m messages.Message) error
}

type phase int

const (
	selecting phase = iota
	capturing
)

type outcome struct {
	path string
	err  error
}

type request struct {
	savePath string
	done     chan outcome
}

// transaction is the single outstanding capture. It is owned by Run.
type transaction struct {
	id       string
	savePath string
	phase    phase
	captured bool
	path     string
	ended    bool
	done     chan outcome
}

// Coordinator joins the selection surface and the capture service into one
// awaitable capture. Every message is correlated by window id; anything for
// another id is dropped.
type Coordinator struct {
	sender   Sender
	inbox    <-chan messages.MessageEnvelope
	requests chan request
	abandons chan chan outcome
	stopped  chan struct{}
	newID    func() string

	tx *transaction
}

// New creates a coordinator reading replies from inbox.
func New(sender Sender, inbox <-chan messages.MessageEnvelope) *Coordinator {
	return &Coordinator{
		sender:   sender,
		inbox:    inbox,
		requests: make(chan request),
		abandons: make(chan chan outcome),
		stopped:  make(chan struct{}),
		newID:    uuid.NewString,
	}
}

func (c *Coordinator) Name() string { return messages.ProcessCoordinator }

// Capture activates the selection surface and blocks until the capture
// resolves. On success it returns the written file path. A success is only
// reported once both the capture service and the surface have finished.
// If ctx is done first the transaction is abandoned and the surface dismissed.
func (c *Coordinator) Capture(ctx context.Context, savePath string) (string, error) {
	done := make(chan outcome, 1)
	select {
	case c.requests <- request{savePath: savePath, done: done}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.stopped:
		return "", ErrStopped
	}

	select {
	case out := <-done:
		return out.path, out.err
	case <-ctx.Done():
		select {
		case c.abandons <- done:
		case <-c.stopped:
		}
		return "", ctx.Err()
	}
}

// Run owns the outstanding transaction until ctx is done or DIENOW arrives.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer func() {
		if c.tx != nil {
			c.dismiss()
			c.resolve(outcome{err: ErrStopped})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-c.requests:
			c.begin(req)

		case done := <-c.abandons:
			if c.tx != nil && c.tx.done == done {
				log.Printf("Coordinator: window %s abandoned by caller", c.tx.id)
				c.dismiss()
				c.resolve(outcome{err: context.Canceled})
			}

		case env, ok := <-c.inbox:
			if !ok {
				return nil
			}
			if _, ok := env.Message.(messages.DIENOW); ok {
				log.Printf("Coordinator: received DIENOW")
				return nil
			}
			c.handle(env.Message)
		}
	}
}

func (c *Coordinator) begin(req request) {
	if c.tx != nil {
		log.Printf("Coordinator: window %s superseded", c.tx.id)
		c.dismiss()
		c.resolve(outcome{err: ErrSuperseded})
	}

	c.tx = &transaction{id: c.newID(), savePath: req.savePath, done: req.done}
	log.Printf("Coordinator: activating surface for window %s", c.tx.id)
	if err := c.sender.SendTo(messages.ProcessCoordinator, messages.ProcessSurface,
		messages.Activate{WindowID: c.tx.id, SavePath: req.savePath}); err != nil {
		c.resolve(outcome{err: &CaptureError{Reason: err.Error()}})
	}
}

func (c *Coordinator) handle(m messages.Message) {
	id := windowID(m)
	if c.tx == nil || id != c.tx.id {
		log.Printf("Coordinator: discarding stale %s for window %s", m.Type(), id)
		return
	}
	tx := c.tx

	switch msg := m.(type) {
	case messages.RectangleChosen:
		if tx.phase != selecting {
			log.Printf("Coordinator: duplicate rectangle for window %s", tx.id)
			return
		}
		tx.phase = capturing
		err := c.sender.SendTo(messages.ProcessCoordinator, messages.ProcessCapture,
			messages.CaptureRequest{WindowID: tx.id, Rect: msg.Rect, SavePath: tx.savePath})
		if err != nil {
			c.dismiss()
			c.resolve(outcome{err: &CaptureError{Reason: err.Error()}})
		}

	case messages.SelectionCancelled:
		// resolved when the surface acknowledges with EndSelection
		log.Printf("Coordinator: window %s cancelled", tx.id)

	case messages.EndSelection:
		tx.ended = true
		switch {
		case tx.phase == selecting:
			c.resolve(outcome{err: ErrUserCancelled})
		case tx.captured:
			c.resolve(outcome{path: tx.path})
		}

	case messages.CaptureCompleted:
		if tx.phase != capturing {
			log.Printf("Coordinator: unexpected capture result for window %s", tx.id)
			return
		}
		if !msg.Succeeded() {
			c.dismiss()
			c.resolve(outcome{err: &CaptureError{Reason: msg.Reason}})
			return
		}
		tx.captured = true
		tx.path = msg.Path
		if tx.ended {
			c.resolve(outcome{path: tx.path})
		}

	default:
		log.Printf("Coordinator: unexpected message %s", m.Type())
	}
}

// dismiss tells the surface to close unless it already has.
func (c *Coordinator) dismiss() {
	if c.tx == nil || c.tx.ended {
		return
	}
	if err := c.sender.SendTo(messages.ProcessCoordinator, messages.ProcessSurface,
		messages.Dismiss{WindowID: c.tx.id}); err != nil {
		log.Printf("Coordinator: failed to dismiss window %s: %v", c.tx.id, err)
	}
}

// resolve delivers the single outcome of the current transaction.
func (c *Coordinator) resolve(out outcome) {
	tx := c.tx
	c.tx = nil
	if out.err != nil {
		log.Printf("Coordinator: window %s failed: %v", tx.id, out.err)
	} else {
		log.Printf("Coordinator: window %s captured %s", tx.id, out.path)
	}
	tx.done <- out
}

func windowID(m messages.Message) string {
	switch msg := m.(type) {
	case messages.RectangleChosen:
		return msg.WindowID
	case messages.SelectionCancelled:
		return msg.WindowID
	case messages.EndSelection:
		return msg.WindowID
	case messages.CaptureCompleted:
		return msg.WindowID
	}
	return ""
}
