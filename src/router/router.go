package router

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"croquis-timer/src/messages"
)

const (
	sendTimeout      = 5 * time.Second
	broadcastTimeout = 1 * time.Second
)

// inbox holds one actor's channel
type inbox struct {
	ch     chan messages.MessageEnvelope
	active bool
}

// Router delivers envelopes between named actors. Each actor owns one
// buffered inbox; delivery order is preserved per sender/receiver pair.
type Router struct {
	inboxes     map[string]*inbox
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	logMessages bool
}

// NewRouter creates a new message router
func NewRouter() *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		inboxes:     make(map[string]*inbox),
		ctx:         ctx,
		cancel:      cancel,
		logMessages: true,
	}
}

// RegisterProcess creates the inbox for an actor
func (r *Router) RegisterProcess(name string, bufferSize int) (<-chan messages.MessageEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inboxes[name]; exists {
		return nil, fmt.Errorf("process %s already registered", name)
	}

	ch := make(chan messages.MessageEnvelope, bufferSize)
	r.inboxes[name] = &inbox{ch: ch, active: true}

	log.Printf("Router: Registered process %s with buffer size %d", name, bufferSize)
	return ch, nil
}

// UnregisterProcess removes an actor and closes its inbox
func (r *Router) UnregisterProcess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in, exists := r.inboxes[name]; exists {
		in.active = false
		close(in.ch)
		delete(r.inboxes, name)
		log.Printf("Router: Unregistered process %s", name)
	}
}

// Send validates and delivers an envelope to one actor
func (r *Router) Send(envelope messages.MessageEnvelope) error {
	if err := messages.Validate(envelope.Message); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		log.Printf("Router: %s -> %s: %s", envelope.From, envelope.To, envelope.Message.Type())
	}

	if envelope.To == "*" {
		r.broadcast(envelope)
		return nil
	}

	in, exists := r.inboxes[envelope.To]
	if !exists {
		return fmt.Errorf("process %s not found", envelope.To)
	}
	if !in.active {
		return fmt.Errorf("process %s is not active", envelope.To)
	}

	select {
	case in.ch <- envelope:
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending message to process %s", envelope.To)
	case <-r.ctx.Done():
		return fmt.Errorf("router is shutting down")
	}
}

// SendTo is a convenience wrapper around Send
func (r *Router) SendTo(from, to string, message messages.Message) error {
	return r.Send(messages.MessageEnvelope{From: from, To: to, Message: message})
}

// Broadcast sends a message to every registered actor except the sender
func (r *Router) Broadcast(envelope messages.MessageEnvelope) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		log.Printf("Router: Broadcasting %s from %s", envelope.Message.Type(), envelope.From)
	}
	r.broadcast(envelope)
}

// broadcast expects r.mu to be held
func (r *Router) broadcast(envelope messages.MessageEnvelope) {
	var failed []string
	for name, in := range r.inboxes {
		if !in.active || name == envelope.From {
			continue
		}
		env := messages.MessageEnvelope{From: envelope.From, To: name, Message: envelope.Message}
		select {
		case in.ch <- env:
		case <-time.After(broadcastTimeout):
			failed = append(failed, name)
		case <-r.ctx.Done():
			return
		}
	}
	if len(failed) > 0 {
		log.Printf("Router: Broadcast timed out for %v", failed)
	}
}

// Processes returns the names of the registered actors
func (r *Router) Processes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.inboxes))
	for name, in := range r.inboxes {
		if in.active {
			names = append(names, name)
		}
	}
	return names
}

// SetMessageLogging enables or disables message logging
func (r *Router) SetMessageLogging(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logMessages = enabled
}

// Shutdown closes every inbox. Pending Sends return an error.
func (r *Router) Shutdown() {
	log.Printf("Router: Shutting down...")
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, in := range r.inboxes {
		if in.active {
			in.active = false
			close(in.ch)
			log.Printf("Router: Closed inbox for process %s", name)
		}
	}
	r.inboxes = make(map[string]*inbox)
}
