package process

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"croquis-timer/src/messages"
	"croquis-timer/src/router"
)

// Actor is a long-running component. Run blocks until ctx is done or the
// actor decides to stop. An error other than context.Canceled marks the
// actor as crashed.
type Actor interface {
	Name() string
	Run(ctx context.Context) error
}

// ProcessState represents the current state of an actor
type ProcessState int

const (
	StateStopped ProcessState = iota
	StateRunning
	StateStopping
	StateCrashed
)

func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// ProcessInfo holds information about a managed actor
type ProcessInfo struct {
	Actor      Actor
	State      ProcessState
	StartTime  time.Time
	CrashCount int
	LastError  error
	cancel     context.CancelFunc
	done       chan struct{}
}

// Manager runs actors and stops them together.
type Manager struct {
	processes map[string]*ProcessInfo
	order     []string
	router    *router.Router
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a manager whose actors talk over r.
func NewManager(r *router.Router) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		processes: make(map[string]*ProcessInfo),
		router:    r,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds an actor to the manager
func (m *Manager) Register(actor Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := actor.Name()
	if _, exists := m.processes[name]; exists {
		return fmt.Errorf("process %s already registered", name)
	}
	m.processes[name] = &ProcessInfo{Actor: actor, State: StateStopped}
	m.order = append(m.order, name)

	log.Printf("Process %s registered", name)
	return nil
}

// Start runs a registered actor in its own goroutine
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.processes[name]
	if !exists {
		return fmt.Errorf("process %s not found", name)
	}
	if info.State == StateRunning || info.State == StateStopping {
		return fmt.Errorf("process %s already running", name)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	info.State = StateRunning
	info.StartTime = time.Now()
	info.cancel = cancel
	info.done = make(chan struct{})

	go m.run(ctx, name, info)
	return nil
}

func (m *Manager) run(ctx context.Context, name string, info *ProcessInfo) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		m.mu.Lock()
		if err != nil && !errors.Is(err, context.Canceled) {
			info.State = StateCrashed
			info.LastError = err
			info.CrashCount++
			log.Printf("Process %s crashed: %v (crash count: %d)", name, err, info.CrashCount)
		} else {
			info.State = StateStopped
			log.Printf("Process %s stopped", name)
		}
		done := info.done
		m.mu.Unlock()
		close(done)
	}()

	log.Printf("Starting process %s", name)
	err = info.Actor.Run(ctx)
}

// StartAll starts all registered actors in registration order
func (m *Manager) StartAll() error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Start(name); err != nil {
			return fmt.Errorf("failed to start process %s: %w", name, err)
		}
	}
	return nil
}

// Stop cancels one actor and waits up to timeout for it to return
func (m *Manager) Stop(name string, timeout time.Duration) error {
	m.mu.Lock()
	info, exists := m.processes[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("process %s not found", name)
	}
	if info.State != StateRunning {
		m.mu.Unlock()
		return nil // Already stopped
	}
	info.State = StateStopping
	cancel, done := info.cancel, info.done
	m.mu.Unlock()

	log.Printf("Stopping process %s", name)
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process %s did not stop within %v", name, timeout)
	}
}

// StopAll asks every actor to die, then cancels the stragglers
func (m *Manager) StopAll(timeout time.Duration) {
	log.Printf("Stopping all processes...")

	if m.router != nil {
		m.router.Broadcast(messages.MessageEnvelope{
			From:    messages.ProcessMain,
			To:      "*",
			Message: messages.DIENOW{},
		})
	}

	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for i := len(names) - 1; i >= 0; i-- {
		if err := m.Stop(names[i], timeout); err != nil {
			log.Printf("Error stopping process %s: %v", names[i], err)
		}
	}
	m.cancel()

	log.Printf("All processes stopped")
}

// GetRouter returns the message router
func (m *Manager) GetRouter() *router.Router {
	return m.router
}

// GetStatus returns the status of all actors
func (m *Manager) GetStatus() map[string]ProcessState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ProcessState)
	for name, info := range m.processes {
		status[name] = info.State
	}
	return status
}

// RestartCrashed restarts crashed actors, up to 5 attempts each
func (m *Manager) RestartCrashed() {
	m.mu.RLock()
	var crashed []string
	for _, name := range m.order {
		info := m.processes[name]
		if info.State == StateCrashed && info.CrashCount < 5 {
			crashed = append(crashed, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range crashed {
		log.Printf("Attempting to restart crashed process %s", name)
		if err := m.Start(name); err != nil {
			log.Printf("Failed to restart process %s: %v", name, err)
		}
	}
}
