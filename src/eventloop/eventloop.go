package eventloop

import (
	"context"
	"fmt"
	"log"

	"croquis-timer/src/config"
	"croquis-timer/src/hotkey"
	"croquis-timer/src/singleinstance"
	"croquis-timer/src/worker"
)

// Loop is the resident's coordinator for delegated sessions, hotkeys and
// config reloads. Requests and reloads are handled one at a time on Run.
type Loop struct {
	actions *Actions
	srv     singleinstance.Server
	pool    *worker.Pool
	configs chan *config.Config
}

// New creates a loop serving srv. Hotkey actions run on a small pool so a
// save waiting on a capture never blocks the input hook.
func New(actions *Actions, srv singleinstance.Server) *Loop {
	return &Loop{
		actions: actions,
		srv:     srv,
		pool:    worker.New("hotkeys", 2),
		configs: make(chan *config.Config, 1),
	}
}

// BindHotkeys maps the configured combinations to actions.
func (l *Loop) BindHotkeys(hook *hotkey.Hook, keys config.Hotkeys) error {
	bindings := []struct {
		name  string
		combo string
		fn    func(context.Context) error
	}{
		{"next", keys.Next, l.actions.Next},
		{"prev", keys.Prev, l.actions.Prev},
		{"save", keys.Save, l.actions.Save},
		{"pause", keys.Pause, l.actions.TogglePause},
		{"copy", keys.Copy, l.actions.CopyImage},
	}
	for _, b := range bindings {
		name, fn := b.name, b.fn
		if err := hook.Bind(name, b.combo, func() { l.dispatch(name, fn) }); err != nil {
			return err
		}
	}
	return nil
}

// dispatch runs fn off the caller's goroutine. It drops the action when
// the pool is saturated.
func (l *Loop) dispatch(name string, fn func(context.Context) error) {
	ok := l.pool.Submit(context.Background(), func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			log.Printf("EventLoop: %s failed: %v", name, err)
		}
	})
	if !ok {
		log.Printf("EventLoop: busy, dropping %s", name)
	}
}

// ConfigChanged queues a reloaded config. Only the newest one is kept.
func (l *Loop) ConfigChanged(cfg *config.Config) {
	for {
		select {
		case l.configs <- cfg:
			return
		default:
		}
		select {
		case <-l.configs:
		default:
		}
	}
}

// Run starts the singleinstance server and processes client requests.
// It blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.srv.Start(ctx); err != nil {
		return fmt.Errorf("another resident owns the port: %w", err)
	}
	defer l.srv.Close()
	defer l.pool.Close()
	if p := l.srv.Port(); p > 0 {
		log.Printf("Resident listening on 127.0.0.1:%d", p)
	}

	// Accept loop in background to avoid blocking reload handling
	reqCh := make(chan singleinstance.Conn, 4)
	go func() {
		defer close(reqCh)
		for {
			conn, err := l.srv.Next(ctx)
			if err != nil {
				return
			}
			select {
			case reqCh <- conn:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case conn, ok := <-reqCh:
			if !ok {
				return nil
			}
			l.handleConn(ctx, conn)
		case cfg := <-l.configs:
			l.handleConfig(cfg)
		}
	}
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	defer conn.Close()
	req := conn.Request()
	if err := l.actions.Start(ctx, req.Queue, req.Policy); err != nil {
		log.Printf("EventLoop: delegated session rejected: %v", err)
		_ = conn.RespondError(err.Error())
		return
	}
	log.Printf("EventLoop: delegated session started with %d images", len(req.Queue))
	_ = conn.RespondSuccess()
}

// handleConfig applies a reloaded config to the next session start.
func (l *Loop) handleConfig(cfg *config.Config) {
	policy := cfg.Policy()
	if err := policy.Validate(); err != nil {
		log.Printf("EventLoop: ignoring reloaded config: %v", err)
		return
	}
	l.actions.SetPolicy(policy)
	log.Printf("EventLoop: config reloaded, max time %v applies to the next session", policy.MaxTime)
}
