package runtimeinit

import (
	"context"
	"fmt"
	"log"
	"time"

	"croquis-timer/src/capture"
	"croquis-timer/src/config"
	"croquis-timer/src/coordinator"
	"croquis-timer/src/messages"
	"croquis-timer/src/overlay"
	"croquis-timer/src/process"
	"croquis-timer/src/router"
	"croquis-timer/src/session"
	"croquis-timer/src/store"
	"croquis-timer/src/timer"
	"croquis-timer/src/worker"
)

const (
	inboxSize   = 16
	stopTimeout = 2 * time.Second
)

type Options struct {
	// Config is used as is when set; otherwise it is loaded with LoadOptions.
	Config       *config.Config
	LoadOptions  config.LoadOptions
	SetupLogging func(enabled bool)

	Presenter session.Presenter
	Notifier  session.Notifier
	Clock     timer.Clock
	Grab      capture.Grabber
	// Window is the full-screen selection window; nil leaves selection to the global hook.
	Window overlay.Window
}

// Runtime is a running session engine: the history store, the capture
// actors and the session controller.
type Runtime struct {
	Config      *config.Config
	Store       *store.Store
	Router      *router.Router
	Manager     *process.Manager
	Surface     *overlay.Surface
	Coordinator *coordinator.Coordinator
	Session     *session.Controller

	capturePool *worker.Pool
}

// Bootstrap loads configuration, opens the store and starts every actor.
func Bootstrap(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadWithOptions(opts.LoadOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg.EnableFileLogging)
	}

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	rt := &Runtime{
		Config:      cfg,
		Store:       st,
		Router:      router.NewRouter(),
		capturePool: worker.New("capture", 1),
	}
	rt.Manager = process.NewManager(rt.Router)
	if err := rt.wire(opts); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.Manager.StartAll(); err != nil {
		rt.Close()
		return nil, err
	}
	log.Printf("Runtime: started, store %s, save path %s", cfg.DBPath, cfg.SavePath)
	return rt, nil
}

func (rt *Runtime) wire(opts Options) error {
	inboxes := make(map[string]<-chan messages.MessageEnvelope)
	for _, name := range []string{messages.ProcessSurface, messages.ProcessCapture, messages.ProcessCoordinator} {
		inbox, err := rt.Router.RegisterProcess(name, inboxSize)
		if err != nil {
			return err
		}
		inboxes[name] = inbox
	}

	rt.Surface = overlay.New(rt.Router, inboxes[messages.ProcessSurface], rt.Config.SettleDelay(), opts.Window)
	rt.Coordinator = coordinator.New(rt.Router, inboxes[messages.ProcessCoordinator])
	captureSvc := capture.New(rt.Router, inboxes[messages.ProcessCapture], rt.capturePool, opts.Grab)

	ctrl, err := session.New(session.Options{
		Gateway:      rt.Store,
		Capturer:     rt.Coordinator,
		Presenter:    opts.Presenter,
		Notifier:     opts.Notifier,
		Clock:        opts.Clock,
		TickInterval: rt.Config.TickInterval(),
	})
	if err != nil {
		return err
	}
	rt.Session = ctrl

	for _, actor := range []process.Actor{rt.Surface, captureSvc, rt.Coordinator, rt.Session} {
		if err := rt.Manager.Register(actor); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the actors and releases the store.
func (rt *Runtime) Close() {
	if rt.Manager != nil {
		rt.Manager.StopAll(stopTimeout)
	}
	rt.Router.Shutdown()
	rt.capturePool.Close()
	if err := rt.Store.Close(); err != nil {
		log.Printf("Runtime: closing store: %v", err)
	}
}
