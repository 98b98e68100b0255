package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"croquis-timer/src/clipboard"
	"croquis-timer/src/config"
	"croquis-timer/src/eventloop"
	"croquis-timer/src/hotkey"
	"croquis-timer/src/imagelist"
	"croquis-timer/src/logutil"
	"croquis-timer/src/notification"
	"croquis-timer/src/overlay"
	"croquis-timer/src/runtimeinit"
	"croquis-timer/src/session"
	"croquis-timer/src/singleinstance"
	"croquis-timer/src/tray"
	"croquis-timer/src/viewer"
)

type mainOptions struct {
	envPath       string
	dirs          []string
	shuffle       bool
	maxTimeSec    int
	autoSkip      bool
	autoSave      bool
	autoCapture   bool
	captureOnSave bool
	savePath      string
	folder        int64
	dbPath        string
	window        bool
	gray          bool
	width         int
	height        int
}

func main() {
	if err := newRootCmd(&mainOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "croquis-timer [images or folders...]",
		Short:         "Timed figure drawing sessions from the system tray",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(cmd.Context(), cmd.Flags(), *opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.envPath, "env", "", "Path to the .env config file")
	f.StringSliceVar(&opts.dirs, "dir", nil, "Folder of reference images (repeatable)")
	f.BoolVar(&opts.shuffle, "shuffle", false, "Shuffle the queue once at start")
	f.IntVar(&opts.maxTimeSec, "max-time", 0, "Seconds per image")
	f.BoolVar(&opts.autoSkip, "auto-skip", false, "Move on when time is up")
	f.BoolVar(&opts.autoSave, "auto-save", false, "Save history before an automatic skip")
	f.BoolVar(&opts.autoCapture, "auto-capture", false, "Capture the drawing on automatic saves")
	f.BoolVar(&opts.captureOnSave, "capture-on-save", false, "Capture the drawing on manual saves")
	f.StringVar(&opts.savePath, "save-path", "", "Folder for captured drawings")
	f.Int64Var(&opts.folder, "folder", 0, "History folder id")
	f.StringVar(&opts.dbPath, "db", "", "History database path")
	f.BoolVar(&opts.window, "window", true, "Show the reference image window")
	f.BoolVar(&opts.gray, "gray", false, "Show reference images in grayscale")
	f.IntVar(&opts.width, "width", 0, "Reference window width")
	f.IntVar(&opts.height, "height", 0, "Reference window height")

	return cmd
}

func runWithOptions(ctx context.Context, flags *pflag.FlagSet, opts mainOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadWithOptions(config.LoadOptions{EnvPathOverride: opts.envPath})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, flags, opts)
	logutil.Setup(cfg.EnableFileLogging, filepath.Dir(cfg.DBPath))

	queue, err := buildQueue(append(append([]string(nil), opts.dirs...), args...), cfg.Shuffle)
	if err != nil {
		return err
	}
	policy := cfg.Policy()
	if len(queue) > 0 {
		if err := policy.Validate(); err != nil {
			return err
		}
	}

	ports := singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd}
	if len(queue) > 0 {
		client := singleinstance.NewClient(ports)
		delegated, err := delegate(ctx, client, singleinstance.Request{Queue: queue, Policy: policy})
		if delegated || err != nil {
			return err
		}
	}

	// Pre-flight: a resident answering PING owns the session
	probe, cancelProbe := context.WithTimeout(ctx, time.Second)
	port, found := singleinstance.DetectResidentPort(probe, ports)
	cancelProbe()
	if found {
		return fmt.Errorf("croquis-timer is already running on port %d", port)
	}

	return runResident(ctx, cfg, queue, policy)
}

// applyFlags lets explicitly set flags override the config file.
func applyFlags(cfg *config.Config, flags *pflag.FlagSet, opts mainOptions) {
	if flags == nil {
		return
	}
	if flags.Changed("shuffle") {
		cfg.Shuffle = opts.shuffle
	}
	if flags.Changed("max-time") {
		cfg.MaxTimeSec = opts.maxTimeSec
	}
	if flags.Changed("auto-skip") {
		cfg.AutoSkip = opts.autoSkip
	}
	if flags.Changed("auto-save") {
		cfg.AutoSave = opts.autoSave
	}
	if flags.Changed("auto-capture") {
		cfg.AutoCapture = opts.autoCapture
	}
	if flags.Changed("capture-on-save") {
		cfg.CaptureOnSave = opts.captureOnSave
	}
	if flags.Changed("save-path") {
		cfg.SavePath = opts.savePath
	}
	if flags.Changed("folder") {
		cfg.FolderID = opts.folder
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.dbPath
	}
	if flags.Changed("window") {
		cfg.Window.Show = opts.window
	}
	if flags.Changed("gray") {
		cfg.Window.Grayscale = opts.gray
	}
	if flags.Changed("width") {
		cfg.Window.Width = opts.width
	}
	if flags.Changed("height") {
		cfg.Window.Height = opts.height
	}
}

func buildQueue(paths []string, shuffle bool) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	queue, err := imagelist.FromArgs(paths)
	if err != nil {
		return nil, err
	}
	if shuffle {
		queue = imagelist.Shuffle(queue, nil)
	}
	return queue, nil
}

// delegate hands the session to a running resident. A resident that
// rejects the request is reported, not replaced.
func delegate(ctx context.Context, client singleinstance.Client, req singleinstance.Request) (bool, error) {
	probe, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	delegated, err := client.TryStart(probe, req)
	if delegated {
		if err != nil {
			return true, fmt.Errorf("resident rejected the session: %w", err)
		}
		log.Printf("Delegated %d images to resident", len(req.Queue))
		return true, nil
	}
	if err != nil {
		log.Printf("Delegation error: %v; starting a resident", err)
	}
	return false, nil
}

func runResident(parent context.Context, cfg *config.Config, queue []string, policy session.Policy) error {
	enableDPIAwareness()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	trayIcon := tray.New(tray.Config{Title: "Croquis Timer", OnExit: cancel})
	var presenter session.Presenter = trayIcon
	var view *viewer.Viewer
	if cfg.Window.Show {
		view = viewer.New(app.NewWithID("io.croquis.timer"), viewer.Options{
			Title:  "Croquis Timer",
			Width:  cfg.Window.Width,
			Height: cfg.Window.Height,
			Gray:   cfg.Window.Grayscale,
		})
		presenter = session.Presenters{trayIcon, view}
	}

	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		Config:    cfg,
		Presenter: presenter,
		Notifier:  notification.Notifier{},
		Window:    overlay.NewWindow(),
	})
	if err != nil {
		notification.ShowBlockingError("Croquis Timer", err.Error())
		return err
	}
	defer rt.Close()

	actions := eventloop.NewActions(rt.Session, clipboard.CopyImage)
	actions.SetPolicy(policy)
	trayIcon.SetControls(actions)
	if view != nil {
		view.SetControls(actions)
	}

	loop := eventloop.New(actions, singleinstance.NewServer(singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd}))

	hook := hotkey.New()
	if err := loop.BindHotkeys(hook, cfg.Hotkeys); err != nil {
		return err
	}
	hook.Listen(rt.Surface.HandleHookEvent)
	if err := hook.Start(ctx); err != nil {
		log.Printf("Hotkeys unavailable: %v", err)
	}
	defer hook.Stop()

	if cfg.EnvPath != "" {
		go func() {
			reload := func(c *config.Config) {
				loop.ConfigChanged(c)
				if view != nil {
					view.SetGray(c.Window.Grayscale)
				}
			}
			if err := config.Watch(ctx, cfg.EnvPath, reload); err != nil {
				log.Printf("Config watch stopped: %v", err)
			}
		}()
	}

	if len(queue) > 0 {
		if err := actions.Start(ctx, queue, policy); err != nil {
			return err
		}
	}

	go trayIcon.Run()
	defer trayIcon.Destroy()

	// Handle SIGINT/SIGTERM
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	if view == nil {
		return ignoreCanceled(loop.Run(ctx))
	}

	// fyne owns the main thread; the loop quits it when the session ends
	errCh := make(chan error, 1)
	go func() {
		errCh <- loop.Run(ctx)
		view.Quit()
	}()
	view.Run()
	cancel()
	return ignoreCanceled(<-errCh)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
