package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"croquis-timer/src/clipboard"
	"croquis-timer/src/config"
	"croquis-timer/src/eventloop"
	"croquis-timer/src/hotkey"
	"croquis-timer/src/imagelist"
	"croquis-timer/src/logutil"
	"croquis-timer/src/notification"
	"croquis-timer/src/overlay"
	"croquis-timer/src/runtimeinit"
	"croquis-timer/src/store"
	"croquis-timer/src/tui"
)

type cliOptions struct {
	envPath string
	dbPath  string
	verbose bool
}

type runOptions struct {
	shuffle       bool
	maxTimeSec    int
	autoSkip      bool
	autoSave      bool
	autoCapture   bool
	captureOnSave bool
	savePath      string
	folder        int64
}

func main() {
	if err := runWithArgs(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"croquis-cli"}
	}
	cmd := newRootCmd(&cliOptions{})
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "croquis-cli",
		Short:         "Croquis sessions and history from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envPath, "env", "", "Path to the .env config file")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "History database path")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")

	cmd.AddCommand(newRunCmd(opts), newHistoryCmd(opts), newFoldersCmd(opts))
	return cmd
}

// loadConfig loads the config and configures logging BEFORE any other operations.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{EnvPathOverride: opts.envPath})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.verbose {
		log.SetOutput(os.Stderr)
		fmt.Fprintf(os.Stderr, "[verbose] Config loaded from %q, database %s\n", cfg.EnvPath, cfg.DBPath)
	} else {
		logutil.Setup(cfg.EnableFileLogging, filepath.Dir(cfg.DBPath))
	}
	return cfg, nil
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <images or folders>...",
		Short: "Run a session in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("shuffle") {
				cfg.Shuffle = ro.shuffle
			}
			if f.Changed("max-time") {
				cfg.MaxTimeSec = ro.maxTimeSec
			}
			if f.Changed("auto-skip") {
				cfg.AutoSkip = ro.autoSkip
			}
			if f.Changed("auto-save") {
				cfg.AutoSave = ro.autoSave
			}
			if f.Changed("auto-capture") {
				cfg.AutoCapture = ro.autoCapture
			}
			if f.Changed("capture-on-save") {
				cfg.CaptureOnSave = ro.captureOnSave
			}
			if f.Changed("save-path") {
				cfg.SavePath = ro.savePath
			}
			if f.Changed("folder") {
				cfg.FolderID = ro.folder
			}
			return runSession(cmd.Context(), cfg, args)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&ro.shuffle, "shuffle", false, "Shuffle the queue once at start")
	f.IntVar(&ro.maxTimeSec, "max-time", 0, "Seconds per image")
	f.BoolVar(&ro.autoSkip, "auto-skip", false, "Move on when time is up")
	f.BoolVar(&ro.autoSave, "auto-save", false, "Save history before an automatic skip")
	f.BoolVar(&ro.autoCapture, "auto-capture", false, "Capture the drawing on automatic saves")
	f.BoolVar(&ro.captureOnSave, "capture-on-save", false, "Capture the drawing on manual saves")
	f.StringVar(&ro.savePath, "save-path", "", "Folder for captured drawings")
	f.Int64Var(&ro.folder, "folder", 0, "History folder id")
	return cmd
}

func runSession(ctx context.Context, cfg *config.Config, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	queue, err := imagelist.FromArgs(paths)
	if err != nil {
		return err
	}
	if cfg.Shuffle {
		queue = imagelist.Shuffle(queue, nil)
	}
	policy := cfg.Policy()
	if err := policy.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the terminal shows notices itself
	notification.Mute(true)
	presenter := tui.NewPresenter()
	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		Config:    cfg,
		Presenter: presenter,
		Notifier:  presenter,
		Window:    overlay.NewWindow(),
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// the selection surface is driven by the global mouse hook
	if policy.AutoCapture || policy.CaptureOnSave {
		hook := hotkey.New()
		hook.Listen(rt.Surface.HandleHookEvent)
		if err := hook.Start(ctx); err != nil {
			log.Printf("Capture input unavailable: %v", err)
		}
		defer hook.Stop()
	}

	actions := eventloop.NewActions(rt.Session, clipboard.CopyImage)
	model := tui.New(actions, func(ctx context.Context) error {
		return actions.Start(ctx, queue, policy)
	})
	prog := tea.NewProgram(model, tea.WithContext(ctx))
	presenter.Attach(prog)
	_, err = prog.Run()
	return err
}

func openStore(ctx context.Context, opts *cliOptions) (*store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.DBPath)
}

type historyJSON struct {
	ID        int64   `json:"id"`
	Date      string  `json:"date"`
	File      string  `json:"file"`
	MaxTime   int     `json:"max_time_seconds"`
	RealTime  float64 `json:"real_time_seconds"`
	FolderID  int64   `json:"folder_id"`
	ImagePath string  `json:"image_path,omitempty"`
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var (
		folder     int64
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List practice history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.ListHistory(ctx, folder)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), records, jsonOutput)
		},
	}
	cmd.Flags().Int64Var(&folder, "folder", 0, "Only this folder id (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

func writeHistory(w io.Writer, records []store.HistoryRecord, jsonOutput bool) error {
	if jsonOutput {
		out := make([]historyJSON, 0, len(records))
		for _, r := range records {
			out = append(out, historyJSON{
				ID:        r.ID,
				Date:      r.Date.UTC().Format(time.RFC3339),
				File:      r.FilePath,
				MaxTime:   r.MaxTime,
				RealTime:  r.RealTime,
				FolderID:  r.FolderID,
				ImagePath: r.ImagePath,
			})
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFILE\tTIME\tDRAWING")
	for _, r := range records {
		took := time.Duration(r.RealTime * float64(time.Second))
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Date.Local().Format("2006-01-02 15:04"),
			r.FileName, took.Round(time.Second), r.ImagePath)
	}
	return tw.Flush()
}

func newFoldersCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List history folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			folders, err := st.ListFolders(ctx)
			if err != nil {
				return err
			}
			for _, f := range folders {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", f.ID, f.Name)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Create a history folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := st.CreateFolder(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, args[0])
			return nil
		},
	})
	return cmd
}
