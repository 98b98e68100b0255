package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"croquis-timer/src/session"
)

// EnvPathVar names a config file used when no .env sits beside the executable.
const EnvPathVar = "CROQUIS_ENV"

type LoadOptions struct {
	EnvPathOverride string
}

// Hotkeys are global key combinations such as "Ctrl+Alt+N".
type Hotkeys struct {
	Next  string `env:"HOTKEY_NEXT" envDefault:"Ctrl+Alt+Right"`
	Prev  string `env:"HOTKEY_PREV" envDefault:"Ctrl+Alt+Left"`
	Save  string `env:"HOTKEY_SAVE" envDefault:"Ctrl+Alt+S"`
	Pause string `env:"HOTKEY_PAUSE" envDefault:"Ctrl+Alt+Space"`
	Copy  string `env:"HOTKEY_COPY" envDefault:"Ctrl+Alt+C"`
}

// Window configures the reference image window.
type Window struct {
	Show      bool `env:"SHOW_WINDOW" envDefault:"true"`
	Grayscale bool `env:"GRAYSCALE" envDefault:"false"`
	Width     int  `env:"WINDOW_WIDTH" envDefault:"800"`
	Height    int  `env:"WINDOW_HEIGHT" envDefault:"600"`
}

type Config struct {
	AutoSkip          bool   `env:"AUTO_SKIP" envDefault:"true"`
	AutoSave          bool   `env:"AUTO_SAVE" envDefault:"true"`
	AutoCapture       bool   `env:"AUTO_CAPTURE" envDefault:"false"`
	CaptureOnSave     bool   `env:"CAPTURE_ON_SAVE" envDefault:"true"`
	MaxTimeSec        int    `env:"MAX_TIME_SEC" envDefault:"60"`
	SavePath          string `env:"SAVE_PATH"`
	FolderID          int64  `env:"FOLDER_ID" envDefault:"1"`
	Shuffle           bool   `env:"SHUFFLE" envDefault:"false"`
	DBPath            string `env:"DB_PATH"`
	EnableFileLogging bool   `env:"ENABLE_FILE_LOGGING" envDefault:"false"`
	TickIntervalMs    int    `env:"TICK_INTERVAL_MS" envDefault:"50"`
	SettleDelayMs     int    `env:"SETTLE_DELAY_MS" envDefault:"300"`
	PortStart         int    `env:"SINGLEINSTANCE_PORT_START" envDefault:"49500"`
	PortEnd           int    `env:"SINGLEINSTANCE_PORT_END" envDefault:"49550"`
	Hotkeys           Hotkeys
	Window            Window

	// EnvPath is the file the values were read from, empty when none was found.
	EnvPath string `env:"-"`
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) process environment
	// 2) .env in the executable directory, or the file named by CROQUIS_ENV
	envPath := strings.TrimSpace(opts.EnvPathOverride)
	if envPath == "" {
		envPath = resolveEnvPath()
	}
	return loadFile(envPath)
}

func loadFile(envPath string) (*Config, error) {
	environ := env.ToMap(os.Environ())
	if envPath != "" {
		values, err := godotenv.Read(envPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envPath, err)
		}
		for k, v := range values {
			if _, set := environ[k]; !set {
				environ[k] = v
			}
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.EnvPath = envPath
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveEnvPath() string {
	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.SavePath) == "" {
		c.SavePath = filepath.Join(userDir(os.UserHomeDir), "Pictures", "croquis")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join(userDir(os.UserConfigDir), "croquis-timer", "croquis.db")
	}
}

func userDir(lookup func() (string, error)) string {
	if dir, err := lookup(); err == nil && dir != "" {
		return dir
	}
	return "."
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	if c.MaxTimeSec <= 0 {
		return fmt.Errorf("MAX_TIME_SEC must be positive, got %d", c.MaxTimeSec)
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive, got %d", c.TickIntervalMs)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.SettleDelayMs < 0 {
		return fmt.Errorf("SETTLE_DELAY_MS must not be negative, got %d", c.SettleDelayMs)
	}
	if c.PortStart <= 0 || c.PortEnd < c.PortStart || c.PortEnd > 65535 {
		return fmt.Errorf("invalid single-instance port range %d-%d", c.PortStart, c.PortEnd)
	}
	return nil
}

// Policy returns the session policy described by the config.
func (c *Config) Policy() session.Policy {
	return session.Policy{
		AutoSkip:      c.AutoSkip,
		AutoSave:      c.AutoSave,
		AutoCapture:   c.AutoCapture,
		CaptureOnSave: c.CaptureOnSave,
		MaxTime:       time.Duration(c.MaxTimeSec) * time.Second,
		SavePath:      c.SavePath,
		FolderID:      c.FolderID,
	}
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}
