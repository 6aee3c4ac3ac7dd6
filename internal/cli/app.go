package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/config"
	"github.com/Rishiwins/attendance-tracker/internal/storage/memory"
	"github.com/Rishiwins/attendance-tracker/internal/storage/sqlite"
)

// NewLogger builds the process logger from the log section. verbose forces debug.
func NewLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// openStore opens the configured attendance store. The returned func releases it.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (attendance.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("storage: using in-memory store, records are lost on exit")
		return memory.New(), func() {}, nil
	case "sqlite", "":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		logger.Info("storage: sqlite database ready", "path", cfg.Path)
		return sqlite.NewStore(db), func() {
			if err := db.Close(); err != nil {
				logger.Error("storage: error closing database", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

func newEngine(cfg config.Config, store attendance.Store, logger *slog.Logger) (*attendance.Engine, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return attendance.New(store, attendance.Options{
		Policy:   policy,
		Location: loc,
		Logger:   logger,
	})
}

// session is the store and engine shared by the one-shot commands
type session struct {
	cfg    config.Config
	engine *attendance.Engine
	close  func()
}

func openSession(opts *RootOptions, errOut io.Writer) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	// One-shot commands log warnings only unless -v is given.
	logCfg := cfg.Log
	if !opts.Verbose {
		logCfg.Level = "warn"
	}
	logger := NewLogger(logCfg, opts.Verbose, errOut)

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open store", err)
	}
	engine, err := newEngine(cfg, store, logger)
	if err != nil {
		closeStore()
		return nil, WrapExitError(ExitCommandError, "invalid attendance settings", err)
	}
	return &session{cfg: cfg, engine: engine, close: closeStore}, nil
}
