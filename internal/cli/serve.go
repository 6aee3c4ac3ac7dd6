package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/classifier"
	"github.com/Rishiwins/attendance-tracker/internal/config"
	"github.com/Rishiwins/attendance-tracker/internal/control"
	"github.com/Rishiwins/attendance-tracker/internal/dispatch"
	"github.com/Rishiwins/attendance-tracker/internal/emitter"
	"github.com/Rishiwins/attendance-tracker/internal/registry"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// ServeOptions holds flags for the serve command
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run capture loops, attendance engine and the control API",
		Long: `Start every active configured source, identify people on sampled frames
and derive attendance until SIGINT or SIGTERM.

Example:
  attendd serve --config attendd.yaml
  ATTENDD_STORAGE_DRIVER=memory attendd serve --addr :9090 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides http.addr)")
	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	logger := NewLogger(cfg.Log, opts.Verbose, os.Stdout).With("site_id", cfg.SiteID)
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("serve: starting attendd", "sources", len(cfg.Sources), "http_addr", cfg.HTTP.Addr)

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open store", err)
	}
	defer closeStore()

	engine, err := newEngine(cfg, store, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid attendance settings", err)
	}

	disp := dispatch.New(logger)
	defer disp.Close()
	if err := disp.Register(engine); err != nil {
		return err
	}

	em, err := startEmitter(ctx, cfg.MQTT, disp, engine, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure mqtt", err)
	}
	if em != nil {
		defer em.Disconnect()
	}

	cls, worker, err := startClassifier(cfg, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start classifier", err)
	}
	if worker != nil {
		defer func() { _ = worker.Stop() }()
	}

	opener := newOpener(cfg.Capture, logger)
	reg := registry.New(func(sourceID, address string) (registry.Loop, error) {
		loop, err := capture.NewLoop(cfg.LoopConfig(sourceID, address), opener, cls, disp, logger)
		if err != nil {
			return nil, err
		}
		return loop, nil
	}, logger)
	defer reg.StopAll()

	if err := reg.StartAll(ctx, cfg.Sources); err != nil {
		// Failed sources can be re-added through the API once reachable.
		logger.Warn("serve: some sources failed to start", "error", err)
	}

	if em != nil && cfg.MQTT.Commands {
		commands := em.NewCommandHandler(emitter.Callbacks{
			OnGetStatus:     func() map[string]any { return statusSnapshot(reg, disp, worker, em) },
			OnAddSource:     reg.Add,
			OnRemoveSource:  reg.Remove,
			OnRestartSource: reg.Restart,
			OnSummarize: func(ctx context.Context, date string) (attendance.Summary, error) {
				return summarizeDate(ctx, engine, date)
			},
			OnShutdown: stop,
		})
		if err := commands.Start(ctx); err != nil {
			logger.Warn("serve: mqtt commands unavailable", "error", err)
		} else {
			defer commands.Stop()
		}
	}

	router := control.NewRouter(control.Options{
		Sources: reg,
		Engine:  engine,
		Probes:  probes(engine, worker, em),
		Stats:   func() map[string]any { return statusSnapshot(reg, disp, worker, em) },
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serve: control api listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("serve: shutting down gracefully", "timeout", cfg.HTTP.ShutdownTimeout)
		return srv.Shutdown(shutdownCtx)
	})
	if em != nil && cfg.MQTT.SummaryInterval > 0 {
		g.Go(func() error {
			publishSummaries(gctx, engine, em, cfg.MQTT.SummaryInterval, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve failed", err)
	}
	logger.Info("serve: attendd stopped")
	return nil
}

// startEmitter connects the MQTT emitter when enabled and subscribes it to
// detections and attendance updates. A broker that is down at startup is not
// fatal: paho keeps retrying in the background.
func startEmitter(ctx context.Context, cfg config.MQTTConfig, disp *dispatch.Dispatcher, engine *attendance.Engine, logger *slog.Logger) (*emitter.Emitter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	em, err := emitter.New(cfg.Config, logger)
	if err != nil {
		return nil, err
	}
	if err := em.Connect(ctx); err != nil {
		logger.Warn("serve: mqtt broker unavailable, retrying in background", "error", err)
	}
	if err := disp.Register(em); err != nil {
		return nil, err
	}
	engine.Observe(em.OnUpdate)
	return em, nil
}

// startClassifier spawns the identification worker. Without a configured
// command frames are captured but never identified.
func startClassifier(cfg config.Config, logger *slog.Logger) (types.Classifier, *classifier.Worker, error) {
	wc, ok := cfg.ClassifierWorker()
	if !ok {
		logger.Warn("serve: no classifier command configured, identification disabled")
		return noIdentification, nil, nil
	}
	w, err := classifier.New(wc, logger)
	if err != nil {
		return nil, nil, err
	}
	// The worker outlives the signal context; Stop governs its shutdown.
	if err := w.Start(context.Background()); err != nil {
		return nil, nil, err
	}
	return w, w, nil
}

func probes(engine *attendance.Engine, worker *classifier.Worker, em *emitter.Emitter) []control.Probe {
	out := []control.Probe{{
		Name:     "store",
		Critical: true,
		Check: func(ctx context.Context) error {
			_, err := engine.Persons(ctx, true)
			return err
		},
	}}
	if worker != nil {
		out = append(out, control.Probe{
			Name: "classifier",
			Check: func(context.Context) error {
				if !worker.Metrics().Running {
					return errors.New("worker not running")
				}
				return nil
			},
		})
	}
	if em != nil {
		out = append(out, control.Probe{
			Name: "mqtt",
			Check: func(context.Context) error {
				if !em.Stats().Connected {
					return errors.New("broker disconnected")
				}
				return nil
			},
		})
	}
	return out
}

func statusSnapshot(reg *registry.Registry, disp *dispatch.Dispatcher, worker *classifier.Worker, em *emitter.Emitter) map[string]any {
	status := map[string]any{
		"sources_active": reg.Active(),
		"dispatch":       disp.Stats(),
	}
	if worker != nil {
		status["classifier"] = worker.Metrics()
	}
	if em != nil {
		status["mqtt"] = em.Stats()
	}
	return status
}

// summarizeDate resolves "", "today" or YYYY-MM-DD and summarizes that day
func summarizeDate(ctx context.Context, engine *attendance.Engine, date string) (attendance.Summary, error) {
	d := engine.Today()
	if date != "" && date != "today" {
		var err error
		if d, err = attendance.ParseDate(date); err != nil {
			return attendance.Summary{}, err
		}
	}
	return engine.Summarize(ctx, d, nil)
}

// publishSummaries republishes today's summary every interval until ctx is done
func publishSummaries(ctx context.Context, engine *attendance.Engine, em *emitter.Emitter, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := engine.Summarize(ctx, engine.Today(), nil)
			if err != nil {
				logger.Warn("serve: failed to build summary", "error", err)
				continue
			}
			if err := em.PublishSummary(s); err != nil {
				logger.Warn("serve: failed to publish summary", "error", err)
			}
		}
	}
}
