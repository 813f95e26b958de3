package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/core"
	"sdcpp_server/db"
	"sdcpp_server/logging"
	"sdcpp_server/metrics"
	"sdcpp_server/sdruntime"
	"sdcpp_server/server"
	"sdcpp_server/shutdown"
)

// Shutdown priorities. Lower runs first.
const (
	priorityLimiter       = 5
	priorityHTTPServer    = 10
	priorityMetricsServer = 11
	priorityHistoryWriter = 20
	priorityHistoryPrune  = 25
	priorityHistoryDB     = 30
	priorityStaleOutputs  = 40
	priorityLogger        = 50
)

// staleOutputAge keeps outputs of generations that may still be finishing
// after the drain timeout.
const staleOutputAge = time.Minute

// historyPruneInterval is how often old history rows are deleted.
const historyPruneInterval = time.Hour

// app is one fully wired server instance.
type app struct {
	cfg     *core.Config
	logger  *logging.Logger
	manager *shutdown.Manager

	metrics   *metrics.Metrics
	generator *sdruntime.Generator
	api       *server.Server
	history   *db.Database
	recorder  *db.HistoryRecorder

	apiListener     net.Listener
	metricsServer   *http.Server
	metricsListener net.Listener
}

// newApp wires every component and binds the listeners. Nothing is served
// until run is called. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg *core.Config, logger *logging.Logger, manager *shutdown.Manager) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			a.closeEarly()
		}
	}()

	genOpts := []sdruntime.GeneratorOption{sdruntime.WithObserver(a.metrics)}

	if cfg.Bounded() {
		limiter, err := sdruntime.NewLimiter(cfg.MaxConcurrent, cfg.QueueTimeout)
		if err != nil {
			return nil, fmt.Errorf("create limiter: %w", err)
		}
		a.metrics.RegisterLimiter(limiter)
		genOpts = append(genOpts, sdruntime.WithLimiter(limiter))
	}

	if cfg.HistoryEnabled() {
		a.history, err = db.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open history database: %w", err)
		}
		repo := db.NewRepository(a.history)
		if counts, err := repo.CountByStatus(ctx); err == nil {
			for _, c := range counts {
				logger.Info("generation history", zap.String("status", c.Status), zap.Int64("count", c.Count))
			}
		}
		a.recorder = db.NewHistoryRecorder(repo, logger)
		genOpts = append(genOpts, sdruntime.WithObserver(a.recorder))
	}

	a.generator = sdruntime.NewGenerator(sdruntime.Options{
		BinaryPath:         cfg.BinaryPath,
		FixedArgs:          cfg.FixedArgs,
		ModelsDir:          cfg.ModelsDir,
		CacheDir:           cfg.CacheDir,
		Timeout:            cfg.GenerationTimeout,
		CancelOnDisconnect: cfg.CancelOnDisconnect,
	}, logger, genOpts...)

	serverCfg := server.DefaultServerConfig()
	serverCfg.Host = cfg.Host
	serverCfg.Port = cfg.Port
	serverCfg.Token = cfg.Token
	serverCfg.MaxBodyBytes = int64(cfg.MaxBodyBytes)

	a.api = server.NewServer(serverCfg, a.generator, logger,
		server.WithOperationGuard(manager),
		server.WithRequestRecorder(a.metrics),
	)

	a.apiListener, err = net.Listen("tcp", a.api.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.api.Addr(), err)
	}

	if cfg.MetricsEnabled() {
		a.metricsListener, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", a.metrics.Handler())
		a.metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(logger.Zap()),
		}
	}

	a.registerShutdown()
	return a, nil
}

func (a *app) registerShutdown() {
	m := a.manager

	m.Register("generation-limiter", priorityLimiter, func(context.Context) error {
		return a.generator.Close()
	})
	m.Register("http-server", priorityHTTPServer, a.api.Shutdown)

	if a.metricsServer != nil {
		m.Register("metrics-server", priorityMetricsServer, a.metricsServer.Shutdown)
	}

	if a.history != nil {
		m.Register("history-writer", priorityHistoryWriter, func(ctx context.Context) error {
			if !a.recorder.Close(ctx) {
				return errors.New("history writer did not drain before the deadline")
			}
			return nil
		})
		m.Register("history-db", priorityHistoryDB, func(context.Context) error {
			return a.history.Close()
		})
	}

	m.Register("stale-outputs", priorityStaleOutputs,
		shutdown.CleanupStaleOutputs(a.logger, a.cfg.CacheDir, staleOutputAge))

	m.Register("logger", priorityLogger, func(context.Context) error {
		// stdout cannot be synced on most platforms
		_ = a.logger.Sync()
		return nil
	})
}

// run serves until the manager's context is cancelled or a listener fails,
// then performs the full shutdown sequence.
func (a *app) run() error {
	ctx := a.manager.Context()
	serveErr := make(chan error, 2)

	go func() { serveErr <- a.api.Serve(a.apiListener) }()

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("metrics listening", zap.String("addr", a.metricsListener.Addr().String()))
			if err := a.metricsServer.Serve(a.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics server error: %w", err)
				return
			}
			serveErr <- nil
		}()
	}

	if a.history != nil {
		pruned := a.history.StartCleanupScheduler(ctx, db.CleanupSchedulerConfig{
			RetentionDays: a.cfg.HistoryRetentionDays,
			Interval:      historyPruneInterval,
			OnCleanup: func(result db.CleanupResult, err error) {
				if err != nil {
					a.logger.Warn("history cleanup failed", zap.Error(err))
					return
				}
				if result.Deleted > 0 {
					a.logger.Info("history cleanup complete",
						zap.Int64("deleted", result.Deleted),
						zap.Duration("duration", result.Duration),
					)
				}
			},
		})
		a.manager.Register("history-prune", priorityHistoryPrune, func(ctx context.Context) error {
			select {
			case <-pruned:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("listener failed", zap.Error(err))
			runErr = err
		}
		a.manager.Trigger()
	}

	return errors.Join(runErr, a.manager.Shutdown())
}

// APIAddr returns the bound API address.
func (a *app) APIAddr() string {
	return a.apiListener.Addr().String()
}

// closeEarly releases what newApp opened when wiring fails.
func (a *app) closeEarly() {
	if a.apiListener != nil {
		_ = a.apiListener.Close()
	}
	if a.metricsListener != nil {
		_ = a.metricsListener.Close()
	}
	if a.recorder != nil {
		a.recorder.Close(context.Background())
	}
	if a.history != nil {
		_ = a.history.Close()
	}
}

// logStartup records the effective configuration without secrets.
func logStartup(logger *logging.Logger, cfg *core.Config) {
	logger.Info("configuration loaded",
		zap.String("version", core.VersionInfo()),
		zap.String("listen", cfg.ListenAddr()),
		zap.String("binary", cfg.BinaryPath),
		zap.Strings("fixed_args", cfg.FixedArgs),
		zap.String("models_dir", cfg.ModelsDir),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.Duration("queue_timeout", cfg.QueueTimeout),
		zap.Duration("generation_timeout", cfg.GenerationTimeout),
		zap.Bool("cancel_on_disconnect", cfg.CancelOnDisconnect),
		zap.Bool("history", cfg.HistoryEnabled()),
		zap.Bool("metrics", cfg.MetricsEnabled()),
		zap.Bool("dev_mode", cfg.DevMode),
	)
}
