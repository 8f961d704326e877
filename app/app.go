// Package app wires configuration, logging and the engine into a process
// that serves until it receives SIGINT or SIGTERM.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/searchktools/coroserve/config"
	"github.com/searchktools/coroserve/core"
	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/observability"
	"github.com/searchktools/coroserve/core/stream"
)

// SweepInterval is how often expired sessions are dropped.
const SweepInterval = time.Minute

// App is the application instance
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *core.Engine
	monitor  *observability.PerformanceMonitor
	sessions *middleware.MemoryStore
}

// NewLogger builds a text logger for development and a JSON logger for
// production, writing to w.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New creates an application whose engine already carries request IDs,
// access logging, recovery and route metrics.
func New(cfg *config.Config) *App {
	return NewWithLogger(cfg, NewLogger(cfg, os.Stderr))
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(cfg *config.Config, logger *slog.Logger) *App {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		engine:   core.NewEngine(cfg.ServerOptions(logger)),
		monitor:  observability.NewPerformanceMonitor(),
		sessions: middleware.NewMemoryStore(middleware.DefaultSessionTTL, nil),
	}
	a.engine.Use(
		middleware.RequestID(middleware.UUIDGenerator()),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.Metrics(a.monitor),
	)
	return a
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Monitor returns the route metrics collected by the engine.
func (a *App) Monitor() *observability.PerformanceMonitor {
	return a.monitor
}

// Sessions returns the session store swept while the app runs; pass it to
// middleware.Sessions.
func (a *App) Sessions() *middleware.MemoryStore {
	return a.sessions
}

// Run listens on the configured address and serves until ctx is done, a
// termination signal arrives or Shutdown is called.
func (a *App) Run(ctx context.Context) error {
	host, err := stream.Listen(a.cfg.Addr(), a.cfg.BufferSize)
	if err != nil {
		return err
	}
	return a.Serve(ctx, host)
}

// Serve is Run on an existing host.
func (a *App) Serve(ctx context.Context, host stream.Host) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	a.logger.Info("starting", "addr", host.Addr().String(), "env", a.cfg.Env)

	g.Go(func() error {
		// the background loops end with the server
		defer cancel()
		err := a.engine.Serve(runCtx, host)
		if errors.Is(err, core.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return ignoreCanceled(a.monitor.Run(runCtx, observability.DefaultAnalyzeInterval))
	})
	g.Go(func() error {
		return ignoreCanceled(a.sessions.Run(runCtx, SweepInterval))
	})

	err := g.Wait()
	a.logger.Info("stopped", "requests", a.engine.Stats().Requests, "error", err)
	return err
}

// Shutdown stops a running Serve.
func (a *App) Shutdown() {
	a.engine.Shutdown()
}

func ignoreCanceled(err error) error {
	if err == nil || coro.IsCanceled(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
