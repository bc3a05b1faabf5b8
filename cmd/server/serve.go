package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the generation workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"queue", cfg.Queue.Backend,
		"index", cfg.Index.Backend,
		"fanout", cfg.Progress.Fanout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// Run serves HTTP and runs the worker pool until ctx ends or either fails,
// then shuts both down and releases the application's connections.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	// Jobs left active by a previous process are put back on the queue.
	if n, err := app.orchestrator.Reconcile(ctx); err != nil {
		app.logger.Warn("startup reconcile failed", "error", err)
	} else if n > 0 {
		app.logger.Info("re-enqueued jobs at startup", "jobs", n)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.router,
		ReadTimeout:       app.config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.pool.Run(gctx)
	})
	g.Go(func() error {
		app.logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")
		return app.shutdown(server)
	})

	err := g.Wait()
	app.logger.Info("shutdown completed")
	return err
}

// shutdown drains in-flight requests. Progress streams that outlive the
// shutdown timeout are closed forcibly.
func (app *application) shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		app.logger.Warn("shutdown timed out, closing open connections")
		return server.Close()
	}
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
