package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/archivum/docflow/pkg/access"
)

func newServeCmd(c *cli) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			serve(ctx, c, skipMigrate)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not migrate the schema on startup")
	return cmd
}

func serve(ctx context.Context, c *cli, skipMigrate bool) {
	a, logger, err := c.open(ctx)
	if err != nil {
		glog.Fatalf("Failed to start: %v", err)
	}
	defer a.close()

	if !skipMigrate {
		if err := a.migrate(ctx); err != nil {
			glog.Fatalf("Failed to migrate database: %v", err)
		}
	}

	router, err := a.server().Routes()
	if err != nil {
		glog.Fatalf("Failed to build routes: %v", err)
	}

	if seed := a.cfg.Access.SeedFile; seed != "" && !a.cfg.Access.WatchSeed {
		if _, err := syncSeed(ctx, a, seed); err != nil {
			glog.Fatalf("Failed to sync policy seed file: %v", err)
		}
	}

	background, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if seed := a.cfg.Access.SeedFile; seed != "" && a.cfg.Access.WatchSeed {
		watcher := access.NewSeedWatcher(a.policies, seed, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(background); err != nil {
				logger.Error("policy seed watcher stopped", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(background)
	}()

	httpServer := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("docflow ready", "listen", a.cfg.Listen, "routines", a.scheduler.Routines())

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	wg.Wait()
	logger.Info("docflow stopped")
}
