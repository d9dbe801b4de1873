package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/budgetbell/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket feed and (optionally) the in-process scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	if a.cfg.Cron.Enabled {
		c, err := scheduler.NewCron(a.srv.Runner(), scheduler.Schedules{
			Drain:     a.cfg.Cron.Drain,
			Recurring: a.cfg.Cron.Recurring,
			Digest:    a.cfg.Cron.Digest,
		}, a.logger)
		if err != nil {
			return err
		}
		c.Start(ctx)
		defer c.Stop()
	}

	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      a.srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("budgetbell listening", "addr", httpServer.Addr, "cron", a.cfg.Cron.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
