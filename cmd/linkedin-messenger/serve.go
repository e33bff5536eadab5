package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/linkedin-messenger/internal/api"
	"github.com/yourusername/linkedin-messenger/internal/callback"
	"github.com/yourusername/linkedin-messenger/internal/config"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/ratelimit"
	"github.com/yourusername/linkedin-messenger/internal/scheduler"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger.Info("LinkedIn messenger starting", "version", api.Version, "addr", cfg.Addr())
	logger.Warn("Automating LinkedIn violates its Terms of Service; use at your own risk")

	if cfg.Browser.MaxConcurrentRuns > 1 {
		logger.Warn("Concurrent browser runs share one session file; the last run to finish overwrites the others' cookies",
			"max_concurrent_runs", cfg.Browser.MaxConcurrentRuns)
	}
	if !a.store.Exists() {
		logger.Warn("LinkedIn session not configured, run the login command and upload the file to POST /session")
	} else {
		logger.Info("LinkedIn session loaded and ready", "path", a.store.Path())
	}

	if stats, err := a.history.GetStats(); err == nil {
		logger.Info("History statistics",
			"total_attempts", stats["total_attempts"],
			"successful_sends", stats["successful_sends"],
			"sends_today", stats["sends_today"],
		)
	}

	dispatcher := callback.NewDispatcher(cfg.Callback.QueueSize, cfg.GetCallbackTimeout())
	dispatcher.Start(context.WithoutCancel(ctx))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerHour > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst)
		go evictLoop(ctx, limiter)
	}

	var poller *scheduler.Poller
	if cfg.Scheduler.Enabled {
		p, err := scheduler.New(cfg.Scheduler.InboxCron, a.bot, cfg.Scheduler.WebhookURL, cfg.GetCallbackTimeout())
		if err != nil {
			return err
		}
		poller = p
		if a.hours != nil {
			poller.SetWindow(*a.hours)
		}
		poller.Start()
	}

	handler := api.NewHandler(api.Deps{
		Runner:          a.bot,
		Sessions:        a.store,
		History:         a.history,
		Callbacks:       dispatcher,
		Limiter:         limiter,
		RequestsPerHour: cfg.RateLimit.RequestsPerHour,
		LogDir:          cfg.Logging.Dir,
		MaxUploadBytes:  cfg.Session.MaxUploadBytes,
	})

	srv := newHTTPServer(cfg, handler.SetupRoutes())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, cleaning up...")
	case err := <-errCh:
		serveErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if poller != nil {
		poller.Stop()
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("Pending callbacks abandoned", "error", err)
	}

	logger.Info("Shutdown complete")
	return serveErr
}

// newHTTPServer has no write timeout. A synchronous send writes its result
// only after the run, and a run cut off mid-response has still sent the
// message.
func newHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func evictLoop(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Evict(); n > 0 {
				logger.Debug("Evicted idle rate limiters", "count", n)
			}
		}
	}
}
