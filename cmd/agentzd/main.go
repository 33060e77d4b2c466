package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentzhq/controlplane/internal/api"
	"github.com/agentzhq/controlplane/internal/config"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Error(ctx, "agentzd: loading configuration failed", "error", err.Error())
		os.Exit(1)
	}

	svc, err := services.New(cfg)
	if err != nil {
		logging.Error(ctx, "agentzd: wiring services failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logging.Error(context.Background(), "agentzd: shutdown cleanup failed", "error", err.Error())
		}
	}()

	svc.StartRetentionSweep(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn(context.Background(), "agentzd: graceful shutdown failed", "error", err.Error())
		}
	}()

	logging.Info(ctx, "agentzd: listening", "addr", cfg.HTTPAddr, "repo_root", cfg.RepoRoot)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error(context.Background(), "agentzd: serving failed", "error", err.Error())
		os.Exit(1)
	}
}
