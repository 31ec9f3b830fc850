// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics server and the expired token purger",
		Long: `Run until interrupted: expose Prometheus metrics and health probes,
and periodically clear expired tokens from the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs serve until ctx ends, a signal arrives or the
// observability server fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	handle, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer handle.close()

	var (
		obsServer ObservabilityServer
		recorder  identity.Recorder
	)
	if cfg.Serve.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Serve.MetricsAddr, handle.ping)
		recorder = obsServer.Metrics()
	}

	svc, err := newService(cfg, handle.Store, recorder)
	if err != nil {
		return err
	}

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVER_START_FAILED").With("server", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		purgeLoop(gctx, svc, cfg.Serve.PurgeInterval)
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel(nil)
		case <-gctx.Done():
		}
		return nil
	})

	cmd.Println("Identity service started")
	slog.Info("identity service ready",
		"store", cfg.Store,
		"metrics_addr", cfg.Serve.MetricsAddr,
		"purge_interval", cfg.Serve.PurgeInterval,
	)

	err = g.Wait()
	if cause := context.Cause(ctx); err == nil && cause != nil &&
		!errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		err = cause
	}

	slog.Info("shutting down...")
	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			slog.Warn("error stopping observability server", "error", stopErr)
		}
	}
	slog.Info("shutdown complete")
	return err
}

// purgeLoop clears expired tokens immediately and then every interval until
// ctx ends. A zero interval disables purging. Failures are logged and the
// next tick retries.
func purgeLoop(ctx context.Context, svc *identity.Service, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := svc.PurgeExpiredTokens(ctx); err != nil && ctx.Err() == nil {
			errutil.LogErrorContext(ctx, slog.Default(), "expired token purge failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// monitorServerErrors monitors a server's error channel and cancels the
// context with the failure as its cause. It exits when an error is received,
// the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel(oops.Code("SERVER_FAILED").With("server", serverName).Wrap(err))
		}
	case <-ctx.Done():
	}
}
