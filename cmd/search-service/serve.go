package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobmate/search-service/internal/grpcserver"
	"jobmate/search-service/internal/httpapi"
	"jobmate/search-service/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	Long:  "Start the search API and the cache maintenance job; blocks until SIGINT/SIGTERM.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger := bootstrap()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ────────────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── Pipeline ─────────────────────────────────────────────────────────────
	svc, cleanup := buildService(ctx, cfg, st, logger)
	defer cleanup()

	// ── Maintenance ──────────────────────────────────────────────────────────
	if cfg.Maintenance.Enabled {
		sched := scheduler.New(st, cfg.Maintenance, logger)
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	errCh := make(chan error, 2)

	// ── HTTP server ──────────────────────────────────────────────────────────
	h := httpapi.NewHandler(svc, st, version, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("http listening", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	gs := grpcserver.New(svc, logger)
	if cfg.Server.GRPCPort != "" {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Server.GRPCPort))
		if err != nil {
			logger.Error("grpc listen", "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc listening", "addr", lis.Addr().String())
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		gs.Stop()
	}

	logger.Info("stopped")
	return nil
}
