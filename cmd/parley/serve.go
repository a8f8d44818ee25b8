package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: $PARLEY_BIND_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	logger := rt.Logger
	defer func() {
		if err := rt.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
		_ = logger.Sync()
	}()

	cfg := rt.Config
	if serveAddr != "" {
		cfg.BindAddr = serveAddr
	}
	logger.Info("providers resolved",
		zap.String("transcribe", rt.Providers.Transcribe),
		zap.String("generate", rt.Providers.Generate),
		zap.String("synth", rt.Providers.Synth),
		zap.String("detail", rt.Providers.Detail),
	)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           rt.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	rt.Sessions.StartJanitor(runCtx, 5*time.Second)

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	rt.API.Close(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}
