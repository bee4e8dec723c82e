package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"panwatch/internal/api"
	"panwatch/internal/config"
)

const envParentWatch = "PANWATCH_PARENT_WATCH"

var notifyShutdown = func(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
}

func newServeCmd() *cobra.Command {
	var port int
	var host string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), host, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8000, "Port to run the server on")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host to bind the server to")
	return cmd
}

func serve(ctx context.Context, host string, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	config.SetRuntimePort(port)
	a, err := newApp(ctx, configPath, dataDir)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if os.Getenv(envParentWatch) == "1" {
		go watchParent(logger)
	}

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	handler := api.NewRouter(api.Deps{Core: a.core, Engine: a.engine, Metrics: a.metrics, Logger: logger})
	handler = middleware.Compress(5)(handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual triggers wait for the AI call.
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server starting", "addr", addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	notifyShutdown(stop)
	defer signal.Stop(stop)

	var runErr error
	select {
	case <-stop:
	case runErr = <-serverErr:
		logger.Error("server error", "err", runErr)
	}

	logger.Info("server shutting down")
	// No new agent runs fire while HTTP requests drain.
	a.engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.settings.DrainTimeout()+5*time.Second)
	defer cancelDrain()
	if err := a.engine.Shutdown(drainCtx); err != nil {
		logger.Error("scheduler shutdown error", "err", err)
	}
	return runErr
}
