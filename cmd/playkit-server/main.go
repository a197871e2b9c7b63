package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var flags Flags
	flag.StringVar(&flags.ConfigFile, "config", "", "path to a JSON or YAML config file")
	flag.StringVar(&flags.Profile, "profile", "", "built-in profile: development, testing, staging or production")
	flag.Parse()

	ctx := context.Background()
	app, cleanup, err := BuildApp(ctx, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	cfg := app.Config
	logger := app.Logger

	logger.Info("starting playkit server",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"formula", cfg.Progression.Formula)
	logger.Debug("effective configuration", "config", cfg.String())

	srv := app.Server

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("failed to start server", "error", err)
		code = 1
	}

	logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
		code = 1
	}
	cancel()

	// flush every mounted kit before the backend closes
	cleanup()

	slog.Info("server stopped")
	os.Exit(code)
}
