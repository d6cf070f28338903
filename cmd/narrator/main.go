// Command narrator is a development backend for the EkiPick client. It serves the streaming chat
// endpoint from a script or a language model.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/Tonoyama/EkiPick/internal/handlers"
	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}

	cfgFilePath := flag.String("config", filepath.Join(cfgDir, "ekipick", "narrator.yaml"), "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgFilePath)
	if err != nil {
		return err
	}

	logger, closeLog := logging.Setup(logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
	})
	defer closeLog()

	narrator, err := cfg.LLM.narrator(logger)
	if err != nil {
		return fmt.Errorf("error creating narrator: %w", err)
	}

	m := handlers.NewMain(narrator, services.NewMemorySessions(), services.NewMemoryPins(), logger)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: m.Router(handlers.RouterOptions{
			RateLimit:      cfg.RateLimit.Requests,
			RateWindow:     cfg.RateLimit.Window,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown streams", slog.String(logging.ErrKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("config", *cfgFilePath))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(logging.ErrKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(logging.ErrKey, err.Error()))
			}
		}
	}

	return nil
}
