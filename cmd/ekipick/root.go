package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfgFile string

	cfg      config
	logger   = logging.Discard()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "ekipick",
	Short: "Find a place to live near the right station",
	Long: `EkiPick asks a team of agents for station and neighbourhood recommendations
and plays their answers back as they stream in.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfgDir, err := configDir()
		if err != nil {
			return err
		}
		if cfgFile == "" {
			cfgFile = filepath.Join(cfgDir, "config.yaml")
		}

		cfg, err = loadConfig(cfgFile, cfgDir, os.Getenv)
		if err != nil {
			return err
		}

		// The interactive view owns the terminal, so it only logs to the file.
		logger, closeLog = logging.Setup(logging.Options{
			File:  cfg.LogFile,
			Level: logging.ParseLevel(cfg.LogLevel),
			Quiet: cmd.Name() == "chat",
		})

		if cfg.MetricsAddr != "" {
			serveMetrics(cfg.MetricsAddr)
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	dir = filepath.Join(dir, "ekipick")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.String(logging.ErrKey, err.Error()))
		}
	}()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "ekipick", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/ekipick/config.yaml)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(pinsCmd)
	rootCmd.AddCommand(versionCmd)
}
