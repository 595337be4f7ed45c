package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/edge-proxy/config"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

var serveFlags struct {
	logLevel string
	noWatch  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy",
	Long: `Start the proxy listeners, active health checks and the cache sweeper.

The configuration file is watched and valid changes are applied without a
restart: routes, backends, cache limits, health thresholds and certificates.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.noWatch, "no-watch", false, "do not reload the configuration on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile, slog.Default())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serveFlags.logLevel != "" {
		cfg.Logging.Level = serveFlags.logLevel
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize proxy", slog.Any("err", err))
		return err
	}

	var watch func(func(*config.Config))
	if !serveFlags.noWatch && loader.File() != "" {
		watch = loader.Watch
	}

	log.Info("Starting edge proxy",
		slog.String("version", Version),
		slog.String("address", cfg.Server.Address),
		slog.String("tls_address", cfg.Server.TLSAddress),
		slog.Int("backends", len(cfg.Backends)),
		slog.Int("routes", len(cfg.Routes)))

	if err := a.run(ctx, watch); err != nil {
		log.Error("Proxy stopped with error", slog.Any("err", err))
		return err
	}

	log.Info("Shut down gracefully")
	return nil
}
