// Command pulse starts the Pulse realtime pub/sub server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/tenvisio/pulse/internal/config"
	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/server"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides PULSE_LOG_LEVEL)")
	flag.Parse()

	bootstrap := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  config.LogLevelInfo,
		Format: config.LogFormatJSON,
	})

	// automaxprocs automatically sets GOMAXPROCS based on container CPU
	// limits, rounding down; it already ran via its blank import above.
	bootstrap.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting pulse")

	cfg, err := config.Load(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = string(config.LogLevelDebug)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  config.LogLevel(cfg.LogLevel),
		Format: config.LogFormat(cfg.LogFormat),
	})
	cfg.Log(logger)

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
