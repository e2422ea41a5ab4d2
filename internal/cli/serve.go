package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"canopy/internal/config"
	"canopy/internal/cronreplay"
	"canopy/internal/gateway"
	"canopy/internal/storage"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the canopy gateway server",
		Long: `Start the canopy gateway server.

This command starts the WebSocket gateway: it accepts connections on /ws,
routes them to live sessions, and exposes /health for liveness checks.

The server listens on the configured host and port (default: 127.0.0.1:8420).`,
		Example: `  # Start server with default configuration
  canopy serve

  # Start server with custom port
  canopy serve --port 8080

  # Start server with verbose logging
  canopy serve --verbose`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Logger

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "localhost"
	}

	var db *storage.DB
	if cliCtx.StoragePath != "" {
		var err error
		db, err = storage.Open(cliCtx.StoragePath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}

	srv := gateway.NewServer(cfg, db, Version)

	config.Watch(func(fresh *config.Config) {
		log.Info().Msg("config file changed, applied on next reload-eligible session")
	})

	var sweeper *cronreplay.Sweeper
	if db != nil && cfg.Cron.Enabled {
		var err error
		sweeper, err = cronreplay.New(db, cfg.Cron.ReplaySchedule, 0)
		if err != nil {
			return fmt.Errorf("configure reload cache sweep: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("address", fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
		Msg("gateway server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down gateway server")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("gateway server error")
			return err
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		return err
	}

	log.Info().Msg("gateway server stopped")
	return nil
}
