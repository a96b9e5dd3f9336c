package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/app"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/web/server"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Quarry API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if cfg.Auth.Secret == "" {
			return fmt.Errorf("auth.secret is required (set it in quarry.yml or QUARRY_AUTH_SECRET)")
		}

		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := app.New(ctx, cfg, logger, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		go a.Hub.Run(ctx)

		srvConfig := server.DefaultConfig(a.Handler())
		srvConfig.Address = cfg.Server.Address()
		srv, err := server.New(srvConfig)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		color.Green("Quarry listening on %s (store: %s)", cfg.Server.Address(), cfg.Store.Driver)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-stop:
		}

		color.Yellow("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}
