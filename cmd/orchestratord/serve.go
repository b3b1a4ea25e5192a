package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumforge/aiorch/internal/app"
	"github.com/quorumforge/aiorch/internal/config"
	"github.com/quorumforge/aiorch/internal/httpapi"
)

func newServeCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP translator over the orchestration core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if cfg.Server.Addr == "" {
				cfg.Server.Addr = ":8080"
			}

			bundle, err := app.NewBundle(cfg)
			if err != nil {
				return err
			}
			defer bundle.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			bundle.Run(ctx)

			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      httpapi.New(bundle),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 0, // streaming endpoints (sandbox log SSE) run indefinitely
			}

			bundle.Logger.Info("starting orchestratord", "addr", cfg.Server.Addr)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config/SERVER_ADDR)")
	return cmd
}
