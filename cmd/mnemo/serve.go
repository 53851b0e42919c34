package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/app"
)

func NewServeCommand() *cobra.Command {
	f := NewConfigFlags()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, metrics and the MCP streamable HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.Load(cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := app.Build(ctx, cfg)
			if err != nil {
				return errors.WithMessage(err, "could not build memory service")
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					log.WithError(err).Warn("cleanup failed")
				}
			}()

			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: built.API.Router(),
			}

			serveErr := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.BindAddr).Info("server listening")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return errors.Wrap(err, "listen error")
				}
			case <-ctx.Done():
				log.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("graceful shutdown failed")
				_ = httpServer.Close()
			}

			log.Info("shutdown complete")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
