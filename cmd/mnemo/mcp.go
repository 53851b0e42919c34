package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/app"
)

func NewMCPCommand() *cobra.Command {
	f := NewConfigFlags()

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Speak the Model Context Protocol over stdin and stdout",
		Long: `Run the memory tools as an MCP stdio server, the way desktop clients and
editors launch tool servers. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(os.Stderr)
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

			log.Info("serving MCP over stdio")
			if err := built.MCP.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "stdio server stopped")
			}
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
