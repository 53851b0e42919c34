package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/app"
)

func NewMigrateCommand() *cobra.Command {
	f := NewConfigFlags()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrates or initializes the PostgreSQL database to the latest schema.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := app.Migrate(cmd.Context(), cfg); err != nil {
				return errors.WithMessage(err, "could not migrate db")
			}
			log.Info("schema is up to date")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
