package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/rifthub/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the catalog database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Str("db", cfg.DatabasePath).Msg("schema up to date")
		return nil
	},
}
