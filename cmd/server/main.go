package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/rifthub/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rifthub",
	Short: "Live broadcast signaling and chat relay",
	// serve is the default action
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config/config.$CONFIG_ENV.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("rifthub failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}
	return cfg, nil
}
