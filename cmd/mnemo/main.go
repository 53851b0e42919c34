package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/config"
)

var (
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Conversation memory service",
	Long: `mnemo records conversational turns, tool executions and summaries in
PostgreSQL, serves them through a Redis read cache, and exposes them over
REST and the Model Context Protocol.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging(logLevel, logFormat)
	},
}

func configureLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "cannot parse log-level")
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.999Z07:00"})
	case "text", "":
		// Add some millisecond precision to log timestamps, useful for debugging latency.
		formatter := new(log.TextFormatter)
		formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
		formatter.FullTimestamp = true
		log.SetFormatter(formatter)
	default:
		return errors.Errorf("invalid log format: %s", format)
	}
	log.Debug("debug logging enabled")
	return nil
}

func main() {
	rootCmd.AddCommand(
		NewServeCommand(),
		NewMCPCommand(),
		NewMigrateCommand(),
		NewCacheCommand(),
		NewStatusCommand(),
		NewVersionCommand(),
	)

	defaults := config.LogDefaults()
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaults.Level,
		"Log level (trace,debug,info,warn,error), defaults to LOG_LEVEL or info")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", defaults.Format,
		"Log format (text,json), defaults to LOG_FORMAT or text")

	err := rootCmd.Execute()
	if err != nil {
		log.WithError(err).Fatal("could not execute root command")
	}
}
