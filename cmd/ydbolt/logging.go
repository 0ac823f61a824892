package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/pkg/config"
)

var cliLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger builds the logger of a one-shot command. --log-level wins
// over --verbose; with neither, fallback applies (PanicLevel keeps lock and
// state output clean). Logs go to the command's stderr.
func configureLogger(cmd *cobra.Command, verboseFlagName string, fallback logrus.Level) (*logrus.Logger, error) {
	level := fallback
	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		var ok bool
		if level, ok = cliLevels[name]; !ok {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
		}
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		level = logrus.DebugLevel
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

// serviceLogger follows log.level from the config unless a logging flag was
// given on the command line.
func serviceLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if cmd.Flags().Changed("log-level") || cmd.Flags().Changed("verbose") {
		return configureLogger(cmd, "verbose", logrus.InfoLevel)
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
