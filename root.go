package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"caff_back/config"
	"caff_back/logging"
)

// commandContext loads settings and the logger once per invocation.
type commandContext struct {
	settings *config.Settings
	logger   *logrus.Logger
}

func (c *commandContext) ensure() (config.Settings, *logrus.Logger, error) {
	if c.settings != nil {
		return *c.settings, c.logger, nil
	}
	settings, err := config.Load()
	if err != nil {
		return config.Settings{}, nil, err
	}
	logger, err := logging.New(logging.Config{Level: settings.LogLevel, File: settings.LogFile, JSON: settings.LogJSON})
	if err != nil {
		return config.Settings{}, nil, err
	}
	c.settings = &settings
	c.logger = logger
	return settings, logger, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "caff_back",
		Short:         "CAFF upload, preview and catalogue service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newIngestCommand(ctx))
	rootCmd.AddCommand(newAuditCommand(ctx))
	rootCmd.AddCommand(newStagingCommand(ctx))

	return rootCmd
}
