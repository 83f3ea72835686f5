package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"caff_back/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage staging directories",
	}
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))
	return stagingCmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove staging directories older than STAGING_MAX_AGE",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := ctx.ensure()
			if err != nil {
				return err
			}

			result := staging.CleanStale(cmd.Context(), settings.StagingDir, settings.StagingMaxAge, logger)
			out := cmd.OutOrStdout()
			if result.Skipped {
				fmt.Fprintln(out, "Another process is sweeping the staging directory")
				return nil
			}
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Failed %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "Removed %d stale directories\n", len(result.Removed))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d staging directories could not be removed", len(result.Errors))
			}
			return nil
		},
	}
}
