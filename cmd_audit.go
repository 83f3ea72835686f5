package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"caff_back/audit"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			db, err := openDatabase(settings, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			entries, err := audit.NewService(logger).List(cmd.Context(), db)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Audit log is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAuditTable(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Show only the most recent entries (0 for all)")
	return cmd
}

func renderAuditTable(entries []audit.LogEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		actor := "-"
		if e.ActorID != nil {
			actor = *e.ActorID
		}
		rows = append(rows, []string{
			fmt.Sprint(e.ID),
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			string(e.Level),
			actor,
			string(e.Action),
			e.Message,
		})
	}
	return renderTable(
		[]string{"ID", "Time", "Level", "Actor", "Action", "Message"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
