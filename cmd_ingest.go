package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"caff_back/authorization"
	"caff_back/ingest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Run .caff files or .zip/.rar archives through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), settings, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			var actor *authorization.Identity
			if s := strings.TrimSpace(subject); s != "" {
				actor = &authorization.Identity{SubjectID: s, Name: s, Role: authorization.RoleAdmin}
			}

			rows := make([][]string, 0, len(args))
			failed := 0
			for _, path := range args {
				results, err := ingestPath(cmd, app.orchestrator, path, actor)
				if err != nil {
					rows = append(rows, []string{path, "", "failed", err.Error()})
					failed++
					continue
				}
				for _, r := range results {
					if r[3] != "" {
						failed++
					}
					rows = append(rows, r)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "ID", "Stage", "Error"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft}))
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(rows))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject recorded as the actor in the audit log")
	return cmd
}

func ingestPath(cmd *cobra.Command, orch *ingest.Orchestrator, path string, actor *authorization.Identity) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".rar":
		report, err := orch.ImportArchive(cmd.Context(), path, f, actor)
		if err != nil {
			return nil, err
		}
		rows := make([][]string, 0, len(report.Entries))
		for _, entry := range report.Entries {
			rows = append(rows, []string{path + ":" + entry.Name, idCell(entry.CollectionID), entry.Stage, entry.Error})
		}
		return rows, nil
	}

	out, err := orch.Ingest(cmd.Context(), ingest.Upload{Filename: filepath.Base(path), Body: f}, actor)
	row := []string{path, idCell(out.CollectionID), out.Stage.String(), ""}
	if err != nil {
		row[3] = err.Error()
	}
	return [][]string{row}, nil
}

func idCell(id uint64) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprint(id)
}
