package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"chartflow/internal/httpapi"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health of a stage instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.HealthResponse
			if err := ctx.getJSON("/api/health", &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			kind := statusOK
			if !resp.Ready {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(titleCaser.String(resp.Stage), kind, resp.Status, colorize))
			if resp.Detail != "" {
				fmt.Fprintln(out, renderStatusLine("Detail", statusWarn, resp.Detail, colorize))
			}

			if len(resp.Documents) > 0 {
				statuses := make([]string, 0, len(resp.Documents))
				for status := range resp.Documents {
					statuses = append(statuses, status)
				}
				sort.Strings(statuses)
				fmt.Fprintln(out)
				for _, status := range statuses {
					fmt.Fprintf(out, "  %-12s %d\n", status, resp.Documents[status])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw JSON response")
	return cmd
}
