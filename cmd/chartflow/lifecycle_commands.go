package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"chartflow/internal/httpapi"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "process <document-id>",
		Short: "Start pipeline processing for an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.UploadResponse
			path := "/api/documents/" + url.PathEscape(args[0]) + "/process"
			if err := ctx.do(http.MethodPost, path, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processing started for %s (status %s)\n",
				resp.Document.ID, resp.Document.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw JSON response")
	return cmd
}

func newResubmitCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resubmit <document-id>",
		Short: "Re-run the pipeline for a failed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.UploadResponse
			path := "/api/documents/" + url.PathEscape(args[0]) + "/resubmit"
			if err := ctx.do(http.MethodPost, path, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resubmitted %s (status %s)\n",
				resp.Document.ID, resp.Document.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw JSON response")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and propagate the deletion to every stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/documents/" + url.PathEscape(args[0])
			if err := ctx.do(http.MethodDelete, path, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	return cmd
}
