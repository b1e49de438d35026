package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"chartflow/internal/httpapi"
)

var titleCaser = cases.Title(language.Und)

func newDocumentsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var uploaderFilter string
	var page int
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"list", "ls"},
		Short:   "List documents tracked by the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if strings.TrimSpace(statusFilter) != "" {
				query.Set("status", statusFilter)
			}
			if strings.TrimSpace(uploaderFilter) != "" {
				query.Set("uploader_id", uploaderFilter)
			}
			if page > 0 {
				query.Set("page", strconv.Itoa(page))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			path := "/api/documents"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}

			var resp httpapi.ListResponse
			if err := ctx.getJSON(path, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Documents) == 0 {
				fmt.Fprintln(out, "No documents found")
				return nil
			}

			rows := make([][]string, 0, len(resp.Documents))
			for _, doc := range resp.Documents {
				rows = append(rows, []string{
					doc.ID,
					doc.OriginalFilename,
					doc.Status,
					formatSize(doc.SizeBytes),
					doc.UploaderID,
					doc.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			headers := []string{"ID", "Filename", "Status", "Size", "Uploader", "Created"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			fmt.Fprintf(out, "Showing %d of %d document(s), page %d\n", len(resp.Documents), resp.Total, resp.Page)
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by coarse status (uploaded, parsing, parsed, ...)")
	cmd.Flags().StringVar(&uploaderFilter, "uploader", "", "Filter by uploader identifier")
	cmd.Flags().IntVar(&page, "page", 0, "Page number (1-based)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw JSON response")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show the coarse status and per-stage history of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.DocumentStatusResponse
			if err := ctx.getJSON("/api/documents/"+url.PathEscape(args[0])+"/status", &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			doc := resp.Document
			fmt.Fprintf(out, "Document: %s\n", doc.ID)
			fmt.Fprintf(out, "Filename: %s\n", doc.OriginalFilename)
			fmt.Fprintf(out, "Status:   %s\n", doc.Status)
			fmt.Fprintf(out, "Updated:  %s\n", doc.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

			if len(resp.Stages) == 0 {
				fmt.Fprintln(out, "\nNo stage activity recorded yet")
				return nil
			}
			rows := make([][]string, 0, len(resp.Stages))
			for _, st := range resp.Stages {
				rows = append(rows, []string{
					titleCaser.String(st.Stage),
					st.State,
					st.ErrorMessage,
					st.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			headers := []string{"Stage", "State", "Error", "Updated"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw JSON response")
	return cmd
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
