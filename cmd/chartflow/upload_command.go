package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chartflow/internal/httpapi"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var uploaderID string
	var clinicName string
	var patientID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "upload <file> [file...]",
		Short: "Upload clinical documents to the ingestion stage",
		Long: "Uploads one or more documents. A single non-archive file goes through the " +
			"single-document endpoint; multiple files or a zip archive go through the bulk " +
			"endpoint, which expands archives into individual documents.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := map[string]string{
				"uploader_id": uploaderID,
				"clinic_name": clinicName,
				"patient_id":  patientID,
			}

			bulk := len(args) > 1 || filepath.Ext(args[0]) == ".zip"
			if bulk {
				return runBulkUpload(cmd, ctx, args, meta, jsonOutput)
			}
			return runSingleUpload(cmd, ctx, args[0], meta, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&uploaderID, "uploader", "", "Identifier of the uploading user")
	cmd.Flags().StringVar(&clinicName, "clinic", "", "Clinic the documents belong to")
	cmd.Flags().StringVar(&patientID, "patient", "", "Patient identifier")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw JSON response")
	return cmd
}

func runSingleUpload(cmd *cobra.Command, ctx *commandContext, path string, meta map[string]string, jsonOutput bool) error {
	body, contentType, err := multipartBody("file", []string{path}, meta)
	if err != nil {
		return err
	}
	var resp httpapi.UploadResponse
	if err := postMultipart(ctx, "/api/documents", contentType, body, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as document %s (status %s)\n",
		resp.Document.OriginalFilename, resp.Document.ID, resp.Document.Status)
	return nil
}

func runBulkUpload(cmd *cobra.Command, ctx *commandContext, paths []string, meta map[string]string, jsonOutput bool) error {
	body, contentType, err := multipartBody("files", paths, meta)
	if err != nil {
		return err
	}
	var resp httpapi.BulkUploadResponse
	if err := postMultipart(ctx, "/api/documents/bulk", contentType, body, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, resp)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Accepted %d document(s); processing continues in the background\n", resp.Accepted)
	for _, doc := range resp.Documents {
		fmt.Fprintf(out, "  %s  %s\n", doc.ID, doc.OriginalFilename)
	}
	return nil
}

// multipartBody builds a multipart form with one part per path under field,
// plus the non-empty metadata values.
func multipartBody(field string, paths []string, meta map[string]string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	for key, value := range meta {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", key, err)
		}
	}

	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		part, err := writer.CreateFormFile(field, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		file.Close()
		if err != nil {
			return nil, "", fmt.Errorf("add %s to upload: %w", path, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize upload body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func postMultipart(ctx *commandContext, path, contentType string, body io.Reader, out any) error {
	target, err := ctx.url(path)
	if err != nil {
		return err
	}
	resp, err := ctx.client.Post(target, contentType, body)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	return decodeResponse(resp, out)
}
