package main

import (
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a line-oriented file to the object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if contentType == "" {
				contentType = guessContentType(path)
			}
			var resp map[string]interface{}
			if err := newClient(serverURL).uploadFile(cmd.Context(), path, contentType, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "MIME type of the file (default: guessed from the extension)")
	return cmd
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <fileID>",
		Short: "Queue a processing job for an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]interface{}
			if err := newClient(serverURL).postJSON(cmd.Context(), "/process/"+args[0], &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "status <jobID>",
		Short: "Show a job, optionally polling until it is terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL)
			for {
				var resp map[string]interface{}
				if err := c.getJSON(cmd.Context(), "/jobs/"+args[0], &resp); err != nil {
					return err
				}
				if err := printJSON(resp); err != nil {
					return err
				}
				state, _ := resp["state"].(string)
				if !watch || state == "completed" || state == "failed" {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the job reaches a terminal state")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --watch")
	return cmd
}

func newFilesCmd() *cobra.Command {
	var skip, limit int
	var status string
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List uploaded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/files?skip=%d&limit=%d", skip, limit)
			if status != "" {
				path += "&status=" + status
			}
			var resp map[string]interface{}
			if err := newClient(serverURL).getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "Records to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to return")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (uploaded|processed)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]interface{}
			if err := newClient(serverURL).getJSON(cmd.Context(), "/healthz", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func guessContentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "text/plain"
}
