// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List tracked copy requests of a manifest run",
	Example: `  datapump status --manifest runs/2024-01.csv --status ERROR
  datapump status --manifest runs/2024-01.csv --status RESTORING --output json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("manifest", "", "Manifest key the records were created from")
	statusCmd.Flags().String("status", string(record.StatusError), "Processing status to list")
	statusCmd.Flags().StringP("output", "o", "table", "Output format: table or json")
	statusCmd.MarkFlagRequired("manifest")
}

func runStatus(cmd *cobra.Command, args []string) error {
	manifestKey, _ := cmd.Flags().GetString("manifest")
	statusName, _ := cmd.Flags().GetString("status")
	output, _ := cmd.Flags().GetString("output")

	status, err := record.ParseStatus(statusName)
	if err != nil {
		return err
	}
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// No queue roles: status only reads the tracking store.
	svc, err := newServices(ctx, loadOptions(NewFlagLoader(cmd)), 0)
	if err != nil {
		return err
	}
	defer svc.Close()

	recs, err := svc.tracker.List(ctx, manifestKey, status)
	if err != nil {
		return err
	}
	if output == "json" {
		return writeRecordsJSON(cmd.OutOrStdout(), recs)
	}
	return writeRecordsTable(cmd.OutOrStdout(), recs)
}

func writeRecordsJSON(w io.Writer, recs []*record.CopyRequest) error {
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeRecordsTable(w io.Writer, recs []*record.CopyRequest) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tSIZE\tSTATUS\tUPDATED\tERROR")
	for _, rec := range recs {
		fmt.Fprintf(tw, "s3://%s/%s\ts3://%s/%s\t%s\t%s\t%s\t%s\n",
			rec.SourceBucket, rec.SourceObjectPath,
			rec.TargetBucket, rec.TargetObjectPath,
			humanize.IBytes(uint64(max(rec.Size, 0))),
			rec.ProcessingStatus,
			rec.LastUpdateTime.UTC().Format(time.RFC3339),
			rec.ErrorMessage)
	}
	fmt.Fprintf(tw, "\n%d record(s)\n", len(recs))
	return tw.Flush()
}
